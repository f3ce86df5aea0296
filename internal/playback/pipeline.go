// ABOUTME: Playback and sync pipeline for inbound character speech
// ABOUTME: Reorders chunks, feeds the output device and samples animation at the playback position
package playback

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/talktome/voxta-go/internal/lipsync"
	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/decode"
	"github.com/talktome/voxta-go/pkg/audio/output"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// Config configures a Pipeline
type Config struct {
	Format     audio.Format // Wire format of inbound chunks
	Output     output.Output
	Sink       lipsync.Sink  // Called with the pipeline lock held; must not call back in
	GapTimeout time.Duration // How long a missing chunk may stall playback
	Lead       time.Duration // Audio kept queued ahead of the device
	Tick       time.Duration
	MaxStash   int // Chunks held for an utterance that is not armed yet

	OnComplete  func(utterance uint32)
	OnAbandoned func(utterance uint32, err error)

	Logger *zap.Logger
	Now    func() time.Time
}

// Stats tracks pipeline metrics
type Stats struct {
	Received        int64
	Duplicates      int64
	Stale           int64
	Stashed         int64
	Released        int64
	DecodeErrors    int64
	WriteErrors     int64
	Completed       int64
	Abandoned       int64
	FramesApplied   int64
	FramesDiscarded int64
	Held            int   // Chunks waiting in the reorder buffer
	Pending         int64 // Decoded frames not yet written to the device
}

type stashed struct {
	chunks []protocol.AudioChunk
	frames []protocol.AnimationFrame
	ended  bool
}

// Pipeline plays one character utterance at a time
type Pipeline struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	armed       bool
	utterance   uint32
	finished    uint32
	hasFinished bool
	complete    bool

	decoder       decode.Decoder
	reorder       *ReorderBuffer
	queue         []int32 // Decoded samples not yet written
	enqueued      int64   // Frames written to the device since Arm
	playedBase    int64
	finalReleased bool
	ended         bool // Server reported the audio finished
	gapSince      time.Time
	writeFailures int // Consecutive failed device writes
	frames        []protocol.AnimationFrame
	lastPos       int64

	stash map[uint32]*stashed
	stats Stats
	wake  chan struct{}
}

// NewPipeline creates a pipeline; call Open before Run
func NewPipeline(cfg Config) (*Pipeline, error) {
	if !cfg.Format.Valid() {
		return nil, fmt.Errorf("invalid playback format: %+v", cfg.Format)
	}
	if cfg.Output == nil {
		return nil, fmt.Errorf("playback output is required")
	}
	dec, err := decode.New(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("unsupported playback format: %w", err)
	}
	dec.Close()

	if cfg.Sink == nil {
		cfg.Sink = lipsync.Nop{}
	}
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = 2 * time.Second
	}
	if cfg.Lead <= 0 {
		cfg.Lead = 250 * time.Millisecond
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Millisecond
	}
	if cfg.MaxStash <= 0 {
		cfg.MaxStash = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Pipeline{
		cfg:     cfg,
		logger:  cfg.Logger,
		reorder: NewReorderBuffer(),
		lastPos: -1,
		stash:   make(map[uint32]*stashed),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Open opens the output device in the pipeline format
func (p *Pipeline) Open() error {
	f := p.cfg.Format
	if err := p.cfg.Output.Open(f.SampleRate, f.Channels, 16); err != nil {
		return fmt.Errorf("failed to open playback output: %w", err)
	}
	return nil
}

// Close disarms and releases the output device
func (p *Pipeline) Close() error {
	p.Disarm()
	return p.cfg.Output.Close()
}

// Format returns the inbound chunk format
func (p *Pipeline) Format() audio.Format {
	return p.cfg.Format
}

// Arm starts playing the given utterance, replaying anything received for it early
func (p *Pipeline) Arm(utterance uint32) error {
	defer p.signal()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.armed && p.utterance == utterance {
		return nil
	}
	if p.hasFinished && utterance <= p.finished {
		return fmt.Errorf("utterance %d already finished", utterance)
	}
	if p.armed {
		p.logger.Warn("arming over an unfinished utterance",
			zap.Uint32("current", p.utterance), zap.Uint32("next", utterance))
		p.markFinished(p.utterance)
		p.clear(true)
	}

	dec, err := decode.New(p.cfg.Format)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	p.decoder = dec
	p.armed = true
	p.utterance = utterance
	p.complete = false
	p.reorder.Reset()
	p.queue = nil
	p.enqueued = 0
	p.playedBase = p.cfg.Output.Played()
	p.finalReleased = false
	p.ended = false
	p.gapSince = time.Time{}
	p.writeFailures = 0
	p.frames = nil
	p.lastPos = -1

	if st, ok := p.stash[utterance]; ok {
		for _, c := range st.chunks {
			p.accept(c)
		}
		for _, f := range st.frames {
			p.addFrame(f)
		}
		p.ended = st.ended
	}
	for u := range p.stash {
		if u <= utterance {
			delete(p.stash, u)
		}
	}

	p.logger.Debug("playback armed", zap.Uint32("utterance", utterance))
	return nil
}

// Disarm abandons the armed utterance without a callback; safe to call repeatedly
func (p *Pipeline) Disarm() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stash = make(map[uint32]*stashed)
	if !p.armed {
		return
	}
	p.logger.Debug("playback disarmed", zap.Uint32("utterance", p.utterance))
	p.markFinished(p.utterance)
	p.clear(true)
}

// Reset disarms without a callback and forgets finished utterances.
// Call it when a new session starts numbering utterances again.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.armed {
		p.logger.Debug("playback reset while armed", zap.Uint32("utterance", p.utterance))
		p.clear(true)
	}
	p.stash = make(map[uint32]*stashed)
	p.finished, p.hasFinished = 0, false
	p.complete = false
}

// OnChunkReceived queues an inbound chunk
func (p *Pipeline) OnChunkReceived(chunk protocol.AudioChunk) {
	defer p.signal()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Received++
	switch {
	case p.stale(chunk.Utterance):
		p.stats.Stale++
		p.logger.Debug("dropping chunk of finished utterance",
			zap.Uint32("utterance", chunk.Utterance), zap.Uint32("seq", chunk.Seq))
	case p.armed && chunk.Utterance == p.utterance:
		p.accept(chunk)
	default:
		st := p.stashFor(chunk.Utterance)
		if len(st.chunks) >= p.cfg.MaxStash {
			p.stats.Stale++
			p.logger.Warn("stash full, dropping chunk", zap.Uint32("utterance", chunk.Utterance))
			return
		}
		st.chunks = append(st.chunks, chunk)
		p.stats.Stashed++
	}
}

// OnAnimationFrameReceived queues an animation frame for its utterance
func (p *Pipeline) OnAnimationFrameReceived(frame protocol.AnimationFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.stale(frame.Utterance):
		p.stats.FramesDiscarded++
	case p.armed && frame.Utterance == p.utterance:
		p.addFrame(frame)
	default:
		st := p.stashFor(frame.Utterance)
		st.frames = append(st.frames, frame)
	}
}

// EndOfUtterance notes that the server sent all audio; a missing final chunk then counts as a gap
func (p *Pipeline) EndOfUtterance(utterance uint32) {
	defer p.signal()

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.stale(utterance):
	case p.armed && utterance == p.utterance:
		p.ended = true
	default:
		p.stashFor(utterance).ended = true
	}
}

// IsUtteranceComplete reports whether the last armed utterance played out
func (p *Pipeline) IsUtteranceComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete
}

// Armed returns the utterance being played
func (p *Pipeline) Armed() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.utterance, p.armed
}

// Stats returns a snapshot of pipeline metrics
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Held = p.reorder.Len()
	if p.cfg.Format.Channels > 0 {
		s.Pending = int64(len(p.queue) / p.cfg.Format.Channels)
	}
	return s
}

// Run drives playback until ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
		p.process(p.cfg.Now())
	}
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// process advances the armed utterance; callbacks run after the lock is released
func (p *Pipeline) process(now time.Time) {
	p.mu.Lock()
	var notify func()
	if p.armed {
		notify = p.step(now)
	}
	p.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// step releases, writes, samples and checks for completion or a stall (must hold p.mu)
func (p *Pipeline) step(now time.Time) func() {
	if released := p.release(); released > 0 {
		p.gapSince = time.Time{}
	}

	played := p.cfg.Output.Played() - p.playedBase
	if played > p.enqueued {
		played = p.enqueued
	}
	if err := p.write(played); err != nil {
		return p.abandon(err)
	}

	f := p.cfg.Format
	p.sample(f.Micros(played), f.Micros(p.enqueued))

	if p.stalled() {
		if p.gapSince.IsZero() {
			p.gapSince = now
		} else if waited := now.Sub(p.gapSince); waited >= p.cfg.GapTimeout {
			return p.abandon(&SequenceGapError{
				Utterance: p.utterance,
				Expected:  p.reorder.Next(),
				Waited:    waited,
			})
		}
	} else {
		p.gapSince = time.Time{}
	}

	if p.finalReleased && len(p.queue) == 0 && played >= p.enqueued {
		u := p.utterance
		p.logger.Debug("utterance complete",
			zap.Uint32("utterance", u), zap.Int64("frames", p.enqueued))
		p.stats.Completed++
		p.complete = true
		p.markFinished(u)
		p.clear(false)

		cb := p.cfg.OnComplete
		return func() {
			if cb != nil {
				cb(u)
			}
		}
	}
	return nil
}

// release decodes the contiguous prefix of the reorder buffer
func (p *Pipeline) release() int {
	n := 0
	for {
		chunk, ok := p.reorder.Pop()
		if !ok {
			return n
		}
		n++
		p.stats.Released++

		if len(chunk.Data) > 0 {
			samples, err := p.decoder.Decode(chunk.Data)
			if err != nil {
				p.stats.DecodeErrors++
				p.logger.Warn("failed to decode chunk",
					zap.Uint32("utterance", chunk.Utterance), zap.Uint32("seq", chunk.Seq), zap.Error(err))
			} else {
				p.queue = append(p.queue, samples...)
			}
		}
		if chunk.Final {
			p.finalReleased = true
		}
	}
}

// stalled reports whether playback waits on a chunk that has not arrived:
// a later one is held, the reply ended, or everything released has been written
func (p *Pipeline) stalled() bool {
	if p.finalReleased {
		return false
	}
	return p.reorder.Gapped() || p.ended || len(p.queue) == 0
}

// write tops the device up to the lead bound; a failed write is retried on the next tick
func (p *Pipeline) write(played int64) error {
	ch := p.cfg.Format.Channels
	room := int64(p.cfg.Format.FramesPer(p.cfg.Lead)) - (p.enqueued - played)
	if room <= 0 || len(p.queue) == 0 {
		return nil
	}

	n := int(room) * ch
	if n > len(p.queue) {
		n = len(p.queue)
	}
	n -= n % ch
	if n == 0 {
		return nil
	}

	if err := p.cfg.Output.Write(p.queue[:n]); err != nil {
		p.stats.WriteErrors++
		p.writeFailures++
		p.logger.Warn("output write failed", zap.Int("attempt", p.writeFailures), zap.Error(err))
		if p.writeFailures >= maxWriteFailures {
			return &OutputError{Utterance: p.utterance, Attempts: p.writeFailures, Err: err}
		}
		return nil
	}
	p.writeFailures = 0
	p.enqueued += int64(n / ch)
	p.queue = p.queue[n:]
	return nil
}

// sample applies the frame under the playback position, never past the enqueued audio
func (p *Pipeline) sample(pos, end int64) {
	i := 0
	for i < len(p.frames) && p.frames[i].End() <= pos {
		i++
	}
	p.frames = p.frames[i:]

	if len(p.frames) == 0 || pos == p.lastPos {
		return
	}
	cur := p.frames[0]
	if cur.Timestamp > pos || cur.Timestamp >= end {
		return
	}

	if len(p.frames) > 1 && cur.Duration > 0 && p.frames[1].Timestamp == cur.End() {
		t := float32(pos-cur.Timestamp) / float32(cur.Duration)
		cur.Weights = lipsync.Lerp(cur.Weights, p.frames[1].Weights, t)
	}

	p.cfg.Sink.ApplyFrame(cur)
	p.lastPos = pos
	p.stats.FramesApplied++
}

func (p *Pipeline) abandon(err error) func() {
	u := p.utterance
	p.logger.Warn("abandoning utterance", zap.Error(err))
	p.stats.Abandoned++
	p.markFinished(u)
	p.clear(true)

	cb := p.cfg.OnAbandoned
	return func() {
		if cb != nil {
			cb(u, err)
		}
	}
}

func (p *Pipeline) accept(chunk protocol.AudioChunk) {
	if !p.reorder.Push(chunk) {
		p.stats.Duplicates++
		p.logger.Debug("dropping duplicate chunk",
			zap.Uint32("utterance", chunk.Utterance), zap.Uint32("seq", chunk.Seq))
	}
}

// addFrame inserts a frame keeping timestamp order
func (p *Pipeline) addFrame(frame protocol.AnimationFrame) {
	i := sort.Search(len(p.frames), func(i int) bool {
		return p.frames[i].Timestamp > frame.Timestamp
	})
	p.frames = append(p.frames, protocol.AnimationFrame{})
	copy(p.frames[i+1:], p.frames[i:])
	p.frames[i] = frame
}

func (p *Pipeline) stashFor(utterance uint32) *stashed {
	st, ok := p.stash[utterance]
	if !ok {
		st = &stashed{}
		p.stash[utterance] = st
	}
	return st
}

func (p *Pipeline) stale(utterance uint32) bool {
	if p.hasFinished && utterance <= p.finished {
		return true
	}
	return p.armed && utterance < p.utterance
}

func (p *Pipeline) markFinished(utterance uint32) {
	if !p.hasFinished || utterance > p.finished {
		p.finished = utterance
		p.hasFinished = true
	}
}

// clear drops the armed utterance and resets the sink (must hold p.mu)
func (p *Pipeline) clear(flush bool) {
	if p.decoder != nil {
		p.decoder.Close()
		p.decoder = nil
	}
	p.stats.FramesDiscarded += int64(len(p.frames))
	p.frames = nil
	p.reorder.Reset()
	p.queue = nil
	p.gapSince = time.Time{}
	p.writeFailures = 0
	p.armed = false
	if flush {
		p.cfg.Output.Flush()
	}
	p.cfg.Sink.Reset()
}
