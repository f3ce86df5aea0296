// ABOUTME: Microphone capture pipeline feeding the outbound audio stream
// ABOUTME: The device callback only appends to a bounded window; a sender goroutine does the rest
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/encode"
	"github.com/talktome/voxta-go/pkg/audio/input"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// Sink accepts outbound chunks; *hub.Stream satisfies it
type Sink interface {
	Send(ctx context.Context, chunk protocol.AudioChunk) error
}

// Config configures a Pipeline
type Config struct {
	Device         input.Device
	DeviceRate     int          // Native capture rate
	DeviceChannels int          // Native capture channels
	Format         audio.Format // Wire format
	BufferMs       int          // Chunk duration
	Window         time.Duration
	SendTimeout    time.Duration
	OnOverrun      func(*BufferOverrunError)
	Logger         *zap.Logger
}

// Stats tracks capture metrics
type Stats struct {
	Captured   int64 // Device frames
	Sent       int64 // Chunks sent
	Dropped    int64 // Window chunks dropped on overrun
	Overruns   int64
	SendErrors int64
}

// windowChunk is one BufferMs slice of device audio
type windowChunk struct {
	samples []int32
	ts      int64 // Microseconds since the utterance started
	gap     bool  // Audio before this chunk was dropped
}

// Pipeline captures one user utterance at a time
type Pipeline struct {
	cfg    Config
	logger *zap.Logger

	deviceFormat audio.Format
	chunkSamples int // Device samples per window chunk
	maxSamples   int // Window bound in device samples

	opened bool

	mu        sync.Mutex
	running   bool
	utterance uint32
	pending   []int32
	captured  int64 // Device frames this utterance
	window    []windowChunk
	held      int // Samples in window
	gap       bool
	dropped   int
	stats     Stats

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// NewPipeline creates a capture pipeline; the device is opened on first Start
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("capture device is required")
	}
	if cfg.Format.Codec == "" {
		cfg.Format = audio.Format{Codec: audio.CodecPCM, SampleRate: 16000, Channels: 1, BitDepth: 16}
	}
	if !cfg.Format.Valid() {
		return nil, fmt.Errorf("invalid capture format: %+v", cfg.Format)
	}
	if cfg.DeviceRate <= 0 {
		cfg.DeviceRate = cfg.Format.SampleRate
	}
	if cfg.DeviceChannels <= 0 {
		cfg.DeviceChannels = cfg.Format.Channels
	}
	if cfg.DeviceChannels != cfg.Format.Channels && cfg.Format.Channels != 1 {
		return nil, fmt.Errorf("cannot map %d device channels to %d wire channels", cfg.DeviceChannels, cfg.Format.Channels)
	}
	if cfg.BufferMs <= 0 {
		cfg.BufferMs = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	enc, err := encode.New(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("unsupported capture format: %w", err)
	}
	enc.Close()

	devFormat := audio.Format{Codec: audio.CodecPCM, SampleRate: cfg.DeviceRate, Channels: cfg.DeviceChannels, BitDepth: 16}
	chunkSamples := devFormat.FramesPer(time.Duration(cfg.BufferMs)*time.Millisecond) * cfg.DeviceChannels
	maxSamples := devFormat.FramesPer(cfg.Window) * cfg.DeviceChannels
	if maxSamples < chunkSamples {
		maxSamples = chunkSamples
	}

	return &Pipeline{
		cfg:          cfg,
		logger:       cfg.Logger,
		deviceFormat: devFormat,
		chunkSamples: chunkSamples,
		maxSamples:   maxSamples,
	}, nil
}

// Start opens the device if needed and streams a new utterance to sink
func (p *Pipeline) Start(sink Sink, utterance uint32) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("capture already running for utterance %d", p.utterance)
	}
	p.mu.Unlock()

	if !p.opened {
		if err := p.cfg.Device.Open(p.cfg.DeviceRate, p.cfg.DeviceChannels, p.onSamples); err != nil {
			return deviceError("open", err)
		}
		p.opened = true
	}

	enc, err := encode.New(p.cfg.Format)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.running = true
	p.utterance = utterance
	p.pending = nil
	p.captured = 0
	p.window = nil
	p.held = 0
	p.gap = false
	p.dropped = 0
	p.notify = make(chan struct{}, 1)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.cancel = cancel
	s := newSender(p, enc, sink, utterance)
	done := p.done
	p.mu.Unlock()

	go s.run(ctx)

	if err := p.cfg.Device.Start(); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		// Leave stop open so the sender exits without a final marker
		cancel()
		<-done
		return deviceError("start", err)
	}

	p.logger.Info("capture started",
		zap.Uint32("utterance", utterance),
		zap.Int("device_rate", p.cfg.DeviceRate),
		zap.Int("wire_rate", p.cfg.Format.SampleRate),
		zap.String("codec", p.cfg.Format.Codec))
	return nil
}

// Stop ends the utterance: flushes the partial chunk, sends the final marker and waits for the sender
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	if len(p.pending) > 0 {
		p.push(p.pending)
		p.pending = nil
	}
	stop, done, utterance := p.stop, p.done, p.utterance
	p.mu.Unlock()

	if err := p.cfg.Device.Stop(); err != nil {
		p.logger.Warn("failed to stop capture device", zap.Error(err))
	}
	close(stop)

	select {
	case <-done:
		p.logger.Info("capture stopped", zap.Uint32("utterance", utterance))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture sender did not drain: %w", ctx.Err())
	}
}

// Close stops capture and releases the device
func (p *Pipeline) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout)
	defer cancel()
	err := p.Stop(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	if p.opened {
		if cerr := p.cfg.Device.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.opened = false
	}
	return err
}

// Running reports whether an utterance is being captured
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a snapshot of capture metrics
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// onSamples runs on the device thread: append, slice, bound, never wait
func (p *Pipeline) onSamples(samples []int32) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.stats.Captured += int64(len(samples) / p.cfg.DeviceChannels)
	p.pending = append(p.pending, samples...)
	for len(p.pending) >= p.chunkSamples {
		c := make([]int32, p.chunkSamples)
		copy(c, p.pending)
		p.pending = p.pending[p.chunkSamples:]
		p.push(c)
	}
	notify := p.notify
	p.mu.Unlock()

	select {
	case notify <- struct{}{}:
	default:
	}
}

// push appends a device chunk and drops the oldest beyond the window (must hold p.mu)
func (p *Pipeline) push(samples []int32) {
	ts := p.deviceFormat.Micros(p.captured)
	p.captured += int64(len(samples) / p.cfg.DeviceChannels)

	p.window = append(p.window, windowChunk{samples: samples, ts: ts, gap: p.gap})
	p.gap = false
	p.held += len(samples)

	for p.held > p.maxSamples && len(p.window) > 1 {
		p.held -= len(p.window[0].samples)
		p.window = p.window[1:]
		p.window[0].gap = true
		p.dropped++
		p.stats.Dropped++
	}
}

// take removes the oldest window chunk and any overrun to report
func (p *Pipeline) take() (windowChunk, bool, *BufferOverrunError) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var overrun *BufferOverrunError
	if p.dropped > 0 {
		overrun = &BufferOverrunError{Utterance: p.utterance, Dropped: p.dropped, Window: p.cfg.Window}
		p.dropped = 0
		p.stats.Overruns++
	}
	if len(p.window) == 0 {
		return windowChunk{}, false, overrun
	}
	c := p.window[0]
	p.window = p.window[1:]
	p.held -= len(c.samples)
	return c, true, overrun
}

func deviceError(op string, err error) error {
	if errors.Is(err, ErrDeviceUnavailable) {
		return fmt.Errorf("failed to %s capture device: %w", op, err)
	}
	return fmt.Errorf("%w: failed to %s capture device: %v", ErrDeviceUnavailable, op, err)
}
