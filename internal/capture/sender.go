// ABOUTME: Sender goroutine of the capture pipeline
// ABOUTME: Downmixes, resamples and encodes window chunks into fixed-size wire chunks
package capture

import (
	"context"
	"time"

	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/encode"
	"github.com/talktome/voxta-go/pkg/audio/resample"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

type sender struct {
	p         *Pipeline
	enc       encode.Encoder
	sink      Sink
	resampler *resample.Resampler
	utterance uint32

	notify <-chan struct{}
	stop   <-chan struct{}
	done   chan struct{}

	wireFrames int     // Frames per wire chunk
	wireBuf    []int32 // Resampled samples not yet sent
	wireTs     int64
	seq        uint32
}

// newSender snapshots the utterance channels (must hold p.mu)
func newSender(p *Pipeline, enc encode.Encoder, sink Sink, utterance uint32) *sender {
	f := p.cfg.Format
	d := encode.ChunkDuration(f, time.Duration(p.cfg.BufferMs)*time.Millisecond)
	return &sender{
		p:          p,
		enc:        enc,
		sink:       sink,
		resampler:  resample.New(p.cfg.DeviceRate, f.SampleRate, f.Channels),
		utterance:  utterance,
		notify:     p.notify,
		stop:       p.stop,
		done:       p.done,
		wireFrames: f.FramesPer(d),
	}
}

func (s *sender) run(ctx context.Context) {
	defer close(s.done)
	defer s.enc.Close()

	for {
		select {
		case <-s.notify:
			s.drain(ctx)
		case <-s.stop:
			s.drain(ctx)
			s.finish(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain converts every chunk currently in the window
func (s *sender) drain(ctx context.Context) {
	for {
		c, ok, overrun := s.p.take()
		if overrun != nil {
			s.p.logger.Warn("capture overrun", zap.Error(overrun))
			if s.p.cfg.OnOverrun != nil {
				s.p.cfg.OnOverrun(overrun)
			}
		}
		if !ok {
			return
		}
		s.add(ctx, c)
	}
}

func (s *sender) add(ctx context.Context, c windowChunk) {
	f := s.p.cfg.Format
	if c.gap || len(s.wireBuf) == 0 {
		if c.gap {
			s.resampler.Reset()
		}
		s.wireBuf = s.wireBuf[:0]
		s.wireTs = c.ts
	}

	samples := c.samples
	if s.p.cfg.DeviceChannels > 1 && f.Channels == 1 {
		samples = audio.Downmix(samples, s.p.cfg.DeviceChannels)
	}
	s.wireBuf = append(s.wireBuf, s.resampler.Process(samples)...)

	per := s.wireFrames * f.Channels
	for len(s.wireBuf) >= per {
		s.emit(ctx, s.wireBuf[:per])
		s.wireBuf = s.wireBuf[per:]
	}
}

// finish flushes the partial chunk and sends the end-of-utterance marker
func (s *sender) finish(ctx context.Context) {
	f := s.p.cfg.Format
	if len(s.wireBuf) > 0 {
		tail := s.wireBuf
		if f.Codec == audio.CodecOpus {
			// Opus only encodes whole frames
			padded := make([]int32, s.wireFrames*f.Channels)
			copy(padded, tail)
			tail = padded
		}
		s.emit(ctx, tail)
		s.wireBuf = nil
	}
	s.send(ctx, protocol.AudioChunk{
		Utterance: s.utterance,
		Seq:       s.seq,
		Timestamp: s.wireTs,
		Final:     true,
	})
}

func (s *sender) emit(ctx context.Context, samples []int32) {
	data, err := s.enc.Encode(samples)
	if err != nil {
		s.p.logger.Warn("failed to encode capture chunk", zap.Uint32("seq", s.seq), zap.Error(err))
		return
	}
	s.send(ctx, protocol.AudioChunk{
		Utterance: s.utterance,
		Seq:       s.seq,
		Timestamp: s.wireTs,
		Data:      data,
	})
	s.wireTs += s.p.cfg.Format.Micros(int64(len(samples) / s.p.cfg.Format.Channels))
}

func (s *sender) send(ctx context.Context, chunk protocol.AudioChunk) {
	chunk.Direction = protocol.Outbound
	s.seq++

	sendCtx, cancel := context.WithTimeout(ctx, s.p.cfg.SendTimeout)
	defer cancel()

	err := s.sink.Send(sendCtx, chunk)
	s.p.mu.Lock()
	if err != nil {
		s.p.stats.SendErrors++
	} else {
		s.p.stats.Sent++
	}
	s.p.mu.Unlock()

	if err != nil {
		s.p.logger.Warn("failed to send capture chunk",
			zap.Uint32("utterance", chunk.Utterance), zap.Uint32("seq", chunk.Seq), zap.Error(err))
	}
}
