// ABOUTME: Oto-based audio output implementation
// ABOUTME: Feeds a persistent oto player from a ring buffer with software volume
package output

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
	"github.com/talktome/voxta-go/pkg/audio"
	"go.uber.org/zap"
)

// Oto output implementation using oto library
type Oto struct {
	opts       options
	otoCtx     *oto.Context
	player     *oto.Player
	ringBuffer *RingBuffer
	played     atomic.Int64
	sampleRate int
	channels   int
	volume     int
	muted      bool
	ready      bool
	mu         sync.Mutex
}

// NewOto creates a new Oto output
func NewOto(opts ...Option) Output {
	return &Oto{
		opts:   buildOptions(opts),
		volume: 100,
	}
}

// Open initializes the output device; oto always plays 16-bit
func (o *Oto) Open(sampleRate, channels, bitDepth int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	logger := o.opts.logger
	if bitDepth != 16 {
		logger.Warn("oto only supports 16-bit output", zap.Int("requested_bit_depth", bitDepth))
	}

	if o.otoCtx != nil {
		// oto allows one context per process
		if o.sampleRate != sampleRate || o.channels != channels {
			logger.Warn("oto cannot change format, keeping existing context",
				zap.Int("sample_rate", o.sampleRate), zap.Int("channels", o.channels))
		}
		return nil
	}

	ctx, readyChan, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create oto context: %v", ErrDeviceUnavailable, err)
	}
	<-readyChan

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels
	o.ringBuffer = NewRingBuffer(sampleRate * channels * o.opts.bufferMs / 1000)
	o.played.Store(0)

	o.player = ctx.NewPlayer(&otoReader{out: o})
	o.player.Play()
	o.ready = true

	logger.Info("audio output initialized", zap.Int("sample_rate", sampleRate), zap.Int("channels", channels), zap.String("backend", "oto"))
	return nil
}

// Write queues audio samples for playback
func (o *Oto) Write(samples []int32) error {
	o.mu.Lock()
	ready, volume, muted := o.ready, o.volume, o.muted
	o.mu.Unlock()

	if !ready {
		return fmt.Errorf("output not initialized")
	}

	volumed := applyVolume(samples, volume, muted)
	if n := o.ringBuffer.Write(volumed); n < len(volumed) {
		return fmt.Errorf("%w: wrote %d of %d samples", ErrBufferFull, n, len(volumed))
	}
	return nil
}

// Played returns frames consumed by the player since Open
func (o *Oto) Played() int64 {
	return o.played.Load()
}

// Flush drops queued samples
func (o *Oto) Flush() {
	if o.ringBuffer != nil {
		o.ringBuffer.Reset()
	}
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.otoCtx != nil {
		o.otoCtx.Suspend()
	}
	o.ready = false
	return nil
}

// SetVolume sets the volume (0-100)
func (o *Oto) SetVolume(volume int) {
	o.mu.Lock()
	o.volume = clampVolume(volume)
	o.mu.Unlock()
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.mu.Lock()
	o.muted = muted
	o.mu.Unlock()
}

// otoReader serves the ring buffer to oto as 16-bit little-endian bytes
type otoReader struct {
	out *Oto
}

func (r *otoReader) Read(p []byte) (int, error) {
	samples := make([]int32, len(p)/2)
	read := r.out.ringBuffer.Read(samples)
	r.out.played.Add(int64(read / r.out.channels))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(audio.SampleToInt16(s)))
	}
	return len(samples) * 2, nil
}
