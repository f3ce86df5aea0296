// ABOUTME: Malgo-based audio output implementation
// ABOUTME: Uses miniaudio via malgo with a ring buffer drained by the device callback
package output

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/talktome/voxta-go/pkg/audio"
	"go.uber.org/zap"
)

// ErrBufferFull is returned when a write does not fit in the device ring buffer
var ErrBufferFull = errors.New("output buffer full")

// Option configures an output backend
type Option func(*options)

type options struct {
	logger   *zap.Logger
	bufferMs int
}

// WithLogger sets the backend logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBufferMs sets the device ring buffer capacity
func WithBufferMs(ms int) Option {
	return func(o *options) { o.bufferMs = ms }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), bufferMs: 1000}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	opts       options
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	channels   int
	bitDepth   int
	volume     int
	muted      bool
	ready      bool

	ringBuffer *RingBuffer
	played     atomic.Int64
	mu         sync.Mutex
}

// NewMalgo creates a new Malgo output
func NewMalgo(opts ...Option) Output {
	return &Malgo{
		opts:   buildOptions(opts),
		volume: 100,
	}
}

// Open initializes the output device with specified format
func (m *Malgo) Open(sampleRate, channels, bitDepth int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.opts.logger

	if m.device != nil && m.sampleRate == sampleRate && m.channels == channels && m.bitDepth == bitDepth {
		logger.Debug("audio output already initialized with same format, reusing device")
		return nil
	}

	if m.device != nil {
		logger.Info("output format change, reinitializing device",
			zap.Int("old_rate", m.sampleRate), zap.Int("new_rate", sampleRate),
			zap.Int("old_channels", m.channels), zap.Int("new_channels", channels))
		m.closeDevice()
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to initialize malgo context: %v", ErrDeviceUnavailable, err)
		}
		m.malgoCtx = ctx
	}

	var format malgo.FormatType
	switch bitDepth {
	case 16:
		format = malgo.FormatS16
	case 24:
		format = malgo.FormatS24
	case 32:
		format = malgo.FormatS32
	default:
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", bitDepth)
	}

	bufferSamples := (sampleRate * channels * m.opts.bufferMs) / 1000
	m.ringBuffer = NewRingBuffer(bufferSamples)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	m.channels = channels
	m.bitDepth = bitDepth
	m.sampleRate = sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			m.dataCallback(pOutputSample, frameCount)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize playback device: %v", ErrDeviceUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("%w: failed to start device: %v", ErrDeviceUnavailable, err)
	}

	m.device = device
	m.played.Store(0)
	m.ready = true

	logger.Info("audio output initialized",
		zap.Int("sample_rate", sampleRate),
		zap.Int("channels", channels),
		zap.Int("bit_depth", bitDepth),
		zap.String("format", formatName(format)))

	return nil
}

// Write queues audio samples for playback
func (m *Malgo) Write(samples []int32) error {
	m.mu.Lock()
	ready, volume, muted := m.ready, m.volume, m.muted
	m.mu.Unlock()

	if !ready {
		return fmt.Errorf("output not initialized")
	}

	volumed := applyVolume(samples, volume, muted)
	if n := m.ringBuffer.Write(volumed); n < len(volumed) {
		return fmt.Errorf("%w: wrote %d of %d samples", ErrBufferFull, n, len(volumed))
	}
	return nil
}

// Played returns frames consumed by the device since Open
func (m *Malgo) Played() int64 {
	return m.played.Load()
}

// Flush drops queued samples
func (m *Malgo) Flush() {
	if m.ringBuffer != nil {
		m.ringBuffer.Reset()
	}
}

// dataCallback is called by malgo to fill the audio output buffer
func (m *Malgo) dataCallback(pOutput []byte, frameCount uint32) {
	samples := make([]int32, int(frameCount)*m.channels)

	read := m.ringBuffer.Read(samples)
	m.played.Add(int64(read / m.channels))

	switch m.bitDepth {
	case 16:
		for i, sample := range samples {
			sample16 := audio.SampleToInt16(sample)
			pOutput[i*2] = byte(sample16)
			pOutput[i*2+1] = byte(sample16 >> 8)
		}
	case 24:
		for i, sample := range samples {
			packed := audio.SampleTo24Bit(sample)
			copy(pOutput[i*3:i*3+3], packed[:])
		}
	case 32:
		for i, sample := range samples {
			sample32 := sample << 8
			pOutput[i*4] = byte(sample32)
			pOutput[i*4+1] = byte(sample32 >> 8)
			pOutput[i*4+2] = byte(sample32 >> 16)
			pOutput[i*4+3] = byte(sample32 >> 24)
		}
	}
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			m.opts.logger.Warn("malgo context uninit error", zap.Error(err))
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			m.opts.logger.Warn("device stop error", zap.Error(err))
		}
		m.device.Uninit()
		m.device = nil
		m.ready = false
	}
}

// SetVolume sets the volume (0-100)
func (m *Malgo) SetVolume(volume int) {
	m.mu.Lock()
	m.volume = clampVolume(volume)
	m.mu.Unlock()
}

// SetMuted sets mute state
func (m *Malgo) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
