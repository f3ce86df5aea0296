// ABOUTME: Malgo-based microphone capture
// ABOUTME: Converts miniaudio S16 capture buffers into int32 samples
package input

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/talktome/voxta-go/pkg/audio"
	"go.uber.org/zap"
)

// Malgo captures from the default input device
type Malgo struct {
	logger   *zap.Logger
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	channels int
	mu       sync.Mutex
}

// NewMalgo creates a new malgo capture device
func NewMalgo() *Malgo {
	return &Malgo{logger: zap.NewNop()}
}

// WithLogger sets the device logger
func (m *Malgo) WithLogger(logger *zap.Logger) *Malgo {
	m.logger = logger
	return m
}

// Open initializes the capture device
func (m *Malgo) Open(sampleRate, channels int, onSamples SampleFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("capture device already open")
	}

	if m.malgoCtx == nil {
		cfg := malgo.ContextConfig{}
		cfg.ThreadPriority = malgo.ThreadPriorityRealtime
		ctx, err := malgo.InitContext(nil, cfg, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to initialize malgo context: %v", ErrDeviceUnavailable, err)
		}
		m.malgoCtx = ctx
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(DefaultPeriod.Milliseconds())
	deviceConfig.Alsa.NoMMap = 1

	m.channels = channels

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, frameCount uint32) {
			samples := make([]int32, len(pInputSamples)/2)
			for i := range samples {
				samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(pInputSamples[i*2:])))
			}
			onSamples(samples)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize capture device: %v", ErrDeviceUnavailable, err)
	}
	m.device = device

	m.logger.Info("audio input initialized", zap.Int("sample_rate", sampleRate), zap.Int("channels", channels))
	return nil
}

// Start begins capturing
func (m *Malgo) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return fmt.Errorf("capture device not open")
	}
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("%w: failed to start capture: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

// Stop pauses capturing
func (m *Malgo) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}
	return m.device.Stop()
}

// Close releases the device and context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			m.logger.Warn("capture stop error", zap.Error(err))
		}
		m.device.Uninit()
		m.device = nil
	}
	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			m.logger.Warn("malgo context uninit error", zap.Error(err))
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}
