// ABOUTME: Sine tone generator and a virtual capture device built on it
// ABOUTME: Stands in for a microphone in headless runs and tests
package input

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// ToneGenerator produces a continuous sine wave
type ToneGenerator struct {
	sampleIndex uint64
	sampleRate  int
	channels    int
	frequency   float64
	amplitude   float64
	mu          sync.Mutex
}

// NewToneGenerator creates a tone at frequency Hz and half volume
func NewToneGenerator(frequency float64, sampleRate, channels int) *ToneGenerator {
	return &ToneGenerator{
		sampleRate: sampleRate,
		channels:   channels,
		frequency:  frequency,
		amplitude:  0.5,
	}
}

// Read fills samples (interleaved, 24-bit range) and advances the phase
func (g *ToneGenerator) Read(samples []int32) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	frames := len(samples) / g.channels
	for i := 0; i < frames; i++ {
		t := float64(g.sampleIndex+uint64(i)) / float64(g.sampleRate)
		value := int32(math.Sin(2*math.Pi*g.frequency*t) * 8388607.0 * g.amplitude)
		for ch := 0; ch < g.channels; ch++ {
			samples[i*g.channels+ch] = value
		}
	}
	g.sampleIndex += uint64(frames)
	return frames * g.channels
}

// Tone is a capture device that delivers a generated tone in real time
type Tone struct {
	frequency float64
	period    time.Duration
	gen       *ToneGenerator
	onSamples SampleFunc
	stop      chan struct{}
	done      chan struct{}
	mu        sync.Mutex
}

// NewTone creates a virtual microphone playing a tone at frequency Hz
func NewTone(frequency float64) *Tone {
	return &Tone{frequency: frequency, period: DefaultPeriod}
}

// Open records the format
func (t *Tone) Open(sampleRate, channels int, onSamples SampleFunc) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("%w: invalid format %dHz %dch", ErrDeviceUnavailable, sampleRate, channels)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen = NewToneGenerator(t.frequency, sampleRate, channels)
	t.onSamples = onSamples
	return nil
}

// Start begins delivering one period of tone per tick
func (t *Tone) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gen == nil {
		return fmt.Errorf("tone device not open")
	}
	if t.stop != nil {
		return nil
	}

	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.gen, t.onSamples, t.stop, t.done)
	return nil
}

func (t *Tone) run(gen *ToneGenerator, onSamples SampleFunc, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	size := gen.channels * int(int64(gen.sampleRate)*int64(t.period)/int64(time.Second))
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			samples := make([]int32, size)
			gen.Read(samples)
			onSamples(samples)
		}
	}
}

// Stop halts delivery and waits for the generator goroutine
func (t *Tone) Stop() error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// Close stops the device
func (t *Tone) Close() error {
	return t.Stop()
}
