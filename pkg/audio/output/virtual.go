// ABOUTME: Virtual audio output driven by the wall clock
// ABOUTME: Consumes queued samples in real time without a sound device
package output

import (
	"fmt"
	"sync"
	"time"
)

// Virtual plays nothing but advances its playback position in real time
type Virtual struct {
	mu         sync.Mutex
	now        func() time.Time
	sampleRate int
	channels   int
	queued     int64 // Frames written and not yet consumed
	played     int64
	last       time.Time
	open       bool
}

// NewVirtual creates a wall-clock output
func NewVirtual() *Virtual {
	return NewVirtualClock(time.Now)
}

// NewVirtualClock creates a virtual output driven by the given clock
func NewVirtualClock(now func() time.Time) *Virtual {
	return &Virtual{now: now}
}

// Open records the format and starts the clock
func (v *Virtual) Open(sampleRate, channels, bitDepth int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid output format: %dHz %dch", sampleRate, channels)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.open && v.sampleRate == sampleRate && v.channels == channels {
		return nil
	}
	v.sampleRate = sampleRate
	v.channels = channels
	v.queued = 0
	v.played = 0
	v.last = v.now()
	v.open = true
	return nil
}

// Write queues samples
func (v *Virtual) Write(samples []int32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open {
		return fmt.Errorf("output not initialized")
	}
	v.advance()
	v.queued += int64(len(samples) / v.channels)
	return nil
}

// Played returns frames consumed since Open
func (v *Virtual) Played() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open {
		return 0
	}
	v.advance()
	return v.played
}

// Flush drops queued frames
func (v *Virtual) Flush() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.open {
		v.advance()
	}
	v.queued = 0
}

// Close stops the clock
func (v *Virtual) Close() error {
	v.mu.Lock()
	v.open = false
	v.mu.Unlock()
	return nil
}

// advance consumes frames for the time elapsed since the last call (must hold v.mu)
func (v *Virtual) advance() {
	now := v.now()
	elapsed := now.Sub(v.last)
	frames := int64(elapsed) * int64(v.sampleRate) / int64(time.Second)
	if frames <= 0 {
		return
	}
	// Keep the remainder so short polls do not lose time
	v.last = v.last.Add(time.Duration(frames * int64(time.Second) / int64(v.sampleRate)))

	if frames > v.queued {
		frames = v.queued
	}
	v.queued -= frames
	v.played += frames
}
