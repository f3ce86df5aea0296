// ABOUTME: Audio input interface definition
// ABOUTME: Common interface for capture backends delivering PCM through a callback
package input

import (
	"errors"
	"fmt"
	"time"
)

// ErrDeviceUnavailable is returned when no capture device can be opened
var ErrDeviceUnavailable = errors.New("audio input device unavailable")

// DefaultPeriod is how often backends deliver captured samples
const DefaultPeriod = 10 * time.Millisecond

// SampleFunc receives interleaved samples left-justified in 24 bits.
// It runs on the device thread and must not block.
type SampleFunc func(samples []int32)

// Device represents an audio capture device
type Device interface {
	// Open prepares the device with the native format it should capture
	Open(sampleRate, channels int, onSamples SampleFunc) error

	// Start begins delivering samples
	Start() error

	// Stop pauses delivery; Start may be called again
	Stop() error

	// Close releases device resources
	Close() error
}

// New returns the named backend: "malgo" or "tone"
func New(backend string) (Device, error) {
	switch backend {
	case "", "malgo":
		return NewMalgo(), nil
	case "tone", "virtual":
		return NewTone(440), nil
	default:
		return nil, fmt.Errorf("unknown audio input backend: %s", backend)
	}
}
