// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for audio playback backends with a playback position
package output

import "errors"

// ErrDeviceUnavailable is returned when no playback device can be opened
var ErrDeviceUnavailable = errors.New("audio output device unavailable")

// Output represents an audio output device
type Output interface {
	// Open initializes the output device
	Open(sampleRate, channels, bitDepth int) error

	// Write queues audio samples for playback
	Write(samples []int32) error

	// Played returns the number of queued frames the device has consumed since Open
	Played() int64

	// Flush discards queued samples that have not been played
	Flush()

	// Close releases output resources
	Close() error
}

// New returns the named backend: "malgo", "oto" or "virtual"
func New(backend string, opts ...Option) (Output, error) {
	switch backend {
	case "", "malgo":
		return NewMalgo(opts...), nil
	case "oto":
		return NewOto(opts...), nil
	case "virtual", "null":
		return NewVirtual(), nil
	default:
		return nil, errors.New("unknown audio output backend: " + backend)
	}
}
