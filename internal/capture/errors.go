// ABOUTME: Capture pipeline errors
// ABOUTME: Device failures are fatal to Start, overruns only lose audio
package capture

import (
	"fmt"
	"time"

	"github.com/talktome/voxta-go/pkg/audio/input"
)

// ErrDeviceUnavailable is returned by Start when the capture device cannot be opened or started
var ErrDeviceUnavailable = input.ErrDeviceUnavailable

// BufferOverrunError reports captured audio dropped because the stream fell behind
type BufferOverrunError struct {
	Utterance uint32
	Dropped   int           // Chunks dropped since the last report
	Window    time.Duration // Bound that was exceeded
}

func (e *BufferOverrunError) Error() string {
	return fmt.Sprintf("capture overrun on utterance %d: dropped %d chunks beyond %v window", e.Utterance, e.Dropped, e.Window)
}
