// ABOUTME: Errors reported by the hub connection manager
// ABOUTME: Sentinels for connection faults plus the typed RPC error
package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks transport failures; the manager retries these
	ErrNetwork = errors.New("hub network error")
	// ErrAuthentication marks rejected credentials; never retried
	ErrAuthentication = errors.New("hub authentication failed")
	// ErrTimeout is returned when an invocation gets no completion in time
	ErrTimeout = errors.New("hub invocation timed out")
	// ErrStreamBusy is returned when a stream is already open in that direction
	ErrStreamBusy = errors.New("audio stream already open")
	// ErrNotConnected is returned for operations that need a live connection
	ErrNotConnected = errors.New("hub not connected")
)

// RPCError is a completion that carried a server error
type RPCError struct {
	Method  string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Method, e.Message)
}
