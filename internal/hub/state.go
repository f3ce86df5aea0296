// ABOUTME: Connection state tracked by the hub manager
// ABOUTME: Observers receive StateChange values in transition order
package hub

import (
	"fmt"

	"github.com/talktome/voxta-go/pkg/protocol"
)

// State is the connection state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateChange describes one connection state transition
type StateChange struct {
	From        State
	To          State
	Attempt     int  // Reconnect attempt number, 0 outside reconnects
	Reconnected bool // Connected again after a loss; Welcome is the new identity
	Welcome     protocol.Welcome
	Err         error
}
