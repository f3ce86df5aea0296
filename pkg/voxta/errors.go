// ABOUTME: Errors surfaced by the client facade
// ABOUTME: Server-reported errors arrive as ServerError values through OnError
package voxta

import (
	"errors"
	"fmt"
)

var (
	// ErrNoChat is returned by calls that need a chat before StartChat succeeded
	ErrNoChat = errors.New("no chat started")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("client closed")
	// ErrReplyCancelled is the cause recorded when the server cancels a reply
	ErrReplyCancelled = errors.New("reply cancelled by server")
)

// ServerError is an error the server reported through an error message
type ServerError struct {
	Type    string
	Message string
	Details string
}

func (e *ServerError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}
