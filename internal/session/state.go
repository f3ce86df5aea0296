// ABOUTME: Session states, utterances and the allowed transition table
// ABOUTME: Anything outside the table is rejected with ErrInvalidTransition
package session

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a transition the table does not allow
var ErrInvalidTransition = errors.New("invalid session transition")

// State is the conversational state of a session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdle
	StateListening
	StateThinking
	StateSpeaking
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateFaulted:      {StateConnecting},
	StateConnecting:   {StateIdle},
	StateIdle:         {StateListening, StateThinking},
	StateListening:    {StateThinking, StateIdle},
	StateThinking:     {StateSpeaking, StateIdle},
	StateSpeaking:     {StateIdle},
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to State) bool {
	if to == StateDisconnected || to == StateFaulted {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Kind says who produced an utterance
type Kind int

const (
	KindUser Kind = iota
	KindCharacter
)

func (k Kind) String() string {
	if k == KindUser {
		return "user"
	}
	return "character"
}

// Utterance is one unit of speech
type Utterance struct {
	Ordinal  uint32
	Kind     Kind
	Complete bool
}

// Session is the identity and state of one authenticated connection
type Session struct {
	ID          string
	ChatID      string
	UserID      string
	UserName    string
	CharacterID string
	VoiceID     string
	State       State
	Utterance   Utterance
}

// ResumePolicy decides what a reconnect does to the conversation
type ResumePolicy int

const (
	// Restart abandons the in-flight utterance and adopts the new identity
	Restart ResumePolicy = iota
	// Resume keeps state and identity across the reconnect
	Resume
)

func (p ResumePolicy) String() string {
	if p == Resume {
		return "resume"
	}
	return "restart"
}

// ParseResumePolicy maps a config string to a policy
func ParseResumePolicy(s string) (ResumePolicy, error) {
	switch s {
	case "", "restart":
		return Restart, nil
	case "resume":
		return Resume, nil
	default:
		return Restart, fmt.Errorf("unknown resume policy %q", s)
	}
}

// Event reports one state transition
type Event struct {
	From    State
	To      State
	Reason  string
	Session Session
	Err     error
}
