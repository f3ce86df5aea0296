// ABOUTME: Session state machine arbitrating the conversation lifecycle
// ABOUTME: Owns the Session and emits transition events to observers in order
package session

import (
	"fmt"
	"sync"

	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// Machine owns the Session; every other component reads snapshots
type Machine struct {
	logger *zap.Logger
	policy ResumePolicy

	mu        sync.Mutex
	state     State
	session   *Session
	userSeq     uint32 // Last user utterance ordinal
	finished    uint32 // Highest character utterance played or abandoned
	hasFinished bool
	pending     uint32 // Character utterance waiting behind the one speaking
	observers []func(Event)

	queue    []Event
	draining bool
}

// NewMachine creates a machine in the Disconnected state
func NewMachine(policy ResumePolicy, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{logger: logger, policy: policy}
}

// Observe registers a transition observer; observers may call back into the machine
func (m *Machine) Observe(fn func(Event)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Policy returns the reconnect policy
func (m *Machine) Policy() ResumePolicy {
	return m.policy
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a snapshot of the current session
func (m *Machine) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{State: m.state}, false
	}
	return *m.session, true
}

// Connecting starts a fresh connection attempt
func (m *Machine) Connecting() error {
	return m.do(func() error {
		return m.transition(StateConnecting, "connect", nil)
	})
}

// Authenticated creates the session from the welcome and enters Idle
func (m *Machine) Authenticated(w protocol.Welcome) error {
	return m.do(func() error {
		if m.state != StateConnecting {
			return fmt.Errorf("%w: authenticated while %s", ErrInvalidTransition, m.state)
		}
		m.session = &Session{UserID: w.User.ID, UserName: w.User.Name}
		m.resetOrdinals()
		return m.transition(StateIdle, "authenticated", nil)
	})
}

// ChatStarted records the chat identity
func (m *Machine) ChatStarted(cs protocol.ChatStarted) {
	m.do(func() error {
		if m.session == nil {
			return nil
		}
		m.session.ID = cs.SessionID
		m.session.ChatID = cs.ChatID
		if len(cs.Characters) > 0 {
			m.session.CharacterID = cs.Characters[0].ID
		}
		return nil
	})
}

// CharacterLoaded records the active character and voice
func (m *Machine) CharacterLoaded(c protocol.LoadedCharacter) {
	m.do(func() error {
		if m.session == nil {
			return nil
		}
		m.session.CharacterID = c.ID
		if len(c.TextToSpeech) > 0 {
			m.session.VoiceID = c.TextToSpeech[0].Voice
		}
		return nil
	})
}

// StartSpeaking begins a user utterance
func (m *Machine) StartSpeaking() (Utterance, error) {
	var u Utterance
	err := m.do(func() error {
		if m.state != StateIdle {
			return fmt.Errorf("%w: start speaking while %s", ErrInvalidTransition, m.state)
		}
		m.userSeq++
		u = Utterance{Ordinal: m.userSeq, Kind: KindUser}
		m.session.Utterance = u
		return m.transition(StateListening, "start speaking", nil)
	})
	return u, err
}

// StopSpeaking ends the user utterance and waits for the reply
func (m *Machine) StopSpeaking() (Utterance, error) {
	var u Utterance
	err := m.do(func() error {
		if m.state != StateListening {
			return fmt.Errorf("%w: stop speaking while %s", ErrInvalidTransition, m.state)
		}
		m.session.Utterance.Complete = true
		u = m.session.Utterance
		return m.transition(StateThinking, "stop speaking", nil)
	})
	return u, err
}

// TranscriptEnded handles the server deciding the user finished; repeats are ignored
func (m *Machine) TranscriptEnded() (ended bool) {
	m.do(func() error {
		if m.state != StateListening {
			return nil
		}
		m.session.Utterance.Complete = true
		ended = true
		return m.transition(StateThinking, "speech recognized", nil)
	})
	return ended
}

// CancelSpeaking abandons the user utterance
func (m *Machine) CancelSpeaking(reason string, cause error) error {
	return m.do(func() error {
		if m.state != StateListening {
			return fmt.Errorf("%w: cancel speaking while %s", ErrInvalidTransition, m.state)
		}
		return m.transition(StateIdle, reason, cause)
	})
}

// ReplyStarted notes a character utterance; server-initiated replies move Idle to Thinking
func (m *Machine) ReplyStarted(ordinal uint32) error {
	return m.do(func() error {
		if m.stale(ordinal) {
			return nil
		}
		switch m.state {
		case StateIdle, StateListening:
			if m.state == StateListening {
				m.session.Utterance.Complete = true
			}
			m.session.Utterance = Utterance{Ordinal: ordinal, Kind: KindCharacter}
			return m.transition(StateThinking, "reply started", nil)
		case StateThinking:
			m.session.Utterance = Utterance{Ordinal: ordinal, Kind: KindCharacter}
			return nil
		case StateSpeaking:
			if ordinal != m.session.Utterance.Ordinal && ordinal > m.pending {
				m.pending = ordinal
			}
			return nil
		default:
			return fmt.Errorf("%w: reply while %s", ErrInvalidTransition, m.state)
		}
	})
}

// InboundChunk moves to Speaking for the utterance's first chunk, through Thinking if needed.
// It reports whether this call started the utterance.
func (m *Machine) InboundChunk(ordinal uint32) (started bool, err error) {
	err = m.do(func() error {
		if m.stale(ordinal) {
			return nil
		}
		switch m.state {
		case StateSpeaking:
			if ordinal != m.session.Utterance.Ordinal && ordinal > m.pending {
				m.pending = ordinal
			}
			return nil
		case StateIdle, StateListening:
			if err := m.transition(StateThinking, "reply audio", nil); err != nil {
				return err
			}
		case StateThinking:
		default:
			return fmt.Errorf("%w: audio while %s", ErrInvalidTransition, m.state)
		}
		started = true
		return m.speak(ordinal)
	})
	return started, err
}

// speak enters Speaking for ordinal (must hold m.mu)
func (m *Machine) speak(ordinal uint32) error {
	m.session.Utterance = Utterance{Ordinal: ordinal, Kind: KindCharacter}
	if m.pending == ordinal {
		m.pending = 0
	}
	return m.transition(StateSpeaking, "reply audio", nil)
}

// ReplyEnded returns to Idle when a reply carried no audio
func (m *Machine) ReplyEnded(ordinal uint32, hasAudio bool) error {
	return m.do(func() error {
		if hasAudio {
			return nil
		}
		if m.state == StateIdle || m.state == StateListening {
			// Ended before its start was seen; a late start is stale
			m.markFinished(ordinal)
			return nil
		}
		if m.state != StateThinking {
			return nil
		}
		if m.session.Utterance.Kind == KindCharacter && m.session.Utterance.Ordinal != ordinal {
			return nil
		}
		m.markFinished(ordinal)
		m.session.Utterance.Complete = true
		return m.transition(StateIdle, "reply ended", nil)
	})
}

// PlaybackComplete returns to Idle after the utterance played out
func (m *Machine) PlaybackComplete(ordinal uint32) error {
	return m.finish(ordinal, "playback complete", nil)
}

// UtteranceAbandoned returns to Idle after playback gave up on the utterance
func (m *Machine) UtteranceAbandoned(ordinal uint32, cause error) error {
	return m.finish(ordinal, "utterance abandoned", cause)
}

func (m *Machine) finish(ordinal uint32, reason string, cause error) error {
	return m.do(func() error {
		m.markFinished(ordinal)
		if m.state != StateSpeaking && m.state != StateThinking {
			return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, reason, m.state)
		}
		if m.session.Utterance.Ordinal != ordinal {
			return fmt.Errorf("%w: %s for utterance %d while on %d", ErrInvalidTransition, reason, ordinal, m.session.Utterance.Ordinal)
		}
		m.session.Utterance.Complete = true
		if err := m.transition(StateIdle, reason, cause); err != nil {
			return err
		}

		// A reply that arrived while speaking starts right away
		if m.pending != 0 && !m.stale(m.pending) {
			next := m.pending
			if err := m.transition(StateThinking, "queued reply", nil); err != nil {
				return err
			}
			return m.speak(next)
		}
		m.pending = 0
		return nil
	})
}

// Reconnected applies the resume policy after the hub re-authenticated
func (m *Machine) Reconnected(w protocol.Welcome) {
	m.do(func() error {
		if m.session == nil {
			return nil
		}
		if m.policy == Resume {
			m.logger.Info("resuming session after reconnect", zap.Stringer("state", m.state))
			return nil
		}

		prev := *m.session
		m.session = &Session{
			UserID:      w.User.ID,
			UserName:    w.User.Name,
			CharacterID: prev.CharacterID,
			VoiceID:     prev.VoiceID,
			State:       m.state,
			Utterance:   prev.Utterance,
		}
		// The new session numbers its utterances afresh
		m.resetOrdinals()

		switch m.state {
		case StateListening, StateThinking, StateSpeaking:
			return m.transition(StateIdle, "reconnected", nil)
		}
		return nil
	})
}

// stale reports whether a character utterance already played out (must hold m.mu)
func (m *Machine) stale(ordinal uint32) bool {
	return m.hasFinished && ordinal <= m.finished
}

func (m *Machine) markFinished(ordinal uint32) {
	if !m.hasFinished || ordinal > m.finished {
		m.finished = ordinal
		m.hasFinished = true
	}
}

func (m *Machine) resetOrdinals() {
	m.userSeq, m.finished, m.pending = 0, 0, 0
	m.hasFinished = false
}

// Disconnected ends the session
func (m *Machine) Disconnected(reason string, cause error) {
	m.do(func() error {
		if m.state == StateDisconnected {
			return nil
		}
		err := m.transition(StateDisconnected, reason, cause)
		m.session = nil
		return err
	})
}

// Fault ends the session after an unrecoverable connection failure
func (m *Machine) Fault(cause error) {
	m.do(func() error {
		if m.state == StateFaulted {
			return nil
		}
		err := m.transition(StateFaulted, "connection faulted", cause)
		m.session = nil
		return err
	})
}

// transition validates and records a transition (must hold m.mu)
func (m *Machine) transition(to State, reason string, cause error) error {
	from := m.state
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	m.state = to
	snap := Session{State: to}
	if m.session != nil {
		m.session.State = to
		snap = *m.session
	}

	m.logger.Debug("session transition",
		zap.Stringer("from", from), zap.Stringer("to", to), zap.String("reason", reason))
	m.queue = append(m.queue, Event{From: from, To: to, Reason: reason, Session: snap, Err: cause})
	return nil
}

// do runs fn under the lock, then delivers queued events
func (m *Machine) do(fn func() error) error {
	m.mu.Lock()
	err := fn()
	m.mu.Unlock()
	m.flush()
	return err
}

// flush delivers queued events; a nested call leaves delivery to the outer one
func (m *Machine) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true

	for len(m.queue) > 0 {
		ev := m.queue[0]
		m.queue = m.queue[1:]
		observers := append([]func(Event){}, m.observers...)
		m.mu.Unlock()

		for _, fn := range observers {
			fn(ev)
		}

		m.mu.Lock()
	}

	m.draining = false
	m.mu.Unlock()
}
