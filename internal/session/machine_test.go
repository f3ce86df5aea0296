// ABOUTME: Tests for the session state machine
// ABOUTME: Covers the transition table, event ordering and reconnect policies
package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) path() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, ev := range r.events {
		out = append(out, ev.To)
	}
	return out
}

func samePath(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func idleMachine(t *testing.T, policy ResumePolicy) (*Machine, *recorder) {
	t.Helper()
	m := NewMachine(policy, zaptest.NewLogger(t))
	if err := m.Connecting(); err != nil {
		t.Fatalf("connecting failed: %v", err)
	}
	if err := m.Authenticated(protocol.Welcome{User: protocol.User{ID: "u1", Name: "Ada"}}); err != nil {
		t.Fatalf("authenticated failed: %v", err)
	}
	rec := &recorder{}
	m.Observe(rec.observe)
	return m, rec
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateDisconnected, StateConnecting},
		{StateFaulted, StateConnecting},
		{StateConnecting, StateIdle},
		{StateIdle, StateListening},
		{StateIdle, StateThinking},
		{StateListening, StateThinking},
		{StateListening, StateIdle},
		{StateThinking, StateSpeaking},
		{StateThinking, StateIdle},
		{StateSpeaking, StateIdle},
		{StateSpeaking, StateDisconnected},
		{StateListening, StateFaulted},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be allowed", tt.from, tt.to)
		}
	}

	forbidden := []struct{ from, to State }{
		{StateIdle, StateSpeaking},
		{StateListening, StateSpeaking},
		{StateConnecting, StateListening},
		{StateSpeaking, StateListening},
		{StateDisconnected, StateIdle},
	}
	for _, tt := range forbidden {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be forbidden", tt.from, tt.to)
		}
	}
}

func TestConversationRound(t *testing.T) {
	m, rec := idleMachine(t, Restart)

	u, err := m.StartSpeaking()
	if err != nil {
		t.Fatalf("start speaking failed: %v", err)
	}
	if u.Ordinal != 1 || u.Kind != KindUser {
		t.Errorf("expected user utterance 1, got %+v", u)
	}

	if _, err := m.StopSpeaking(); err != nil {
		t.Fatalf("stop speaking failed: %v", err)
	}
	if m.TranscriptEnded() {
		t.Error("expected duplicate end of speech to be ignored")
	}

	started, err := m.InboundChunk(1)
	if err != nil || !started {
		t.Fatalf("expected first chunk to start speaking, got %v %v", started, err)
	}
	if started, _ := m.InboundChunk(1); started {
		t.Error("expected second chunk not to restart the utterance")
	}

	if err := m.PlaybackComplete(1); err != nil {
		t.Fatalf("playback complete failed: %v", err)
	}

	want := []State{StateListening, StateThinking, StateSpeaking, StateIdle}
	if got := rec.path(); !samePath(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestAudioFromIdleNeverSkipsThinking(t *testing.T) {
	m, rec := idleMachine(t, Restart)

	if _, err := m.InboundChunk(3); err != nil {
		t.Fatalf("inbound chunk failed: %v", err)
	}

	want := []State{StateThinking, StateSpeaking}
	if got := rec.path(); !samePath(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	for _, ev := range rec.events {
		if ev.From == StateIdle && ev.To == StateSpeaking {
			t.Error("observed Idle -> Speaking")
		}
	}

	s, _ := m.Session()
	if s.Utterance.Ordinal != 3 || s.Utterance.Kind != KindCharacter {
		t.Errorf("expected character utterance 3, got %+v", s.Utterance)
	}
}

func TestInvalidTransitions(t *testing.T) {
	m, _ := idleMachine(t, Restart)

	if _, err := m.StopSpeaking(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition stopping while idle, got %v", err)
	}
	if err := m.PlaybackComplete(1); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition completing while idle, got %v", err)
	}

	m.StartSpeaking()
	if _, err := m.StartSpeaking(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition starting twice, got %v", err)
	}

	fresh := NewMachine(Restart, nil)
	if err := fresh.Authenticated(protocol.Welcome{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition authenticating while disconnected, got %v", err)
	}
}

func TestTextOnlyReplyReturnsToIdle(t *testing.T) {
	m, rec := idleMachine(t, Restart)

	m.ReplyStarted(1)
	m.ReplyStarted(1)
	if err := m.ReplyEnded(1, false); err != nil {
		t.Fatalf("reply ended failed: %v", err)
	}

	want := []State{StateThinking, StateIdle}
	if got := rec.path(); !samePath(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Late audio for a finished utterance is ignored
	if started, _ := m.InboundChunk(1); started {
		t.Error("expected stale audio to be ignored")
	}
}

func TestReplyEndBeforeStartStaysIdle(t *testing.T) {
	m, rec := idleMachine(t, Restart)

	if err := m.ReplyEnded(1, false); err != nil {
		t.Fatalf("reply ended failed: %v", err)
	}
	m.ReplyStarted(1)

	if got := rec.path(); len(got) != 0 {
		t.Errorf("expected no transitions, got %v", got)
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle, got %s", m.State())
	}
}

func TestAbandonedUtteranceCarriesError(t *testing.T) {
	m, rec := idleMachine(t, Restart)
	m.InboundChunk(1)

	cause := errors.New("gap")
	if err := m.UtteranceAbandoned(1, cause); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}

	last := rec.events[len(rec.events)-1]
	if last.To != StateIdle || !errors.Is(last.Err, cause) {
		t.Errorf("expected Idle with cause, got %+v", last)
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle, got %s", m.State())
	}
}

func TestReplyQueuedWhileSpeaking(t *testing.T) {
	m, rec := idleMachine(t, Restart)
	m.InboundChunk(1)
	m.InboundChunk(2)

	if err := m.PlaybackComplete(1); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	want := []State{StateThinking, StateSpeaking, StateIdle, StateThinking, StateSpeaking}
	if got := rec.path(); !samePath(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	s, _ := m.Session()
	if s.Utterance.Ordinal != 2 {
		t.Errorf("expected utterance 2 speaking, got %d", s.Utterance.Ordinal)
	}
}

func TestObserverReentryKeepsOrder(t *testing.T) {
	m, rec := idleMachine(t, Restart)

	// An observer that reacts to Thinking by pushing audio
	m.Observe(func(ev Event) {
		if ev.To == StateThinking {
			m.InboundChunk(1)
		}
	})

	m.StartSpeaking()
	m.StopSpeaking()

	want := []State{StateListening, StateThinking, StateSpeaking}
	if got := rec.path(); !samePath(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReconnectRestartAbandons(t *testing.T) {
	m, rec := idleMachine(t, Restart)
	m.ChatStarted(protocol.ChatStarted{SessionID: "s1", ChatID: "c1", Characters: []protocol.ChatCharacter{{ID: "aria"}}})
	m.InboundChunk(4)

	m.Reconnected(protocol.Welcome{User: protocol.User{ID: "u2"}})

	if m.State() != StateIdle {
		t.Errorf("expected idle after restart, got %s", m.State())
	}
	s, _ := m.Session()
	if s.UserID != "u2" || s.ID != "" {
		t.Errorf("expected replaced identity, got %+v", s)
	}
	if s.CharacterID != "aria" {
		t.Errorf("expected character kept, got %s", s.CharacterID)
	}
	if last := rec.events[len(rec.events)-1]; last.Reason != "reconnected" {
		t.Errorf("expected reconnected reason, got %s", last.Reason)
	}

	// The new session numbers its replies from the start again
	if started, err := m.InboundChunk(1); !started || err != nil {
		t.Errorf("expected utterance 1 of the new session to start, got started=%v err=%v", started, err)
	}
	if m.State() != StateSpeaking {
		t.Errorf("expected speaking, got %s", m.State())
	}
}

func TestResumeKeepsFinishedOrdinals(t *testing.T) {
	m, _ := idleMachine(t, Resume)
	m.InboundChunk(3)
	m.PlaybackComplete(3)

	m.Reconnected(protocol.Welcome{User: protocol.User{ID: "u2"}})

	if started, _ := m.InboundChunk(3); started {
		t.Error("expected a replayed utterance to stay finished after resume")
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle, got %s", m.State())
	}
}

func TestUtteranceZeroIsNotFinishedInitially(t *testing.T) {
	m, rec := idleMachine(t, Restart)

	started, err := m.InboundChunk(0)
	if err != nil || !started {
		t.Fatalf("expected utterance 0 to start, got started=%v err=%v", started, err)
	}
	if err := m.PlaybackComplete(0); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if started, _ := m.InboundChunk(0); started {
		t.Error("expected utterance 0 to be finished after playing")
	}

	want := []State{StateThinking, StateSpeaking, StateIdle}
	if got := rec.path(); !samePath(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReconnectResumeKeepsState(t *testing.T) {
	m, _ := idleMachine(t, Resume)
	m.ChatStarted(protocol.ChatStarted{SessionID: "s1"})
	m.InboundChunk(2)

	m.Reconnected(protocol.Welcome{User: protocol.User{ID: "u2"}})

	if m.State() != StateSpeaking {
		t.Errorf("expected speaking to survive resume, got %s", m.State())
	}
	s, _ := m.Session()
	if s.ID != "s1" || s.UserID != "u1" {
		t.Errorf("expected identity kept, got %+v", s)
	}
}

func TestDisconnectAndFault(t *testing.T) {
	m, rec := idleMachine(t, Restart)
	m.StartSpeaking()

	m.Disconnected("closed", nil)
	m.Disconnected("closed", nil)
	if _, ok := m.Session(); ok {
		t.Error("expected session destroyed on disconnect")
	}

	if err := m.Connecting(); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	m.Fault(errors.New("gave up"))
	if m.State() != StateFaulted {
		t.Errorf("expected faulted, got %s", m.State())
	}

	want := []State{StateListening, StateDisconnected, StateConnecting, StateFaulted}
	if got := rec.path(); !samePath(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestParseResumePolicy(t *testing.T) {
	if p, err := ParseResumePolicy("resume"); err != nil || p != Resume {
		t.Errorf("expected resume, got %v %v", p, err)
	}
	if p, err := ParseResumePolicy(""); err != nil || p != Restart {
		t.Errorf("expected restart default, got %v %v", p, err)
	}
	if _, err := ParseResumePolicy("sometimes"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
