// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status updates, key handling and conversation rendering
package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestNewModel(t *testing.T) {
	model := NewModel(nil) // Controls are optional for testing

	if model.connection != "disconnected" {
		t.Errorf("expected disconnected, got %s", model.connection)
	}
	if model.capturing {
		t.Error("expected capturing to be false initially")
	}
	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}
}

func TestStatusMsgKeepsUnsetFields(t *testing.T) {
	model := NewModel(nil)

	model.applyStatus(StatusMsg{Connection: "connected", Server: "ws://localhost:5384/hub"})
	model.applyStatus(StatusMsg{State: "idle", Character: "Aria"})

	if model.connection != "connected" {
		t.Errorf("expected connected, got %s", model.connection)
	}
	if model.server != "ws://localhost:5384/hub" {
		t.Errorf("expected server to be kept, got %q", model.server)
	}
	if model.character != "Aria" {
		t.Errorf("expected character Aria, got %q", model.character)
	}
	if model.state != "idle" {
		t.Errorf("expected idle, got %s", model.state)
	}
}

func TestListeningClearsTranscript(t *testing.T) {
	model := NewModel(nil)
	model = update(model, TranscriptMsg{Text: "old words", Final: true})

	model.applyStatus(StatusMsg{State: "listening"})

	if model.transcript != "" || model.heard {
		t.Errorf("expected transcript to be cleared, got %q", model.transcript)
	}
}

func TestCaptureStopEndsTalking(t *testing.T) {
	model := NewModel(nil)
	model = update(model, tea.KeyMsg{Type: tea.KeySpace})
	if !model.talking {
		t.Fatal("expected space to start talking")
	}

	off := false
	model.applyStatus(StatusMsg{Capturing: &off})

	if model.talking {
		t.Error("expected talking to end with capture")
	}
}

func TestReplyAccumulates(t *testing.T) {
	model := NewModel(nil)

	model = update(model, ReplyMsg{Text: "Hello ", New: true})
	model = update(model, ReplyMsg{Text: "there. "})
	model = update(model, ReplyMsg{Done: true})

	if model.reply != "Hello there." {
		t.Errorf("expected %q, got %q", "Hello there.", model.reply)
	}

	model = update(model, ReplyMsg{Text: "Next", New: true})
	if model.reply != "Next" {
		t.Errorf("expected new reply to replace the old one, got %q", model.reply)
	}
}

func TestReplyKeepsTail(t *testing.T) {
	model := NewModel(nil)
	model = update(model, ReplyMsg{Text: strings.Repeat("a", maxReply) + "END", New: true})

	if len([]rune(model.reply)) != maxReply {
		t.Errorf("expected reply capped at %d, got %d", maxReply, len([]rune(model.reply)))
	}
	if !strings.HasSuffix(model.reply, "END") {
		t.Errorf("expected the tail to be kept, got %q", model.reply[len(model.reply)-10:])
	}
}

func TestErrorMsg(t *testing.T) {
	model := NewModel(nil)
	model = update(model, ErrorMsg{Err: errors.New("sequence gap")})

	if model.lastErr != "sequence gap" {
		t.Errorf("expected last error, got %q", model.lastErr)
	}
}

func TestSpaceTogglesTalk(t *testing.T) {
	controls := NewControls()
	model := NewModel(controls)

	model = update(model, tea.KeyMsg{Type: tea.KeySpace})
	model = update(model, tea.KeyMsg{Type: tea.KeySpace})

	for _, want := range []bool{true, false} {
		select {
		case got := <-controls.Talk:
			if got != want {
				t.Errorf("expected talk %v, got %v", want, got)
			}
		default:
			t.Fatalf("expected talk %v to be sent", want)
		}
	}
}

func TestTypedMessage(t *testing.T) {
	controls := NewControls()
	model := NewModel(controls)

	model = update(model, key("hi"))
	model = update(model, tea.KeyMsg{Type: tea.KeySpace})
	model = update(model, key("yo"))
	model = update(model, tea.KeyMsg{Type: tea.KeyBackspace})
	model = update(model, tea.KeyMsg{Type: tea.KeyEnter})

	select {
	case got := <-controls.Text:
		if got != "hi y" {
			t.Errorf("expected %q, got %q", "hi y", got)
		}
	default:
		t.Fatal("expected a typed message")
	}
	if model.input != "" {
		t.Errorf("expected input to be cleared, got %q", model.input)
	}
	if model.transcript != "hi y" {
		t.Errorf("expected sent text as transcript, got %q", model.transcript)
	}
	select {
	case <-controls.Talk:
		t.Error("expected space inside text not to toggle talk")
	default:
	}
}

func TestEmptyEnterSendsNothing(t *testing.T) {
	controls := NewControls()
	model := NewModel(controls)

	update(model, tea.KeyMsg{Type: tea.KeyEnter})

	select {
	case got := <-controls.Text:
		t.Errorf("expected nothing sent, got %q", got)
	default:
	}
}

func TestQuitKey(t *testing.T) {
	controls := NewControls()
	model := NewModel(controls)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	select {
	case <-controls.Quit:
	default:
		t.Error("expected quit signal")
	}
}

func TestDebugToggle(t *testing.T) {
	model := NewModel(nil)
	model = update(model, tea.KeyMsg{Type: tea.KeyTab})
	if !model.showDebug {
		t.Error("expected debug to be shown")
	}
	model = update(model, tea.KeyMsg{Type: tea.KeyTab})
	if model.showDebug {
		t.Error("expected debug to be hidden")
	}
}

func TestViewBeforeResize(t *testing.T) {
	model := NewModel(nil)
	if got := model.View(); got != "Loading..." {
		t.Errorf("expected Loading..., got %q", got)
	}
}

func TestViewRendersConversation(t *testing.T) {
	model := NewModel(nil)
	model = update(model, tea.WindowSizeMsg{Width: 100, Height: 30})
	model = update(model, StatusMsg{Connection: "connected", State: "speaking", Character: "Aria"})
	model = update(model, TranscriptMsg{Text: "how are you", Final: true})
	model = update(model, ReplyMsg{Text: "Doing great", New: true})
	model = update(model, StatsMsg{Completed: 3})

	view := model.View()
	for _, want := range []string{"Aria", "SPEAKING", "CONNECTED", "how are you", "Doing great", "Played: 3"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		length int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.in, tt.length); got != tt.want {
			t.Errorf("truncate(%q, %d): expected %q, got %q", tt.in, tt.length, tt.want, got)
		}
	}
}
