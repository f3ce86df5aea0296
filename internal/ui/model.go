// ABOUTME: Bubbletea model for the conversation TUI
// ABOUTME: Shows connection and session state, the live transcript and the character reply
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	frameStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	badgeStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("0"))

	badgeColors = map[string]lipgloss.Color{
		"connected":    "10",
		"reconnecting": "11",
		"connecting":   "11",
		"faulted":      "9",
		"disconnected": "8",
		"idle":         "14",
		"listening":    "13",
		"thinking":     "11",
		"speaking":     "10",
	}
)

const maxReply = 400

// Model represents the TUI state
type Model struct {
	// Connection
	connection string
	server     string
	character  string

	// Conversation
	state      string
	capturing  bool
	talking    bool
	transcript string
	heard      bool // transcript is final
	reply      string
	lastErr    string

	// Typed message being composed
	input string

	stats     StatsMsg
	showDebug bool

	controls *Controls

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	case TranscriptMsg:
		m.transcript = msg.Text
		m.heard = msg.Final
	case ReplyMsg:
		m.applyReply(msg)
	case ErrorMsg:
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
		}
	case StatsMsg:
		m.stats = msg
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	width := m.width - 4
	if width < 40 {
		width = 40
	}

	sections := []string{
		m.renderHeader(),
		m.renderConversation(width),
		m.renderInput(),
		m.renderStats(),
	}
	if m.showDebug {
		sections = append(sections, m.renderDebug())
	}
	sections = append(sections, m.renderHelp())

	return frameStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, sections...)) + "\n"
}

func badge(state string) string {
	if state == "" {
		state = "disconnected"
	}
	color, ok := badgeColors[state]
	if !ok {
		color = "7"
	}
	return badgeStyle.Background(color).Render(strings.ToUpper(state))
}

// renderHeader renders connection and session state
func (m Model) renderHeader() string {
	server := m.server
	if server == "" {
		server = "-"
	}
	character := m.character
	if character == "" {
		character = "(no chat)"
	}

	mic := ""
	if m.capturing {
		mic = " " + badgeStyle.Background(lipgloss.Color("13")).Render("MIC")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Voxta"),
		fmt.Sprintf("%s %s %s", labelStyle.Render("Server:"), server, badge(m.connection)),
		fmt.Sprintf("%s %s %s%s", labelStyle.Render("Chat:  "), character, badge(m.state), mic),
		"",
	)
}

// renderConversation renders the latest exchange
func (m Model) renderConversation(width int) string {
	you := m.transcript
	if you == "" {
		you = "..."
	} else if !m.heard {
		you += " …"
	}

	reply := m.reply
	if reply == "" {
		reply = "..."
	}

	text := lipgloss.NewStyle().Width(width - 2)
	lines := []string{
		labelStyle.Render("You:"),
		text.Render(you),
		labelStyle.Render("Character:"),
		text.Render(reply),
	}
	if m.lastErr != "" {
		lines = append(lines, errorStyle.Render("Error: "+truncate(m.lastErr, width-9)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, append(lines, "")...)
}

func (m Model) renderInput() string {
	return fmt.Sprintf("%s %s█\n", labelStyle.Render(">"), m.input)
}

// renderStats renders playback statistics
func (m Model) renderStats() string {
	s := m.stats
	return labelStyle.Render(fmt.Sprintf("Sent: %d  Received: %d  Played: %d  Abandoned: %d  Reconnects: %d  Errors: %d",
		s.Sent, s.Received, s.Completed, s.Abandoned, s.Reconnects, s.Errors))
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return labelStyle.Render(fmt.Sprintf("Goroutines: %d  Heap: %.1fMB  Stale: %d  Duplicates: %d",
		m.stats.Goroutines, float64(m.stats.MemAlloc)/(1<<20), m.stats.Stale, m.stats.Duplicates))
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return helpStyle.Render("space: talk  enter: send  tab: debug  esc/ctrl+c: quit")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.quit()
		return m, tea.Quit
	case tea.KeyTab:
		m.showDebug = !m.showDebug
	case tea.KeyEnter:
		if text := strings.TrimSpace(m.input); text != "" {
			m.send(text)
		}
		m.input = ""
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		// Space composes text once typing started, otherwise it is push-to-talk
		if m.input != "" {
			m.input += " "
			return m, nil
		}
		m.talking = !m.talking
		m.talk(m.talking)
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}

	return m, nil
}

func (m *Model) talk(on bool) {
	if m.controls == nil {
		return
	}
	select {
	case m.controls.Talk <- on:
	default:
	}
}

func (m *Model) send(text string) {
	m.transcript, m.heard = text, true
	m.reply = ""
	if m.controls == nil {
		return
	}
	select {
	case m.controls.Text <- text:
	default:
	}
}

func (m *Model) quit() {
	if m.controls == nil {
		return
	}
	select {
	case m.controls.Quit <- struct{}{}:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connection != "" {
		m.connection = msg.Connection
	}
	if msg.Server != "" {
		m.server = msg.Server
	}
	if msg.Character != "" {
		m.character = msg.Character
	}
	if msg.State != "" {
		if msg.State == "listening" && m.state != "listening" {
			m.transcript, m.heard = "", false
		}
		m.state = msg.State
	}
	if msg.Capturing != nil {
		m.capturing = *msg.Capturing
		if !m.capturing {
			m.talking = false
		}
	}
}

func (m *Model) applyReply(msg ReplyMsg) {
	if msg.Done {
		m.reply = strings.TrimSpace(m.reply)
		return
	}
	if msg.New {
		m.reply = ""
	}
	m.reply = truncateLeft(m.reply+msg.Text, maxReply)
}

// StatusMsg updates connection and session state; empty fields are unchanged
type StatusMsg struct {
	Connection string
	Server     string
	Character  string
	State      string
	Capturing  *bool
}

// TranscriptMsg carries speech recognition progress
type TranscriptMsg struct {
	Text  string
	Final bool
}

// ReplyMsg carries character reply text
type ReplyMsg struct {
	Text string
	New  bool // First piece of a new reply
	Done bool
}

// ErrorMsg shows the latest error
type ErrorMsg struct {
	Err error
}

// StatsMsg carries client statistics
type StatsMsg struct {
	Sent       int64
	Received   int64
	Completed  int64
	Abandoned  int64
	Stale      int64
	Duplicates int64
	Reconnects int64
	Errors     int64
	Goroutines int
	MemAlloc   uint64
}

func truncate(s string, length int) string {
	r := []rune(s)
	if length < 4 || len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}

// truncateLeft keeps the tail of s
func truncateLeft(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return "..." + string(r[len(r)-length+3:])
}
