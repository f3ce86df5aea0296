// ABOUTME: Chat message history of one session
// ABOUTME: Collects user and character messages as reply text streams in and updates arrive
package session

import (
	"sync"
)

// Role identifies who wrote a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleCharacter Role = "character"
)

// Message is one chat message
type Message struct {
	ID        string
	SenderID  string
	Role      Role
	Utterance uint32 // Character replies only
	Text      string
	Complete  bool
	Cancelled bool
}

// History keeps chat messages in arrival order, dropping the oldest past its limit
type History struct {
	mu       sync.Mutex
	limit    int
	messages []Message
}

// DefaultHistoryLimit bounds a History created with a zero limit
const DefaultHistoryLimit = 200

// NewHistory creates an empty history
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// AppendReply adds reply text to a character message, creating it on first use.
// Text for a completed message is ignored.
func (h *History) AppendReply(id, senderID string, utterance uint32, text string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.find(id)
	if i < 0 {
		h.add(Message{ID: id, SenderID: senderID, Role: RoleCharacter, Utterance: utterance})
		i = len(h.messages) - 1
	}
	if h.messages[i].Complete {
		return
	}
	h.messages[i].Text += text
}

// CompleteReply marks a character message as finished
func (h *History) CompleteReply(id string) bool {
	return h.mark(id, func(m *Message) { m.Complete = true })
}

// CancelReply marks a character message as cancelled; its partial text is kept
func (h *History) CancelReply(id string) bool {
	return h.mark(id, func(m *Message) {
		m.Complete = true
		m.Cancelled = true
	})
}

// Update adds a complete message or replaces the text of an existing one
func (h *History) Update(id, senderID string, role Role, text string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if i := h.find(id); i >= 0 {
		h.messages[i].Text = text
		h.messages[i].Complete = true
		return
	}
	h.add(Message{ID: id, SenderID: senderID, Role: role, Text: text, Complete: true})
}

// Messages returns a copy of the history
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}

// Len returns the number of messages held
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Reset empties the history
func (h *History) Reset() {
	h.mu.Lock()
	h.messages = nil
	h.mu.Unlock()
}

func (h *History) mark(id string, fn func(*Message)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.find(id)
	if i < 0 {
		return false
	}
	fn(&h.messages[i])
	return true
}

// find returns the index of id, newest first (must hold h.mu)
func (h *History) find(id string) int {
	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (h *History) add(m Message) {
	h.messages = append(h.messages, m)
	if over := len(h.messages) - h.limit; over > 0 {
		h.messages = append([]Message(nil), h.messages[over:]...)
	}
}
