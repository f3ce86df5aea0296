// ABOUTME: Routes inbound hub frames to category handlers
// ABOUTME: Each category has its own mailbox and goroutine for in-order delivery
package router

import (
	"fmt"
	"sync"

	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// Category groups server events that share a handler
type Category int

const (
	CategorySession Category = iota
	CategoryTranscript
	CategoryUtteranceStarted // A reply utterance from replyStart to replyEnd
	CategoryChatUpdate
	CategoryAudioChunk
	CategoryAnimationFrame
	CategoryError
	numCategories
)

func (c Category) String() string {
	switch c {
	case CategorySession:
		return "session"
	case CategoryTranscript:
		return "transcript"
	case CategoryUtteranceStarted:
		return "utterance-started"
	case CategoryChatUpdate:
		return "chat-update"
	case CategoryAudioChunk:
		return "audio-chunk"
	case CategoryAnimationFrame:
		return "animation-frame"
	case CategoryError:
		return "error"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// UnknownEventError reports a $type the router has no category for
type UnknownEventError struct {
	Type string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// Handler receives frames of one category
type Handler func(protocol.Frame)

var categories = map[string]Category{
	protocol.TypeWelcome:                  CategorySession,
	protocol.TypeChatStarted:              CategorySession,
	protocol.TypeCharactersListLoaded:     CategorySession,
	protocol.TypeCharacterLoaded:          CategorySession,
	protocol.TypeChatClosed:               CategorySession,
	protocol.TypeConfiguration:            CategorySession,
	protocol.TypeSpeechRecognitionStart:   CategoryTranscript,
	protocol.TypeSpeechRecognitionPartial: CategoryTranscript,
	protocol.TypeSpeechRecognitionEnd:     CategoryTranscript,
	protocol.TypeReplyStart:               CategoryUtteranceStarted,
	protocol.TypeReplyChunk:               CategoryUtteranceStarted,
	protocol.TypeReplyEnd:                 CategoryUtteranceStarted,
	protocol.TypeReplyCancelled:           CategoryUtteranceStarted,
	protocol.TypeUpdate:                   CategoryChatUpdate,
	protocol.TypeAnimationFrames:          CategoryAnimationFrame,
	protocol.TypeError:                    CategoryError,
	protocol.TypeChatSessionError:         CategoryError,
}

// Known server events with no client behavior
var ignored = map[string]bool{
	"chatStarting":           true,
	"chatLoadingMessage":     true,
	"chatsSessionsUpdated":   true,
	"contextUpdated":         true,
	"replyGenerating":        true,
	"chatFlow":               true,
	"recordingRequest":       true,
	"recordingStatus":        true,
	"speechPlaybackComplete": true,
}

// Classify returns the category of a frame; ok is false for ignored types
func Classify(f protocol.Frame) (cat Category, ok bool, err error) {
	if f.IsAudio() {
		return CategoryAudioChunk, true, nil
	}
	if c, found := categories[f.Type]; found {
		return c, true, nil
	}
	if ignored[f.Type] {
		return 0, false, nil
	}
	return 0, false, &UnknownEventError{Type: f.Type}
}

// Router fans frames out to per-category handlers
type Router struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers [numCategories][]Handler

	mailboxes [numCategories]*mailbox
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a router and starts one delivery goroutine per category
func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		logger: logger,
		done:   make(chan struct{}),
	}
	for i := range r.mailboxes {
		r.mailboxes[i] = newMailbox()
		r.wg.Add(1)
		go r.deliver(Category(i))
	}
	return r
}

// Subscribe registers a handler for a category
func (r *Router) Subscribe(cat Category, h Handler) {
	if cat < 0 || cat >= numCategories {
		return
	}
	r.mu.Lock()
	r.handlers[cat] = append(r.handlers[cat], h)
	r.mu.Unlock()
}

// Dispatch queues a frame on its category mailbox and never blocks on handlers
func (r *Router) Dispatch(f protocol.Frame) error {
	cat, ok, err := Classify(f)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Debug("ignoring server event", zap.String("type", f.Type))
		return nil
	}

	select {
	case <-r.done:
		return fmt.Errorf("router closed")
	default:
	}

	r.mailboxes[cat].push(f)
	return nil
}

// Close stops delivery; frames still queued are discarded
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func (r *Router) deliver(cat Category) {
	defer r.wg.Done()
	box := r.mailboxes[cat]

	for {
		select {
		case <-r.done:
			return
		case <-box.signal:
		}

		for _, f := range box.drain() {
			select {
			case <-r.done:
				return
			default:
			}

			r.mu.RLock()
			handlers := r.handlers[cat]
			r.mu.RUnlock()

			if len(handlers) == 0 {
				r.logger.Debug("no handler for event", zap.Stringer("category", cat), zap.String("type", f.Type))
				continue
			}
			for _, h := range handlers {
				r.call(cat, h, f)
			}
		}
	}
}

func (r *Router) call(cat Category, h Handler, f protocol.Frame) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("event handler panicked",
				zap.Stringer("category", cat), zap.String("type", f.Type), zap.Any("panic", p))
		}
	}()
	h(f)
}

// mailbox is an unbounded FIFO with a coalescing wakeup
type mailbox struct {
	mu     sync.Mutex
	queue  []protocol.Frame
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(f protocol.Frame) {
	m.mu.Lock()
	m.queue = append(m.queue, f)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []protocol.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}
