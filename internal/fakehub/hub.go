// ABOUTME: In-process Voxta hub for tests and local development
// ABOUTME: Speaks the hub protocol, records client traffic and plays scripted replies
package fakehub

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

const (
	// HubPath is where the hub websocket is served
	HubPath = "/hub"

	audioPath = "/audio/"
)

// Config holds fake hub configuration
type Config struct {
	APIKey        string // Required bearer key; empty accepts any client
	UserName      string
	Characters    []protocol.Character
	Format        audio.Format  // Reply audio format
	ChunkDuration time.Duration // Reply audio chunk length
	PingInterval  time.Duration
	Transcript    string // Text "recognized" from captured audio
	AudioDir      string // Where URL-mode audio is written; a temp dir by default
	Logger        *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.UserName == "" {
		c.UserName = "Tester"
	}
	if len(c.Characters) == 0 {
		c.Characters = []protocol.Character{{ID: "char-1", Name: "Aria"}}
	}
	if !c.Format.Valid() {
		c.Format = audio.Format{Codec: audio.CodecPCM, SampleRate: 24000, Channels: 1, BitDepth: 16}
	}
	if c.ChunkDuration == 0 {
		c.ChunkDuration = 40 * time.Millisecond
	}
	if c.PingInterval == 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.Transcript == "" {
		c.Transcript = "hello there"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Hub is a scriptable fake Voxta server
type Hub struct {
	config   Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
	audioDir string
	ownsDir  bool

	mu           sync.Mutex
	conns        map[*conn]struct{}
	accepted     int
	script       []Reply
	defaultReply Reply
	rejectAuth   bool
	failMethods  map[string]string
	stallMethods map[string]bool
	utterance    uint32
	received     []protocol.AudioChunk
	messages     []string
	notify       chan struct{}

	wg sync.WaitGroup
}

// New creates a fake hub
func New(config Config) (*Hub, error) {
	config.applyDefaults()

	dir := config.AudioDir
	owns := false
	if dir == "" {
		d, err := os.MkdirTemp("", "voxta-fakehub-")
		if err != nil {
			return nil, fmt.Errorf("failed to create audio dir: %w", err)
		}
		dir, owns = d, true
	}

	return &Hub{
		config:       config,
		logger:       config.Logger,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		audioDir:     dir,
		ownsDir:      owns,
		conns:        make(map[*conn]struct{}),
		defaultReply: Reply{Text: "Hi!", Chunks: 5, Frames: true},
		failMethods:  make(map[string]string),
		stallMethods: make(map[string]bool),
		notify:       make(chan struct{}),
	}, nil
}

// ServeHTTP serves the hub websocket and published audio files
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, audioPath) {
		name := strings.TrimPrefix(r.URL.Path, audioPath)
		if strings.ContainsAny(name, `/\`) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", protocol.ContentTypeWAV)
		http.ServeFile(w, r, h.audioDir+string(os.PathSeparator)+name)
		return
	}

	if h.config.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+h.config.APIKey {
		h.logger.Debug("rejecting client with bad api key")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	c := &conn{hub: h, ws: protocol.NewConn(ws, h.logger)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.accepted++
	h.mu.Unlock()
	h.changed()

	h.wg.Add(1)
	defer h.wg.Done()
	c.serve()

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.changed()
}

// Script queues replies for the next user turns, in order
func (h *Hub) Script(replies ...Reply) {
	h.mu.Lock()
	h.script = append(h.script, replies...)
	h.mu.Unlock()
}

// SetDefaultReply sets the reply used when the script is empty
func (h *Hub) SetDefaultReply(r Reply) {
	h.mu.Lock()
	h.defaultReply = r
	h.mu.Unlock()
}

// Say plays a server-initiated reply on every connection
func (h *Hub) Say(r Reply) {
	for _, c := range h.snapshot() {
		go c.hub.play(c, r)
	}
}

// RejectAuth makes authenticate answer with an error
func (h *Hub) RejectAuth(reject bool) {
	h.mu.Lock()
	h.rejectAuth = reject
	h.mu.Unlock()
}

// FailMethod makes invocations of method complete with an error
func (h *Hub) FailMethod(method, message string) {
	h.mu.Lock()
	h.failMethods[method] = message
	h.mu.Unlock()
}

// StallMethod makes invocations of method never complete
func (h *Hub) StallMethod(method string) {
	h.mu.Lock()
	h.stallMethods[method] = true
	h.mu.Unlock()
}

// KillConnections drops every socket without a close handshake
func (h *Hub) KillConnections() int {
	conns := h.snapshot()
	for _, c := range conns {
		c.ws.Abort()
	}
	return len(conns)
}

// Connections returns the number of live connections
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Accepted returns the number of connections ever accepted
func (h *Hub) Accepted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

// Received returns captured audio chunks in arrival order
func (h *Hub) Received() []protocol.AudioChunk {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.AudioChunk(nil), h.received...)
}

// Messages returns the $types of client messages in arrival order
func (h *Hub) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...)
}

// WaitFor blocks until cond holds or the timeout elapses
func (h *Hub) WaitFor(timeout time.Duration, cond func(h *Hub) bool) bool {
	deadline := time.After(timeout)
	for {
		h.mu.Lock()
		notify := h.notify
		h.mu.Unlock()

		if cond(h) {
			return true
		}
		select {
		case <-notify:
		case <-deadline:
			return cond(h)
		}
	}
}

// HasMessage reports whether a client message of type typ arrived
func (h *Hub) HasMessage(typ string) bool {
	for _, m := range h.Messages() {
		if m == typ {
			return true
		}
	}
	return false
}

// Close drops all connections and removes published audio
func (h *Hub) Close() {
	h.KillConnections()
	h.wg.Wait()
	if h.ownsDir {
		os.RemoveAll(h.audioDir)
	}
}

func (h *Hub) snapshot() []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

// changed wakes WaitFor callers
func (h *Hub) changed() {
	h.mu.Lock()
	close(h.notify)
	h.notify = make(chan struct{})
	h.mu.Unlock()
}

func (h *Hub) nextUtterance() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.utterance++
	return h.utterance
}

func (h *Hub) nextReply() Reply {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.script) == 0 {
		return h.defaultReply
	}
	r := h.script[0]
	h.script = h.script[1:]
	return r
}

func (h *Hub) characterID() string {
	return h.config.Characters[0].ID
}

func (h *Hub) record(typ string) {
	h.mu.Lock()
	h.messages = append(h.messages, typ)
	h.mu.Unlock()
	h.changed()
}

func (h *Hub) capture(chunk protocol.AudioChunk) {
	h.mu.Lock()
	h.received = append(h.received, chunk)
	h.mu.Unlock()
	h.changed()
}

// conn is one client connection
type conn struct {
	hub *Hub
	ws  *protocol.Conn

	mu        sync.Mutex
	user      string
	session   string
	closeOnce sync.Once
	done      chan struct{}
}

func (c *conn) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *conn) serve() {
	h := c.hub
	c.done = make(chan struct{})
	defer c.closeOnce.Do(func() { close(c.done) })
	defer c.ws.Abort()

	if err := c.ws.AcceptHandshake(5 * time.Second); err != nil {
		h.logger.Debug("handshake failed", zap.Error(err))
		return
	}

	go c.pinger()

	for {
		in, err := c.ws.Read()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.logger.Debug("client read ended", zap.Error(err))
			}
			return
		}

		if in.Chunk != nil {
			h.capture(*in.Chunk)
			continue
		}
		for _, rec := range in.Records {
			if rec.Type == protocol.RecordClose {
				return
			}
			if rec.Type == protocol.RecordInvocation {
				c.handleInvocation(rec)
			}
		}
	}
}

func (c *conn) pinger() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WritePing(time.Second); err != nil {
				return
			}
		}
	}
}

func (c *conn) handleInvocation(rec protocol.Record) {
	h := c.hub

	if rec.Target == protocol.MethodSendMessage {
		for _, arg := range rec.Arguments {
			f, err := protocol.MessageFrame(arg)
			if err != nil {
				h.logger.Warn("bad client message", zap.Error(err))
				continue
			}
			c.handleMessage(f)
		}
		return
	}

	h.record(rec.Target)
	if rec.InvocationID == "" {
		return
	}

	h.mu.Lock()
	failMsg, fail := h.failMethods[rec.Target]
	stall := h.stallMethods[rec.Target]
	h.mu.Unlock()

	if stall {
		return
	}

	switch rec.Target {
	case protocol.MethodStartAudioInputStream, protocol.MethodStartAudioOutputStream, protocol.MethodStopAudioStream:
	default:
		if !fail {
			fail, failMsg = true, "unknown method "+rec.Target
		}
	}

	var errMsg string
	if fail {
		errMsg = failMsg
	}
	completion, _ := protocol.NewCompletion(rec.InvocationID, nil, errMsg)
	c.ws.WriteRecord(completion)
}

func (c *conn) handleMessage(f protocol.Frame) {
	h := c.hub
	h.record(f.Type)

	switch f.Type {
	case protocol.TypeAuthenticate:
		h.mu.Lock()
		reject := h.rejectAuth
		h.mu.Unlock()
		if reject {
			c.event(protocol.TypeError, protocol.Error{Message: "authentication rejected"})
			return
		}
		user := uuid.NewString()
		c.mu.Lock()
		c.user = user
		c.mu.Unlock()
		c.event(protocol.TypeWelcome, protocol.Welcome{User: protocol.User{ID: user, Name: h.config.UserName}})
		c.event(protocol.TypeConfiguration, protocol.Configuration{Configurations: []protocol.ServiceConfiguration{
			{ServiceType: protocol.ServiceTextGen, ServiceName: "fake", ServiceID: "fake-textgen"},
			{ServiceType: protocol.ServiceTextToSpeech, ServiceName: "fake", ServiceID: "fake-tts"},
		}})

	case protocol.TypeLoadCharactersList:
		c.event(protocol.TypeCharactersListLoaded, protocol.CharactersListLoaded{Characters: h.config.Characters})

	case protocol.TypeLoadCharacter:
		var req protocol.LoadCharacter
		f.Decode(&req)
		c.event(protocol.TypeCharacterLoaded, protocol.CharacterLoaded{Character: protocol.LoadedCharacter{
			ID:           req.CharacterID,
			Name:         h.config.Characters[0].Name,
			TextToSpeech: []protocol.VoiceProfile{{Service: "fake", Voice: "tone"}},
		}})

	case protocol.TypeStartChat:
		var req protocol.StartChat
		f.Decode(&req)
		session := uuid.NewString()
		c.mu.Lock()
		c.session = session
		c.mu.Unlock()
		c.event(protocol.TypeChatStarted, protocol.ChatStarted{
			User:       protocol.User{Name: h.config.UserName},
			Characters: []protocol.ChatCharacter{{ID: req.CharacterID, Name: h.config.Characters[0].Name}},
			ChatID:     uuid.NewString(),
			SessionID:  session,
			Services: map[string]protocol.Service{
				protocol.ServiceTextGen:      {ServiceName: "fake"},
				protocol.ServiceTextToSpeech: {ServiceName: "fake"},
			},
		})

	case protocol.TypeSend:
		var req protocol.Send
		f.Decode(&req)
		c.echo(req.Text)
		go h.play(c, h.nextReply())

	case protocol.TypeEndOfSpeech:
		c.event(protocol.TypeSpeechRecognitionEnd, protocol.SpeechRecognition{Text: h.config.Transcript})
		c.echo(h.config.Transcript)
		go h.play(c, h.nextReply())

	case protocol.TypeSpeechPlaybackStart, protocol.TypeSpeechPlaybackComplete:

	default:
		h.logger.Debug("unhandled client message", zap.String("type", f.Type))
	}
}

// echo records the user's message in the chat
func (c *conn) echo(text string) {
	c.mu.Lock()
	user, session := c.user, c.session
	c.mu.Unlock()
	c.event(protocol.TypeUpdate, protocol.Update{
		MessageID: uuid.NewString(),
		SenderID:  user,
		Text:      text,
		SessionID: session,
	})
}

// event sends one server message
func (c *conn) event(typ string, v any) error {
	msg, err := protocol.Marshal(typ, v)
	if err != nil {
		return err
	}
	rec, err := protocol.NewInvocation("", protocol.MethodReceiveMessage, msg)
	if err != nil {
		return err
	}
	return c.ws.WriteRecordDeadline(rec, 5*time.Second)
}

func (c *conn) chunk(chunk protocol.AudioChunk) error {
	return c.ws.WriteChunk(chunk, 5*time.Second)
}
