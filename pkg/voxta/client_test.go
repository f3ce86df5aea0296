// ABOUTME: End-to-end tests for the Client against the in-process fake hub
// ABOUTME: Covers voice rounds, text replies, URL audio, gaps and reconnects
package voxta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/talktome/voxta-go/internal/capture"
	"github.com/talktome/voxta-go/internal/fakehub"
	"github.com/talktome/voxta-go/internal/hub"
	"github.com/talktome/voxta-go/internal/lipsync"
	"github.com/talktome/voxta-go/internal/playback"
	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/output"
	"github.com/talktome/voxta-go/pkg/audio/input"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

type harness struct {
	hub *fakehub.Hub
	url string
}

func newHarness(t *testing.T, cfg fakehub.Config) *harness {
	t.Helper()
	h, err := fakehub.New(cfg)
	if err != nil {
		t.Fatalf("failed to create fake hub: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return &harness{hub: h, url: "ws" + strings.TrimPrefix(srv.URL, "http") + fakehub.HubPath}
}

// recorder collects client callbacks
type recorder struct {
	mu          sync.Mutex
	events      []Event
	transcripts []Transcript
	replies     []Reply
	errs        []error
}

func (r *recorder) wire(cfg *ClientConfig) {
	cfg.OnStateChange = func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
	cfg.OnTranscript = func(tr Transcript) {
		r.mu.Lock()
		r.transcripts = append(r.transcripts, tr)
		r.mu.Unlock()
	}
	cfg.OnReply = func(rep Reply) {
		r.mu.Lock()
		r.replies = append(r.replies, rep)
		r.mu.Unlock()
	}
	cfg.OnError = func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	}
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

// idleAfter returns the first transition to Idle out of from
func (r *recorder) idleAfter(from State) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.From == from && ev.To == StateIdle {
			return ev, true
		}
	}
	return Event{}, false
}

func (r *recorder) finalTranscript() (Transcript, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range r.transcripts {
		if tr.Final {
			return tr, true
		}
	}
	return Transcript{}, false
}

func (r *recorder) replyText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, rep := range r.replies {
		b.WriteString(rep.Text)
	}
	return b.String()
}

// containsInOrder reports whether want appears in got as a subsequence
func containsInOrder(got, want []State) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func (h *harness) client(t *testing.T, rec *recorder, mutate func(*ClientConfig)) *Client {
	t.Helper()
	cfg := ClientConfig{
		URL:           h.url,
		ClientName:    "voxta-go-test",
		ClientVersion: "test",
		InvokeTimeout: 2 * time.Second,
		Backoff: Backoff{
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
			MaxAttempts:     5,
		},
		Logger: zap.NewNop(),
	}
	if rec != nil {
		rec.wire(&cfg)
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func connectAndChat(t *testing.T, c *Client) Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sess, err := c.StartChat(ctx, "char-1")
	if err != nil {
		t.Fatalf("start chat failed: %v", err)
	}
	return sess
}

func TestVoiceRound(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	h.hub.Script(fakehub.Reply{Text: "Hello!", Chunks: 5, Frames: true})

	rec := &recorder{}
	sink := lipsync.NewCurveBuffer()
	c := h.client(t, rec, func(cfg *ClientConfig) {
		cfg.Input = input.NewTone(440)
		cfg.DeviceRate = 48000
		cfg.DeviceChannels = 1
		cfg.Sink = sink
	})

	sess := connectAndChat(t, c)
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}
	if sess.VoiceID != "tone" {
		t.Errorf("expected voice tone, got %q", sess.VoiceID)
	}

	ctx := context.Background()
	if err := c.StartSpeaking(ctx); err != nil {
		t.Fatalf("start speaking failed: %v", err)
	}
	if !c.Status().Capturing {
		t.Error("expected capture to be running")
	}
	time.Sleep(150 * time.Millisecond)
	if err := c.StopSpeaking(ctx); err != nil {
		t.Fatalf("stop speaking failed: %v", err)
	}

	if !waitUntil(5*time.Second, func() bool { _, ok := rec.idleAfter(StateSpeaking); return ok }) {
		t.Fatalf("reply never finished playing, path %v", rec.path())
	}

	want := []State{StateListening, StateThinking, StateSpeaking, StateIdle}
	if got := rec.path(); !containsInOrder(got, want) {
		t.Errorf("expected path containing %v, got %v", want, got)
	}

	received := h.hub.Received()
	if len(received) == 0 {
		t.Fatal("expected captured audio at the hub")
	}
	if last := received[len(received)-1]; !last.Final {
		t.Errorf("expected last captured chunk to be final, got seq %d", last.Seq)
	}
	if got := h.hub.ReceivedUtterances(); len(got) != 1 {
		t.Errorf("expected one captured utterance, got %v", got)
	}

	if !h.hub.HasMessage(protocol.TypeEndOfSpeech) {
		t.Error("expected endOfSpeech at the hub")
	}
	ok := h.hub.WaitFor(2*time.Second, func(h *fakehub.Hub) bool {
		return h.HasMessage(protocol.TypeSpeechPlaybackComplete)
	})
	if !ok {
		t.Error("expected speechPlaybackComplete at the hub")
	}
	if !h.hub.HasMessage(protocol.TypeSpeechPlaybackStart) {
		t.Error("expected speechPlaybackStart at the hub")
	}

	if tr, ok := rec.finalTranscript(); !ok || tr.Text != "hello there" {
		t.Errorf("expected final transcript %q, got %+v", "hello there", tr)
	}
	if got := rec.replyText(); got != "Hello!" {
		t.Errorf("expected reply text %q, got %q", "Hello!", got)
	}

	stats := c.Stats()
	if stats.Playback.Completed != 1 {
		t.Errorf("expected 1 completed utterance, got %d", stats.Playback.Completed)
	}
	if stats.Capture.Sent == 0 {
		t.Error("expected captured chunks to be sent")
	}
	if sink.Applied() == 0 {
		t.Error("expected animation frames to reach the sink")
	}
	if c.Status().Capturing {
		t.Error("expected capture to be stopped")
	}
}

func TestSequenceGapAbandonsUtterance(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	h.hub.Script(
		fakehub.Reply{Text: "broken", Chunks: 5, Drop: []uint32{2}},
		fakehub.Reply{Text: "again", Chunks: 3},
	)

	rec := &recorder{}
	c := h.client(t, rec, func(cfg *ClientConfig) {
		cfg.GapTimeout = 300 * time.Millisecond
	})
	connectAndChat(t, c)

	ctx := context.Background()
	if err := c.SendText(ctx, "hi"); err != nil {
		t.Fatalf("send text failed: %v", err)
	}

	var ev Event
	if !waitUntil(5*time.Second, func() bool {
		var ok bool
		ev, ok = rec.idleAfter(StateSpeaking)
		return ok
	}) {
		t.Fatalf("utterance never abandoned, path %v", rec.path())
	}

	var gap *playback.SequenceGapError
	if !errors.As(ev.Err, &gap) {
		t.Fatalf("expected sequence gap error, got %v", ev.Err)
	}
	if gap.Expected != 2 {
		t.Errorf("expected gap at seq 2, got %d", gap.Expected)
	}

	if got := c.Status().Connection; got != ConnectionConnected {
		t.Errorf("expected connection to survive the gap, got %s", got)
	}
	if got := h.hub.Accepted(); got != 1 {
		t.Errorf("expected 1 accepted connection, got %d", got)
	}
	if got := c.Stats().Playback.Abandoned; got != 1 {
		t.Errorf("expected 1 abandoned utterance, got %d", got)
	}

	if err := c.SendText(ctx, "again"); err != nil {
		t.Fatalf("send text failed: %v", err)
	}
	if !waitUntil(5*time.Second, func() bool { return c.Stats().Playback.Completed == 1 }) {
		t.Errorf("expected the next reply to play, path %v", rec.path())
	}
}

func TestTextOnlyReply(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	h.hub.Script(fakehub.Reply{Text: "Just text"})

	rec := &recorder{}
	c := h.client(t, rec, nil)
	connectAndChat(t, c)

	if err := c.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("send text failed: %v", err)
	}
	if !waitUntil(5*time.Second, func() bool { _, ok := rec.idleAfter(StateThinking); return ok }) {
		t.Fatalf("reply never ended, path %v", rec.path())
	}

	if got := rec.replyText(); got != "Just text" {
		t.Errorf("expected reply text %q, got %q", "Just text", got)
	}
	for _, s := range rec.path() {
		if s == StateSpeaking {
			t.Error("expected no speaking for a text-only reply")
		}
	}
	if h.hub.HasMessage(protocol.TypeSpeechPlaybackStart) {
		t.Error("expected no playback report for a text-only reply")
	}
}

func TestURLAudioMode(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	h.hub.Script(fakehub.Reply{Text: "from a file", Chunks: 5, URL: true})

	rec := &recorder{}
	c := h.client(t, rec, func(cfg *ClientConfig) {
		cfg.AudioMode = AudioURL
		cfg.CacheDir = t.TempDir()
	})
	connectAndChat(t, c)

	if err := c.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("send text failed: %v", err)
	}
	if !waitUntil(5*time.Second, func() bool { return c.Stats().Playback.Completed == 1 }) {
		t.Fatalf("fetched reply never played, path %v", rec.path())
	}

	want := []State{StateThinking, StateSpeaking, StateIdle}
	if got := rec.path(); !containsInOrder(got, want) {
		t.Errorf("expected path containing %v, got %v", want, got)
	}
	ok := h.hub.WaitFor(2*time.Second, func(h *fakehub.Hub) bool {
		return h.HasMessage(protocol.TypeSpeechPlaybackComplete)
	})
	if !ok {
		t.Error("expected speechPlaybackComplete at the hub")
	}
}

func TestURLModeRejectsOpusPlayback(t *testing.T) {
	_, err := NewClient(ClientConfig{
		URL:            "ws://localhost:5384/hub",
		AudioMode:      AudioURL,
		PlaybackFormat: audio.Format{Codec: audio.CodecOpus, SampleRate: 48000, Channels: 1, BitDepth: 16},
	})
	if err == nil {
		t.Error("expected an error for opus playback in url mode")
	}
}

func TestListCharacters(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	c := h.client(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	chars, err := c.ListCharacters(ctx)
	if err != nil {
		t.Fatalf("list characters failed: %v", err)
	}
	if len(chars) != 1 || chars[0].ID != "char-1" || chars[0].Name != "Aria" {
		t.Errorf("expected [char-1 Aria], got %+v", chars)
	}
}

func TestStartSpeakingWithoutInput(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	c := h.client(t, nil, nil)
	connectAndChat(t, c)

	err := c.StartSpeaking(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Errorf("expected device unavailable, got %v", err)
	}
	if got := c.Status().State; got != StateIdle {
		t.Errorf("expected idle, got %s", got)
	}
}

func TestSendTextWithoutChat(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	c := h.client(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.SendText(ctx, "hi"); !errors.Is(err, hub.ErrNotConnected) {
		t.Errorf("expected not connected, got %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := c.SendText(ctx, "hi"); !errors.Is(err, ErrNoChat) {
		t.Errorf("expected no chat, got %v", err)
	}
	if c.Status().InChat {
		t.Error("expected no chat in status")
	}
}

func TestReconnectRestartsChat(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	rec := &recorder{}
	c := h.client(t, rec, nil)
	old := connectAndChat(t, c)

	if n := h.hub.KillConnections(); n != 1 {
		t.Fatalf("expected to kill 1 connection, got %d", n)
	}

	ok := waitUntil(5*time.Second, func() bool {
		s := c.Status()
		return s.Connection == ConnectionConnected && s.Session.ID != "" && s.Session.ID != old.ID
	})
	if !ok {
		t.Fatalf("chat not restarted after reconnect, status %+v", c.Status())
	}

	if got := c.Stats().Reconnects; got != 1 {
		t.Errorf("expected 1 reconnect, got %d", got)
	}
	if got := h.hub.Accepted(); got != 2 {
		t.Errorf("expected 2 accepted connections, got %d", got)
	}
	starts := 0
	for _, m := range h.hub.Messages() {
		if m == protocol.TypeStartChat {
			starts++
		}
	}
	if starts != 2 {
		t.Errorf("expected startChat twice, got %d", starts)
	}

	if err := c.SendText(context.Background(), "still there?"); err != nil {
		t.Errorf("send after reconnect failed: %v", err)
	}
}

func TestConnectBadAPIKey(t *testing.T) {
	h := newHarness(t, fakehub.Config{APIKey: "right"})
	rec := &recorder{}
	c := h.client(t, rec, func(cfg *ClientConfig) { cfg.APIKey = "wrong" })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Connect(ctx)
	if !errors.Is(err, hub.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if got := c.Status().Connection; got == ConnectionConnected {
		t.Error("expected no connection")
	}
	if got := h.hub.Accepted(); got != 0 {
		t.Errorf("expected no accepted connections, got %d", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	c := h.client(t, nil, nil)
	connectAndChat(t, c)

	if err := c.Close(); err != nil {
		t.Errorf("expected clean close, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("expected second close to be a no-op, got %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected closed error, got %v", err)
	}
}

// switchingHandler serves whichever hub is current, standing in for a restarted server
type switchingHandler struct {
	mu sync.Mutex
	h  http.Handler
}

func (s *switchingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	h := s.h
	s.mu.Unlock()
	h.ServeHTTP(w, r)
}

func (s *switchingHandler) set(h http.Handler) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

func TestNewSessionAfterReconnectPlaysFromUtteranceOne(t *testing.T) {
	first, err := fakehub.New(fakehub.Config{})
	if err != nil {
		t.Fatalf("failed to create fake hub: %v", err)
	}
	second, err := fakehub.New(fakehub.Config{})
	if err != nil {
		t.Fatalf("failed to create fake hub: %v", err)
	}
	sw := &switchingHandler{h: first}
	srv := httptest.NewServer(sw)
	t.Cleanup(func() {
		first.Close()
		second.Close()
		srv.Close()
	})
	h := &harness{hub: first, url: "ws" + strings.TrimPrefix(srv.URL, "http") + fakehub.HubPath}

	first.Script(fakehub.Reply{Text: "one", Chunks: 3})
	second.Script(fakehub.Reply{Text: "two", Chunks: 3})

	rec := &recorder{}
	c := h.client(t, rec, nil)
	old := connectAndChat(t, c)

	ctx := context.Background()
	if err := c.SendText(ctx, "hi"); err != nil {
		t.Fatalf("send text failed: %v", err)
	}
	if !waitUntil(5*time.Second, func() bool { return c.Stats().Playback.Completed == 1 }) {
		t.Fatalf("first reply never played, path %v", rec.path())
	}

	sw.set(second)
	first.KillConnections()

	ok := waitUntil(5*time.Second, func() bool {
		s := c.Status()
		return s.Connection == ConnectionConnected && s.Session.ID != "" && s.Session.ID != old.ID
	})
	if !ok {
		t.Fatalf("chat not restarted on the new hub, status %+v", c.Status())
	}
	if got := second.Accepted(); got != 1 {
		t.Fatalf("expected the new hub to accept 1 connection, got %d", got)
	}

	if err := c.SendText(ctx, "hi again"); err != nil {
		t.Fatalf("send after reconnect failed: %v", err)
	}
	if !waitUntil(5*time.Second, func() bool { return c.Stats().Playback.Completed == 2 }) {
		t.Fatalf("reply on the new session never played, stats %+v", c.Stats().Playback)
	}
	if got := c.Stats().Playback.Stale; got != 0 {
		t.Errorf("expected no stale chunks, got %d", got)
	}
	if got := rec.replyText(); got != "onetwo" {
		t.Errorf("expected reply text %q, got %q", "onetwo", got)
	}
}

func TestTrailingGapAbandonsUtterance(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	h.hub.Script(
		fakehub.Reply{Text: "cut short", Chunks: 5, Drop: []uint32{4}},
		fakehub.Reply{Text: "whole", Chunks: 3},
	)

	rec := &recorder{}
	c := h.client(t, rec, func(cfg *ClientConfig) {
		cfg.GapTimeout = 300 * time.Millisecond
	})
	connectAndChat(t, c)

	ctx := context.Background()
	if err := c.SendText(ctx, "hi"); err != nil {
		t.Fatalf("send text failed: %v", err)
	}

	var ev Event
	if !waitUntil(5*time.Second, func() bool {
		var ok bool
		ev, ok = rec.idleAfter(StateSpeaking)
		return ok
	}) {
		t.Fatalf("utterance missing its final chunk never ended, path %v", rec.path())
	}

	var gap *playback.SequenceGapError
	if !errors.As(ev.Err, &gap) {
		t.Fatalf("expected sequence gap error, got %v", ev.Err)
	}
	if gap.Expected != 4 {
		t.Errorf("expected gap at seq 4, got %d", gap.Expected)
	}

	if err := c.SendText(ctx, "again"); err != nil {
		t.Fatalf("send text failed: %v", err)
	}
	if !waitUntil(5*time.Second, func() bool { return c.Stats().Playback.Completed == 1 }) {
		t.Errorf("expected the next reply to play, path %v", rec.path())
	}
}

// deadOutput accepts a format but rejects every write
type deadOutput struct {
	*output.Virtual
}

func (deadOutput) Write([]int32) error {
	return errors.New("device unplugged")
}

func TestOutputWriteFailureAbandonsUtterance(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	h.hub.Script(fakehub.Reply{Text: "unheard", Chunks: 5})

	rec := &recorder{}
	c := h.client(t, rec, func(cfg *ClientConfig) {
		cfg.Output = deadOutput{output.NewVirtual()}
	})
	connectAndChat(t, c)

	if err := c.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("send text failed: %v", err)
	}

	var ev Event
	if !waitUntil(5*time.Second, func() bool {
		var ok bool
		ev, ok = rec.idleAfter(StateSpeaking)
		return ok
	}) {
		t.Fatalf("utterance never gave up on the output, path %v", rec.path())
	}

	var outErr *playback.OutputError
	if !errors.As(ev.Err, &outErr) {
		t.Fatalf("expected output error, got %v", ev.Err)
	}
	stats := c.Stats().Playback
	if stats.WriteErrors < 3 {
		t.Errorf("expected at least 3 write errors, got %d", stats.WriteErrors)
	}
	if stats.Completed != 0 || stats.Abandoned != 1 {
		t.Errorf("expected 1 abandoned and none completed, got %+v", stats)
	}
	if got := c.Status().Connection; got != ConnectionConnected {
		t.Errorf("expected connection to survive the output failure, got %s", got)
	}
}

func TestStatusCarriesHistoryAndServices(t *testing.T) {
	h := newHarness(t, fakehub.Config{})
	h.hub.Script(fakehub.Reply{Text: "Hi yourself"})

	rec := &recorder{}
	c := h.client(t, rec, nil)
	connectAndChat(t, c)

	if err := c.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("send text failed: %v", err)
	}
	ok := waitUntil(5*time.Second, func() bool {
		msgs := c.Status().Messages
		if len(msgs) != 2 {
			return false
		}
		for _, m := range msgs {
			if !m.Complete {
				return false
			}
		}
		return true
	})
	if !ok {
		t.Fatalf("expected 2 complete messages, got %+v", c.Status().Messages)
	}

	st := c.Status()
	var user, char *Message
	for i := range st.Messages {
		switch st.Messages[i].Role {
		case RoleUser:
			user = &st.Messages[i]
		case RoleCharacter:
			char = &st.Messages[i]
		}
	}
	if user == nil || user.Text != "hi" {
		t.Errorf("expected user message %q, got %+v", "hi", user)
	}
	if char == nil || char.Text != "Hi yourself" || char.Cancelled {
		t.Errorf("expected character message %q, got %+v", "Hi yourself", char)
	}

	if len(st.Services) != 2 {
		t.Fatalf("expected 2 services, got %+v", st.Services)
	}
	if st.Services[0].ServiceName != "fake" {
		t.Errorf("expected service fake, got %q", st.Services[0].ServiceName)
	}
}
