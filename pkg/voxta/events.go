// ABOUTME: Event wiring between the hub, the session machine and the audio pipelines
// ABOUTME: Router handlers feed the machine; machine transitions arm and disarm the pipelines
package voxta

import (
	"context"
	"fmt"
	"time"

	"github.com/talktome/voxta-go/internal/fetch"
	"github.com/talktome/voxta-go/internal/hub"
	"github.com/talktome/voxta-go/internal/router"
	"github.com/talktome/voxta-go/internal/session"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// Session states
const (
	StateDisconnected = session.StateDisconnected
	StateConnecting   = session.StateConnecting
	StateIdle         = session.StateIdle
	StateListening    = session.StateListening
	StateThinking     = session.StateThinking
	StateSpeaking     = session.StateSpeaking
	StateFaulted      = session.StateFaulted
)

// Connection states
const (
	ConnectionDisconnected = hub.StateDisconnected
	ConnectionConnecting   = hub.StateConnecting
	ConnectionConnected    = hub.StateConnected
	ConnectionReconnecting = hub.StateReconnecting
	ConnectionFaulted      = hub.StateFaulted
)

func (c *Client) subscribe() {
	c.router.Subscribe(router.CategorySession, c.handleSession)
	c.router.Subscribe(router.CategoryTranscript, c.handleTranscript)
	c.router.Subscribe(router.CategoryUtteranceStarted, c.handleReply)
	c.router.Subscribe(router.CategoryChatUpdate, c.handleUpdate)
	c.router.Subscribe(router.CategoryAudioChunk, c.handleAudio)
	c.router.Subscribe(router.CategoryAnimationFrame, c.handleAnimation)
	c.router.Subscribe(router.CategoryError, c.handleError)
}

// onConnectionChange maps connection states onto the session machine
func (c *Client) onConnectionChange(ch ConnectionChange) {
	switch ch.To {
	case hub.StateConnecting:
		if err := c.machine.Connecting(); err != nil {
			c.logger.Debug("session already connecting", zap.Error(err))
		}
	case hub.StateConnected:
		if ch.Reconnected {
			c.reconnects.Add(1)
			c.machine.Reconnected(ch.Welcome)
			if c.machine.Policy() == Restart {
				c.newSession()
			}
			go c.resume()
		} else {
			if err := c.machine.Authenticated(ch.Welcome); err != nil {
				c.logger.Warn("unexpected authentication", zap.Error(err))
			}
			c.newSession()
		}
	case hub.StateFaulted:
		c.machine.Fault(ch.Err)
		c.notifyError(ch.Err)
	case hub.StateDisconnected:
		c.machine.Disconnected("disconnected", ch.Err)
	}

	if c.config.OnConnectionChange != nil {
		c.config.OnConnectionChange(ch)
	}
}

// newSession forgets per-session reply state; the server numbers utterances afresh
func (c *Client) newSession() {
	c.playback.Reset()
	c.mu.Lock()
	c.messages = make(map[uint32]*replyMessage)
	c.mu.Unlock()
}

// resume restores server-side state on a new connection
func (c *Client) resume() {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.InvokeTimeout)
	defer cancel()

	if err := c.announceOutput(ctx); err != nil {
		c.logger.Warn("failed to announce audio output stream", zap.Error(err))
	}

	c.mu.Lock()
	characterID := c.characterID
	c.mu.Unlock()
	if characterID == "" || c.machine.Policy() != Restart {
		return
	}
	if err := c.sendStartChat(ctx, characterID); err != nil {
		c.logger.Error("failed to restart chat after reconnect", zap.Error(err))
		c.notifyError(fmt.Errorf("failed to restart chat: %w", err))
		return
	}
	c.logger.Info("chat restarted after reconnect", zap.String("character", characterID))
}

// onSessionEvent arms and disarms the pipelines; transitions arrive in order
func (c *Client) onSessionEvent(ev Event) {
	if ev.From == session.StateListening && ev.To != session.StateListening {
		c.disarmCapture()
	}

	switch ev.To {
	case session.StateListening:
		c.armCapture(ev.Session.Utterance.Ordinal)
	case session.StateSpeaking:
		u := ev.Session.Utterance.Ordinal
		if err := c.playback.Arm(u); err != nil {
			c.logger.Warn("failed to arm playback", zap.Uint32("utterance", u), zap.Error(err))
		}
		c.sendPlayback(protocol.TypeSpeechPlaybackStart, u, false)
	case session.StateDisconnected, session.StateFaulted:
		c.playback.Disarm()
	default:
		// Completion and abandonment disarm the pipeline themselves
		if ev.From == session.StateSpeaking {
			if _, armed := c.playback.Armed(); armed {
				c.playback.Disarm()
			}
		}
	}

	if c.config.OnStateChange != nil {
		c.config.OnStateChange(ev)
	}
}

func (c *Client) handleSession(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeChatStarted:
		var cs protocol.ChatStarted
		if err := f.Decode(&cs); err != nil {
			c.logger.Warn("bad chat started", zap.Error(err))
			return
		}
		if prev, _ := c.machine.Session(); prev.ID != cs.SessionID {
			c.history.Reset()
		}
		c.machine.ChatStarted(cs)
	case protocol.TypeCharacterLoaded:
		var cl protocol.CharacterLoaded
		if err := f.Decode(&cl); err != nil {
			c.logger.Warn("bad character loaded", zap.Error(err))
			return
		}
		c.machine.CharacterLoaded(cl.Character)
	case protocol.TypeChatClosed:
		c.logger.Info("chat closed by server")
	case protocol.TypeConfiguration:
		var cfg protocol.Configuration
		if err := f.Decode(&cfg); err != nil {
			c.logger.Warn("bad configuration", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.services = cfg.Configurations
		c.mu.Unlock()
		for _, svc := range cfg.Configurations {
			c.logger.Debug("server service", zap.String("type", svc.ServiceType), zap.String("name", svc.ServiceName))
		}
	}
	c.resolve(f)
}

func (c *Client) handleTranscript(f protocol.Frame) {
	var sr protocol.SpeechRecognition
	if err := f.Decode(&sr); err != nil {
		c.logger.Warn("bad transcript", zap.Error(err))
		return
	}
	final := f.Type == protocol.TypeSpeechRecognitionEnd
	c.transcripts.Add(1)

	if c.config.OnTranscript != nil {
		c.config.OnTranscript(Transcript{Text: sr.Text, Final: final})
	}
	if final && c.machine.TranscriptEnded() {
		c.logger.Debug("server ended the user utterance")
	}
}

// handleReply follows one reply from replyStart to replyEnd or replyCancelled
func (c *Client) handleReply(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeReplyStart:
		var rs protocol.ReplyStart
		if err := f.Decode(&rs); err != nil {
			c.logger.Warn("bad reply start", zap.Error(err))
			return
		}
		c.rememberMessage(rs.Utterance, rs.MessageID)
		c.history.AppendReply(rs.MessageID, rs.SenderID, rs.Utterance, "")
		if err := c.machine.ReplyStarted(rs.Utterance); err != nil {
			c.logger.Debug("ignoring reply start", zap.Uint32("utterance", rs.Utterance), zap.Error(err))
		}

	case protocol.TypeReplyChunk:
		var rc protocol.ReplyChunk
		if err := f.Decode(&rc); err != nil {
			c.logger.Warn("bad reply chunk", zap.Error(err))
			return
		}
		c.rememberMessage(rc.Utterance, rc.MessageID)
		c.history.AppendReply(rc.MessageID, rc.SenderID, rc.Utterance, rc.Text)
		c.replies.Add(1)
		if c.config.OnReply != nil && rc.Text != "" {
			c.config.OnReply(Reply{Utterance: rc.Utterance, MessageID: rc.MessageID, Text: rc.Text})
		}
		if c.fetcher != nil && rc.AudioURL != "" {
			c.enqueueFetch(fetchJob{utterance: rc.Utterance, path: rc.AudioURL})
		}

	case protocol.TypeReplyEnd:
		var re protocol.ReplyEnd
		if err := f.Decode(&re); err != nil {
			c.logger.Warn("bad reply end", zap.Error(err))
			return
		}
		c.history.CompleteReply(re.MessageID)
		if c.config.OnReply != nil {
			c.config.OnReply(Reply{Utterance: re.Utterance, MessageID: re.MessageID, Done: true})
		}
		if c.fetcher != nil {
			c.enqueueFetch(fetchJob{utterance: re.Utterance, end: true})
			return
		}
		if re.Audio {
			c.playback.EndOfUtterance(re.Utterance)
		} else {
			c.forgetMessage(re.Utterance)
		}
		if err := c.machine.ReplyEnded(re.Utterance, re.Audio); err != nil {
			c.logger.Debug("ignoring reply end", zap.Error(err))
		}

	case protocol.TypeReplyCancelled:
		var rc protocol.ReplyCancelled
		if err := f.Decode(&rc); err != nil {
			c.logger.Warn("bad reply cancelled", zap.Error(err))
			return
		}
		c.history.CancelReply(rc.MessageID)
		c.cancelReply(rc.Utterance)

	default:
		c.logger.Debug("ignoring reply event", zap.String("type", f.Type))
	}
}

// handleUpdate records chat messages the server reports outside a reply, such as the user's own
func (c *Client) handleUpdate(f protocol.Frame) {
	var up protocol.Update
	if err := f.Decode(&up); err != nil {
		c.logger.Warn("bad chat update", zap.Error(err))
		return
	}
	sess, ok := c.machine.Session()
	if !ok || sess.ID == "" {
		c.logger.Debug("chat update without a chat", zap.String("message", up.MessageID))
		return
	}
	if up.SessionID != "" && up.SessionID != sess.ID {
		c.logger.Warn("chat update for another session", zap.String("session", up.SessionID))
		return
	}

	role := session.RoleCharacter
	if up.SenderID == sess.UserID {
		role = session.RoleUser
	}
	c.history.Update(up.MessageID, up.SenderID, role, up.Text)
}

// cancelReply drops a reply the server gave up on
func (c *Client) cancelReply(u uint32) {
	c.logger.Info("reply cancelled", zap.Uint32("utterance", u))
	if armed, ok := c.playback.Armed(); ok && armed == u {
		c.playback.Disarm()
	}
	if err := c.machine.UtteranceAbandoned(u, ErrReplyCancelled); err != nil {
		// Cancelled before any audio arrived
		if err := c.machine.ReplyEnded(u, false); err != nil {
			c.logger.Debug("ignoring reply cancel", zap.Error(err))
		}
	}
	c.forgetMessage(u)
}

func (c *Client) handleAudio(f protocol.Frame) {
	if f.Chunk.Direction != protocol.Inbound {
		c.logger.Debug("ignoring outbound chunk from server")
		return
	}
	c.deliverChunk(*f.Chunk)
}

// deliverChunk starts the utterance if needed and queues the chunk for playback
func (c *Client) deliverChunk(chunk protocol.AudioChunk) {
	if _, err := c.machine.InboundChunk(chunk.Utterance); err != nil {
		c.logger.Debug("dropping reply audio", zap.Uint32("utterance", chunk.Utterance), zap.Error(err))
		return
	}
	c.playback.OnChunkReceived(chunk)
}

func (c *Client) handleAnimation(f protocol.Frame) {
	var af protocol.AnimationFrames
	if err := f.Decode(&af); err != nil {
		c.logger.Warn("bad animation frames", zap.Error(err))
		return
	}
	for _, frame := range af.Frames {
		if frame.Utterance == 0 {
			frame.Utterance = af.Utterance
		}
		c.playback.OnAnimationFrameReceived(frame)
	}
}

func (c *Client) handleError(f protocol.Frame) {
	err := serverError(f)
	c.logger.Warn("server error", zap.Error(err))
	c.notifyError(err)
	c.resolve(f)
}

func (c *Client) onPlaybackComplete(u uint32) {
	c.sendPlayback(protocol.TypeSpeechPlaybackComplete, u, true)
	if err := c.machine.PlaybackComplete(u); err != nil {
		c.logger.Debug("playback completed outside speaking", zap.Uint32("utterance", u), zap.Error(err))
	}
}

func (c *Client) onUtteranceAbandoned(u uint32, err error) {
	c.notifyError(err)
	c.forgetMessage(u)
	if terr := c.machine.UtteranceAbandoned(u, err); terr != nil {
		c.logger.Debug("abandoned outside speaking", zap.Uint32("utterance", u), zap.Error(terr))
	}
}

// replyMessage tracks the server message of one reply utterance
type replyMessage struct {
	id   string
	owed []string // Playback reports waiting for the message id
}

// sendPlayback reports playback progress of a reply to the server.
// Audio can start before replyStart is handled; the report then waits for the message id.
func (c *Client) sendPlayback(typ string, u uint32, done bool) {
	c.mu.Lock()
	m, ok := c.messages[u]
	if !ok {
		m = &replyMessage{}
		c.messages[u] = m
	}
	if m.id == "" {
		m.owed = append(m.owed, typ)
		c.mu.Unlock()
		return
	}
	if done {
		delete(c.messages, u)
	}
	c.mu.Unlock()

	c.reportPlayback(typ, m.id)
}

func (c *Client) reportPlayback(typ, msgID string) {
	sess, _ := c.machine.Session()
	ctx, cancel := context.WithTimeout(c.ctx, time.Second)
	defer cancel()
	err := c.hub.Send(ctx, typ, protocol.SpeechPlayback{SessionID: sess.ID, MessageID: msgID})
	if err != nil {
		c.logger.Debug("failed to report playback", zap.String("type", typ), zap.Error(err))
	}
}

// rememberMessage records the message id of a reply and sends any reports owed for it
func (c *Client) rememberMessage(u uint32, msgID string) {
	if msgID == "" {
		return
	}
	c.mu.Lock()
	m, ok := c.messages[u]
	if !ok {
		c.messages[u] = &replyMessage{id: msgID}
		c.mu.Unlock()
		return
	}
	if m.id != "" {
		c.mu.Unlock()
		return
	}
	m.id = msgID
	owed := m.owed
	m.owed = nil
	for _, typ := range owed {
		if typ == protocol.TypeSpeechPlaybackComplete {
			delete(c.messages, u)
		}
	}
	c.mu.Unlock()

	for _, typ := range owed {
		c.reportPlayback(typ, msgID)
	}
}

func (c *Client) forgetMessage(u uint32) {
	c.mu.Lock()
	delete(c.messages, u)
	c.mu.Unlock()
}

func (c *Client) enqueueFetch(job fetchJob) {
	select {
	case c.jobs <- job:
	case <-c.ctx.Done():
	}
}

// fetchLoop downloads URL-mode reply audio in order and feeds it to playback
func (c *Client) fetchLoop(ctx context.Context) error {
	var (
		chunker *fetch.Chunker
		current uint32
	)
	for {
		var job fetchJob
		select {
		case <-ctx.Done():
			return nil
		case job = <-c.jobs:
		}

		if job.utterance != current {
			chunker, current = nil, job.utterance
		}

		if job.end {
			c.endFetched(job.utterance, chunker)
			chunker = nil
			continue
		}

		format, samples, err := c.fetcher.Fetch(ctx, job.path)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.notifyError(fmt.Errorf("failed to fetch reply audio: %w", err))
			continue
		}
		if chunker == nil {
			chunker, err = fetch.NewChunker(c.playback.Format(), urlChunk, job.utterance)
			if err != nil {
				c.notifyError(err)
				continue
			}
		}

		chunks, err := chunker.Chunk(format, samples)
		if err != nil {
			c.notifyError(fmt.Errorf("failed to chunk reply audio: %w", err))
			continue
		}
		for _, chunk := range chunks {
			c.deliverChunk(chunk)
		}
	}
}

func (c *Client) endFetched(u uint32, chunker *fetch.Chunker) {
	hasAudio := chunker != nil
	if hasAudio {
		c.deliverChunk(chunker.Final())
		c.playback.EndOfUtterance(u)
	} else {
		c.forgetMessage(u)
	}
	if err := c.machine.ReplyEnded(u, hasAudio); err != nil {
		c.logger.Debug("ignoring reply end", zap.Error(err))
	}
}
