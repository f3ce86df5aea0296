// ABOUTME: Chat operations of the client: characters, chat start and typed messages
// ABOUTME: Request-reply exchanges wait for the matching server event with a timeout
package voxta

import (
	"context"
	"fmt"

	"github.com/talktome/voxta-go/internal/hub"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// ListCharacters asks the server for the characters the user can chat with
func (c *Client) ListCharacters(ctx context.Context) ([]Character, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.InvokeTimeout)
	defer cancel()

	replies, stop := c.expect(protocol.TypeCharactersListLoaded)
	defer stop()

	if err := c.hub.Send(ctx, protocol.TypeLoadCharactersList, protocol.LoadCharactersList{}); err != nil {
		return nil, err
	}
	f, err := c.await(ctx, replies, "characters list")
	if err != nil {
		return nil, err
	}

	var list protocol.CharactersListLoaded
	if err := f.Decode(&list); err != nil {
		return nil, err
	}
	return list.Characters, nil
}

// StartChat loads a character and opens a chat session with it
func (c *Client) StartChat(ctx context.Context, characterID string) (Session, error) {
	if characterID == "" {
		return Session{}, fmt.Errorf("character id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.InvokeTimeout)
	defer cancel()

	loaded, stopLoaded := c.expect(protocol.TypeCharacterLoaded, protocol.TypeError)
	defer stopLoaded()
	if err := c.hub.Send(ctx, protocol.TypeLoadCharacter, protocol.LoadCharacter{CharacterID: characterID}); err != nil {
		return Session{}, err
	}
	if _, err := c.await(ctx, loaded, "character"); err != nil {
		return Session{}, err
	}

	if err := c.sendStartChat(ctx, characterID); err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	c.characterID = characterID
	c.mu.Unlock()

	sess, _ := c.machine.Session()
	c.logger.Info("chat started",
		zap.String("character", characterID), zap.String("session", sess.ID), zap.String("voice", sess.VoiceID))
	return sess, nil
}

func (c *Client) sendStartChat(ctx context.Context, characterID string) error {
	started, stop := c.expect(protocol.TypeChatStarted, protocol.TypeChatSessionError, protocol.TypeError)
	defer stop()

	req := protocol.StartChat{
		CharacterID: characterID,
		Character:   protocol.ChatCharacter{ID: characterID},
	}
	if err := c.hub.Send(ctx, protocol.TypeStartChat, req); err != nil {
		return err
	}
	_, err := c.await(ctx, started, "chat start")
	return err
}

// SendText sends a typed user message; the reply arrives through the callbacks
func (c *Client) SendText(ctx context.Context, text string) error {
	sess, ok := c.machine.Session()
	if !ok {
		return hub.ErrNotConnected
	}
	if sess.ID == "" {
		return ErrNoChat
	}
	return c.hub.Send(ctx, protocol.TypeSend, protocol.Send{
		SessionID:                  sess.ID,
		Text:                       text,
		DoReply:                    true,
		DoCharacterActionInference: true,
	})
}

// expect registers interest in the next server event of the given types.
// Register before sending the request so the reply cannot be missed.
func (c *Client) expect(types ...string) (<-chan protocol.Frame, func()) {
	ch := make(chan protocol.Frame, 1)
	c.mu.Lock()
	for _, t := range types {
		c.waiters[t] = append(c.waiters[t], ch)
	}
	c.mu.Unlock()

	stop := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, t := range types {
			ws := c.waiters[t]
			for i, w := range ws {
				if w == ch {
					c.waiters[t] = append(ws[:i], ws[i+1:]...)
					break
				}
			}
			if len(c.waiters[t]) == 0 {
				delete(c.waiters, t)
			}
		}
	}
	return ch, stop
}

// resolve hands a server event to the callers waiting for its type
func (c *Client) resolve(f protocol.Frame) {
	c.mu.Lock()
	ws := c.waiters[f.Type]
	delete(c.waiters, f.Type)
	c.mu.Unlock()

	for _, ch := range ws {
		select {
		case ch <- f:
		default:
		}
	}
}

// await waits for an expected event; error events become ServerErrors
func (c *Client) await(ctx context.Context, ch <-chan protocol.Frame, what string) (protocol.Frame, error) {
	select {
	case f := <-ch:
		if f.Type == protocol.TypeError || f.Type == protocol.TypeChatSessionError {
			return f, serverError(f)
		}
		return f, nil
	case <-ctx.Done():
		return protocol.Frame{}, fmt.Errorf("%w: waiting for %s: %v", hub.ErrTimeout, what, ctx.Err())
	}
}

func serverError(f protocol.Frame) error {
	var e protocol.Error
	if err := f.Decode(&e); err != nil {
		return &ServerError{Type: f.Type, Message: "malformed error message"}
	}
	return &ServerError{Type: f.Type, Message: e.Message, Details: e.Details}
}
