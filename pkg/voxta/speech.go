// ABOUTME: Voice input of the client
// ABOUTME: Entering Listening arms capture on a fresh outbound stream, leaving it disarms capture
package voxta

import (
	"context"
	"fmt"

	"github.com/talktome/voxta-go/internal/capture"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// StartSpeaking begins capturing a user utterance
func (c *Client) StartSpeaking(ctx context.Context) error {
	if c.capture == nil {
		return fmt.Errorf("%w: no input device configured", capture.ErrDeviceUnavailable)
	}

	u, err := c.machine.StartSpeaking()
	if err != nil {
		return err
	}
	return c.takeCaptureErr(u.Ordinal)
}

// StopSpeaking ends the user utterance and tells the server to reply
func (c *Client) StopSpeaking(ctx context.Context) error {
	u, err := c.machine.StopSpeaking()
	if err != nil {
		return err
	}
	// Usually already done by the state observer; this waits for it if not
	if err := c.stopCapture(ctx); err != nil {
		c.logger.Warn("capture did not stop cleanly", zap.Error(err))
	}

	sess, _ := c.machine.Session()
	return c.hub.Send(ctx, protocol.TypeEndOfSpeech, protocol.EndOfSpeech{
		SessionID: sess.ID,
		Utterance: u.Ordinal,
	})
}

// armCapture runs on entering Listening; failure cancels the utterance
func (c *Client) armCapture(ordinal uint32) {
	if c.capture == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.config.InvokeTimeout)
	defer cancel()

	err := c.startCapture(ctx, ordinal)
	if err == nil {
		return
	}

	c.logger.Error("failed to start capture", zap.Uint32("utterance", ordinal), zap.Error(err))
	c.captureMu.Lock()
	c.captureErrs[ordinal] = err
	c.captureMu.Unlock()
	c.notifyError(err)
	if cerr := c.machine.CancelSpeaking("capture failed", err); cerr != nil {
		c.logger.Debug("capture failure after listening ended", zap.Error(cerr))
	}
}

func (c *Client) startCapture(ctx context.Context, ordinal uint32) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if c.inStream != nil {
		return fmt.Errorf("capture stream already open")
	}
	stream, err := c.hub.OpenStream(ctx, protocol.Outbound, streamFormat(c.config.CaptureFormat, c.config.BufferMs))
	if err != nil {
		return fmt.Errorf("failed to open capture stream: %w", err)
	}
	if err := c.capture.Start(stream, ordinal); err != nil {
		stream.Close(ctx)
		return err
	}
	c.inStream = stream
	return nil
}

// stopCapture flushes capture and closes the outbound stream; safe to call repeatedly
func (c *Client) stopCapture(ctx context.Context) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if c.inStream == nil {
		return nil
	}
	stream := c.inStream
	c.inStream = nil

	err := c.capture.Stop(ctx)
	if cerr := stream.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// disarmCapture runs on leaving Listening
func (c *Client) disarmCapture() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.InvokeTimeout)
	defer cancel()
	if err := c.stopCapture(ctx); err != nil {
		c.logger.Warn("capture did not stop cleanly", zap.Error(err))
	}
}

func (c *Client) takeCaptureErr(ordinal uint32) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	err := c.captureErrs[ordinal]
	delete(c.captureErrs, ordinal)
	return err
}

func (c *Client) onOverrun(err *capture.BufferOverrunError) {
	c.logger.Warn("capture overrun", zap.Error(err))
	c.notifyError(err)
}
