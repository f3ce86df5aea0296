// ABOUTME: WebSocket transport for the Voxta hub
// ABOUTME: Handles dialing, the hub handshake, and reading and writing frames
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized is returned when the hub rejects the credentials
	ErrUnauthorized = errors.New("unauthorized")
	// ErrHandshakeRejected is returned when the hub refuses the protocol handshake
	ErrHandshakeRejected = errors.New("hub handshake rejected")
)

// DialConfig configures a client connection
type DialConfig struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
}

// Incoming is the result of one websocket read
type Incoming struct {
	Records []Record
	Chunk   *AudioChunk
}

// Conn is a hub connection usable from either side
type Conn struct {
	ws      *websocket.Conn
	logger  *zap.Logger
	writeMu sync.Mutex
	backlog []Record

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established websocket
func NewConn(ws *websocket.Conn, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{ws: ws, logger: logger}
}

// Dial connects to a hub and performs the handshake
func Dial(ctx context.Context, cfg DialConfig, logger *zap.Logger) (*Conn, error) {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	logger.Debug("dialing hub", zap.String("url", cfg.URL))

	ws, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := NewConn(ws, logger)
	if err := c.handshake(cfg.HandshakeTimeout); err != nil {
		c.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	return c, nil
}

// handshake negotiates the JSON hub protocol
func (c *Conn) handshake(timeout time.Duration) error {
	req := HandshakeRequest{Protocol: HubProtocol, Version: HubProtocolVersion}
	if err := c.WriteRecord(req); err != nil {
		return err
	}

	c.ws.SetReadDeadline(time.Now().Add(timeout))
	defer c.ws.SetReadDeadline(time.Time{})

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read handshake response: %w", err)
	}

	parts := SplitRecords(data)
	if len(parts) == 0 {
		return fmt.Errorf("empty handshake response")
	}

	var resp HandshakeResponse
	if err := json.Unmarshal(parts[0], &resp); err != nil {
		return fmt.Errorf("failed to parse handshake response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, resp.Error)
	}

	// Records may share the frame with the handshake response
	if len(parts) > 1 {
		rest, err := DecodeRecords(joinRecords(parts[1:]))
		if err != nil {
			return err
		}
		c.backlog = rest
	}

	c.logger.Debug("hub handshake complete")
	return nil
}

// AcceptHandshake reads and answers a client handshake
func (c *Conn) AcceptHandshake(timeout time.Duration) error {
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	defer c.ws.SetReadDeadline(time.Time{})

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read handshake: %w", err)
	}

	parts := SplitRecords(data)
	if len(parts) == 0 {
		return fmt.Errorf("empty handshake")
	}

	var req HandshakeRequest
	if err := json.Unmarshal(parts[0], &req); err != nil {
		return fmt.Errorf("failed to parse handshake: %w", err)
	}

	if req.Protocol != HubProtocol || req.Version != HubProtocolVersion {
		msg := fmt.Sprintf("unsupported protocol %s v%d", req.Protocol, req.Version)
		c.WriteRecord(HandshakeResponse{Error: msg})
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, msg)
	}

	return c.WriteRecord(HandshakeResponse{})
}

// Read blocks for the next websocket message
func (c *Conn) Read() (Incoming, error) {
	if len(c.backlog) > 0 {
		records := c.backlog
		c.backlog = nil
		return Incoming{Records: records}, nil
	}

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return Incoming{}, err
		}

		switch messageType {
		case websocket.BinaryMessage:
			chunk, err := UnmarshalAudioChunk(data)
			if err != nil {
				c.logger.Warn("dropping invalid binary message", zap.Error(err))
				continue
			}
			return Incoming{Chunk: &chunk}, nil

		case websocket.TextMessage:
			records, err := DecodeRecords(data)
			if err != nil {
				c.logger.Warn("dropping malformed record", zap.Error(err))
				if len(records) == 0 {
					continue
				}
			}
			return Incoming{Records: records}, nil

		default:
			c.logger.Debug("ignoring websocket message", zap.Int("type", messageType))
		}
	}
}

// SetReadDeadline bounds the next Read
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// WriteRecord sends one record in its own text frame
func (c *Conn) WriteRecord(v any) error {
	data, err := EncodeRecord(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data, 0)
}

// WriteRecordDeadline sends one record and fails if the write exceeds the timeout
func (c *Conn) WriteRecordDeadline(v any, timeout time.Duration) error {
	data, err := EncodeRecord(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data, timeout)
}

// WriteChunk sends one audio chunk as a binary frame
func (c *Conn) WriteChunk(chunk AudioChunk, timeout time.Duration) error {
	return c.write(websocket.BinaryMessage, chunk.Marshal(), timeout)
}

// WritePing sends a hub-level ping record
func (c *Conn) WritePing(timeout time.Duration) error {
	return c.WriteRecordDeadline(Record{Type: RecordPing}, timeout)
}

func (c *Conn) write(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(timeout))
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteMessage(messageType, data)
}

// Close sends a close record and closes the websocket; safe to call repeatedly
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.WriteRecordDeadline(Record{Type: RecordClose}, time.Second)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Abort closes the socket without a close handshake
func (c *Conn) Abort() error {
	return c.ws.Close()
}
