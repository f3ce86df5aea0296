// ABOUTME: Audio streams multiplexed on the hub connection
// ABOUTME: At most one stream per direction; chunks travel as binary frames
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// Stream is an open audio stream in one direction
type Stream struct {
	manager   *Manager
	link      *link
	direction protocol.Direction
	format    protocol.StreamFormat

	closeOnce sync.Once
}

// OpenStream announces an audio stream to the hub and reserves its direction
func (m *Manager) OpenStream(ctx context.Context, dir protocol.Direction, format protocol.StreamFormat) (*Stream, error) {
	l, err := m.currentLink()
	if err != nil {
		return nil, err
	}

	s := &Stream{manager: m, link: l, direction: dir, format: format}

	m.mu.Lock()
	if _, busy := m.streams[dir]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrStreamBusy, dir)
	}
	m.streams[dir] = s
	m.mu.Unlock()

	method := protocol.MethodStartAudioInputStream
	if dir == protocol.Inbound {
		method = protocol.MethodStartAudioOutputStream
	}

	req := protocol.AudioStreamRequest{Format: format}
	if err := m.invokeOn(ctx, l, method, req, nil); err != nil {
		m.release(s)
		return nil, err
	}

	m.logger.Debug("audio stream opened",
		zap.Stringer("direction", dir), zap.String("content_type", format.ContentType), zap.Int("sample_rate", format.SampleRate))
	return s, nil
}

// Direction returns the stream direction
func (s *Stream) Direction() protocol.Direction {
	return s.direction
}

// Format returns the negotiated stream format
func (s *Stream) Format() protocol.StreamFormat {
	return s.format
}

// Send queues one chunk on the connection the stream was opened on
func (s *Stream) Send(ctx context.Context, chunk protocol.AudioChunk) error {
	if s.direction != protocol.Outbound {
		return fmt.Errorf("cannot send on %s stream", s.direction)
	}
	chunk.Direction = s.direction
	return s.link.enqueue(ctx, outbound{chunk: &chunk})
}

// Close tells the hub the stream ended and frees the direction
func (s *Stream) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		defer s.manager.release(s)
		if !s.link.alive() {
			return
		}
		err = s.manager.invokeOn(ctx, s.link, protocol.MethodStopAudioStream,
			protocol.AudioStreamStop{Direction: s.direction.String()}, nil)
	})
	return err
}

func (m *Manager) release(s *Stream) {
	m.mu.Lock()
	if m.streams[s.direction] == s {
		delete(m.streams, s.direction)
	}
	m.mu.Unlock()
}
