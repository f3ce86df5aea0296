// ABOUTME: One live hub connection with its reader and writer goroutines
// ABOUTME: A link dies once; the manager replaces it on reconnect
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// outbound is one queued write
type outbound struct {
	record *protocol.Record
	chunk  *protocol.AudioChunk
}

type link struct {
	conn   *protocol.Conn
	logger *zap.Logger
	sendq  chan outbound
	done   chan struct{}

	once sync.Once
	err  error

	mu      sync.Mutex
	pending map[string]chan protocol.Record
	waiter  *frameWaiter
}

// frameWaiter intercepts the first frame of a set of types
type frameWaiter struct {
	types map[string]bool
	ch    chan protocol.Frame
}

func newLink(conn *protocol.Conn, queueSize int, logger *zap.Logger) *link {
	return &link{
		conn:    conn,
		logger:  logger,
		sendq:   make(chan outbound, queueSize),
		done:    make(chan struct{}),
		pending: make(map[string]chan protocol.Record),
	}
}

// start launches the reader and writer
func (l *link) start(cfg Config, dispatch func(protocol.Frame)) {
	go l.readLoop(cfg.ServerTimeout, dispatch)
	go l.writeLoop(cfg.WriteTimeout, cfg.PingInterval)
}

// fail kills the link with a transport error
func (l *link) fail(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.done)
		l.conn.Abort()
	})
}

// close ends the link with a close handshake
func (l *link) close() {
	l.once.Do(func() {
		l.err = errors.New("closed by client")
		close(l.done)
		l.conn.Close()
	})
}

func (l *link) alive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// cause returns why the link died
func (l *link) cause() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// enqueue hands a write to the writer goroutine
func (l *link) enqueue(ctx context.Context, out outbound) error {
	select {
	case <-l.done:
		return fmt.Errorf("%w: %v", ErrNetwork, l.err)
	default:
	}

	select {
	case l.sendq <- out:
		return nil
	case <-l.done:
		return fmt.Errorf("%w: %v", ErrNetwork, l.err)
	case <-ctx.Done():
		return fmt.Errorf("%w: send queue full: %v", ErrTimeout, ctx.Err())
	}
}

// expect registers a waiter for the next frame of the given types
func (l *link) expect(types ...string) <-chan protocol.Frame {
	w := &frameWaiter{types: make(map[string]bool), ch: make(chan protocol.Frame, 1)}
	for _, t := range types {
		w.types[t] = true
	}
	l.mu.Lock()
	l.waiter = w
	l.mu.Unlock()
	return w.ch
}

func (l *link) register(id string) chan protocol.Record {
	ch := make(chan protocol.Record, 1)
	l.mu.Lock()
	l.pending[id] = ch
	l.mu.Unlock()
	return ch
}

func (l *link) unregister(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

func (l *link) readLoop(timeout time.Duration, dispatch func(protocol.Frame)) {
	for {
		if timeout > 0 {
			l.conn.SetReadDeadline(time.Now().Add(timeout))
		}

		in, err := l.conn.Read()
		if err != nil {
			l.fail(fmt.Errorf("read failed: %w", err))
			return
		}

		if in.Chunk != nil {
			dispatch(protocol.ChunkFrame(*in.Chunk))
			continue
		}

		for _, rec := range in.Records {
			l.handleRecord(rec, dispatch)
		}
	}
}

func (l *link) handleRecord(rec protocol.Record, dispatch func(protocol.Frame)) {
	switch rec.Type {
	case protocol.RecordInvocation:
		if rec.Target != protocol.MethodReceiveMessage {
			l.logger.Debug("ignoring server invocation", zap.String("target", rec.Target))
			return
		}
		for _, arg := range rec.Arguments {
			f, err := protocol.MessageFrame(arg)
			if err != nil {
				l.logger.Warn("dropping malformed server message", zap.Error(err))
				continue
			}
			if l.intercept(f) {
				continue
			}
			dispatch(f)
		}

	case protocol.RecordCompletion:
		l.mu.Lock()
		ch, ok := l.pending[rec.InvocationID]
		delete(l.pending, rec.InvocationID)
		l.mu.Unlock()
		if !ok {
			l.logger.Debug("completion for unknown invocation", zap.String("invocation_id", rec.InvocationID))
			return
		}
		ch <- rec

	case protocol.RecordPing:

	case protocol.RecordClose:
		msg := "server closed connection"
		if rec.Error != "" {
			msg += ": " + rec.Error
		}
		l.fail(errors.New(msg))

	default:
		l.logger.Debug("ignoring record", zap.Stringer("type", rec.Type))
	}
}

func (l *link) intercept(f protocol.Frame) bool {
	l.mu.Lock()
	w := l.waiter
	if w == nil || !w.types[f.Type] {
		l.mu.Unlock()
		return false
	}
	l.waiter = nil
	l.mu.Unlock()

	w.ch <- f
	return true
}

func (l *link) writeLoop(timeout, pingInterval time.Duration) {
	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		var err error
		select {
		case <-l.done:
			return
		case out := <-l.sendq:
			if out.chunk != nil {
				err = l.conn.WriteChunk(*out.chunk, timeout)
			} else {
				err = l.conn.WriteRecordDeadline(*out.record, timeout)
			}
		case <-ping:
			err = l.conn.WritePing(timeout)
		}

		if err != nil {
			l.fail(fmt.Errorf("write failed: %w", err))
			return
		}
	}
}
