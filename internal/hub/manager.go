// ABOUTME: Hub connection manager
// ABOUTME: Connects, authenticates, invokes hub methods and reconnects with backoff
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/talktome/voxta-go/internal/router"
	"github.com/talktome/voxta-go/internal/version"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
)

// BackoffConfig bounds reconnection attempts
type BackoffConfig struct {
	InitialInterval     time.Duration
	Multiplier          float64
	MaxInterval         time.Duration
	RandomizationFactor float64
	MaxAttempts         int
}

// Config holds manager configuration
type Config struct {
	URL           string
	APIKey        string
	ClientName    string
	ClientVersion string
	Capabilities  protocol.Capabilities

	HandshakeTimeout time.Duration
	InvokeTimeout    time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ServerTimeout    time.Duration // Read deadline; the server pings more often than this
	SendQueue        int
	Backoff          BackoffConfig

	Router *router.Router
	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.ClientName == "" {
		c.ClientName = version.Product
	}
	if c.ClientVersion == "" {
		c.ClientVersion = version.Version
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.InvokeTimeout == 0 {
		c.InvokeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.ServerTimeout == 0 {
		c.ServerTimeout = 30 * time.Second
	}
	if c.SendQueue == 0 {
		c.SendQueue = 256
	}
	if c.Backoff.InitialInterval == 0 {
		c.Backoff.InitialInterval = 500 * time.Millisecond
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = 2
	}
	if c.Backoff.MaxInterval == 0 {
		c.Backoff.MaxInterval = 10 * time.Second
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff.MaxAttempts = 5
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Manager owns the hub connection
type Manager struct {
	config Config
	logger *zap.Logger
	router *router.Router

	mu        sync.Mutex
	state     State
	link      *link
	welcome   protocol.Welcome
	streams   map[protocol.Direction]*Stream
	observers []func(StateChange)

	stop           context.CancelFunc
	supervisorDone chan struct{}

	// notifyMu keeps observer callbacks in transition order
	notifyMu sync.Mutex
}

// NewManager creates a manager; a nil Router gets a private one
func NewManager(config Config) *Manager {
	config.applyDefaults()
	r := config.Router
	if r == nil {
		r = router.New(config.Logger)
	}
	return &Manager{
		config:  config,
		logger:  config.Logger,
		router:  r,
		streams: make(map[protocol.Direction]*Stream),
	}
}

// Observe registers a connection state observer
func (m *Manager) Observe(fn func(StateChange)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Subscribe registers a handler for a category of server events
func (m *Manager) Subscribe(cat router.Category, h router.Handler) {
	m.router.Subscribe(cat, h)
}

// Router returns the router server events are dispatched to
func (m *Manager) Router() *router.Router {
	return m.router
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Welcome returns the identity of the current connection
func (m *Manager) Welcome() protocol.Welcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.welcome
}

// Connect dials, authenticates and starts supervising the connection
func (m *Manager) Connect(ctx context.Context) (protocol.Welcome, error) {
	m.mu.Lock()
	if m.state != StateDisconnected && m.state != StateFaulted {
		state := m.state
		m.mu.Unlock()
		return protocol.Welcome{}, fmt.Errorf("cannot connect while %s", state)
	}
	if m.stop != nil {
		// Left over from a faulted run
		m.stop()
		m.stop = nil
	}
	m.mu.Unlock()

	m.setState(StateChange{To: StateConnecting})

	l, welcome, err := m.establish(ctx)
	if err != nil {
		m.setState(StateChange{To: StateDisconnected, Err: err})
		return protocol.Welcome{}, err
	}

	superCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.link = l
	m.welcome = welcome
	m.stop = cancel
	m.supervisorDone = done
	m.mu.Unlock()

	m.setState(StateChange{To: StateConnected, Welcome: welcome})
	go m.supervise(superCtx, l, done)

	m.logger.Info("connected to hub", zap.String("url", m.config.URL), zap.String("user", welcome.User.Name))
	return welcome, nil
}

// establish dials and authenticates one link
func (m *Manager) establish(ctx context.Context) (*link, protocol.Welcome, error) {
	conn, err := protocol.Dial(ctx, protocol.DialConfig{
		URL:              m.config.URL,
		APIKey:           m.config.APIKey,
		HandshakeTimeout: m.config.HandshakeTimeout,
	}, m.logger)
	if err != nil {
		if errors.Is(err, protocol.ErrUnauthorized) {
			return nil, protocol.Welcome{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return nil, protocol.Welcome{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	l := newLink(conn, m.config.SendQueue, m.logger)
	replies := l.expect(protocol.TypeWelcome, protocol.TypeError)
	l.start(m.config, m.dispatch)

	welcome, err := m.authenticate(ctx, l, replies)
	if err != nil {
		l.close()
		return nil, protocol.Welcome{}, err
	}
	return l, welcome, nil
}

func (m *Manager) authenticate(ctx context.Context, l *link, replies <-chan protocol.Frame) (protocol.Welcome, error) {
	msg, err := protocol.Marshal(protocol.TypeAuthenticate, protocol.Authenticate{
		Client:        m.config.ClientName,
		ClientVersion: m.config.ClientVersion,
		Scope:         []string{"role:app"},
		Capabilities:  m.config.Capabilities,
	})
	if err != nil {
		return protocol.Welcome{}, err
	}
	rec, err := protocol.NewInvocation("", protocol.MethodSendMessage, msg)
	if err != nil {
		return protocol.Welcome{}, err
	}
	if err := l.enqueue(ctx, outbound{record: &rec}); err != nil {
		return protocol.Welcome{}, err
	}

	timer := time.NewTimer(m.config.HandshakeTimeout)
	defer timer.Stop()

	select {
	case f := <-replies:
		if f.Type == protocol.TypeError {
			var e protocol.Error
			f.Decode(&e)
			return protocol.Welcome{}, fmt.Errorf("%w: %s", ErrAuthentication, e.Message)
		}
		var welcome protocol.Welcome
		if err := f.Decode(&welcome); err != nil {
			return protocol.Welcome{}, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		return welcome, nil
	case <-l.done:
		return protocol.Welcome{}, fmt.Errorf("%w: %v", ErrNetwork, l.cause())
	case <-timer.C:
		return protocol.Welcome{}, fmt.Errorf("%w: no welcome from hub", ErrNetwork)
	case <-ctx.Done():
		return protocol.Welcome{}, fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
	}
}

func (m *Manager) dispatch(f protocol.Frame) {
	if err := m.router.Dispatch(f); err != nil {
		var unknown *router.UnknownEventError
		if errors.As(err, &unknown) {
			m.logger.Debug("dropping unknown server event", zap.String("type", unknown.Type))
			return
		}
		m.logger.Warn("failed to dispatch server event", zap.Error(err))
	}
}

// supervise watches the link and reconnects when it dies
func (m *Manager) supervise(ctx context.Context, l *link, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
		}
		if ctx.Err() != nil {
			return
		}

		cause := l.cause()
		m.logger.Warn("hub connection lost", zap.Error(cause))
		m.dropLink(l)
		m.setState(StateChange{To: StateReconnecting, Err: fmt.Errorf("%w: %v", ErrNetwork, cause)})

		next, welcome, err := m.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("hub reconnection failed", zap.Error(err))
			m.setState(StateChange{To: StateFaulted, Err: err})
			return
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			next.close()
			return
		}
		m.link = next
		m.welcome = welcome
		m.mu.Unlock()

		m.logger.Info("reconnected to hub")
		m.setState(StateChange{To: StateConnected, Reconnected: true, Welcome: welcome})
		l = next
	}
}

func (m *Manager) reconnect(ctx context.Context) (*link, protocol.Welcome, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.Backoff.InitialInterval
	b.Multiplier = m.config.Backoff.Multiplier
	b.MaxInterval = m.config.Backoff.MaxInterval
	b.RandomizationFactor = m.config.Backoff.RandomizationFactor
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.config.Backoff.MaxAttempts-1)), ctx)

	var (
		next    *link
		welcome protocol.Welcome
		attempt int
	)
	op := func() error {
		attempt++
		m.setState(StateChange{To: StateReconnecting, Attempt: attempt})

		attemptCtx, cancel := context.WithTimeout(ctx, m.config.HandshakeTimeout*2)
		defer cancel()

		l, w, err := m.establish(attemptCtx)
		if err != nil {
			if errors.Is(err, ErrAuthentication) {
				return backoff.Permanent(err)
			}
			return err
		}
		next, welcome = l, w
		return nil
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt), zap.Duration("retry_in", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if errors.Is(err, ErrAuthentication) {
			return nil, protocol.Welcome{}, err
		}
		return nil, protocol.Welcome{}, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
	}
	return next, welcome, nil
}

// dropLink forgets a dead link and the streams opened on it
func (m *Manager) dropLink(l *link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == l {
		m.link = nil
	}
	for dir, s := range m.streams {
		if s.link == l {
			delete(m.streams, dir)
		}
	}
}

// setState records a transition and notifies observers in order
func (m *Manager) setState(change StateChange) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	change.From = m.state
	if change.From == change.To && change.Attempt == 0 {
		m.mu.Unlock()
		return
	}
	m.state = change.To
	observers := append([]func(StateChange){}, m.observers...)
	m.mu.Unlock()

	m.logger.Debug("connection state",
		zap.Stringer("from", change.From), zap.Stringer("to", change.To), zap.Int("attempt", change.Attempt))
	for _, fn := range observers {
		fn(change)
	}
}

func (m *Manager) currentLink() (*link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil || !m.link.alive() {
		return nil, ErrNotConnected
	}
	return m.link, nil
}

// Invoke calls a hub method and waits for its completion; result may be nil
func (m *Manager) Invoke(ctx context.Context, method string, payload any, result any) error {
	l, err := m.currentLink()
	if err != nil {
		return err
	}
	return m.invokeOn(ctx, l, method, payload, result)
}

func (m *Manager) invokeOn(ctx context.Context, l *link, method string, payload any, result any) error {
	id := uuid.NewString()
	rec, err := protocol.NewInvocation(id, method, payload)
	if err != nil {
		return err
	}

	replies := l.register(id)
	defer l.unregister(id)

	timer := time.NewTimer(m.config.InvokeTimeout)
	defer timer.Stop()

	sendCtx, cancel := context.WithTimeout(ctx, m.config.InvokeTimeout)
	defer cancel()
	if err := l.enqueue(sendCtx, outbound{record: &rec}); err != nil {
		return err
	}

	select {
	case resp := <-replies:
		if resp.Error != "" {
			return &RPCError{Method: method, Message: resp.Error}
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to parse %s result: %w", method, err)
			}
		}
		return nil
	case <-l.done:
		return fmt.Errorf("%w: %s: %v", ErrNetwork, method, l.cause())
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrTimeout, method, m.config.InvokeTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrTimeout, method, ctx.Err())
	}
}

// Send delivers a $type message through SendMessage without waiting for a completion
func (m *Manager) Send(ctx context.Context, typ string, v any) error {
	l, err := m.currentLink()
	if err != nil {
		return err
	}

	msg, err := protocol.Marshal(typ, v)
	if err != nil {
		return err
	}
	rec, err := protocol.NewInvocation("", protocol.MethodSendMessage, msg)
	if err != nil {
		return err
	}
	return l.enqueue(ctx, outbound{record: &rec})
}

// Disconnect closes the connection and stops reconnecting; safe to call repeatedly
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected && m.link == nil && m.stop == nil {
		m.mu.Unlock()
		m.logger.Warn("disconnect called while not connected")
		return
	}
	l, done := m.link, m.supervisorDone
	if m.stop != nil {
		m.stop()
	}
	m.link = nil
	m.stop = nil
	m.supervisorDone = nil
	m.streams = make(map[protocol.Direction]*Stream)
	m.mu.Unlock()

	if l != nil {
		l.close()
	}
	if done != nil {
		<-done
	}

	m.setState(StateChange{To: StateDisconnected})
	m.logger.Info("disconnected from hub")
}
