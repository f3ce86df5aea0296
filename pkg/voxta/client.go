// ABOUTME: High-level Client API for Voxta conversations
// ABOUTME: Builds the hub manager, session machine and audio pipelines and wires them together
package voxta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talktome/voxta-go/internal/capture"
	"github.com/talktome/voxta-go/internal/fetch"
	"github.com/talktome/voxta-go/internal/hub"
	"github.com/talktome/voxta-go/internal/lipsync"
	"github.com/talktome/voxta-go/internal/playback"
	"github.com/talktome/voxta-go/internal/router"
	"github.com/talktome/voxta-go/internal/session"
	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/input"
	"github.com/talktome/voxta-go/pkg/audio/output"
	"github.com/talktome/voxta-go/pkg/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AudioMode selects how reply audio reaches the client
type AudioMode string

const (
	// AudioStream receives reply audio as binary chunks on the hub connection
	AudioStream AudioMode = "stream"
	// AudioURL receives reply audio as file URLs fetched over HTTP
	AudioURL AudioMode = "url"
)

type (
	State            = session.State
	Event            = session.Event
	Session          = session.Session
	ResumePolicy     = session.ResumePolicy
	ConnectionState  = hub.State
	ConnectionChange = hub.StateChange
	Backoff          = hub.BackoffConfig
	Character        = protocol.Character
	Message          = session.Message
	Role             = session.Role
	Service          = protocol.ServiceConfiguration
	CaptureStats     = capture.Stats
	PlaybackStats    = playback.Stats
)

// Resume policies applied after a reconnect
const (
	Restart = session.Restart
	Resume  = session.Resume
)

// Chat message authors
const (
	RoleUser      = session.RoleUser
	RoleCharacter = session.RoleCharacter
)

// urlChunk is the chunk length fetched reply audio is split into
const urlChunk = 100 * time.Millisecond

// ClientConfig holds client configuration
type ClientConfig struct {
	// URL is the hub websocket address, e.g. ws://host:5384/hub
	URL string

	// APIKey is sent as a bearer token
	APIKey string

	// ClientName and ClientVersion identify the client during authentication
	ClientName    string
	ClientVersion string

	// AudioMode selects streamed or URL reply audio (default: stream)
	AudioMode AudioMode

	// Input captures the user's voice; nil disables StartSpeaking
	Input input.Device

	// Output plays reply audio (default: a virtual output with no sound device)
	Output output.Output

	// Sink receives animation frames in step with playback (default: none)
	Sink lipsync.Sink

	// CaptureFormat is the outbound wire format (default: PCM 16kHz mono)
	CaptureFormat  audio.Format
	DeviceRate     int
	DeviceChannels int
	BufferMs       int

	// PlaybackFormat is the inbound wire format (default: PCM 24kHz mono)
	PlaybackFormat audio.Format

	// GapTimeout bounds how long a missing chunk may stall playback (default: 2s)
	GapTimeout time.Duration

	InvokeTimeout time.Duration
	Backoff       Backoff
	ResumePolicy  ResumePolicy

	// CacheDir holds fetched reply audio in URL mode (default: a temp directory)
	CacheDir string

	// HistoryLimit bounds the chat messages kept for Status (default: 200)
	HistoryLimit int

	OnStateChange      func(Event)
	OnConnectionChange func(ConnectionChange)
	OnTranscript       func(Transcript)
	OnReply            func(Reply)
	OnError            func(error)

	Logger *zap.Logger
}

// Transcript is speech recognition progress for the user's utterance
type Transcript struct {
	Text  string
	Final bool
}

// Reply is one piece of character reply text
type Reply struct {
	Utterance uint32
	MessageID string
	Text      string
	Done      bool // The reply ended; Text is empty
}

// Status describes the client at one instant
type Status struct {
	Connection ConnectionState
	State      State
	Session    Session
	InChat     bool
	Capturing  bool
	Messages   []Message // Chat history of the current chat, oldest first
	Services   []Service // Services the server reported as configured
}

// Stats contains client statistics
type Stats struct {
	Capture     CaptureStats
	Playback    PlaybackStats
	Reconnects  int64
	Transcripts int64
	Replies     int64
	Errors      int64
}

type fetchJob struct {
	utterance uint32
	path      string
	end       bool
}

// Client talks to one Voxta server
type Client struct {
	config ClientConfig
	logger *zap.Logger

	router   *router.Router
	hub      *hub.Manager
	machine  *session.Machine
	capture  *capture.Pipeline // nil without an input device
	playback *playback.Pipeline
	fetcher  *fetch.Fetcher // URL mode only
	jobs     chan fetchJob

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	// captureMu serializes opening and closing the outbound stream
	captureMu   sync.Mutex
	inStream    *hub.Stream
	captureErrs map[uint32]error

	mu          sync.Mutex
	started     bool
	closed      bool
	characterID string
	messages    map[uint32]*replyMessage
	services    []Service
	waiters     map[string][]chan protocol.Frame
	history     *session.History

	reconnects  atomic.Int64
	transcripts atomic.Int64
	replies     atomic.Int64
	failures    atomic.Int64
}

// NewClient creates a client with the given configuration
func NewClient(config ClientConfig) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("hub url is required")
	}
	if config.AudioMode == "" {
		config.AudioMode = AudioStream
	}
	if config.AudioMode != AudioStream && config.AudioMode != AudioURL {
		return nil, fmt.Errorf("unknown audio mode: %s", config.AudioMode)
	}
	if config.CaptureFormat.Codec == "" {
		config.CaptureFormat = audio.Format{Codec: audio.CodecPCM, SampleRate: 16000, Channels: 1, BitDepth: 16}
	}
	if config.PlaybackFormat.Codec == "" {
		config.PlaybackFormat = audio.Format{Codec: audio.CodecPCM, SampleRate: 24000, Channels: 1, BitDepth: 16}
	}
	if config.AudioMode == AudioURL && config.PlaybackFormat.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("url audio mode plays pcm, got %s", config.PlaybackFormat.Codec)
	}
	if config.BufferMs <= 0 {
		config.BufferMs = 30
	}
	if config.InvokeTimeout <= 0 {
		config.InvokeTimeout = 10 * time.Second
	}
	if config.Output == nil {
		config.Output = output.NewVirtual()
	}
	if config.Sink == nil {
		config.Sink = lipsync.Nop{}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	logger := config.Logger

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:      config,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		captureErrs: make(map[uint32]error),
		messages:    make(map[uint32]*replyMessage),
		waiters:     make(map[string][]chan protocol.Frame),
		history:     session.NewHistory(config.HistoryLimit),
	}

	pb, err := playback.NewPipeline(playback.Config{
		Format:      config.PlaybackFormat,
		Output:      config.Output,
		Sink:        config.Sink,
		GapTimeout:  config.GapTimeout,
		OnComplete:  c.onPlaybackComplete,
		OnAbandoned: c.onUtteranceAbandoned,
		Logger:      logger.Named("playback"),
	})
	if err != nil {
		cancel()
		return nil, err
	}
	c.playback = pb

	if config.Input != nil {
		cp, err := capture.NewPipeline(capture.Config{
			Device:         config.Input,
			DeviceRate:     config.DeviceRate,
			DeviceChannels: config.DeviceChannels,
			Format:         config.CaptureFormat,
			BufferMs:       config.BufferMs,
			OnOverrun:      c.onOverrun,
			Logger:         logger.Named("capture"),
		})
		if err != nil {
			cancel()
			return nil, err
		}
		c.capture = cp
	}

	caps := protocol.Capabilities{
		AudioInput:                protocol.AudioInputWebSocketStream,
		AudioOutput:               protocol.AudioOutputWebSocket,
		AcceptedAudioContentTypes: []string{contentType(config.PlaybackFormat)},
	}
	if config.AudioMode == AudioURL {
		f, err := fetch.NewFetcher(fetch.Config{
			BaseURL:  config.URL,
			APIKey:   config.APIKey,
			CacheDir: config.CacheDir,
			Logger:   logger.Named("fetch"),
		})
		if err != nil {
			cancel()
			return nil, err
		}
		c.fetcher = f
		c.jobs = make(chan fetchJob, 64)
		caps.AudioOutput = protocol.AudioOutputURL
		caps.AcceptedAudioContentTypes = []string{
			protocol.ContentTypeXWAV, protocol.ContentTypeWAV, protocol.ContentTypeMP3, protocol.ContentTypeFLAC,
		}
	}

	c.router = router.New(logger.Named("router"))
	c.hub = hub.NewManager(hub.Config{
		URL:           config.URL,
		APIKey:        config.APIKey,
		ClientName:    config.ClientName,
		ClientVersion: config.ClientVersion,
		Capabilities:  caps,
		InvokeTimeout: config.InvokeTimeout,
		Backoff:       config.Backoff,
		Router:        c.router,
		Logger:        logger.Named("hub"),
	})
	c.machine = session.NewMachine(config.ResumePolicy, logger.Named("session"))

	c.machine.Observe(c.onSessionEvent)
	c.hub.Observe(c.onConnectionChange)
	c.subscribe()

	return c, nil
}

// Connect opens the audio output, connects and authenticates
func (c *Client) Connect(ctx context.Context) error {
	if err := c.start(); err != nil {
		return err
	}

	welcome, err := c.hub.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	c.logger.Info("connected", zap.String("url", c.config.URL), zap.String("user", welcome.User.Name))

	if err := c.announceOutput(ctx); err != nil {
		c.logger.Warn("failed to announce audio output stream", zap.Error(err))
	}
	return nil
}

// start opens the output and launches the background loops once
func (c *Client) start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}

	if err := c.playback.Open(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(c.ctx)
	g.Go(func() error { return c.playback.Run(ctx) })
	if c.fetcher != nil {
		g.Go(func() error { return c.fetchLoop(ctx) })
	}
	c.group = g
	c.started = true
	return nil
}

// announceOutput tells the hub which format streamed replies should use
func (c *Client) announceOutput(ctx context.Context) error {
	if c.config.AudioMode != AudioStream {
		return nil
	}
	_, err := c.hub.OpenStream(ctx, protocol.Inbound, streamFormat(c.config.PlaybackFormat, 0))
	if errors.Is(err, hub.ErrStreamBusy) {
		return nil
	}
	return err
}

// Status returns the current client state
func (c *Client) Status() Status {
	sess, ok := c.machine.Session()
	s := Status{
		Connection: c.hub.State(),
		State:      c.machine.State(),
		Session:    sess,
		InChat:     ok && sess.ID != "",
		Messages:   c.history.Messages(),
	}
	c.mu.Lock()
	s.Services = append([]Service(nil), c.services...)
	c.mu.Unlock()
	if c.capture != nil {
		s.Capturing = c.capture.Running()
	}
	return s
}

// Stats returns client statistics
func (c *Client) Stats() Stats {
	s := Stats{
		Playback:    c.playback.Stats(),
		Reconnects:  c.reconnects.Load(),
		Transcripts: c.transcripts.Load(),
		Replies:     c.replies.Load(),
		Errors:      c.failures.Load(),
	}
	if c.capture != nil {
		s.Capture = c.capture.Stats()
	}
	return s
}

// Close disconnects and releases all resources
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	group := c.group
	c.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.stopCapture(stopCtx); err != nil {
		c.logger.Warn("failed to stop capture", zap.Error(err))
	}

	if c.hub.State() != hub.StateDisconnected {
		c.hub.Disconnect()
	}

	c.cancel()
	if group != nil {
		group.Wait()
	}
	c.router.Close()

	var errs []error
	if err := c.playback.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.capture != nil {
		if err := c.capture.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.fetcher != nil && c.config.CacheDir == "" {
		if err := c.fetcher.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) notifyError(err error) {
	c.failures.Add(1)
	if c.config.OnError != nil {
		c.config.OnError(err)
	}
}

// contentType names a wire format in stream descriptors
func contentType(f audio.Format) string {
	if f.Codec == audio.CodecOpus {
		return protocol.ContentTypeOpus
	}
	return protocol.ContentTypeWAV
}

func streamFormat(f audio.Format, bufferMs int) protocol.StreamFormat {
	return protocol.StreamFormat{
		ContentType:        contentType(f),
		SampleRate:         f.SampleRate,
		Channels:           f.Channels,
		BitsPerSample:      f.BitDepth,
		BufferMilliseconds: bufferMs,
	}
}
