// ABOUTME: Entry point for the Voxta voice client
// ABOUTME: Loads config and flags, connects to a server and runs the conversation TUI
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/talktome/voxta-go/internal/config"
	"github.com/talktome/voxta-go/internal/discovery"
	"github.com/talktome/voxta-go/internal/lipsync"
	"github.com/talktome/voxta-go/internal/logging"
	"github.com/talktome/voxta-go/internal/session"
	"github.com/talktome/voxta-go/internal/ui"
	"github.com/talktome/voxta-go/internal/version"
	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/input"
	"github.com/talktome/voxta-go/pkg/audio/output"
	"github.com/talktome/voxta-go/pkg/voxta"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	bindFlags(&cfg)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Console: cfg.NoTUI})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("client stopped", zap.Error(err))
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// bindFlags lets flags override env and .env values
func bindFlags(cfg *config.Config) {
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Server host (empty: discover via mDNS)")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	flag.StringVar(&cfg.Path, "path", cfg.Path, "Hub path")
	flag.BoolVar(&cfg.Secure, "secure", cfg.Secure, "Use wss")
	flag.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "API key")
	flag.StringVar(&cfg.CharacterID, "character", cfg.CharacterID, "Character id (default: first listed)")
	flag.StringVar(&cfg.AudioMode, "audio-mode", cfg.AudioMode, "Reply audio transport: stream or url")
	flag.StringVar(&cfg.Input, "input", cfg.Input, "Capture backend: malgo, tone or none")
	flag.StringVar(&cfg.Output, "output", cfg.Output, "Playback backend: malgo, oto or virtual")
	flag.StringVar(&cfg.CaptureCodec, "capture-codec", cfg.CaptureCodec, "Outbound codec: pcm or opus")
	flag.IntVar(&cfg.BufferMs, "buffer-ms", cfg.BufferMs, "Capture chunk size in milliseconds")
	flag.StringVar(&cfg.LipSync, "lipsync", cfg.LipSync, "Animation sink: none or curves")
	flag.DurationVar(&cfg.GapTimeout, "gap-timeout", cfg.GapTimeout, "How long a missing reply chunk may stall playback")
	flag.StringVar(&cfg.ResumePolicy, "resume", cfg.ResumePolicy, "After reconnect: restart or resume")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file path")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.BoolVar(&cfg.NoTUI, "no-tui", cfg.NoTUI, "Disable TUI, read commands from stdin and stream logs")
}

func run(cfg config.Config, logger *zap.Logger) error {
	url := cfg.URL()
	if url == "" {
		logger.Info("no host configured, browsing for servers")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DiscoverTimeout)
		server, err := discovery.NewManager(discovery.Config{Logger: logger.Named("discovery")}).Find(ctx)
		cancel()
		if err != nil {
			return err
		}
		url = server.URL()
		logger.Info("discovered server", zap.String("name", server.Name), zap.String("url", url))
	}

	// TUI setup
	var tuiProg *tea.Program
	controls := ui.NewControls()
	if !cfg.NoTUI {
		tuiProg = ui.Run(controls)
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				logger.Error("tui failed", zap.Error(err))
			}
			select {
			case controls.Quit <- struct{}{}:
			default:
			}
		}()
		defer tuiProg.Quit()
	}

	updateTUI := func(msg tea.Msg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	clientCfg, err := clientConfig(cfg, url, logger)
	if err != nil {
		return err
	}
	newReply := true
	clientCfg.OnStateChange = func(ev voxta.Event) {
		capturing := ev.To == voxta.StateListening
		updateTUI(ui.StatusMsg{State: ev.To.String(), Capturing: &capturing})
		if ev.Err != nil {
			updateTUI(ui.ErrorMsg{Err: ev.Err})
		}
		if cfg.NoTUI {
			fmt.Printf("[%s]\n", ev.To)
		}
	}
	clientCfg.OnConnectionChange = func(ch voxta.ConnectionChange) {
		updateTUI(ui.StatusMsg{Connection: ch.To.String()})
	}
	clientCfg.OnTranscript = func(tr voxta.Transcript) {
		updateTUI(ui.TranscriptMsg{Text: tr.Text, Final: tr.Final})
		if cfg.NoTUI && tr.Final {
			fmt.Printf("you: %s\n", tr.Text)
		}
	}
	clientCfg.OnReply = func(r voxta.Reply) {
		updateTUI(ui.ReplyMsg{Text: r.Text, New: newReply, Done: r.Done})
		newReply = r.Done
		if cfg.NoTUI && r.Text != "" {
			fmt.Printf("character: %s\n", r.Text)
		}
	}
	clientCfg.OnError = func(err error) {
		logger.Warn("client error", zap.Error(err))
		updateTUI(ui.ErrorMsg{Err: err})
	}

	client, err := voxta.NewClient(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("error closing client", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	updateTUI(ui.StatusMsg{Server: url})

	character, err := pickCharacter(ctx, client, cfg.CharacterID)
	if err != nil {
		return err
	}
	if _, err := client.StartChat(ctx, character.ID); err != nil {
		return fmt.Errorf("failed to start chat with %s: %w", character.ID, err)
	}
	name := character.Name
	if name == "" {
		name = character.ID
	}
	updateTUI(ui.StatusMsg{Character: name})
	logger.Info("chatting", zap.String("character", name))

	if cfg.NoTUI {
		fmt.Printf("Chatting with %s. Type a message, /talk to start or stop speaking, /quit to exit.\n", name)
		go readCommands(controls)
	} else {
		go statsUpdateLoop(client, updateTUI)
	}

	return loop(client, controls, logger)
}

// loop runs user actions until quit or a signal
func loop(client *voxta.Client, controls *ui.Controls, logger *zap.Logger) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case on := <-controls.Talk:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			var err error
			if on {
				err = client.StartSpeaking(ctx)
			} else {
				err = client.StopSpeaking(ctx)
			}
			cancel()
			if err != nil {
				logger.Warn("speaking toggle failed", zap.Bool("start", on), zap.Error(err))
			}
		case text := <-controls.Text:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := client.SendText(ctx, text); err != nil {
				logger.Warn("send failed", zap.Error(err))
			}
			cancel()
		case <-controls.Quit:
			logger.Info("quit requested")
			return nil
		case <-sigChan:
			logger.Info("shutdown signal received")
			return nil
		}
	}
}

func clientConfig(cfg config.Config, url string, logger *zap.Logger) (voxta.ClientConfig, error) {
	policy, err := session.ParseResumePolicy(cfg.ResumePolicy)
	if err != nil {
		return voxta.ClientConfig{}, err
	}

	var in input.Device
	switch cfg.Input {
	case "none":
	case "", "malgo":
		in = input.NewMalgo().WithLogger(logger.Named("input"))
	default:
		if in, err = input.New(cfg.Input); err != nil {
			return voxta.ClientConfig{}, err
		}
	}

	out, err := output.New(cfg.Output, output.WithLogger(logger.Named("output")), output.WithBufferMs(cfg.BufferMs*4))
	if err != nil {
		return voxta.ClientConfig{}, err
	}
	sink, err := lipsync.New(cfg.LipSync)
	if err != nil {
		return voxta.ClientConfig{}, err
	}

	return voxta.ClientConfig{
		URL:            url,
		APIKey:         cfg.APIKey,
		ClientName:     version.Product,
		ClientVersion:  version.Version,
		AudioMode:      voxta.AudioMode(cfg.AudioMode),
		Input:          in,
		Output:         out,
		Sink:           sink,
		CaptureFormat:  audio.Format{Codec: cfg.CaptureCodec, SampleRate: cfg.CaptureRate, Channels: 1, BitDepth: 16},
		DeviceRate:     cfg.DeviceRate,
		DeviceChannels: 1,
		BufferMs:       cfg.BufferMs,
		PlaybackFormat: audio.Format{Codec: audio.CodecPCM, SampleRate: cfg.PlaybackRate, Channels: 1, BitDepth: 16},
		GapTimeout:     cfg.GapTimeout,
		Backoff: voxta.Backoff{
			InitialInterval: cfg.ReconnectInitial,
			MaxInterval:     cfg.ReconnectMax,
			MaxAttempts:     cfg.MaxReconnects,
		},
		ResumePolicy: policy,
		CacheDir:     cfg.CacheDir,
		Logger:       logger,
	}, nil
}

// pickCharacter returns the configured character or the first one listed
func pickCharacter(ctx context.Context, client *voxta.Client, id string) (voxta.Character, error) {
	chars, err := client.ListCharacters(ctx)
	if err != nil {
		if id != "" {
			return voxta.Character{ID: id}, nil
		}
		return voxta.Character{}, fmt.Errorf("failed to list characters: %w", err)
	}
	if len(chars) == 0 {
		return voxta.Character{}, fmt.Errorf("server has no characters")
	}
	if id == "" {
		return chars[0], nil
	}
	for _, c := range chars {
		if c.ID == id {
			return c, nil
		}
	}
	return voxta.Character{}, fmt.Errorf("character %q not found", id)
}

// readCommands turns stdin lines into controls when the TUI is off
func readCommands(controls *ui.Controls) {
	talking := false
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit":
			controls.Quit <- struct{}{}
			return
		case "/talk":
			talking = !talking
			controls.Talk <- talking
		default:
			controls.Text <- line
		}
	}
	controls.Quit <- struct{}{}
}

// statsUpdateLoop periodically updates TUI with client statistics
func statsUpdateLoop(client *voxta.Client, updateTUI func(tea.Msg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Use a slower ticker for expensive runtime stats to avoid GC pauses
	runtimeStatsTicker := time.NewTicker(2 * time.Second)
	defer runtimeStatsTicker.Stop()

	var lastGoroutines int
	var lastMemAlloc uint64

	for {
		select {
		case <-runtimeStatsTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			lastGoroutines = runtime.NumGoroutine()
			lastMemAlloc = m.Alloc

		case <-ticker.C:
			stats := client.Stats()
			if client.Status().Connection == voxta.ConnectionDisconnected {
				return
			}
			updateTUI(ui.StatsMsg{
				Sent:       stats.Capture.Sent,
				Received:   stats.Playback.Received,
				Completed:  stats.Playback.Completed,
				Abandoned:  stats.Playback.Abandoned,
				Stale:      stats.Playback.Stale,
				Duplicates: stats.Playback.Duplicates,
				Reconnects: stats.Reconnects,
				Errors:     stats.Errors,
				Goroutines: lastGoroutines,
				MemAlloc:   lastMemAlloc,
			})
		}
	}
}
