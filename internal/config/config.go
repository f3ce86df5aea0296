// ABOUTME: Client configuration from defaults, .env files and environment variables
// ABOUTME: Command-line flags in main override what Load returns
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Audio output modes
const (
	AudioModeStream = "stream"
	AudioModeURL    = "url"
)

// Config holds everything the CLI needs to build a client
type Config struct {
	Host   string // Empty means discover via mDNS
	Port   int
	Path   string
	Secure bool

	APIKey      string
	CharacterID string

	AudioMode    string
	Input        string // Capture backend: malgo or tone
	Output       string // Playback backend: malgo, oto or virtual
	CaptureCodec string
	CaptureRate  int
	DeviceRate   int
	BufferMs     int
	PlaybackRate int
	LipSync      string
	CacheDir     string

	GapTimeout       time.Duration
	MaxReconnects    int
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	ResumePolicy     string
	DiscoverTimeout  time.Duration

	LogFile  string
	LogLevel string
	NoTUI    bool
}

// Load reads .env files (".env" when none are named) and then the environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromEnv builds a Config from VOXTA_* variables over the defaults
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Host:             envOr("VOXTA_HOST", ""),
		Port:             envIntOr("VOXTA_PORT", 5384),
		Path:             envOr("VOXTA_PATH", "/hub"),
		Secure:           envBoolOr("VOXTA_SECURE", false),
		APIKey:           envOr("VOXTA_API_KEY", ""),
		CharacterID:      envOr("VOXTA_CHARACTER_ID", ""),
		AudioMode:        strings.ToLower(envOr("VOXTA_AUDIO_MODE", AudioModeStream)),
		Input:            envOr("VOXTA_INPUT", "malgo"),
		Output:           envOr("VOXTA_OUTPUT", "malgo"),
		CaptureCodec:     strings.ToLower(envOr("VOXTA_CAPTURE_CODEC", "pcm")),
		CaptureRate:      envIntOr("VOXTA_CAPTURE_RATE", 16000),
		DeviceRate:       envIntOr("VOXTA_DEVICE_RATE", 48000),
		BufferMs:         envIntOr("VOXTA_BUFFER_MS", 30),
		PlaybackRate:     envIntOr("VOXTA_PLAYBACK_RATE", 24000),
		LipSync:          envOr("VOXTA_LIPSYNC", "none"),
		CacheDir:         envOr("VOXTA_CACHE_DIR", ""),
		GapTimeout:       envDurationOr("VOXTA_GAP_TIMEOUT", 2*time.Second),
		MaxReconnects:    envIntOr("VOXTA_MAX_RECONNECTS", 5),
		ReconnectInitial: envDurationOr("VOXTA_RECONNECT_INITIAL", 500*time.Millisecond),
		ReconnectMax:     envDurationOr("VOXTA_RECONNECT_MAX", 10*time.Second),
		ResumePolicy:     strings.ToLower(envOr("VOXTA_RESUME_POLICY", "restart")),
		DiscoverTimeout:  envDurationOr("VOXTA_DISCOVER_TIMEOUT", 5*time.Second),
		LogFile:          envOr("VOXTA_LOG_FILE", "voxta.log"),
		LogLevel:         envOr("VOXTA_LOG_LEVEL", "info"),
		NoTUI:            envBoolOr("VOXTA_NO_TUI", false),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the client cannot run with
func (c Config) Validate() error {
	switch c.AudioMode {
	case AudioModeStream, AudioModeURL:
	default:
		return fmt.Errorf("audio mode must be one of stream|url, got %q", c.AudioMode)
	}
	switch c.CaptureCodec {
	case "pcm", "opus":
	default:
		return fmt.Errorf("capture codec must be one of pcm|opus, got %q", c.CaptureCodec)
	}
	switch c.ResumePolicy {
	case "restart", "resume":
	default:
		return fmt.Errorf("resume policy must be one of restart|resume, got %q", c.ResumePolicy)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1-65535, got %d", c.Port)
	}
	if c.CaptureRate <= 0 || c.DeviceRate <= 0 || c.PlaybackRate <= 0 {
		return fmt.Errorf("sample rates must be > 0")
	}
	if c.BufferMs <= 0 {
		return fmt.Errorf("buffer ms must be > 0, got %d", c.BufferMs)
	}
	if c.GapTimeout <= 0 {
		return fmt.Errorf("gap timeout must be > 0, got %s", c.GapTimeout)
	}
	if c.MaxReconnects <= 0 {
		return fmt.Errorf("max reconnects must be > 0, got %d", c.MaxReconnects)
	}
	return nil
}

// URL returns the hub websocket address; empty when no host is configured
func (c Config) URL() string {
	if c.Host == "" {
		return ""
	}
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   c.Path,
	}
	return u.String()
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
