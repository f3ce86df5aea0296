// ABOUTME: Downloader for reply audio the server publishes as URLs
// ABOUTME: Caches files on disk by URL hash and decodes them by content type
package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/talktome/voxta-go/pkg/audio"
	"github.com/talktome/voxta-go/pkg/audio/decode"
	"go.uber.org/zap"
)

// Config configures a Fetcher
type Config struct {
	BaseURL  string // Server origin that relative audio paths resolve against
	APIKey   string
	CacheDir string // Defaults to a directory under os.TempDir
	Timeout  time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

// Fetcher manages reply audio downloads
type Fetcher struct {
	base     *url.URL
	apiKey   string
	cacheDir string
	client   *http.Client
	logger   *zap.Logger
}

var extensions = map[string]string{
	"audio/mpeg":   ".mp3",
	"audio/mp3":    ".mp3",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"audio/wav":    ".wav",
	"audio/x-wav":  ".wav",
	"audio/wave":   ".wav",
}

var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
}

// NewFetcher creates a fetcher and its cache directory
func NewFetcher(cfg Config) (*Fetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	switch base.Scheme {
	case "ws":
		base.Scheme = "http"
	case "wss":
		base.Scheme = "https"
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "voxta-audio")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Fetcher{
		base:     base,
		apiKey:   cfg.APIKey,
		cacheDir: cfg.CacheDir,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}, nil
}

// Resolve turns a published audio path into an absolute URL
func (f *Fetcher) Resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid audio url %q: %w", path, err)
	}
	return f.base.ResolveReference(ref).String(), nil
}

// Fetch downloads (or reads from cache) and decodes one audio file
func (f *Fetcher) Fetch(ctx context.Context, path string) (audio.Format, []int32, error) {
	if path == "" {
		return audio.Format{}, nil, fmt.Errorf("empty audio url")
	}
	u, err := f.Resolve(path)
	if err != nil {
		return audio.Format{}, nil, err
	}

	data, contentType, err := f.load(ctx, u)
	if err != nil {
		return audio.Format{}, nil, err
	}

	format, samples, err := decode.File(bytes.NewReader(data), contentType)
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("failed to decode %s: %w", u, err)
	}
	return format, samples, nil
}

// load returns the file bytes and content type, downloading on a cache miss
func (f *Fetcher) load(ctx context.Context, u string) ([]byte, string, error) {
	key := cacheKey(u)
	for ext, ct := range contentTypes {
		data, err := os.ReadFile(filepath.Join(f.cacheDir, key+ext))
		if err == nil {
			f.logger.Debug("audio cache hit", zap.String("url", u))
			return data, ct, nil
		}
	}

	f.logger.Debug("downloading audio", zap.String("url", u))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("audio download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read audio: %w", err)
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	ext, ok := extensions[contentType]
	if !ok {
		ext = filepath.Ext(strings.Split(u, "?")[0])
		if ct, known := contentTypes[ext]; known {
			contentType = ct
		}
	}

	if _, known := contentTypes[ext]; known {
		cachePath := filepath.Join(f.cacheDir, key+ext)
		if err := os.WriteFile(cachePath, data, 0644); err != nil {
			f.logger.Warn("failed to cache audio", zap.String("path", cachePath), zap.Error(err))
		}
	}
	return data, contentType, nil
}

// Cleanup removes cached audio
func (f *Fetcher) Cleanup() error {
	return os.RemoveAll(f.cacheDir)
}

func cacheKey(u string) string {
	hash := sha256.Sum256([]byte(u))
	return fmt.Sprintf("%x", hash[:8])
}

func mediaType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
}
