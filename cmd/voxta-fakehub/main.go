// ABOUTME: Entry point for the development Voxta hub
// ABOUTME: Serves the fake hub over HTTP and advertises it via mDNS
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/talktome/voxta-go/internal/discovery"
	"github.com/talktome/voxta-go/internal/fakehub"
	"github.com/talktome/voxta-go/internal/logging"
	"go.uber.org/zap"
)

var (
	port       = flag.Int("port", 5384, "HTTP port")
	name       = flag.String("name", "", "Service name (default: hostname-voxta-fakehub)")
	apiKey     = flag.String("api-key", "", "Required API key (empty accepts any client)")
	transcript = flag.String("transcript", "hello there", "Text recognized from any captured speech")
	reply      = flag.String("reply", "Hi! I am a test tone.", "Reply text")
	chunks     = flag.Int("chunks", 25, "Audio chunks per reply (0 for text-only replies)")
	urlAudio   = flag.Bool("url-audio", false, "Publish reply audio as file URLs instead of streaming chunks")
	logFile    = flag.String("log-file", "voxta-fakehub.log", "Log file path")
	logLevel   = flag.String("log-level", "info", "Log level")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
)

func main() {
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: *logLevel, File: *logFile, Console: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Determine service name
	serviceName := *name
	if serviceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serviceName = fmt.Sprintf("%s-voxta-fakehub", hostname)
	}

	hub, err := fakehub.New(fakehub.Config{
		APIKey:     *apiKey,
		Transcript: *transcript,
		Logger:     logger.Named("fakehub"),
	})
	if err != nil {
		logger.Fatal("failed to create hub", zap.Error(err))
	}
	defer hub.Close()
	hub.SetDefaultReply(fakehub.Reply{Text: *reply, Chunks: *chunks, Frames: true, URL: *urlAudio, Pace: 20 * time.Millisecond})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(*port)),
		Handler:           hub,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !*noMDNS {
		disc := discovery.NewManager(discovery.Config{
			ServiceName: serviceName,
			Port:        *port,
			Path:        fakehub.HubPath,
			Logger:      logger.Named("discovery"),
		})
		if err := disc.Advertise(); err != nil {
			logger.Warn("mdns advertisement failed", zap.Error(err))
		}
		defer disc.Stop()
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutting down", zap.Stringer("signal", sig))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("serving fake hub",
		zap.String("name", serviceName), zap.Int("port", *port), zap.String("path", fakehub.HubPath))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", zap.Error(err))
	}
}
