// Command asrmock runs a mock speech recognition service speaking both probe
// transports, with an HTTP status API for inspecting recorded sessions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/asr-probe/internal/audio"
	"github.com/skypro1111/asr-probe/internal/config"
	"github.com/skypro1111/asr-probe/internal/logging"
	"github.com/skypro1111/asr-probe/internal/metrics"
	"github.com/skypro1111/asr-probe/internal/server"
)

const (
	serviceName    = "asr-mock"
	serviceVersion = "1.0.0"
)

type options struct {
	configPath    string
	framedPort    int
	websocketPort int
	httpPort      int
	logLevel      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "asrmock",
		Short: "Mock speech recognition service",
		Long: `asrmock serves the length-prefixed TCP protocol and the streaming
WebSocket protocol. Transcripts describe the voice activity found in the
audio, so results are deterministic for synthetic input.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts.configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "configuration file (default: built-in defaults)")
	flags.IntVar(&opts.framedPort, "framed-port", 0, "framed TCP port")
	flags.IntVar(&opts.websocketPort, "websocket-port", 0, "WebSocket port")
	flags.IntVar(&opts.httpPort, "http-port", 0, "HTTP status API port")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("framed-port") {
		cfg.Mock.FramedPort = opts.framedPort
	}
	if flags.Changed("websocket-port") {
		cfg.Mock.WebSocketPort = opts.websocketPort
	}
	if flags.Changed("http-port") {
		cfg.Mock.HTTPPort = opts.httpPort
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Mock.BindAddress),
		slog.Int("framed_port", cfg.Mock.FramedPort),
		slog.Int("websocket_port", cfg.Mock.WebSocketPort),
		slog.Int("http_port", cfg.Mock.HTTPPort),
		slog.Int("max_sessions", cfg.Mock.MaxSessions),
		slog.Int("partial_every", cfg.Mock.PartialEvery),
		slog.Float64("vad_threshold", float64(cfg.Mock.VADThreshold)),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize Prometheus metrics
	reg := metrics.NewRegistry()
	appMetrics := metrics.NewMetrics(reg)
	logger.Info("Prometheus metrics initialized")

	format := audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BitDepth:   cfg.Audio.BitDepth,
	}

	registry := server.NewRegistry(logger, appMetrics, format, cfg.Mock.MaxSessions, cfg.Mock.GetSessionTTLDuration())
	defer registry.Stop()
	logger.Info("Session registry initialized",
		slog.Duration("session_ttl", cfg.Mock.GetSessionTTLDuration()),
	)

	recognizer, err := server.NewRecognizer(format, cfg.Mock.VADThreshold, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}

	framedServer := server.NewFramedServer(server.FramedConfig{
		Address:         bindAddress(cfg.Mock.BindAddress, cfg.Mock.FramedPort),
		MaxRequestSize:  cfg.Mock.MaxRequestSize,
		ResponseLatency: cfg.Mock.GetResponseLatencyDuration(),
	}, logger, registry, recognizer, appMetrics)

	wsServer := server.NewWebSocketServer(server.WebSocketConfig{
		Address:         bindAddress(cfg.Mock.BindAddress, cfg.Mock.WebSocketPort),
		Path:            cfg.Server.Path,
		PartialEvery:    cfg.Mock.PartialEvery,
		MaxMessageSize:  int64(cfg.Mock.MaxRequestSize),
		ResponseLatency: cfg.Mock.GetResponseLatencyDuration(),
		VADThreshold:    cfg.Mock.VADThreshold,
	}, logger, registry, recognizer, appMetrics)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Address: bindAddress(cfg.Mock.BindAddress, cfg.Mock.HTTPPort),
	}, logger, registry, framedServer, wsServer, appMetrics, reg)

	if err := framedServer.Start(); err != nil {
		return fmt.Errorf("failed to start framed server: %w", err)
	}

	if err := wsServer.Start(); err != nil {
		framedServer.Stop()
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}

	if err := httpServer.Start(); err != nil {
		shutdownWebSocket(logger, wsServer)
		framedServer.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("framed_address", framedServer.Addr().String()),
		slog.String("websocket_url", wsServer.URL()),
		slog.String("http_address", httpServer.Addr().String()),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	shutdownWebSocket(logger, wsServer)

	if err := framedServer.Stop(); err != nil {
		logger.Error("Error stopping framed server", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := framedServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("requests_received", stats.RequestsReceived),
		slog.Uint64("requests_processed", stats.RequestsProcessed),
		slog.Uint64("frame_errors", stats.FrameErrors),
		slog.Int("sessions", registry.Count()),
	)

	logger.Info("Service stopped")
	return nil
}

func shutdownWebSocket(logger *slog.Logger, ws *server.WebSocketServer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ws.Stop(ctx); err != nil {
		logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
	}
}

func bindAddress(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
