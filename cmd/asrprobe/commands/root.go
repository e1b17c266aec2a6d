package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/skypro1111/asr-probe/internal/config"
	"github.com/skypro1111/asr-probe/internal/harness"
	"github.com/skypro1111/asr-probe/internal/logging"
	"github.com/skypro1111/asr-probe/internal/metrics"
)

// ErrTestsFailed is returned when at least one scenario failed
var ErrTestsFailed = errors.New("some tests failed")

// probe holds the global flags shared by every subcommand
type probe struct {
	configPath  string
	host        string
	port        int
	logLevel    string
	metricsAddr string
	outputJSON  bool
}

// env is the runtime assembled for one subcommand invocation
type env struct {
	ctx     context.Context
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	cleanup []func()
}

func (e *env) close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
}

// NewRootCmd builds the asrprobe command tree
func NewRootCmd() *cobra.Command {
	p := &probe{}

	cmd := &cobra.Command{
		Use:   "asrprobe",
		Short: "Speech recognition service test harness",
		Long: `asrprobe exercises a speech recognition service over its two transports.

  framed  one length-prefixed TCP request per utterance (connection, synthetic,
          wav and stress scenarios over a shared connection)
  stream  a full-duplex WebSocket session: start signal, paced audio chunks,
          end signal, with partial and final results printed as they arrive

Flags override values from the configuration file.

Examples:
  asrprobe framed --host 10.0.0.5 --port 10096 --test all --stress 20
  asrprobe framed --wav sample.wav --test connection
  asrprobe stream --audio_in sample.wav --chunk_ms 100 --mode 2pass`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&p.configPath, "config", "", "configuration file (default: built-in defaults)")
	flags.StringVar(&p.host, "host", "", "service host")
	flags.IntVar(&p.port, "port", 0, "service port")
	flags.StringVar(&p.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&p.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	flags.BoolVar(&p.outputJSON, "json", false, "print the report as JSON")

	cmd.AddCommand(newFramedCmd(p))
	cmd.AddCommand(newStreamCmd(p))

	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads the configuration, applies the global flags and then the
// subcommand overrides, and validates the result
func (p *probe) loadConfig(cmd *cobra.Command, apply func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(p.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = p.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = p.port
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = p.logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = p.metricsAddr
	}

	if apply != nil {
		apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setup assembles logger, metrics and a signal-aware context
func (p *probe) setup(cmd *cobra.Command, apply func(*config.Config)) (*env, error) {
	cfg, err := p.loadConfig(cmd, apply)
	if err != nil {
		return nil, err
	}

	logger, logCloser := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	e := &env{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger,
		cleanup: []func(){func() { logCloser.Close() }, stop},
	}

	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		e.metrics = metrics.NewMetrics(reg)

		shutdown, err := serveMetrics(cfg.Metrics.Address, reg, logger)
		if err != nil {
			e.close()
			return nil, err
		}
		e.cleanup = append(e.cleanup, shutdown)
	}

	logger.Debug("Configuration loaded",
		slog.String("config_path", p.configPath),
		slog.String("address", cfg.Server.Address()),
		slog.Int("chunk_ms", cfg.Audio.ChunkMs),
		slog.String("mode", cfg.Streaming.Mode))

	return e, nil
}

// serveMetrics exposes the registry until the returned function is called
func serveMetrics(addr string, g prometheus.Gatherer, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Serving metrics", slog.String("address", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}

// finish prints the report and turns a failed run into ErrTestsFailed
func (p *probe) finish(out io.Writer, report *harness.Report) error {
	if p.outputJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		report.WriteText(out)
	}

	if !report.Passed() {
		return ErrTestsFailed
	}
	return nil
}
