package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete probe and mock server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Framed    FramedConfig    `yaml:"framed"`
	Audio     AudioConfig     `yaml:"audio"`
	Streaming StreamingConfig `yaml:"streaming"`
	Harness   HarnessConfig   `yaml:"harness"`
	Mock      MockConfig      `yaml:"mock"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig describes the recognition service under test
type ServerConfig struct {
	Host           string  `yaml:"host"`
	Port           int     `yaml:"port"`
	Path           string  `yaml:"path"`            // WebSocket path
	Secure         bool    `yaml:"secure"`          // wss instead of ws
	ConnectTimeout float64 `yaml:"connect_timeout"` // seconds
}

// FramedConfig contains length-prefixed TCP client parameters
type FramedConfig struct {
	ReadTimeout     float64 `yaml:"read_timeout"`      // seconds, 0 disables
	MaxResponseSize int     `yaml:"max_response_size"` // bytes
}

// AudioConfig contains the PCM format and chunking parameters
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
	ChunkMs    int `yaml:"chunk_ms"`
}

// StreamingConfig contains WebSocket session parameters
type StreamingConfig struct {
	Mode          string  `yaml:"mode"`
	ChunkSize     []int   `yaml:"chunk_size"`
	ChunkInterval int     `yaml:"chunk_interval"`
	Hotwords      string  `yaml:"hotwords"`
	GracePeriod   float64 `yaml:"grace_period"`  // seconds
	DrainTimeout  float64 `yaml:"drain_timeout"` // seconds
}

// HarnessConfig selects and parameterizes the test scenarios
type HarnessConfig struct {
	Test              string  `yaml:"test"` // connection, synthetic, all
	WAVPath           string  `yaml:"wav_path"`
	StressCount       int     `yaml:"stress_count"`
	StressInterval    float64 `yaml:"stress_interval"` // seconds
	ToneFrequency     float64 `yaml:"tone_frequency"`
	ToneAmplitude     float64 `yaml:"tone_amplitude"`
	SyntheticDuration float64 `yaml:"synthetic_duration"` // seconds
	StressDuration    float64 `yaml:"stress_duration"`    // seconds
}

// MockConfig contains mock ASR server configuration
type MockConfig struct {
	BindAddress     string  `yaml:"bind_address"`
	FramedPort      int     `yaml:"framed_port"`
	WebSocketPort   int     `yaml:"websocket_port"`
	HTTPPort        int     `yaml:"http_port"`
	PartialEvery    int     `yaml:"partial_every"` // voiced chunks between partial results
	VADThreshold    float32 `yaml:"vad_threshold"`
	MaxSessions     int     `yaml:"max_sessions"`
	MaxRequestSize  int     `yaml:"max_request_size"` // bytes
	ResponseLatency float64 `yaml:"response_latency"` // seconds of artificial delay
	SessionTTL      float64 `yaml:"session_ttl"`      // seconds a finished session stays listed
}

// MetricsConfig contains Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "localhost",
			Port:           10096,
			Path:           "/",
			ConnectTimeout: 10,
		},
		Framed: FramedConfig{
			ReadTimeout:     10,
			MaxResponseSize: 1 << 20,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
			ChunkMs:    100,
		},
		Streaming: StreamingConfig{
			Mode:          "2pass",
			ChunkSize:     []int{5, 10, 5},
			ChunkInterval: 10,
			GracePeriod:   1,
			DrainTimeout:  5,
		},
		Harness: HarnessConfig{
			Test:              "all",
			StressInterval:    0.1,
			ToneFrequency:     440,
			ToneAmplitude:     0.3,
			SyntheticDuration: 2,
			StressDuration:    1,
		},
		Mock: MockConfig{
			BindAddress:    "0.0.0.0",
			FramedPort:     10095,
			WebSocketPort:  10096,
			HTTPPort:       8080,
			PartialEvery:   3,
			VADThreshold:   0.1,
			MaxSessions:    100,
			MaxRequestSize: 16 << 20,
			SessionTTL:     300,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file and overlays it on the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Framed.Validate(); err != nil {
		return fmt.Errorf("framed config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Streaming.Validate(); err != nil {
		return fmt.Errorf("streaming config: %w", err)
	}

	if err := c.Harness.Validate(); err != nil {
		return fmt.Errorf("harness config: %w", err)
	}

	if err := c.Mock.Validate(); err != nil {
		return fmt.Errorf("mock config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Path == "" || s.Path[0] != '/' {
		return fmt.Errorf("path must start with '/', got '%s'", s.Path)
	}

	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %f", s.ConnectTimeout)
	}

	return nil
}

// Validate validates framed client configuration
func (f *FramedConfig) Validate() error {
	if f.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout cannot be negative, got %f", f.ReadTimeout)
	}

	if f.MaxResponseSize < 1 {
		return fmt.Errorf("max_response_size must be at least 1 byte, got %d", f.MaxResponseSize)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", a.Channels)
	}

	if a.BitDepth < 8 || a.BitDepth%8 != 0 {
		return fmt.Errorf("bit_depth must be a positive multiple of 8, got %d", a.BitDepth)
	}

	if a.ChunkMs < 1 {
		return fmt.Errorf("chunk_ms must be at least 1, got %d", a.ChunkMs)
	}

	if a.GetChunkBytes() < 1 {
		return fmt.Errorf("chunk_ms %d yields an empty chunk at %d Hz", a.ChunkMs, a.SampleRate)
	}

	return nil
}

// Validate validates streaming configuration
func (s *StreamingConfig) Validate() error {
	if s.Mode != "online" && s.Mode != "2pass" {
		return fmt.Errorf("mode must be 'online' or '2pass', got '%s'", s.Mode)
	}

	if len(s.ChunkSize) != 0 && len(s.ChunkSize) != 3 {
		return fmt.Errorf("chunk_size must have 3 elements, got %d", len(s.ChunkSize))
	}

	for i, v := range s.ChunkSize {
		if v < 0 {
			return fmt.Errorf("chunk_size[%d] cannot be negative, got %d", i, v)
		}
	}

	if s.ChunkInterval < 0 {
		return fmt.Errorf("chunk_interval cannot be negative, got %d", s.ChunkInterval)
	}

	if s.GracePeriod < 0 {
		return fmt.Errorf("grace_period cannot be negative, got %f", s.GracePeriod)
	}

	if s.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %f", s.DrainTimeout)
	}

	return nil
}

// Validate validates harness configuration
func (h *HarnessConfig) Validate() error {
	validTests := map[string]bool{"connection": true, "synthetic": true, "all": true}
	if !validTests[h.Test] {
		return fmt.Errorf("test must be one of [connection, synthetic, all], got '%s'", h.Test)
	}

	if h.StressCount < 0 {
		return fmt.Errorf("stress_count cannot be negative, got %d", h.StressCount)
	}

	if h.StressInterval < 0 {
		return fmt.Errorf("stress_interval cannot be negative, got %f", h.StressInterval)
	}

	if h.ToneFrequency <= 0 {
		return fmt.Errorf("tone_frequency must be positive, got %f", h.ToneFrequency)
	}

	if h.ToneAmplitude < 0 || h.ToneAmplitude > 1 {
		return fmt.Errorf("tone_amplitude must be between 0 and 1, got %f", h.ToneAmplitude)
	}

	if h.SyntheticDuration <= 0 {
		return fmt.Errorf("synthetic_duration must be positive, got %f", h.SyntheticDuration)
	}

	if h.StressDuration <= 0 {
		return fmt.Errorf("stress_duration must be positive, got %f", h.StressDuration)
	}

	return nil
}

// Validate validates mock server configuration
func (m *MockConfig) Validate() error {
	if m.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	ports := map[string]int{
		"framed_port":    m.FramedPort,
		"websocket_port": m.WebSocketPort,
		"http_port":      m.HTTPPort,
	}
	for name, port := range ports {
		// 0 lets the kernel pick a port
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s must be between 0 and 65535, got %d", name, port)
		}
	}

	if m.PartialEvery < 1 {
		return fmt.Errorf("partial_every must be at least 1, got %d", m.PartialEvery)
	}

	if m.VADThreshold < 0 || m.VADThreshold > 1 {
		return fmt.Errorf("vad_threshold must be between 0 and 1, got %f", m.VADThreshold)
	}

	if m.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", m.MaxSessions)
	}

	if m.MaxRequestSize < 1024 {
		return fmt.Errorf("max_request_size must be at least 1024 bytes, got %d", m.MaxRequestSize)
	}

	if m.ResponseLatency < 0 {
		return fmt.Errorf("response_latency cannot be negative, got %f", m.ResponseLatency)
	}

	if m.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %f", m.SessionTTL)
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Address == "" {
		return fmt.Errorf("address cannot be empty when metrics are enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Address returns host:port of the service under test
func (s *ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WebSocketURL returns the ws:// or wss:// URL of the service under test
func (s *ServerConfig) WebSocketURL() string {
	scheme := "ws"
	if s.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, s.Address(), s.Path)
}

// GetConnectTimeoutDuration returns the connect timeout as a time.Duration
func (s *ServerConfig) GetConnectTimeoutDuration() time.Duration {
	return seconds(s.ConnectTimeout)
}

// GetReadTimeoutDuration returns the framed read timeout as a time.Duration
func (f *FramedConfig) GetReadTimeoutDuration() time.Duration {
	return seconds(f.ReadTimeout)
}

// GetChunkBytes returns the size of one audio chunk in bytes
func (a *AudioConfig) GetChunkBytes() int {
	return a.SampleRate * (a.BitDepth / 8) * a.Channels * a.ChunkMs / 1000
}

// GetChunkDuration returns the chunk pacing interval as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkMs) * time.Millisecond
}

// GetGracePeriodDuration returns the pre-EndSignal grace period as a time.Duration
func (s *StreamingConfig) GetGracePeriodDuration() time.Duration {
	return seconds(s.GracePeriod)
}

// GetDrainTimeoutDuration returns the receiver drain timeout as a time.Duration
func (s *StreamingConfig) GetDrainTimeoutDuration() time.Duration {
	return seconds(s.DrainTimeout)
}

// GetStressIntervalDuration returns the pause between stress requests as a time.Duration
func (h *HarnessConfig) GetStressIntervalDuration() time.Duration {
	return seconds(h.StressInterval)
}

// GetSyntheticDuration returns the synthetic tone length as a time.Duration
func (h *HarnessConfig) GetSyntheticDuration() time.Duration {
	return seconds(h.SyntheticDuration)
}

// GetStressDuration returns the stress tone length as a time.Duration
func (h *HarnessConfig) GetStressDuration() time.Duration {
	return seconds(h.StressDuration)
}

// GetResponseLatencyDuration returns the artificial response delay as a time.Duration
func (m *MockConfig) GetResponseLatencyDuration() time.Duration {
	return seconds(m.ResponseLatency)
}

// GetSessionTTLDuration returns the finished session retention as a time.Duration
func (m *MockConfig) GetSessionTTLDuration() time.Duration {
	return seconds(m.SessionTTL)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
