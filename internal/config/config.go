package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names selecting the backend endpoints.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Config represents the complete capture agent configuration.
type Config struct {
	Environment string           `yaml:"environment"`
	Endpoints   EndpointsConfig  `yaml:"endpoints"`
	API         APIConfig        `yaml:"api"`
	Audio       AudioConfig      `yaml:"audio"`
	Activation  ActivationConfig `yaml:"activation"`
	Queue       QueueConfig      `yaml:"queue"`
	HTTP        HTTPConfig       `yaml:"http"`
	Logging     LoggingConfig    `yaml:"logging"`
	LockFile    string           `yaml:"lock_file"`
}

// EndpointsConfig holds the per-environment backend base URLs.
type EndpointsConfig struct {
	Dev  EndpointPair `yaml:"dev"`
	Prod EndpointPair `yaml:"prod"`
}

// EndpointPair is one environment's HTTP and WebSocket base URLs.
type EndpointPair struct {
	APIURL string `yaml:"api_url"`
	WSURL  string `yaml:"ws_url"`
}

// APIConfig contains backend client configuration.
type APIConfig struct {
	Token   string `yaml:"token"`
	Mode    string `yaml:"mode"`    // "http" or "ws"
	Timeout int    `yaml:"timeout"` // seconds
}

// AudioConfig contains audio capture parameters.
type AudioConfig struct {
	SampleRate  int `yaml:"sample_rate"`
	FrameSize   int `yaml:"frame_size"`   // samples per analysis frame
	PreBufferMs int `yaml:"prebuffer_ms"` // pre-activation retention window
	OverlapMs   int `yaml:"overlap_ms"`   // chunk tail carried into the next chunk
}

// ActivationConfig contains the energy detector and state machine tuning.
type ActivationConfig struct {
	Threshold        float64 `yaml:"threshold"`          // activation level, 0..1
	SilenceThreshold float64 `yaml:"silence_threshold"`  // silence band ceiling, 0..1
	Smoothing        float64 `yaml:"smoothing"`          // level smoothing factor
	ActivationFrames int     `yaml:"activation_frames"`  // consecutive voice frames to activate
	SilenceFrames    int     `yaml:"silence_frames"`     // consecutive silent frames to deactivate
	MaxChunkDuration float64 `yaml:"max_chunk_duration"` // seconds, force-send cap
	MaxReactivations int     `yaml:"max_reactivations"`
}

// QueueConfig contains overflow queue settings.
type QueueConfig struct {
	Path      string `yaml:"path"`
	MaxChunks int    `yaml:"max_chunks"`
}

// HTTPConfig contains the local status server configuration.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the configuration file, applies environment variable
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets the environment override deployment-specific
// values so the same config file works across dev and prod.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ATLAS_ENV"); v != "" {
		c.Environment = strings.ToLower(v)
	}
	if v := os.Getenv("ATLAS_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("ATLAS_API_URL"); v != "" {
		c.activePair().APIURL = v
	}
	if v := os.Getenv("ATLAS_WS_URL"); v != "" {
		c.activePair().WSURL = v
	}
}

func (c *Config) activePair() *EndpointPair {
	if c.Environment == EnvProd {
		return &c.Endpoints.Prod
	}
	return &c.Endpoints.Dev
}

// APIBaseURL returns the HTTP base URL for the active environment.
func (c *Config) APIBaseURL() string {
	return c.activePair().APIURL
}

// WSBaseURL returns the WebSocket base URL for the active environment.
func (c *Config) WSBaseURL() string {
	return c.activePair().WSURL
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	if c.Environment != EnvDev && c.Environment != EnvProd {
		return fmt.Errorf("environment must be %q or %q, got %q", EnvDev, EnvProd, c.Environment)
	}

	pair := c.activePair()
	if pair.APIURL == "" {
		return fmt.Errorf("endpoints: api_url for environment %q cannot be empty", c.Environment)
	}
	if c.API.Mode == "ws" && pair.WSURL == "" {
		return fmt.Errorf("endpoints: ws_url for environment %q cannot be empty in ws mode", c.Environment)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Activation.Validate(); err != nil {
		return fmt.Errorf("activation config: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.Mode != "http" && a.Mode != "ws" {
		return fmt.Errorf("mode must be 'http' or 'ws', got '%s'", a.Mode)
	}
	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}
	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	switch a.SampleRate {
	case 8000, 16000, 22050, 44100, 48000:
	default:
		return fmt.Errorf("sample_rate must be a standard rate (8000..48000), got %d", a.SampleRate)
	}

	if a.FrameSize < 64 || a.FrameSize > 8192 {
		return fmt.Errorf("frame_size must be between 64 and 8192 samples, got %d", a.FrameSize)
	}

	if a.PreBufferMs < 0 {
		return fmt.Errorf("prebuffer_ms cannot be negative, got %d", a.PreBufferMs)
	}

	if a.OverlapMs < 0 {
		return fmt.Errorf("overlap_ms cannot be negative, got %d", a.OverlapMs)
	}

	return nil
}

// Validate validates activation configuration.
func (a *ActivationConfig) Validate() error {
	if a.Threshold <= 0 || a.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", a.Threshold)
	}

	if a.SilenceThreshold < 0 || a.SilenceThreshold > a.Threshold {
		return fmt.Errorf("silence_threshold must be between 0 and threshold (%f), got %f",
			a.Threshold, a.SilenceThreshold)
	}

	if a.Smoothing < 0 || a.Smoothing >= 1 {
		return fmt.Errorf("smoothing must be in [0, 1), got %f", a.Smoothing)
	}

	if a.ActivationFrames < 1 {
		return fmt.Errorf("activation_frames must be at least 1, got %d", a.ActivationFrames)
	}

	if a.SilenceFrames < 1 {
		return fmt.Errorf("silence_frames must be at least 1, got %d", a.SilenceFrames)
	}

	if a.MaxChunkDuration <= 0 {
		return fmt.Errorf("max_chunk_duration must be positive, got %f", a.MaxChunkDuration)
	}

	if a.MaxReactivations < 0 {
		return fmt.Errorf("max_reactivations cannot be negative, got %d", a.MaxReactivations)
	}

	return nil
}

// Validate validates queue configuration.
func (q *QueueConfig) Validate() error {
	if q.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if q.MaxChunks < 1 {
		return fmt.Errorf("max_chunks must be at least 1, got %d", q.MaxChunks)
	}
	return nil
}

// Validate validates HTTP status server configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}
		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when the status server is enabled")
		}
	}
	return nil
}

// Validate validates logging configuration.
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

	return nil
}

// GetTimeout returns the API timeout as a time.Duration.
func (a *APIConfig) GetTimeout() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetMaxChunkDuration returns the force-send cap as a time.Duration.
func (a *ActivationConfig) GetMaxChunkDuration() time.Duration {
	return time.Duration(a.MaxChunkDuration * float64(time.Second))
}

// GetOverlap returns the chunk overlap window as a time.Duration.
func (a *AudioConfig) GetOverlap() time.Duration {
	return time.Duration(a.OverlapMs) * time.Millisecond
}
