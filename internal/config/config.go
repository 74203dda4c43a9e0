package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete orchestrator service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Storage       StorageConfig       `yaml:"storage"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Notes         NotesConfig         `yaml:"notes"`
	Database      DatabaseConfig      `yaml:"database"`
	Events        EventsConfig        `yaml:"events"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// RecorderConfig represents the capture client configuration
type RecorderConfig struct {
	Device  DeviceConfig  `yaml:"device"`
	Capture CaptureConfig `yaml:"capture"`
	Upload  UploadConfig  `yaml:"upload"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// StorageConfig contains audio and transcript persistence paths
type StorageConfig struct {
	AudioDir       string `yaml:"audio_dir"`
	AudioExtension string `yaml:"audio_extension"`
	TranscriptDir  string `yaml:"transcript_dir"`
}

// TranscriptionConfig contains transcription collaborator configuration
type TranscriptionConfig struct {
	Provider      string `yaml:"provider"` // "http" or "websocket"
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	ContentType   string `yaml:"content_type"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	SampleRate    int    `yaml:"sample_rate"`  // websocket provider only
	StreamChunk   int    `yaml:"stream_chunk"` // websocket send size, bytes
}

// NotesConfig contains note generation collaborator configuration
type NotesConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// DatabaseConfig contains optional Postgres visit persistence configuration.
// An empty DSN disables the visit store.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// EventsConfig contains optional AMQP event publishing configuration.
// An empty URL disables publishing.
type EventsConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// SessionConfig contains session registry configuration
type SessionConfig struct {
	SessionTimeout  int `yaml:"session_timeout"`  // seconds
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
}

// DeviceConfig contains capture device configuration
type DeviceConfig struct {
	InputPath     string `yaml:"input_path"`
	FragmentBytes int    `yaml:"fragment_bytes"`
	IntervalMs    int    `yaml:"interval_ms"`
}

// CaptureConfig contains segment buffering and flush configuration
type CaptureConfig struct {
	FlushThresholdBytes int `yaml:"flush_threshold_bytes"`
	MaxPendingEpochs    int `yaml:"max_pending_epochs"`
}

// UploadConfig contains segment upload transport configuration
type UploadConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the orchestrator configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadRecorder reads and parses the capture client configuration file
func LoadRecorder(path string) (*RecorderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config RecorderConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the orchestrator configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Notes.Validate(); err != nil {
		return fmt.Errorf("notes config: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate performs comprehensive validation of the capture client configuration
func (c *RecorderConfig) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.AudioDir == "" {
		return fmt.Errorf("audio_dir cannot be empty")
	}

	if s.AudioExtension == "" {
		return fmt.Errorf("audio_extension cannot be empty")
	}

	if s.TranscriptDir == "" {
		return fmt.Errorf("transcript_dir cannot be empty")
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	validProviders := map[string]bool{"http": true, "websocket": true}
	if !validProviders[t.Provider] {
		return fmt.Errorf("provider must be 'http' or 'websocket', got '%s'", t.Provider)
	}

	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Provider == "http" && t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty for the http provider")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.Provider == "websocket" {
		if t.SampleRate < 8000 {
			return fmt.Errorf("sample_rate must be at least 8000 Hz for the websocket provider, got %d", t.SampleRate)
		}

		if t.StreamChunk < 1024 {
			return fmt.Errorf("stream_chunk must be at least 1024 bytes, got %d", t.StreamChunk)
		}
	}

	return nil
}

// Validate validates notes configuration
func (n *NotesConfig) Validate() error {
	if n.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if n.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if n.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if n.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", n.Timeout)
	}

	if n.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", n.MaxRetries)
	}

	return nil
}

// Validate validates database configuration
func (d *DatabaseConfig) Validate() error {
	if d.DSN == "" {
		return nil
	}

	if d.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1, got %d", d.MaxOpenConns)
	}

	if d.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns cannot be negative, got %d", d.MaxIdleConns)
	}

	if d.MaxIdleConns > d.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) cannot exceed max_open_conns (%d)",
			d.MaxIdleConns, d.MaxOpenConns)
	}

	return nil
}

// Validate validates events configuration
func (e *EventsConfig) Validate() error {
	if e.URL == "" {
		return nil
	}

	if e.Exchange == "" {
		return fmt.Errorf("exchange cannot be empty when events are enabled")
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", s.SessionTimeout)
	}

	if s.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", s.CleanupInterval)
	}

	return nil
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	if d.InputPath == "" {
		return fmt.Errorf("input_path cannot be empty")
	}

	if d.FragmentBytes < 1 {
		return fmt.Errorf("fragment_bytes must be at least 1, got %d", d.FragmentBytes)
	}

	if d.IntervalMs < 1 {
		return fmt.Errorf("interval_ms must be at least 1, got %d", d.IntervalMs)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.FlushThresholdBytes < 1 {
		return fmt.Errorf("flush_threshold_bytes must be at least 1, got %d", c.FlushThresholdBytes)
	}

	if c.MaxPendingEpochs < 1 {
		return fmt.Errorf("max_pending_epochs must be at least 1, got %d", c.MaxPendingEpochs)
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	if u.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if u.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", u.Timeout)
	}

	if u.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", u.MaxRetries)
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

	return nil
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the notes timeout as a time.Duration
func (n *NotesConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(n.Timeout) * time.Second
}

// GetSessionTimeoutDuration returns the session timeout as a time.Duration
func (s *SessionConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}

// GetCleanupIntervalDuration returns the cleanup interval as a time.Duration
func (s *SessionConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}

// GetIntervalDuration returns the device emission interval as a time.Duration
func (d *DeviceConfig) GetIntervalDuration() time.Duration {
	return time.Duration(d.IntervalMs) * time.Millisecond
}

// GetTimeoutDuration returns the upload timeout as a time.Duration
func (u *UploadConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(u.Timeout) * time.Second
}
