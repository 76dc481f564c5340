package stt

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
)

// Config holds whisper configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Dir is the whisper.cpp checkout. Binary and Model default to
	// paths inside it.
	Dir    string
	Binary string
	Model  string

	// Language is passed with -l. One fixed language per process.
	Language string

	Timeout time.Duration

	Runner engine.Runner
	Events *bridge.Log
	Logger *slog.Logger
}

// Option is a functional option for configuring the transcriber.
type Option func(*Config)

// WithDir sets the whisper.cpp directory.
func WithDir(dir string) Option {
	return func(c *Config) { c.Dir = dir }
}

// WithBinary overrides the whisper-cli path.
func WithBinary(path string) Option {
	return func(c *Config) { c.Binary = path }
}

// WithModel overrides the ggml model path.
func WithModel(path string) Option {
	return func(c *Config) { c.Model = path }
}

// WithLanguage sets the transcription language code.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithTimeout bounds each engine invocation.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRunner replaces the process runner.
func WithRunner(r engine.Runner) Option {
	return func(c *Config) { c.Runner = r }
}

// WithEvents sets the turn event log.
func WithEvents(l *bridge.Log) Option {
	return func(c *Config) { c.Events = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the layout of a stock whisper.cpp build.
func DefaultConfig() *Config {
	return &Config{
		Dir:      filepath.Join("app", "whisper.cpp"),
		Language: "id",
		Timeout:  2 * time.Minute,
		Logger:   slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// resolve fills paths derived from Dir.
func (c *Config) resolve() {
	if c.Binary == "" {
		c.Binary = filepath.Join(c.Dir, "build", "bin", "whisper-cli")
	}
	if c.Model == "" {
		c.Model = filepath.Join(c.Dir, "models", "ggml-large-v3-turbo.bin")
	}
	if c.Language == "" {
		c.Language = "id"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
