package tts

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
)

// Config holds TTS engine configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Dir holds the model files. Model and VoiceConfig default to
	// paths inside it.
	Dir         string
	Binary      string
	Model       string
	VoiceConfig string

	// Speaker selects a voice in multi-speaker models.
	Speaker string

	// ScratchDir receives the synthesized files.
	ScratchDir string

	Timeout time.Duration

	Runner engine.Runner
	Events *bridge.Log
	Logger *slog.Logger
}

// Option is a functional option for configuring TTS engines.
type Option func(*Config)

// WithDir sets the model directory.
func WithDir(dir string) Option {
	return func(c *Config) { c.Dir = dir }
}

// WithBinary overrides the engine executable.
func WithBinary(path string) Option {
	return func(c *Config) { c.Binary = path }
}

// WithModel sets the model checkpoint path.
func WithModel(path string) Option {
	return func(c *Config) { c.Model = path }
}

// WithVoiceConfig sets the model's voice configuration file.
func WithVoiceConfig(path string) Option {
	return func(c *Config) { c.VoiceConfig = path }
}

// WithSpeaker sets the speaker identity.
func WithSpeaker(speaker string) Option {
	return func(c *Config) { c.Speaker = speaker }
}

// WithScratchDir sets where output files are written.
func WithScratchDir(dir string) Option {
	return func(c *Config) { c.ScratchDir = dir }
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

// DefaultScratchDir is the shared output directory for synthesized audio.
func DefaultScratchDir() string {
	return filepath.Join(os.TempDir(), "voicechat-tts")
}

// DefaultConfig returns the Coqui layout used by the service.
func DefaultConfig() *Config {
	return &Config{
		Dir:        filepath.Join("app", "coqui_utils"),
		Binary:     "tts",
		Speaker:    "wibowo",
		ScratchDir: DefaultScratchDir(),
		Timeout:    2 * time.Minute,
		Logger:     slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func (c *Config) runner() engine.Runner {
	if c.Runner != nil {
		return c.Runner
	}
	return engine.NewExecRunner(c.Timeout, c.Logger)
}
