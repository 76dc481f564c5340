// Package config resolves voicechat settings from flags, the environment,
// an optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/history"
	"github.com/teslashibe/voicechat/pkg/inference"
	"github.com/teslashibe/voicechat/pkg/pipeline"
	"github.com/teslashibe/voicechat/pkg/stt"
	"github.com/teslashibe/voicechat/pkg/tts"
)

// Config holds every runtime setting. Keys match the environment variable
// names in lower case.
type Config struct {
	HTTPAddress string `mapstructure:"http_address"`
	LogLevel    string `mapstructure:"log_level"`

	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model"`

	WhisperDir    string `mapstructure:"whisper_dir"`
	WhisperBinary string `mapstructure:"whisper_binary"`
	WhisperModel  string `mapstructure:"whisper_model"`
	STTLanguage   string `mapstructure:"stt_language"`

	CoquiDir     string `mapstructure:"coqui_dir"`
	CoquiBinary  string `mapstructure:"coqui_binary"`
	CoquiModel   string `mapstructure:"coqui_model"`
	CoquiConfig  string `mapstructure:"coqui_config"`
	CoquiSpeaker string `mapstructure:"coqui_speaker"`

	// Piper is only used as a fallback when PiperModel is set.
	PiperBinary string `mapstructure:"piper_binary"`
	PiperModel  string `mapstructure:"piper_model"`

	HistoryFile   string `mapstructure:"history_file"`
	HistoryWindow int    `mapstructure:"history_window"`
	EventLog      string `mapstructure:"event_log"`
	ScratchDir    string `mapstructure:"scratch_dir"`

	STTTimeout time.Duration `mapstructure:"stt_timeout"`
	LLMTimeout time.Duration `mapstructure:"llm_timeout"`
	TTSTimeout time.Duration `mapstructure:"tts_timeout"`
}

// Options controls where Load looks for settings.
type Options struct {
	// EnvFile is loaded into the process environment first. Variables
	// already set win. Empty means ".env".
	EnvFile string

	// ConfigFile is an optional YAML, TOML or JSON file.
	ConfigFile string

	// Flags maps config keys to command-line flags. A flag only overrides
	// when it was set explicitly.
	Flags map[string]*pflag.Flag

	Logger *slog.Logger
}

func setDefaults(v *viper.Viper) {
	sttDefaults := stt.DefaultConfig()
	ttsDefaults := tts.DefaultConfig()
	timeouts := pipeline.DefaultTimeouts()

	v.SetDefault("http_address", ":8000")
	v.SetDefault("log_level", "info")

	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", inference.DefaultConfig().Model)

	v.SetDefault("whisper_dir", sttDefaults.Dir)
	v.SetDefault("whisper_binary", "")
	v.SetDefault("whisper_model", "")
	v.SetDefault("stt_language", sttDefaults.Language)

	v.SetDefault("coqui_dir", ttsDefaults.Dir)
	v.SetDefault("coqui_binary", ttsDefaults.Binary)
	v.SetDefault("coqui_model", "")
	v.SetDefault("coqui_config", "")
	v.SetDefault("coqui_speaker", ttsDefaults.Speaker)

	v.SetDefault("piper_binary", "piper")
	v.SetDefault("piper_model", "")

	v.SetDefault("history_file", history.DefaultPath())
	v.SetDefault("history_window", 0)
	v.SetDefault("event_log", bridge.DefaultPath())
	v.SetDefault("scratch_dir", ttsDefaults.ScratchDir)

	v.SetDefault("stt_timeout", timeouts.STT)
	v.SetDefault("llm_timeout", timeouts.LLM)
	v.SetDefault("tts_timeout", timeouts.TTS)
}

// Load resolves the configuration. Precedence, highest first: explicit
// flags, environment (including the .env file), config file, defaults.
func Load(opts Options) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
		logger.Debug("no env file", "path", envFile)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", opts.ConfigFile, err)
		}
		logger.Info("config file loaded", "path", v.ConfigFileUsed())
	}

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("config: bind flag %s: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with. Missing credentials
// are not errors; see Warnings.
func (c *Config) Validate() error {
	if c.HTTPAddress == "" {
		return errors.New("config: http_address is empty")
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("config: history_window must be >= 0, got %d", c.HistoryWindow)
	}
	for name, d := range map[string]time.Duration{
		"stt_timeout": c.STTTimeout,
		"llm_timeout": c.LLMTimeout,
		"tts_timeout": c.TTSTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	return nil
}

// Warnings lists settings that leave the service degraded.
func (c *Config) Warnings() []string {
	var out []string
	if c.GeminiAPIKey == "" {
		out = append(out, "GEMINI_API_KEY not set - replies will use the fixed degraded message")
	}
	return out
}

// LogWarnings writes Warnings to logger.
func (c *Config) LogWarnings(logger *slog.Logger) {
	for _, w := range c.Warnings() {
		logger.Warn(w)
	}
}

// Timeouts returns the per-stage deadlines.
func (c *Config) Timeouts() pipeline.Timeouts {
	return pipeline.Timeouts{STT: c.STTTimeout, LLM: c.LLMTimeout, TTS: c.TTSTimeout}
}

// WhisperOptions returns the transcriber options for this configuration.
func (c *Config) WhisperOptions() []stt.Option {
	opts := []stt.Option{
		stt.WithDir(c.WhisperDir),
		stt.WithLanguage(c.STTLanguage),
		stt.WithTimeout(c.STTTimeout),
	}
	if c.WhisperBinary != "" {
		opts = append(opts, stt.WithBinary(c.WhisperBinary))
	}
	if c.WhisperModel != "" {
		opts = append(opts, stt.WithModel(c.WhisperModel))
	}
	return opts
}

// CoquiOptions returns the Coqui synthesizer options.
func (c *Config) CoquiOptions() []tts.Option {
	opts := []tts.Option{
		tts.WithDir(c.CoquiDir),
		tts.WithBinary(c.CoquiBinary),
		tts.WithSpeaker(c.CoquiSpeaker),
		tts.WithScratchDir(c.ScratchDir),
		tts.WithTimeout(c.TTSTimeout),
	}
	if c.CoquiModel != "" {
		opts = append(opts, tts.WithModel(c.CoquiModel))
	}
	if c.CoquiConfig != "" {
		opts = append(opts, tts.WithVoiceConfig(c.CoquiConfig))
	}
	return opts
}

// PiperOptions returns the Piper fallback options, or nil when no Piper
// model is configured.
func (c *Config) PiperOptions() []tts.Option {
	if c.PiperModel == "" {
		return nil
	}
	return []tts.Option{
		tts.WithBinary(c.PiperBinary),
		tts.WithModel(c.PiperModel),
		tts.WithDir(filepath.Dir(c.PiperModel)),
		tts.WithScratchDir(c.ScratchDir),
		tts.WithTimeout(c.TTSTimeout),
	}
}

// GeminiOptions returns the text engine options. The caller decides
// whether a key is present.
func (c *Config) GeminiOptions() []inference.Option {
	return []inference.Option{
		inference.WithAPIKey(c.GeminiAPIKey),
		inference.WithModel(c.GeminiModel),
		inference.WithTimeout(c.LLMTimeout),
	}
}
