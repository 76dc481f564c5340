package tts

import (
	"path/filepath"

	"github.com/teslashibe/voicechat/pkg/engine"
)

// Coqui runs the Coqui TTS command-line tool against a local checkpoint.
type Coqui struct {
	processSynth
}

// NewCoqui creates a Coqui synthesizer.
func NewCoqui(opts ...Option) (*Coqui, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Model == "" {
		cfg.Model = filepath.Join(cfg.Dir, "checkpoint_1260000-inference.pth")
	}
	if cfg.VoiceConfig == "" {
		cfg.VoiceConfig = filepath.Join(cfg.Dir, "config.json")
	}
	if cfg.Binary == "" {
		cfg.Binary = "tts"
	}

	c := &Coqui{}
	c.processSynth = newProcessSynth("coqui", cfg, func(text, out string) engine.Command {
		return engine.Command{
			Name: cfg.Binary,
			Args: []string{
				"--text", text,
				"--model_path", cfg.Model,
				"--config_path", cfg.VoiceConfig,
				"--speaker_idx", cfg.Speaker,
				"--out_path", out,
			},
		}
	})
	return c, nil
}

// Verify Coqui implements Synthesizer at compile time.
var _ Synthesizer = (*Coqui)(nil)
