package tts

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/teslashibe/voicechat/pkg/engine"
)

// ErrNoPiperModel is returned when Piper is configured without a voice model.
var ErrNoPiperModel = errors.New("tts: piper model required")

// Piper runs the Piper command-line tool. Text is passed on stdin.
type Piper struct {
	processSynth
}

// NewPiper creates a Piper synthesizer. A model path is required.
func NewPiper(opts ...Option) (*Piper, error) {
	cfg := DefaultConfig()
	cfg.Binary = "piper"
	cfg.Speaker = ""
	cfg.Apply(opts...)
	if cfg.Model == "" {
		return nil, ErrNoPiperModel
	}
	if cfg.Dir == DefaultConfig().Dir {
		cfg.Dir = filepath.Dir(cfg.Model)
	}

	p := &Piper{}
	p.processSynth = newProcessSynth("piper", cfg, func(text, out string) engine.Command {
		args := []string{"--model", cfg.Model, "--output_file", out}
		if cfg.VoiceConfig != "" {
			args = append(args, "--config", cfg.VoiceConfig)
		}
		if cfg.Speaker != "" {
			args = append(args, "--speaker", cfg.Speaker)
		}
		return engine.Command{
			Name:  cfg.Binary,
			Args:  args,
			Stdin: strings.NewReader(text),
		}
	})
	return p, nil
}

// Verify Piper implements Synthesizer at compile time.
var _ Synthesizer = (*Piper)(nil)
