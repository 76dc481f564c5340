package tts

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
)

// processSynth is the part shared by every command-line engine: naming
// the output file, logging to the event log and mapping failures.
type processSynth struct {
	name   string
	config *Config
	runner engine.Runner
	events *bridge.Log
	logger *slog.Logger

	// command builds the invocation for text and the destination path.
	command func(text, out string) engine.Command
}

func newProcessSynth(name string, cfg *Config, command func(text, out string) engine.Command) processSynth {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return processSynth{
		name:    name,
		config:  cfg,
		runner:  cfg.runner(),
		events:  cfg.Events,
		logger:  cfg.Logger.With("component", "tts."+name),
		command: command,
	}
}

// Synthesize implements Synthesizer.
func (p *processSynth) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}

	if err := os.MkdirAll(p.config.ScratchDir, 0755); err != nil {
		return "", engine.Wrap(engine.KindEngineFailure, engine.StageTTS, "create scratch dir", err)
	}
	out := filepath.Join(p.config.ScratchDir, "tts_"+uuid.NewString()+".wav")

	p.events.Record(ctx, bridge.MarkerTTSText, text)
	p.logger.Debug("synthesizing", "chars", len(text), "out", out)

	output, err := engine.Invoke(ctx, p.runner, engine.StageTTS, p.command(text, out))
	if len(output) > 0 {
		p.events.Record(ctx, bridge.MarkerEngineOutput, engine.Truncate(string(output), 2048))
	}
	if err != nil {
		os.Remove(out)
		p.logger.Warn("synthesis failed", "error", err)
		return "", err
	}

	p.events.Record(ctx, bridge.MarkerTTSOutput, out)
	return out, nil
}

// Name implements Synthesizer.
func (p *processSynth) Name() string {
	return p.name
}

// Available reports whether the model directory exists.
func (p *processSynth) Available() bool {
	info, err := os.Stat(p.config.Dir)
	return err == nil && info.IsDir()
}
