package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
)

// outputName is the -of prefix; whisper appends ".txt".
const outputName = "transcription"

// Whisper runs whisper-cli.
type Whisper struct {
	config *Config
	runner engine.Runner
	events *bridge.Log
	logger *slog.Logger
}

// NewWhisper creates a whisper transcriber.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	cfg.resolve()

	runner := cfg.Runner
	if runner == nil {
		runner = engine.NewExecRunner(cfg.Timeout, cfg.Logger)
	}

	return &Whisper{
		config: cfg,
		runner: runner,
		events: cfg.Events,
		logger: cfg.Logger.With("component", "stt.whisper"),
	}, nil
}

// Config returns the resolved configuration.
func (w *Whisper) Config() Config {
	return *w.config
}

// Transcribe implements Transcriber.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, ext string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	dir, err := os.MkdirTemp("", "stt-*")
	if err != nil {
		return "", engine.Wrap(engine.KindEngineFailure, engine.StageSTT, "create work dir", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, uuid.NewString()+normalizeExt(ext))
	if err := os.WriteFile(input, audio, 0600); err != nil {
		return "", engine.Wrap(engine.KindEngineFailure, engine.StageSTT, "write audio", err)
	}

	w.events.Record(ctx, bridge.MarkerAudioInput, input)
	w.events.Record(ctx, bridge.MarkerLanguage, w.config.Language)

	prefix := filepath.Join(dir, outputName)
	cmd := engine.Command{
		Name: w.config.Binary,
		Args: []string{
			"-m", w.config.Model,
			"-f", input,
			"-l", w.config.Language,
			"-otxt",
			"-of", prefix,
		},
	}

	w.logger.Debug("transcribing", "bytes", len(audio), "input", input)
	out, err := engine.Invoke(ctx, w.runner, engine.StageSTT, cmd)
	if len(out) > 0 {
		w.events.Record(ctx, bridge.MarkerEngineOutput, engine.Truncate(string(out), 2048))
	}
	if err != nil {
		w.logger.Warn("whisper failed", "error", err)
		return "", err
	}

	// Exit status alone is not trusted; the artifact must exist.
	data, err := os.ReadFile(prefix + ".txt")
	if errors.Is(err, os.ErrNotExist) {
		return "", engine.New(engine.KindArtifactMissing, engine.StageSTT, "transcription file not found")
	}
	if err != nil {
		return "", engine.Wrap(engine.KindArtifactMissing, engine.StageSTT, "read transcription", err)
	}

	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, ErrorMarker) {
		e := engine.New(engine.KindEngineFailure, engine.StageSTT, "engine reported an error")
		e.Output = text
		return "", e
	}
	if text == "" {
		return "", engine.New(engine.KindArtifactMissing, engine.StageSTT, "empty transcription")
	}

	w.events.Record(ctx, bridge.MarkerTranscription, text)
	w.logger.Info("transcribed", "chars", len(text))
	return text, nil
}

// Available reports whether the whisper.cpp directory exists.
func (w *Whisper) Available() bool {
	info, err := os.Stat(w.config.Dir)
	return err == nil && info.IsDir()
}

// normalizeExt makes sure the extension has a leading dot.
func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return ".wav"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	// Guard against a hint that smuggles in a path.
	if strings.ContainsAny(ext, `/\`) {
		return ".wav"
	}
	return ext
}

// String describes the transcriber for logs.
func (w *Whisper) String() string {
	return fmt.Sprintf("whisper(%s, lang=%s)", filepath.Base(w.config.Model), w.config.Language)
}

// Verify Whisper implements Transcriber at compile time.
var _ Transcriber = (*Whisper)(nil)
