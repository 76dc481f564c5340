// Package pipeline runs a voice turn: speech to text, text to reply, reply
// to speech.
//
// A turn moves Received → Transcribed → Responded → Synthesized → Delivered,
// or to Failed at the first stage that errors. Stages are never retried and
// a failed stage's output is never passed on. Every stage runs under its own
// deadline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
	"github.com/teslashibe/voicechat/pkg/stt"
	"github.com/teslashibe/voicechat/pkg/tts"
)

// ErrEmptyAudio is returned when a turn has no audio.
var ErrEmptyAudio = errors.New("pipeline: empty audio")

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, ext string) (string, error)
}

// Responder produces the assistant's reply.
type Responder interface {
	Respond(ctx context.Context, userText string) (string, error)
}

// Synthesizer renders text to an audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Timeouts bounds each stage.
type Timeouts struct {
	STT time.Duration
	LLM time.Duration
	TTS time.Duration
}

// DefaultTimeouts returns the stage deadlines used by the service.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		STT: 120 * time.Second,
		LLM: 30 * time.Second,
		TTS: 120 * time.Second,
	}
}

// Orchestrator wires the three stages together.
type Orchestrator struct {
	stt Transcriber
	llm Responder
	tts Synthesizer

	timeouts Timeouts
	verify   func(path string) error
	events   *bridge.Log
	metrics  *MetricsCollector
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeouts sets the stage deadlines. Zero fields keep their default.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) {
		if t.STT > 0 {
			o.timeouts.STT = t.STT
		}
		if t.LLM > 0 {
			o.timeouts.LLM = t.LLM
		}
		if t.TTS > 0 {
			o.timeouts.TTS = t.TTS
		}
	}
}

// WithVerifier sets the check applied to synthesized artifacts.
func WithVerifier(fn func(path string) error) Option {
	return func(o *Orchestrator) { o.verify = fn }
}

// WithEvents sets the turn event log.
func WithEvents(l *bridge.Log) Option {
	return func(o *Orchestrator) { o.events = l }
}

// WithMetrics sets the latency collector.
func WithMetrics(m *MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator.
func New(transcriber Transcriber, responder Responder, synth Synthesizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stt:      transcriber,
		llm:      responder,
		tts:      synth,
		timeouts: DefaultTimeouts(),
		verify:   tts.VerifyArtifact,
		metrics:  NewMetricsCollector(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "pipeline")
	return o
}

// Metrics returns the latency collector.
func (o *Orchestrator) Metrics() *MetricsCollector {
	return o.metrics
}

// Run carries one turn to Delivered or Failed. The returned Turn is never
// nil; on failure the error is also stored in Turn.Err and is a tagged
// *engine.Error naming the failed stage, except for ErrEmptyAudio.
func (o *Orchestrator) Run(ctx context.Context, audio []byte, ext string) (*Turn, error) {
	turn := newTurn(len(audio), ext)
	ctx = bridge.WithTurn(ctx, turn.ID)
	m := Metrics{TurnID: turn.ID}
	defer func() {
		m.TotalLatency = turn.Duration()
		m.Failed = turn.State == StateFailed
		m.FailedStage = turn.FailedStage
		o.metrics.Record(m)
	}()

	logger := o.logger.With("turn", turn.ID)
	o.events.Record(ctx, bridge.MarkerAudioReceived, fmt.Sprintf("%d bytes (%s)", len(audio), ext))
	logger.Info("turn received", "bytes", len(audio), "ext", ext)

	if len(audio) == 0 {
		return o.failTurn(ctx, logger, turn, engine.StageSTT, ErrEmptyAudio)
	}

	// Received → Transcribed
	start := time.Now()
	text, err := o.transcribe(ctx, audio, ext)
	m.STTLatency = time.Since(start)
	if err != nil {
		return o.failTurn(ctx, logger, turn, engine.StageSTT, err)
	}
	turn.Transcript = text
	if err := advanceAt(turn, StateTranscribed, engine.StageSTT); err != nil {
		return o.failTurn(ctx, logger, turn, engine.StageSTT, err)
	}

	// Transcribed → Responded
	start = time.Now()
	reply, err := o.respond(ctx, text)
	m.LLMLatency = time.Since(start)
	if err != nil {
		return o.failTurn(ctx, logger, turn, engine.StageLLM, err)
	}
	turn.Response = reply
	if err := advanceAt(turn, StateResponded, engine.StageLLM); err != nil {
		return o.failTurn(ctx, logger, turn, engine.StageLLM, err)
	}

	// Responded → Synthesized
	start = time.Now()
	path, err := o.synthesize(ctx, reply)
	m.TTSLatency = time.Since(start)
	if err != nil {
		return o.failTurn(ctx, logger, turn, engine.StageTTS, err)
	}
	turn.ArtifactPath = path
	if err := advanceAt(turn, StateSynthesized, engine.StageTTS); err != nil {
		return o.failTurn(ctx, logger, turn, engine.StageTTS, err)
	}

	// Synthesized → Delivered
	if err := advanceAt(turn, StateDelivered, engine.StageTTS); err != nil {
		os.Remove(path)
		return o.failTurn(ctx, logger, turn, engine.StageTTS, err)
	}
	o.events.Record(ctx, bridge.MarkerDelivered, path)
	m.TotalLatency = turn.Duration()
	logger.Info("turn delivered", "latency", m.FormatLatency())
	return turn, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte, ext string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.STT)
	defer cancel()

	text, err := o.stt.Transcribe(ctx, audio, ext)
	if err != nil {
		return "", tag(ctx, engine.StageSTT, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", engine.New(engine.KindArtifactMissing, engine.StageSTT, "empty transcription")
	}
	// Adapters should already reject this, but the prefix must never reach
	// the text engine as speech.
	if strings.HasPrefix(text, stt.ErrorMarker) {
		e := engine.New(engine.KindEngineFailure, engine.StageSTT, "engine reported an error")
		e.Output = text
		return "", e
	}
	return text, nil
}

func (o *Orchestrator) respond(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.LLM)
	defer cancel()

	reply, err := o.llm.Respond(ctx, text)
	if err != nil {
		return "", tag(ctx, engine.StageLLM, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", engine.New(engine.KindRemoteRejected, engine.StageLLM, "empty reply")
	}
	return reply, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.TTS)
	defer cancel()

	path, err := o.tts.Synthesize(ctx, text)
	if err != nil {
		return "", tag(ctx, engine.StageTTS, err)
	}
	// Exit status alone is not trusted; the file must be there and non-empty.
	if err := o.verify(path); err != nil {
		if path != "" {
			os.Remove(path)
		}
		return "", tag(ctx, engine.StageTTS, err)
	}
	return path, nil
}

func (o *Orchestrator) failTurn(ctx context.Context, logger *slog.Logger, turn *Turn, stage engine.Stage, err error) (*Turn, error) {
	turn.fail(stage, err)
	o.events.Record(ctx, bridge.MarkerFailed, fmt.Sprintf("%s: %v", stage, err))
	logger.Warn("turn failed",
		"stage", stage,
		"kind", engine.KindOf(err),
		"error", err,
	)
	return turn, err
}

// tag makes sure err carries stage. Errors from a stage whose deadline
// passed are reported as timeouts.
func tag(ctx context.Context, stage engine.Stage, err error) error {
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	if e, ok := engine.As(err); ok && (e.Stage == stage || e.Stage == engine.StageNone) {
		if e.Stage == stage && (!timedOut || e.Kind == engine.KindTimeout) {
			return err
		}
		kind := e.Kind
		if timedOut {
			kind = engine.KindTimeout
		}
		return &engine.Error{Kind: kind, Stage: stage, Detail: e.Detail, Output: e.Output, Err: e.Err}
	}

	if timedOut {
		return engine.Wrap(engine.KindTimeout, stage, fmt.Sprintf("%s stage timed out", stage), err)
	}
	return engine.Wrap(engine.KindEngineFailure, stage, fmt.Sprintf("%s stage failed", stage), err)
}
