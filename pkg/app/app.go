// Package app assembles the voicechat service from its configuration and
// manages the lifecycle of its components.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/voicechat/internal/config"
	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/chat"
	"github.com/teslashibe/voicechat/pkg/history"
	"github.com/teslashibe/voicechat/pkg/inference"
	"github.com/teslashibe/voicechat/pkg/pipeline"
	"github.com/teslashibe/voicechat/pkg/stt"
	"github.com/teslashibe/voicechat/pkg/tts"
	"github.com/teslashibe/voicechat/pkg/web"
)

const (
	// CleanupInterval is how often stale synthesized files are swept.
	CleanupInterval = 10 * time.Minute

	// ArtifactMaxAge is how long an undelivered synthesized file may stay.
	ArtifactMaxAge = time.Hour
)

// App is the voicechat service. It owns every component and their lifecycle.
type App struct {
	config *config.Config
	logger *slog.Logger

	events   *bridge.Log
	history  *history.Store
	provider inference.Provider
	chat     *chat.Client
	stt      *stt.Whisper
	tts      tts.Synthesizer
	pipeline *pipeline.Orchestrator
	server   *web.Server
}

// New creates the service. Nothing is started until Run.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		config: cfg,
		logger: logger.With("component", "app"),
	}, nil
}

// Init builds all components. Call it after New and before Run.
func (a *App) Init() error {
	cfg := a.config
	cfg.LogWarnings(a.logger)

	events, err := bridge.Open(cfg.EventLog, a.logger)
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	a.events = events

	a.history = history.Open(cfg.HistoryFile,
		history.WithLogger(a.logger),
		history.WithWindow(cfg.HistoryWindow),
	)

	if err := a.initChat(); err != nil {
		return fmt.Errorf("text engine: %w", err)
	}

	a.stt, err = stt.NewWhisper(append(cfg.WhisperOptions(),
		stt.WithEvents(events),
		stt.WithLogger(a.logger),
	)...)
	if err != nil {
		return fmt.Errorf("stt: %w", err)
	}

	if err := a.initTTS(); err != nil {
		return fmt.Errorf("tts: %w", err)
	}

	a.pipeline = pipeline.New(a.stt, a.chat, a.tts,
		pipeline.WithTimeouts(cfg.Timeouts()),
		pipeline.WithEvents(events),
		pipeline.WithMetrics(pipeline.NewMetricsCollector()),
		pipeline.WithLogger(a.logger),
	)

	whisper := a.stt.Config()
	a.server = web.NewServer(web.Config{
		Address:  cfg.HTTPAddress,
		Pipeline: a.pipeline,
		Metrics:  a.pipeline.Metrics(),
		History:  a.history,
		Events:   events,
		Health: []web.Component{
			web.DirComponent("whisper.cpp", whisper.Dir),
			web.DirComponent("coqui_utils", cfg.CoquiDir),
			web.CredentialComponent("GEMINI_API_KEY", cfg.GeminiAPIKey != ""),
		},
		Logger: a.logger,
	})

	a.logger.Info("initialized",
		"stt", whisper.Binary,
		"tts", a.tts.Name(),
		"llm_configured", a.chat.Configured(),
		"history_messages", a.history.Len(),
	)
	return nil
}

// initChat creates the text engine client. Without a key the client runs
// degraded and answers with a fixed message.
func (a *App) initChat() error {
	cfg := a.config
	if cfg.GeminiAPIKey != "" {
		provider, err := inference.NewGemini(append(cfg.GeminiOptions(), inference.WithLogger(a.logger))...)
		if err != nil {
			return err
		}
		a.provider = provider
	}
	a.chat = chat.New(a.provider, a.history,
		chat.WithEvents(a.events),
		chat.WithLogger(a.logger),
	)
	return nil
}

// initTTS creates Coqui, falling back to Piper when a Piper model is set.
func (a *App) initTTS() error {
	common := []tts.Option{tts.WithEvents(a.events), tts.WithLogger(a.logger)}

	coqui, err := tts.NewCoqui(append(a.config.CoquiOptions(), common...)...)
	if err != nil {
		return err
	}

	piperOpts := a.config.PiperOptions()
	if piperOpts == nil {
		a.tts = coqui
		return nil
	}
	piper, err := tts.NewPiper(append(piperOpts, common...)...)
	if err != nil {
		return err
	}
	a.tts, err = tts.NewChain(a.logger, coqui, piper)
	return err
}

// Run serves until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		return fmt.Errorf("app: Run called before Init")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Start(ctx)
	})
	g.Go(func() error {
		a.sweep(ctx)
		return nil
	})
	return g.Wait()
}

// sweep removes synthesized files that were never delivered.
func (a *App) sweep(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tts.Cleanup(a.config.ScratchDir, ArtifactMaxAge)
			if err != nil {
				a.logger.Warn("scratch cleanup failed", "dir", a.config.ScratchDir, "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("removed stale audio", "files", n)
			}
		}
	}
}

// Shutdown releases resources held outside the HTTP server.
func (a *App) Shutdown() {
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Warn("close text engine", "error", err)
		}
	}
	a.logger.Info("stopped")
}

// Server returns the HTTP server, or nil before Init.
func (a *App) Server() *web.Server {
	return a.server
}

// Configured reports whether the text engine has credentials.
func (a *App) Configured() bool {
	return a.chat != nil && a.chat.Configured()
}

// Synthesizer returns the active speech synthesizer.
func (a *App) Synthesizer() tts.Synthesizer {
	return a.tts
}
