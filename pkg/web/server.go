// Package web serves the voice-turn API over HTTP.
package web

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/history"
	"github.com/teslashibe/voicechat/pkg/hub"
	"github.com/teslashibe/voicechat/pkg/pipeline"
)

// DefaultBodyLimit caps uploads.
const DefaultBodyLimit = 32 << 20

// TurnRunner runs one voice turn.
type TurnRunner interface {
	Run(ctx context.Context, audio []byte, ext string) (*pipeline.Turn, error)
}

// Component is one dependency reported by /health.
type Component struct {
	Name  string
	Check func() bool

	// Present and Absent are the reported values.
	Present string
	Absent  string
}

// DirComponent reports whether dir exists.
func DirComponent(name, dir string) Component {
	return Component{
		Name: name,
		Check: func() bool {
			info, err := os.Stat(dir)
			return err == nil && info.IsDir()
		},
		Present: "found",
		Absent:  "missing",
	}
}

// CredentialComponent reports whether a credential is configured.
func CredentialComponent(name string, set bool) Component {
	return Component{
		Name:    name,
		Check:   func() bool { return set },
		Present: "set",
		Absent:  "missing",
	}
}

// Config wires the server to the rest of the service.
type Config struct {
	Address   string
	Pipeline  TurnRunner
	Metrics   *pipeline.MetricsCollector
	History   *history.Store
	Events    *bridge.Log
	Health    []Component
	BodyLimit int
	Logger    *slog.Logger
}

// Server is the HTTP shell around the pipeline.
type Server struct {
	app    *fiber.App
	cfg    Config
	events *hub.Hub
	logger *slog.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}

	s := &Server{
		cfg:    cfg,
		events: hub.New("events", cfg.Logger),
		logger: cfg.Logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicechat",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	// The browser client is served from another origin.
	app.Use(cors.New())

	app.Post("/voice-chat", s.handleVoiceChat)
	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/events", s.handleEvents)
	api.Get("/turns/:id", s.handleTurn)
	api.Get("/history", s.handleGetHistory)
	api.Delete("/history", s.handleResetHistory)
	api.Get("/metrics", s.handleMetrics)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.events.Serve))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the event broadcast hub.
func (s *Server) Hub() *hub.Hub {
	return s.events
}

// Start runs the event hub and serves until ctx is done, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.events.Run(ctx)
	unsubscribe := s.cfg.Events.Subscribe(func(e bridge.Entry) {
		if err := s.events.BroadcastJSON(e); err != nil {
			s.logger.Warn("broadcast event", "error", err)
		}
	})
	defer unsubscribe()

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", s.cfg.Address)
		errc <- s.app.Listen(s.cfg.Address)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		if err := s.app.Shutdown(); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
