package web

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
	"github.com/teslashibe/voicechat/pkg/pipeline"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Stage  string `json:"stage,omitempty"`
	Kind   string `json:"kind,omitempty"`
	TurnID string `json:"turn_id,omitempty"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// handleVoiceChat runs one turn for the uploaded audio file and answers
// with the synthesized reply.
func (s *Server) handleVoiceChat(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil || fh.Size == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "no audio file uploaded"})
	}

	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "unreadable upload"})
	}
	audio, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "unreadable upload"})
	}

	// A turn that has started runs to completion even if the client leaves.
	turn, err := s.cfg.Pipeline.Run(context.Background(), audio, filepath.Ext(fh.Filename))
	if err != nil {
		return s.turnError(c, turn, err)
	}

	data, err := os.ReadFile(turn.ArtifactPath)
	if err != nil {
		return s.turnError(c, turn, engine.Wrap(engine.KindArtifactMissing, engine.StageTTS, "read generated audio", err))
	}
	if err := os.Remove(turn.ArtifactPath); err != nil {
		s.logger.Debug("artifact not removed", "path", turn.ArtifactPath, "error", err)
	}

	c.Set("X-Turn-ID", turn.ID)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="response.wav"`)
	c.Set(fiber.HeaderContentType, "audio/wav")
	return c.Send(data)
}

func (s *Server) turnError(c *fiber.Ctx, turn *pipeline.Turn, err error) error {
	resp := ErrorResponse{Error: err.Error()}
	if turn != nil {
		resp.TurnID = turn.ID
		c.Set("X-Turn-ID", turn.ID)
	}

	status := fiber.StatusInternalServerError
	if e, ok := engine.As(err); ok {
		resp.Stage = string(e.Stage)
		resp.Kind = string(e.Kind)
		if e.Kind == engine.KindTimeout {
			status = fiber.StatusGatewayTimeout
		}
	}
	if errors.Is(err, pipeline.ErrEmptyAudio) {
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(resp)
}

// handleHealth reports toolchain and credential presence.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status:     "healthy",
		Components: make(map[string]string, len(s.cfg.Health)),
	}
	for _, comp := range s.cfg.Health {
		if comp.Check() {
			resp.Components[comp.Name] = comp.Present
		} else {
			resp.Components[comp.Name] = comp.Absent
			resp.Status = "degraded"
		}
	}
	return c.JSON(resp)
}

// handleEvents returns the event log, optionally for one turn and limited
// to the newest entries.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	entries, err := s.cfg.Events.Entries()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if turn := c.Query("turn"); turn != "" {
		entries = bridge.ForTurn(entries, turn)
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []bridge.Entry{}
	}
	return c.JSON(entries)
}

// handleTurn reconstructs a turn from the event log. The id "latest"
// reads the most recent values.
func (s *Server) handleTurn(c *fiber.Ctx) error {
	entries, err := s.cfg.Events.Entries()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	id := c.Params("id")
	if id == "latest" {
		id = ""
	} else if len(bridge.ForTurn(entries, id)) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "unknown turn", TurnID: id})
	}
	return c.JSON(bridge.Reconstruct(entries, id))
}

func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	msgs := s.cfg.History.Messages()
	return c.JSON(fiber.Map{
		"count":    len(msgs),
		"messages": msgs,
	})
}

func (s *Server) handleResetHistory(c *fiber.Ctx) error {
	if err := s.cfg.History.Reset(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: err.Error(),
			Kind:  string(engine.KindPersistenceFailure),
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	if s.cfg.Metrics == nil {
		return c.JSON(pipeline.Snapshot{})
	}
	return c.JSON(s.cfg.Metrics.Snapshot())
}

// handleError renders fiber and handler errors as JSON.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= 500 {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}
