// Package chat turns a transcript into the assistant's reply, keeping the
// conversation history in step with the remote text engine.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
	"github.com/teslashibe/voicechat/pkg/history"
	"github.com/teslashibe/voicechat/pkg/inference"
)

// DegradedReply is spoken when no API credential is configured.
const DegradedReply = "Maaf, saya tidak bisa merespons saat ini karena masalah konfigurasi."

// Responder produces a reply for one user utterance.
type Responder interface {
	Respond(ctx context.Context, userText string) (string, error)
}

// Client sends turns to a Provider through the history store.
type Client struct {
	provider inference.Provider
	history  *history.Store
	events   *bridge.Log
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEvents sets the turn event log.
func WithEvents(l *bridge.Log) Option {
	return func(c *Client) { c.events = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client. A nil provider puts the client in degraded mode:
// every turn gets DegradedReply and the history is left alone.
func New(provider inference.Provider, store *history.Store, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		history:  store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "chat")
	return c
}

// Configured reports whether a provider is available.
func (c *Client) Configured() bool {
	return c.provider != nil
}

// Respond sends userText with the prior conversation and returns the
// trimmed reply. The exchange is committed to history only on success.
func (c *Client) Respond(ctx context.Context, userText string) (string, error) {
	if c.provider == nil {
		c.logger.Warn("using degraded reply",
			"error", engine.New(engine.KindConfigMissing, engine.StageLLM, "GEMINI_API_KEY not set"),
		)
		c.events.Record(ctx, bridge.MarkerResponse, DegradedReply)
		return DegradedReply, nil
	}

	reply, err := c.history.Exchange(ctx, userText, func(ctx context.Context, prior []history.Message) (string, error) {
		msgs := make([]inference.Message, 0, len(prior)+1)
		for _, m := range prior {
			if m.Role == history.RoleModel {
				msgs = append(msgs, inference.NewAssistantMessage(m.Text))
			} else {
				msgs = append(msgs, inference.NewUserMessage(m.Text))
			}
		}
		msgs = append(msgs, inference.NewUserMessage(userText))

		c.events.Record(ctx, bridge.MarkerLLMRequest, userText)
		c.logger.Debug("sending to text engine",
			"provider", c.provider.Name(),
			"context_messages", len(prior),
		)

		resp, err := c.provider.Chat(ctx, &inference.ChatRequest{Messages: msgs})
		if err != nil {
			return "", classify(err)
		}
		text := strings.TrimSpace(resp.Message.Content)
		if text == "" {
			return "", engine.New(engine.KindRemoteRejected, engine.StageLLM, "empty reply")
		}
		return text, nil
	})
	if err != nil {
		c.logger.Warn("text engine failed", "error", err)
		return "", err
	}

	c.events.Record(ctx, bridge.MarkerResponse, reply)
	return reply, nil
}

// classify maps provider errors onto the turn error taxonomy.
func classify(err error) error {
	if _, ok := engine.As(err); ok {
		return err
	}

	var apiErr *inference.APIError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return engine.Wrap(engine.KindTimeout, engine.StageLLM, "text engine timed out", err)
	case errors.As(err, &apiErr):
		return engine.Wrap(engine.KindRemoteRejected, engine.StageLLM, apiErr.Message, err)
	case errors.Is(err, inference.ErrEmptyResponse), errors.Is(err, inference.ErrMalformedResponse):
		return engine.Wrap(engine.KindRemoteRejected, engine.StageLLM, "unusable reply", err)
	case errors.Is(err, inference.ErrNoAPIKey):
		return engine.Wrap(engine.KindConfigMissing, engine.StageLLM, "missing credential", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return engine.Wrap(engine.KindTimeout, engine.StageLLM, "text engine timed out", err)
	default:
		return engine.Wrap(engine.KindNetworkFailure, engine.StageLLM, "text engine unreachable", err)
	}
}

// Verify Client implements Responder at compile time.
var _ Responder = (*Client)(nil)
