package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/voicechat/internal/log"
	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
	"github.com/teslashibe/voicechat/pkg/history"
	"github.com/teslashibe/voicechat/pkg/inference"
)

func newStore(t *testing.T) *history.Store {
	t.Helper()
	return history.Open(filepath.Join(t.TempDir(), "chat_history.json"), history.WithLogger(log.Discard()))
}

func newEvents(t *testing.T) *bridge.Log {
	t.Helper()
	l, err := bridge.Open(filepath.Join(t.TempDir(), "events.jsonl"), log.Discard())
	require.NoError(t, err)
	return l
}

func TestRespondCommitsExchange(t *testing.T) {
	store := newStore(t)
	events := newEvents(t)
	mock := inference.NewMock("  Halo juga  ")
	c := New(mock, store, WithEvents(events), WithLogger(log.Discard()))

	ctx := bridge.WithTurn(context.Background(), "turn-1")
	reply, err := c.Respond(ctx, "Halo")
	require.NoError(t, err)
	assert.Equal(t, "Halo juga", reply)

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Halo", msgs[0].Text)
	assert.Equal(t, "Halo juga", msgs[1].Text)

	entries, err := events.Entries()
	require.NoError(t, err)
	req, ok := bridge.LatestForTurn(entries, "turn-1", bridge.MarkerLLMRequest)
	require.True(t, ok)
	assert.Equal(t, "Halo", req.Text)
	resp, ok := bridge.LatestForTurn(entries, "turn-1", bridge.MarkerResponse)
	require.True(t, ok)
	assert.Equal(t, "Halo juga", resp.Text)
	assert.Less(t, req.Seq, resp.Seq)
}

func TestRespondSendsPriorContext(t *testing.T) {
	store := newStore(t)
	mock := inference.NewMock("ok")
	c := New(mock, store, WithLogger(log.Discard()))

	_, err := c.Respond(context.Background(), "Nama saya Budi")
	require.NoError(t, err)
	_, err = c.Respond(context.Background(), "Siapa nama saya?")
	require.NoError(t, err)

	msgs := mock.LastCall().Request.Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, inference.RoleUser, msgs[0].Role)
	assert.Equal(t, "Nama saya Budi", msgs[0].Content)
	assert.Equal(t, inference.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Siapa nama saya?", msgs[2].Content)
}

func TestDegradedMode(t *testing.T) {
	store := newStore(t)
	c := New(nil, store, WithLogger(log.Discard()))
	assert.False(t, c.Configured())

	reply, err := c.Respond(context.Background(), "Halo")
	require.NoError(t, err)
	assert.Equal(t, DegradedReply, reply)
	assert.Equal(t, 0, store.Len())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind engine.Kind
	}{
		{"api rejection", &inference.APIError{StatusCode: 429, Message: "quota", Provider: "gemini"}, engine.KindRemoteRejected},
		{"empty response", inference.WrapError("gemini", inference.ErrEmptyResponse), engine.KindRemoteRejected},
		{"malformed", inference.WrapError("gemini", inference.ErrMalformedResponse), engine.KindRemoteRejected},
		{"deadline", inference.WrapError("gemini", fmt.Errorf("post: %w", context.DeadlineExceeded)), engine.KindTimeout},
		{"transport", inference.WrapError("gemini", errors.New("dial tcp: connection refused")), engine.KindNetworkFailure},
		{"missing key", inference.WrapError("gemini", inference.ErrNoAPIKey), engine.KindConfigMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			c := New(inference.WithError(tt.err), store, WithLogger(log.Discard()))

			_, err := c.Respond(context.Background(), "Halo")
			require.Error(t, err)
			assert.Equal(t, tt.kind, engine.KindOf(err))
			assert.Equal(t, engine.StageLLM, engine.StageOf(err))
			assert.Equal(t, 0, store.Len(), "failed turn must not touch history")
		})
	}
}

func TestBlankReplyIsRejected(t *testing.T) {
	store := newStore(t)
	c := New(inference.NewMock("   "), store, WithLogger(log.Discard()))

	_, err := c.Respond(context.Background(), "Halo")
	assert.ErrorIs(t, err, &engine.Error{Kind: engine.KindRemoteRejected, Stage: engine.StageLLM})
	assert.Equal(t, 0, store.Len())
}

func TestRejectionDetailSurvives(t *testing.T) {
	c := New(inference.WithError(&inference.APIError{StatusCode: 400, Message: "API key not valid", Provider: "gemini"}),
		newStore(t), WithLogger(log.Discard()))

	_, err := c.Respond(context.Background(), "Halo")
	e, ok := engine.As(err)
	require.True(t, ok)
	assert.Equal(t, "API key not valid", e.Detail)
}
