package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/voicechat/internal/log"
	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
	"github.com/teslashibe/voicechat/pkg/history"
	"github.com/teslashibe/voicechat/pkg/pipeline"
)

type fakeRunner struct {
	dir   string
	audio []byte
	ext   string
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, audio []byte, ext string) (*pipeline.Turn, error) {
	f.audio, f.ext = audio, ext
	turn := &pipeline.Turn{ID: "turn-1"}
	if f.err != nil {
		turn.State = pipeline.StateFailed
		return turn, f.err
	}
	turn.ArtifactPath = filepath.Join(f.dir, "tts_reply.wav")
	if err := os.WriteFile(turn.ArtifactPath, []byte("RIFFwav"), 0o644); err != nil {
		return turn, err
	}
	turn.State = pipeline.StateDelivered
	return turn, nil
}

type fixture struct {
	server  *Server
	runner  *fakeRunner
	events  *bridge.Log
	history *history.Store
	dir     string
}

func newFixture(t *testing.T, health ...Component) *fixture {
	t.Helper()
	dir := t.TempDir()
	events, err := bridge.Open(filepath.Join(dir, "events.jsonl"), log.Discard())
	require.NoError(t, err)
	store := history.Open(filepath.Join(dir, "history.json"), history.WithLogger(log.Discard()))
	runner := &fakeRunner{dir: dir}

	s := NewServer(Config{
		Pipeline: runner,
		Metrics:  pipeline.NewMetricsCollector(),
		History:  store,
		Events:   events,
		Health:   health,
		Logger:   log.Discard(),
	})
	return &fixture{server: s, runner: runner, events: events, history: store, dir: dir}
}

func (f *fixture) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/voice-chat", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestVoiceChatReturnsAudio(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, uploadRequest(t, "clip.webm", []byte("audio-bytes")))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "RIFFwav", string(body))
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "response.wav")
	assert.Equal(t, "turn-1", resp.Header.Get("X-Turn-ID"))

	assert.Equal(t, []byte("audio-bytes"), f.runner.audio)
	assert.Equal(t, ".webm", f.runner.ext)

	_, err = os.Stat(filepath.Join(f.dir, "tts_reply.wav"))
	assert.True(t, os.IsNotExist(err), "artifact should be removed after delivery")
}

func TestVoiceChatRejectsMissingUpload(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/voice-chat", nil)
	resp := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, uploadRequest(t, "clip.webm", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, f.runner.audio, "pipeline must not run without audio")
}

func TestVoiceChatFailureStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		stage  string
		kind   string
	}{
		{
			name:   "engine failure",
			err:    engine.New(engine.KindEngineFailure, engine.StageSTT, "whisper exited 1"),
			status: http.StatusInternalServerError,
			stage:  "stt",
			kind:   "engine_failure",
		},
		{
			name:   "timeout",
			err:    engine.New(engine.KindTimeout, engine.StageLLM, "deadline"),
			status: http.StatusGatewayTimeout,
			stage:  "llm",
			kind:   "timeout",
		},
		{
			name:   "empty audio",
			err:    engine.Wrap(engine.KindArtifactMissing, engine.StageSTT, "no audio", pipeline.ErrEmptyAudio),
			status: http.StatusBadRequest,
			stage:  "stt",
			kind:   "artifact_missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.err = tt.err

			resp := f.do(t, uploadRequest(t, "clip.wav", []byte("x")))
			assert.Equal(t, tt.status, resp.StatusCode)

			var body ErrorResponse
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.stage, body.Stage)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, "turn-1", body.TurnID)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHealth(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t,
		DirComponent("whisper", dir),
		DirComponent("coqui", filepath.Join(dir, "missing")),
		CredentialComponent("gemini_api_key", true),
	)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string]string{
		"whisper":        "found",
		"coqui":          "missing",
		"gemini_api_key": "set",
	}, body.Components)
}

func TestHealthAllPresent(t *testing.T) {
	f := newFixture(t, CredentialComponent("gemini_api_key", true))

	var body HealthResponse
	decodeBody(t, f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil)), &body)
	assert.Equal(t, "healthy", body.Status)
}

func TestEventsAndTurnView(t *testing.T) {
	f := newFixture(t)
	_, err := f.events.Append("a", bridge.MarkerTranscription, "halo")
	require.NoError(t, err)
	_, err = f.events.Append("b", bridge.MarkerTranscription, "apa kabar")
	require.NoError(t, err)
	_, err = f.events.Append("b", bridge.MarkerResponse, "baik")
	require.NoError(t, err)

	var all []bridge.Entry
	decodeBody(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/events", nil)), &all)
	assert.Len(t, all, 3)

	var forB []bridge.Entry
	decodeBody(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/events?turn=b", nil)), &forB)
	assert.Len(t, forB, 2)

	var last []bridge.Entry
	decodeBody(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/events?limit=1", nil)), &last)
	require.Len(t, last, 1)
	assert.Equal(t, "baik", last[0].Text)

	var view bridge.TurnView
	decodeBody(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/turns/a", nil)), &view)
	assert.Equal(t, "halo", view.Transcription)
	assert.Empty(t, view.Response)

	var latest bridge.TurnView
	decodeBody(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/turns/latest", nil)), &latest)
	assert.Equal(t, "apa kabar", latest.Transcription)
	assert.Equal(t, "baik", latest.Response)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/api/turns/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryEndpoints(t *testing.T) {
	f := newFixture(t)
	_, err := f.history.Exchange(context.Background(), "halo", func(context.Context, []history.Message) (string, error) {
		return "hai", nil
	})
	require.NoError(t, err)

	var body struct {
		Count    int               `json:"count"`
		Messages []history.Message `json:"messages"`
	}
	decodeBody(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil)), &body)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, history.RoleUser, body.Messages[0].Role)

	resp := f.do(t, httptest.NewRequest(http.MethodDelete, "/api/history", nil))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.history.Len())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.server.cfg.Metrics.Record(pipeline.Metrics{TurnID: "x"})

	var snap pipeline.Snapshot
	decodeBody(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/metrics", nil)), &snap)
	assert.Equal(t, 1, snap.Turns)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/ws/events", nil))
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
