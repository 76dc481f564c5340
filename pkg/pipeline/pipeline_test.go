package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/voicechat/internal/log"
	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/chat"
	"github.com/teslashibe/voicechat/pkg/engine"
	"github.com/teslashibe/voicechat/pkg/history"
	"github.com/teslashibe/voicechat/pkg/inference"
	"github.com/teslashibe/voicechat/pkg/stt"
	"github.com/teslashibe/voicechat/pkg/tts"
)

var greeting = []byte("RIFF....WAVEfmt greeting")

type fixture struct {
	store    *history.Store
	events   *bridge.Log
	provider *inference.Mock
	stt      *stt.Mock
	tts      *tts.Mock
	orch     *Orchestrator
}

func newFixture(t *testing.T, provider *inference.Mock, transcriber *stt.Mock, synth *tts.Mock, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()

	events, err := bridge.Open(filepath.Join(dir, "events.jsonl"), log.Discard())
	require.NoError(t, err)
	store := history.Open(filepath.Join(dir, "chat_history.json"), history.WithLogger(log.Discard()))

	var p inference.Provider
	if provider != nil {
		p = provider
	}
	responder := chat.New(p, store, chat.WithEvents(events), chat.WithLogger(log.Discard()))

	if synth.Dir == "" && synth.SynthesizeFunc == nil {
		synth.Dir = dir
	}

	opts = append([]Option{WithEvents(events), WithLogger(log.Discard())}, opts...)
	return &fixture{
		store:    store,
		events:   events,
		provider: provider,
		stt:      transcriber,
		tts:      synth,
		orch:     New(transcriber, responder, synth, opts...),
	}
}

func TestSuccessfulTurn(t *testing.T) {
	f := newFixture(t, inference.NewMock("Halo juga!"), stt.NewMock("Halo"), tts.NewMock(""))

	turn, err := f.orch.Run(context.Background(), greeting, ".wav")
	require.NoError(t, err)

	assert.Equal(t, StateDelivered, turn.State)
	assert.Equal(t, "Halo", turn.Transcript)
	assert.Equal(t, "Halo juga!", turn.Response)
	info, err := os.Stat(turn.ArtifactPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	msgs := f.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, history.RoleUser, msgs[0].Role)
	assert.Equal(t, "Halo", msgs[0].Text)
	assert.Equal(t, history.RoleModel, msgs[1].Role)
	assert.Equal(t, "Halo juga!", msgs[1].Text)

	assert.Equal(t, "Halo juga!", f.tts.Calls()[0].Text)
}

func TestTurnEventsAreAttributed(t *testing.T) {
	f := newFixture(t, inference.NewMock("Halo juga!"), stt.NewMock("Halo"), tts.NewMock(""))

	turn, err := f.orch.Run(context.Background(), greeting, ".wav")
	require.NoError(t, err)

	entries, err := bridge.ReadAll(f.events.Path())
	require.NoError(t, err)

	view := bridge.Reconstruct(entries, turn.ID)
	assert.Equal(t, "Halo juga!", view.Response)
	assert.True(t, view.Delivered)

	_, ok := bridge.LatestForTurn(entries, turn.ID, bridge.MarkerAudioReceived)
	assert.True(t, ok)
	for _, e := range bridge.ForTurn(entries, turn.ID) {
		assert.Equal(t, turn.ID, e.TurnID)
	}
}

func TestLLMFailureLeavesHistoryUnchanged(t *testing.T) {
	f := newFixture(t,
		inference.WithError(&inference.APIError{StatusCode: 500, Message: "backend error", Provider: "gemini"}),
		stt.NewMock("Halo"),
		tts.NewMock(""),
	)

	turn, err := f.orch.Run(context.Background(), greeting, ".wav")
	require.Error(t, err)
	assert.Equal(t, StateFailed, turn.State)
	assert.Equal(t, engine.StageLLM, turn.FailedStage)
	assert.Equal(t, engine.KindRemoteRejected, engine.KindOf(err))
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.tts.CallCount(), "failed reply must never be synthesized")
}

func TestDegradedTurn(t *testing.T) {
	f := newFixture(t, nil, stt.NewMock("Halo"), tts.NewMock(""))

	turn, err := f.orch.Run(context.Background(), greeting, ".wav")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, turn.State)
	assert.Equal(t, chat.DegradedReply, turn.Response)
	assert.Equal(t, chat.DegradedReply, f.tts.Calls()[0].Text)
	assert.Equal(t, 0, f.store.Len(), "degraded mode does not persist")
}

func TestSTTFailureStopsTurn(t *testing.T) {
	runner := &engine.MockRunner{
		RunFunc: func(ctx context.Context, cmd engine.Command) ([]byte, error) {
			return []byte("failed to load model"), errors.New("exit status 1")
		},
	}
	whisper, err := stt.NewWhisper(stt.WithRunner(runner), stt.WithLogger(log.Discard()))
	require.NoError(t, err)

	provider := inference.NewMock("never")
	dir := t.TempDir()
	store := history.Open(filepath.Join(dir, "chat_history.json"), history.WithLogger(log.Discard()))
	synth := tts.NewMock(dir)
	orch := New(whisper, chat.New(provider, store, chat.WithLogger(log.Discard())), synth, WithLogger(log.Discard()))

	turn, err := orch.Run(context.Background(), greeting, ".wav")
	assert.ErrorIs(t, err, &engine.Error{Kind: engine.KindEngineFailure, Stage: engine.StageSTT})
	assert.Equal(t, engine.StageSTT, turn.FailedStage)
	assert.Equal(t, 0, provider.CallCount(), "text engine must not be called")
	assert.Equal(t, 0, synth.CallCount())
	assert.Equal(t, 0, store.Len())
}

func TestErrorMarkerNeverReachesTextEngine(t *testing.T) {
	provider := inference.NewMock("never")
	f := newFixture(t, provider, stt.NewMock("[ERROR] model not found"), tts.NewMock(""))

	_, err := f.orch.Run(context.Background(), greeting, ".wav")
	assert.ErrorIs(t, err, &engine.Error{Kind: engine.KindEngineFailure, Stage: engine.StageSTT})
	assert.Equal(t, 0, provider.CallCount())
}

func TestEmptyTranscriptFails(t *testing.T) {
	provider := inference.NewMock("never")
	f := newFixture(t, provider, stt.NewMock("   "), tts.NewMock(""))

	_, err := f.orch.Run(context.Background(), greeting, ".wav")
	assert.ErrorIs(t, err, &engine.Error{Kind: engine.KindArtifactMissing, Stage: engine.StageSTT})
	assert.Equal(t, 0, provider.CallCount())
}

func TestMissingOrEmptyArtifactFails(t *testing.T) {
	tests := []struct {
		name  string
		write bool
	}{
		{"missing", false},
		{"zero bytes", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			synth := &tts.Mock{
				SynthesizeFunc: func(ctx context.Context, text string) (string, error) {
					path := filepath.Join(dir, "tts_out.wav")
					if tt.write {
						os.WriteFile(path, nil, 0644)
					}
					return path, nil
				},
			}
			f := newFixture(t, inference.NewMock("Halo juga"), stt.NewMock("Halo"), synth)

			turn, err := f.orch.Run(context.Background(), greeting, ".wav")
			assert.ErrorIs(t, err, &engine.Error{Kind: engine.KindArtifactMissing, Stage: engine.StageTTS})
			assert.Equal(t, StateFailed, turn.State)
			assert.Empty(t, turn.ArtifactPath)
			_, statErr := os.Stat(filepath.Join(dir, "tts_out.wav"))
			assert.True(t, os.IsNotExist(statErr), "bad artifact should be removed")
		})
	}
}

func TestUntaggedStageErrorsAreTagged(t *testing.T) {
	f := newFixture(t, inference.NewMock("Halo juga"), stt.NewMock("Halo"), tts.WithError(errors.New("boom")))

	_, err := f.orch.Run(context.Background(), greeting, ".wav")
	assert.Equal(t, engine.StageTTS, engine.StageOf(err))
	assert.Equal(t, engine.KindEngineFailure, engine.KindOf(err))
}

func TestStageTimeout(t *testing.T) {
	slow := &stt.Mock{
		TranscribeFunc: func(ctx context.Context, audio []byte, ext string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	provider := inference.NewMock("never")
	f := newFixture(t, provider, slow, tts.NewMock(""), WithTimeouts(Timeouts{STT: 20 * time.Millisecond}))

	turn, err := f.orch.Run(context.Background(), greeting, ".wav")
	assert.ErrorIs(t, err, &engine.Error{Kind: engine.KindTimeout, Stage: engine.StageSTT})
	assert.Equal(t, StateFailed, turn.State)
	assert.Equal(t, 0, provider.CallCount())
}

func TestEmptyAudio(t *testing.T) {
	transcriber := stt.NewMock("Halo")
	f := newFixture(t, inference.NewMock("x"), transcriber, tts.NewMock(""))

	turn, err := f.orch.Run(context.Background(), nil, ".wav")
	assert.ErrorIs(t, err, ErrEmptyAudio)
	assert.Equal(t, StateFailed, turn.State)
	assert.Equal(t, 0, transcriber.CallCount())
}

func TestFailureIsRecorded(t *testing.T) {
	f := newFixture(t, inference.NewMock("x"), stt.WithError(engine.New(engine.KindEngineFailure, engine.StageSTT, "crash")), tts.NewMock(""))

	turn, _ := f.orch.Run(context.Background(), greeting, ".wav")

	entries, err := f.events.Entries()
	require.NoError(t, err)
	view := bridge.Reconstruct(entries, turn.ID)
	assert.Contains(t, view.Failure, "stt")

	turns, failures := f.orch.Metrics().Counts()
	assert.Equal(t, 1, turns)
	assert.Equal(t, 1, failures)
	assert.Equal(t, engine.StageSTT, f.orch.Metrics().Last().FailedStage)
}

func TestStateTransitions(t *testing.T) {
	turn := newTurn(10, ".wav")
	assert.Error(t, turn.advance(StateResponded), "cannot skip a stage")
	require.NoError(t, turn.advance(StateTranscribed))
	require.NoError(t, turn.advance(StateResponded))
	require.NoError(t, turn.advance(StateSynthesized))
	require.NoError(t, turn.advance(StateDelivered))
	assert.True(t, turn.State.Terminal())
	assert.False(t, turn.FinishedAt.IsZero())
	assert.Error(t, turn.advance(StateFailed))

	turn.fail(engine.StageTTS, errors.New("late"))
	assert.Equal(t, StateDelivered, turn.State, "terminal turns stay put")
}

func TestAdvanceAtTagsIllegalTransition(t *testing.T) {
	turn := newTurn(10, ".wav")
	require.NoError(t, advanceAt(turn, StateTranscribed, engine.StageSTT))

	err := advanceAt(turn, StateSynthesized, engine.StageLLM)
	require.ErrorIs(t, err, &engine.Error{Kind: engine.KindEngineFailure, Stage: engine.StageLLM})
	assert.Contains(t, err.Error(), "transcribed -> synthesized")
	assert.Equal(t, StateTranscribed, turn.State)

	turn.fail(engine.StageLLM, err)
	err = advanceAt(turn, StateResponded, engine.StageLLM)
	assert.Equal(t, engine.StageLLM, engine.StageOf(err), "a failed turn cannot move on")
	assert.Equal(t, StateFailed, turn.State)
}
