package stt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/voicechat/pkg/bridge"
	"github.com/teslashibe/voicechat/pkg/engine"
)

// argValue returns the value following flag in args.
func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// fakeWhisper writes transcript to the requested output prefix.
func fakeWhisper(transcript string, seen *engine.Command) *engine.MockRunner {
	return &engine.MockRunner{
		RunFunc: func(ctx context.Context, cmd engine.Command) ([]byte, error) {
			if seen != nil {
				*seen = cmd
			}
			prefix := argValue(cmd.Args, "-of")
			if err := os.WriteFile(prefix+".txt", []byte(transcript), 0644); err != nil {
				return nil, err
			}
			return []byte("whisper_init_from_file: loading model\n"), nil
		},
	}
}

func newTestWhisper(t *testing.T, runner engine.Runner, events *bridge.Log) *Whisper {
	t.Helper()
	w, err := NewWhisper(
		WithDir("/opt/whisper.cpp"),
		WithRunner(runner),
		WithEvents(events),
	)
	require.NoError(t, err)
	return w
}

func TestTranscribeArgumentContract(t *testing.T) {
	var cmd engine.Command
	events, err := bridge.Open(filepath.Join(t.TempDir(), "events.jsonl"), nil)
	require.NoError(t, err)
	w := newTestWhisper(t, fakeWhisper("  Halo\n", &cmd), events)

	ctx := bridge.WithTurn(context.Background(), "turn-1")
	text, err := w.Transcribe(ctx, []byte("RIFF"), "webm")
	require.NoError(t, err)
	assert.Equal(t, "Halo", text, "transcript should be trimmed")

	assert.Equal(t, filepath.Join("/opt/whisper.cpp", "build", "bin", "whisper-cli"), cmd.Name)
	assert.Equal(t, filepath.Join("/opt/whisper.cpp", "models", "ggml-large-v3-turbo.bin"), argValue(cmd.Args, "-m"))
	assert.Equal(t, "id", argValue(cmd.Args, "-l"))
	input := argValue(cmd.Args, "-f")
	assert.Equal(t, ".webm", filepath.Ext(input))
	assert.Contains(t, cmd.Args, "-otxt")
	assert.Equal(t, filepath.Dir(input), filepath.Dir(argValue(cmd.Args, "-of")),
		"output prefix must live in the same work dir as the input")
	assert.NoDirExists(t, filepath.Dir(input), "work dir should be removed")

	entries, err := events.Entries()
	require.NoError(t, err)
	view := bridge.Reconstruct(entries, "turn-1")
	assert.Equal(t, "Halo", view.Transcription)
	_, ok := bridge.LatestForTurn(entries, "turn-1", bridge.MarkerAudioInput)
	assert.True(t, ok, "expected audio input entry")
	e, ok := bridge.LatestForTurn(entries, "turn-1", bridge.MarkerLanguage)
	require.True(t, ok, "expected language entry")
	assert.Equal(t, "id", e.Text)
}

func TestTranscribeProcessFailure(t *testing.T) {
	var input string
	runner := &engine.MockRunner{
		RunFunc: func(ctx context.Context, cmd engine.Command) ([]byte, error) {
			input = argValue(cmd.Args, "-f")
			return []byte("error: failed to read WAV"), errors.New("exit status 1")
		},
	}
	w := newTestWhisper(t, runner, nil)

	_, err := w.Transcribe(context.Background(), []byte("junk"), ".wav")
	require.ErrorIs(t, err, &engine.Error{Kind: engine.KindEngineFailure, Stage: engine.StageSTT})
	e, ok := engine.As(err)
	require.True(t, ok)
	assert.Contains(t, e.Output, "failed to read WAV", "process output kept for diagnostics")
	assert.NoDirExists(t, filepath.Dir(input), "work dir should be removed after failure")
}

func TestTranscribeMissingArtifact(t *testing.T) {
	var input string
	runner := &engine.MockRunner{
		RunFunc: func(ctx context.Context, cmd engine.Command) ([]byte, error) {
			input = argValue(cmd.Args, "-f")
			return nil, nil
		},
	}
	w := newTestWhisper(t, runner, nil)

	_, err := w.Transcribe(context.Background(), []byte("audio"), ".wav")
	require.ErrorIs(t, err, &engine.Error{Kind: engine.KindArtifactMissing, Stage: engine.StageSTT})
	assert.NoDirExists(t, filepath.Dir(input), "work dir should be removed after artifact failure")
}

func TestTranscribeErrorMarker(t *testing.T) {
	w := newTestWhisper(t, fakeWhisper("[ERROR] Whisper failed", nil), nil)

	_, err := w.Transcribe(context.Background(), []byte("audio"), ".wav")
	assert.Equal(t, engine.KindEngineFailure, engine.KindOf(err))
	assert.Equal(t, engine.StageSTT, engine.StageOf(err))
}

func TestTranscribeEmpty(t *testing.T) {
	runner := &engine.MockRunner{}
	w := newTestWhisper(t, runner, nil)

	_, err := w.Transcribe(context.Background(), nil, ".wav")
	assert.ErrorIs(t, err, ErrEmptyAudio)
	assert.Zero(t, runner.CallCount(), "engine must not run for empty audio")

	w = newTestWhisper(t, fakeWhisper("   \n", nil), nil)
	_, err = w.Transcribe(context.Background(), []byte("x"), ".wav")
	assert.Equal(t, engine.KindArtifactMissing, engine.KindOf(err), "blank transcript, got %v", err)
}

func TestNormalizeExt(t *testing.T) {
	tests := map[string]string{
		"":         ".wav",
		"wav":      ".wav",
		".mp3":     ".mp3",
		" .ogg ":   ".ogg",
		"../x.wav": ".wav",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeExt(in), "normalizeExt(%q)", in)
	}
}

func TestAvailable(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWhisper(WithDir(dir))
	require.NoError(t, err)
	assert.True(t, w.Available(), "existing dir should be available")

	w, err = NewWhisper(WithDir(filepath.Join(dir, "missing")))
	require.NoError(t, err)
	assert.False(t, w.Available(), "missing dir should be unavailable")
}
