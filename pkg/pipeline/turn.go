package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/voicechat/pkg/engine"
)

// State is a turn's position in the pipeline.
type State string

const (
	StateReceived    State = "received"
	StateTranscribed State = "transcribed"
	StateResponded   State = "responded"
	StateSynthesized State = "synthesized"
	StateDelivered   State = "delivered"
	StateFailed      State = "failed"
)

// next lists the only forward move from each state. Failed is reachable
// from any non-terminal state.
var next = map[State]State{
	StateReceived:    StateTranscribed,
	StateTranscribed: StateResponded,
	StateResponded:   StateSynthesized,
	StateSynthesized: StateDelivered,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// Turn is one audio-in, audio-out cycle.
type Turn struct {
	ID         string `json:"id"`
	AudioBytes int    `json:"audio_bytes"`
	Ext        string `json:"ext"`

	State       State        `json:"state"`
	FailedStage engine.Stage `json:"failed_stage,omitempty"`
	Err         error        `json:"-"`

	Transcript   string `json:"transcript,omitempty"`
	Response     string `json:"response,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

func newTurn(audioBytes int, ext string) *Turn {
	return &Turn{
		ID:         uuid.NewString(),
		AudioBytes: audioBytes,
		Ext:        ext,
		State:      StateReceived,
		StartedAt:  time.Now(),
	}
}

// advance moves the turn one step forward.
func (t *Turn) advance(to State) error {
	if want, ok := next[t.State]; !ok || want != to {
		return fmt.Errorf("pipeline: illegal transition %s -> %s", t.State, to)
	}
	t.State = to
	if to.Terminal() {
		t.FinishedAt = time.Now()
	}
	return nil
}

// advanceAt is advance with an illegal transition reported as a failure
// of stage.
func advanceAt(t *Turn, to State, stage engine.Stage) error {
	if err := t.advance(to); err != nil {
		return engine.Wrap(engine.KindEngineFailure, stage, "turn state", err)
	}
	return nil
}

// fail moves the turn to Failed at stage.
func (t *Turn) fail(stage engine.Stage, err error) {
	if t.State.Terminal() {
		return
	}
	t.State = StateFailed
	t.FailedStage = stage
	t.Err = err
	t.FinishedAt = time.Now()
}

// Duration is the wall time the turn took, or has taken so far.
func (t *Turn) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
