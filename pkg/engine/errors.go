package engine

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a turn failure.
type Kind string

const (
	// KindConfigMissing means a credential is absent. Callers degrade
	// instead of failing.
	KindConfigMissing Kind = "config_missing"

	// KindEngineFailure means an external process exited non-zero or
	// could not be started.
	KindEngineFailure Kind = "engine_failure"

	// KindArtifactMissing means the process reported success but left no
	// usable output behind.
	KindArtifactMissing Kind = "artifact_missing"

	// KindNetworkFailure means the remote text engine could not be reached.
	KindNetworkFailure Kind = "network_failure"

	// KindRemoteRejected means the remote text engine answered with an error.
	KindRemoteRejected Kind = "remote_rejected"

	// KindPersistenceFailure means the history could not be read or written.
	// It is logged and never returned to a turn's caller.
	KindPersistenceFailure Kind = "persistence_failure"

	// KindTimeout means a stage exceeded its deadline.
	KindTimeout Kind = "timeout"
)

// Stage identifies a pipeline stage.
type Stage string

const (
	StageNone Stage = ""
	StageSTT  Stage = "stt"
	StageLLM  Stage = "llm"
	StageTTS  Stage = "tts"
)

// Error is the tagged error returned at every adapter boundary.
type Error struct {
	Kind  Kind
	Stage Stage

	// Detail is a short human-readable description.
	Detail string

	// Output holds the combined process output, if any.
	Output string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != StageNone {
		msg = fmt.Sprintf("%s [%s]", e.Kind, e.Stage)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind and, when set, Stage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Stage == StageNone || t.Stage == e.Stage
}

// New creates a tagged error.
func New(kind Kind, stage Stage, detail string) *Error {
	return &Error{Kind: kind, Stage: stage, Detail: detail}
}

// Wrap tags err. A deadline error is always reported as KindTimeout.
func Wrap(kind Kind, stage Stage, detail string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Stage: stage, Detail: detail, Err: err}
}

// Sentinels usable with errors.Is. A sentinel without a stage matches any stage.
var (
	ErrConfigMissing      = &Error{Kind: KindConfigMissing}
	ErrEngineFailure      = &Error{Kind: KindEngineFailure}
	ErrArtifactMissing    = &Error{Kind: KindArtifactMissing}
	ErrNetworkFailure     = &Error{Kind: KindNetworkFailure}
	ErrRemoteRejected     = &Error{Kind: KindRemoteRejected}
	ErrPersistenceFailure = &Error{Kind: KindPersistenceFailure}
	ErrTimeout            = &Error{Kind: KindTimeout}
)

// As extracts a tagged error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" if err is not tagged.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// StageOf returns the stage of err, or StageNone.
func StageOf(err error) Stage {
	if e, ok := As(err); ok {
		return e.Stage
	}
	return StageNone
}
