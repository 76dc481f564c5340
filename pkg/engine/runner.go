// Package engine runs the external speech engines and defines the error
// taxonomy shared by every stage of a voice turn.
//
// The speech-to-text and text-to-speech engines are command-line tools. A
// Runner invokes them with a bounded wait; the STT and TTS adapters build
// their argument lists on top of it.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single engine invocation.
const DefaultTimeout = 2 * time.Minute

// Command describes one external process invocation.
type Command struct {
	Name  string
	Args  []string
	Stdin io.Reader

	// Dir is the working directory. Empty means the current one.
	Dir string
}

// String renders the command line for logs.
func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Name, c.Args)
}

// Runner executes external processes.
type Runner interface {
	// Run blocks until the process exits and returns its combined
	// stdout and stderr. A non-nil error means the process did not
	// exit cleanly.
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct {
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewExecRunner creates a runner with the given timeout.
func NewExecRunner(timeout time.Duration, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{Timeout: timeout, Logger: logger.With("component", "engine.exec")}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdin = cmd.Stdin
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out
	// Don't wait forever on pipes held by grandchildren after a kill.
	c.WaitDelay = 5 * time.Second

	start := time.Now()
	err := c.Run()
	if r.Logger != nil {
		r.Logger.Debug("process exited",
			"cmd", cmd.Name,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
	}
	if err != nil && ctx.Err() != nil {
		return out.Bytes(), fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
	}
	if err != nil {
		return out.Bytes(), fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return out.Bytes(), nil
}

// ExitCode returns the process exit code carried by err, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Invoke runs cmd on r and maps failures to tagged errors for stage.
func Invoke(ctx context.Context, r Runner, stage Stage, cmd Command) ([]byte, error) {
	out, err := r.Run(ctx, cmd)
	if err == nil {
		return out, nil
	}
	detail := fmt.Sprintf("%s failed", cmd.Name)
	if code := ExitCode(err); code >= 0 {
		detail = fmt.Sprintf("%s exited with code %d", cmd.Name, code)
	}
	e := Wrap(KindEngineFailure, stage, detail, err)
	e.Output = Truncate(string(out), 4096)
	return out, e
}

// Truncate shortens s to at most n bytes, keeping the tail where engines
// usually print the actual failure.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
