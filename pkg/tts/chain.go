package tts

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
)

// Chain implements Synthesizer by trying multiple engines in order.
// The first successful engine wins; if all fail, returns a ChainError.
type Chain struct {
	synths []Synthesizer
	logger *slog.Logger
}

// NewChain creates a chain that tries synthesizers in order.
// At least one synthesizer is required.
func NewChain(logger *slog.Logger, synths ...Synthesizer) (*Chain, error) {
	if len(synths) == 0 {
		return nil, ErrNoSynthesizers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		synths: synths,
		logger: logger.With("component", "tts.chain"),
	}, nil
}

// Synthesize tries each synthesizer until one produces a non-empty file.
func (c *Chain) Synthesize(ctx context.Context, text string) (string, error) {
	var errs []error

	for i, s := range c.synths {
		path, err := s.Synthesize(ctx, text)
		if err == nil {
			// A clean exit without usable audio counts as a failure.
			if verr := VerifyArtifact(path); verr != nil {
				if path != "" {
					os.Remove(path)
				}
				err = verr
			}
		}
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback synthesizer succeeded",
					"synth", s.Name(),
					"chars", len(text),
				)
			}
			return path, nil
		}

		// Nothing to say is not an engine problem.
		if errors.Is(err, ErrEmptyText) {
			return "", err
		}

		errs = append(errs, err)
		c.logger.Warn("synthesizer failed, trying next",
			"synth", s.Name(),
			"error", err,
		)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", &ChainError{Errors: errs}
}

// Name lists the chained engines.
func (c *Chain) Name() string {
	names := make([]string, len(c.synths))
	for i, s := range c.synths {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Available reports whether any engine is installed.
func (c *Chain) Available() bool {
	for _, s := range c.synths {
		if s.Available() {
			return true
		}
	}
	return false
}

// Synthesizers returns the chained engines.
func (c *Chain) Synthesizers() []Synthesizer {
	return c.synths
}

// Verify Chain implements Synthesizer at compile time.
var _ Synthesizer = (*Chain)(nil)
