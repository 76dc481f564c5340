package tts

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mock implements Synthesizer for testing.
// All behavior can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, writes a small placeholder WAV into Dir.
	SynthesizeFunc func(ctx context.Context, text string) (string, error)

	// Dir receives placeholder files. Defaults to the OS temp dir.
	Dir string

	// Unavailable makes Available report false.
	Unavailable bool

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Text string
	Time time.Time
}

// NewMock creates a mock that writes placeholder audio into dir.
func NewMock(dir string) *Mock {
	return &Mock{Dir: dir}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (string, error) {
			return "", err
		},
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Text: text, Time: time.Now()})
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}

	dir := m.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "tts_"+uuid.NewString()+".wav")
	if err := os.WriteFile(path, []byte("RIFF----WAVEfmt "), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Name implements Synthesizer.
func (m *Mock) Name() string {
	return "mock"
}

// Available implements Synthesizer.
func (m *Mock) Available() bool {
	return !m.Unavailable
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of Synthesize calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Verify Mock implements Synthesizer at compile time.
var _ Synthesizer = (*Mock)(nil)
