package stt

import (
	"context"
	"sync"
	"time"
)

// Mock implements Transcriber for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns "Halo".
	TranscribeFunc func(ctx context.Context, audio []byte, ext string) (string, error)

	// Unavailable makes Available report false.
	Unavailable bool

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Transcribe invocation.
type MockCall struct {
	Bytes int
	Ext   string
	Time  time.Time
}

// NewMock creates a mock that always hears text.
func NewMock(text string) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, audio []byte, ext string) (string, error) {
			return text, nil
		},
	}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, audio []byte, ext string) (string, error) {
			return "", err
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, audio []byte, ext string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Bytes: len(audio), Ext: ext, Time: time.Now()})
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio, ext)
	}
	return "Halo", nil
}

// Available implements Transcriber.
func (m *Mock) Available() bool {
	return !m.Unavailable
}

// CallCount returns the number of Transcribe calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Verify Mock implements Transcriber at compile time.
var _ Transcriber = (*Mock)(nil)
