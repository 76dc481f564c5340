// Package bridge implements the turn event log: an append-only file that the
// pipeline writes progress markers into and that an out-of-process observer
// re-reads to reconstruct what happened during a turn.
//
// Each line is a JSON object carrying a monotonic sequence number and the ID
// of the turn that produced it, so concurrent turns never become ambiguous
// for a reader. Readers must always scan the whole file; offsets are not
// stable across writers.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Marker tags an entry with the pipeline point that produced it.
type Marker string

const (
	MarkerAudioReceived Marker = "audio received"
	MarkerAudioInput    Marker = "audio input"
	MarkerLanguage      Marker = "language"
	MarkerEngineOutput  Marker = "engine output"
	MarkerTranscription Marker = "transcription result"
	MarkerLLMRequest    Marker = "llm request"
	MarkerResponse      Marker = "response text"
	MarkerTTSText       Marker = "tts text"
	MarkerTTSOutput     Marker = "tts output path"
	MarkerDelivered     Marker = "turn delivered"
	MarkerFailed        Marker = "turn failed"
)

// Entry is one line of the event log.
type Entry struct {
	Seq    int64     `json:"seq"`
	TurnID string    `json:"turn_id,omitempty"`
	Time   time.Time `json:"time"`
	Marker Marker    `json:"marker"`
	Text   string    `json:"text"`
}

// Log is the writer side of the event log. A nil *Log discards everything,
// which lets adapters run without a bridge in tests.
type Log struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	seq  int64
	subs map[int]func(Entry)
	next int
}

// MaxText bounds the text stored in one entry. Longer text is cut and
// suffixed with an ellipsis.
const MaxText = 64 << 10

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "…"
}

// DefaultPath returns the log location used when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "voice_chat_log.jsonl")
}

// Open prepares the log at path, resuming the sequence from existing entries.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if path == "" {
		path = DefaultPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("bridge: create directory: %w", err)
	}

	logger = logger.With("component", "bridge")

	// Observers are the only readers; a damaged log must not stop writers.
	entries, err := ReadAll(path)
	if err != nil {
		logger.Warn("event log partly unreadable, resuming from parsed entries",
			"path", path,
			"entries", len(entries),
			"error", err,
		)
	}
	var seq int64
	for _, e := range entries {
		if e.Seq > seq {
			seq = e.Seq
		}
	}

	return &Log{
		path:   path,
		logger: logger,
		seq:    seq,
		subs:   make(map[int]func(Entry)),
	}, nil
}

// Path returns the file backing the log.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one entry and notifies subscribers.
func (l *Log) Append(turnID string, marker Marker, text string) (Entry, error) {
	if l == nil {
		return Entry{}, nil
	}

	l.mu.Lock()
	l.seq++
	entry := Entry{
		Seq:    l.seq,
		TurnID: turnID,
		Time:   time.Now().UTC(),
		Marker: marker,
		Text:   clip(text, MaxText),
	}
	err := l.write(entry)
	subs := make([]func(Entry), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	if err != nil {
		return entry, err
	}
	for _, fn := range subs {
		fn(entry)
	}
	return entry, nil
}

// write appends a single line. Callers hold l.mu.
func (l *Log) write(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("bridge: encode entry: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("bridge: open log: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("bridge: append: %w", err)
	}
	return f.Close()
}

// Record appends an entry for the turn carried by ctx. Write failures are
// logged; the event log never fails a turn.
func (l *Log) Record(ctx context.Context, marker Marker, text string) {
	if l == nil {
		return
	}
	if _, err := l.Append(TurnFrom(ctx), marker, text); err != nil {
		l.logger.Warn("event log append failed", "marker", marker, "error", err)
	}
}

// Subscribe registers fn to receive every appended entry. The returned
// function removes the subscription.
func (l *Log) Subscribe(fn func(Entry)) func() {
	if l == nil {
		return func() {}
	}
	l.mu.Lock()
	id := l.next
	l.next++
	l.subs[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// Entries re-reads the whole log.
func (l *Log) Entries() ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	return ReadAll(l.path)
}

type turnKey struct{}

// WithTurn attaches a turn ID to ctx so adapters can tag their entries.
func WithTurn(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnKey{}, turnID)
}

// TurnFrom returns the turn ID carried by ctx, or "".
func TurnFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(turnKey{}).(string)
	return id
}
