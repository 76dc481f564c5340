// Package history keeps the single running conversation between the user and
// the text engine and persists it as a JSON document.
//
// The store is load-or-default: a missing, empty or unreadable file starts a
// fresh conversation with a warning instead of failing. Turns go through
// Exchange, which commits the user message and the reply together or not at
// all, and rewrites the file atomically after every committed turn.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teslashibe/voicechat/pkg/engine"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of the conversation.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time,omitempty"`
}

// ResponderFunc produces the reply for userText given the prior messages.
type ResponderFunc func(ctx context.Context, prior []Message) (string, error)

const currentVersion = 1

// document is the on-disk layout.
type document struct {
	Version   int       `json:"version"`
	UpdatedAt string    `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Store is the durable conversation. It is safe for concurrent use; turns
// are serialized.
type Store struct {
	path   string
	window int
	logger *slog.Logger

	// turn serializes Exchange so one turn observes the previous one.
	turn sync.Mutex

	mu       sync.RWMutex
	messages []Message
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWindow limits how many trailing messages are handed to the responder.
// Zero means the whole history. The file always keeps everything.
func WithWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.window = n
		}
	}
}

// DefaultPath returns the history location used when none is configured.
func DefaultPath() string {
	return filepath.Join("app", "chat_history.json")
}

// Open loads the conversation at path. It never fails: anything that cannot
// be read yields an empty conversation and a warning.
func Open(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "history")

	msgs, err := load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info("no history file, starting fresh", "path", path)
	case err != nil:
		s.logger.Warn("history unreadable, starting fresh",
			"path", path,
			"error", engine.Wrap(engine.KindPersistenceFailure, engine.StageNone, "load history", err),
		)
	default:
		s.messages = msgs
		s.logger.Info("history loaded", "path", path, "messages", len(msgs))
	}
	return s
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Messages returns a copy of the whole conversation.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Context returns the trailing messages that are sent with the next turn.
func (s *Store) Context() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages
	if s.window > 0 && len(msgs) > s.window {
		msgs = msgs[len(msgs)-s.window:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Exchange runs one conversational turn. fn receives the prior context and
// returns the reply. On success the user message and the reply are appended
// together and the file is rewritten; on failure nothing changes.
//
// A failed write is logged and does not fail the turn: the in-memory
// conversation still includes it and the next successful write catches up.
func (s *Store) Exchange(ctx context.Context, userText string, fn ResponderFunc) (string, error) {
	s.turn.Lock()
	defer s.turn.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	reply, err := fn(ctx, s.Context())
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.messages = append(s.messages,
		Message{Role: RoleUser, Text: userText, Time: now},
		Message{Role: RoleModel, Text: reply, Time: now},
	)
	snapshot := make([]Message, len(s.messages))
	copy(snapshot, s.messages)
	s.mu.Unlock()

	if err := save(s.path, snapshot); err != nil {
		s.logger.Warn("history not persisted",
			"path", s.path,
			"error", engine.Wrap(engine.KindPersistenceFailure, engine.StageNone, "save history", err),
		)
	}
	return reply, nil
}

// Reset empties the conversation and persists the empty state.
func (s *Store) Reset() error {
	s.turn.Lock()
	defer s.turn.Unlock()

	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()

	if err := save(s.path, nil); err != nil {
		return engine.Wrap(engine.KindPersistenceFailure, engine.StageNone, "reset history", err)
	}
	s.logger.Info("history reset", "path", s.path)
	return nil
}

// save writes the document to a temp file in the same directory, then
// renames it over the target.
func save(path string, msgs []Message) error {
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.MarshalIndent(document{
		Version:   currentVersion,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Messages:  msgs,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
