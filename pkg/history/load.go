package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmptyFile is reported when the history file holds only whitespace.
var ErrEmptyFile = errors.New("history: file is empty")

// legacyContent is the Gemini content layout that older deployments wrote as
// a bare JSON array.
type legacyContent struct {
	Role  string `json:"role"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

func load(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func decode(data []byte) ([]Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	if data[0] == '[' {
		var contents []legacyContent
		if err := json.Unmarshal(data, &contents); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return fromLegacy(contents), nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if doc.Version > currentVersion {
		return nil, fmt.Errorf("unsupported history version %d", doc.Version)
	}
	for i, m := range doc.Messages {
		if m.Role != RoleUser && m.Role != RoleModel {
			return nil, fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return doc.Messages, nil
}

func fromLegacy(contents []legacyContent) []Message {
	msgs := make([]Message, 0, len(contents))
	for _, c := range contents {
		var parts []string
		for _, p := range c.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		role := RoleUser
		if c.Role == "model" || c.Role == "assistant" {
			role = RoleModel
		}
		msgs = append(msgs, Message{Role: role, Text: strings.Join(parts, "")})
	}
	return msgs
}
