package bridge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLine bounds a single log line. Append clips text well below this, so
// only foreign or damaged lines reach it.
const maxLine = 1 << 20

// legacyMarkers maps the plain-text prefixes older writers used.
var legacyMarkers = map[string]Marker{
	"stt result":            MarkerTranscription,
	"llm response":          MarkerResponse,
	"sending to llm":        MarkerLLMRequest,
	"tts output path":       MarkerTTSOutput,
	"> text":                MarkerTTSText,
	"processing audio file": MarkerAudioInput,
	"language setting":      MarkerLanguage,
}

// ReadAll reads every entry in the log at path. A missing file yields no
// entries and no error.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bridge: read log: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes log lines from r. Malformed lines, lines longer than
// maxLine and a partially written last line are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		raw, skipped, err := readLine(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("bridge: read log: %w", err)
		}
		if skipped {
			continue
		}

		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") {
			var e Entry
			if err := json.Unmarshal([]byte(line), &e); err == nil && e.Marker != "" {
				entries = append(entries, e)
			}
			continue
		}
		if e, ok := parseLegacy(line); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// readLine returns the next line without its terminator. A line longer
// than maxLine is consumed to its end and reported as skipped.
func readLine(br *bufio.Reader) (line []byte, skipped bool, err error) {
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !skipped {
			if len(line)+len(chunk) > maxLine {
				line, skipped = nil, true
			} else {
				line = append(line, chunk...)
			}
		}
		if !more {
			return line, skipped, nil
		}
	}
}

// parseLegacy handles "Marker: text" lines.
func parseLegacy(line string) (Entry, bool) {
	key, text, ok := strings.Cut(line, ":")
	if !ok {
		return Entry{}, false
	}
	marker, ok := legacyMarkers[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Entry{}, false
	}
	return Entry{Marker: marker, Text: strings.TrimSpace(text)}, true
}

// Latest returns the most recently written entry with marker.
func Latest(entries []Entry, marker Marker) (Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Marker == marker {
			return entries[i], true
		}
	}
	return Entry{}, false
}

// LatestForTurn is Latest restricted to one turn.
func LatestForTurn(entries []Entry, turnID string, marker Marker) (Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].TurnID == turnID && entries[i].Marker == marker {
			return entries[i], true
		}
	}
	return Entry{}, false
}

// ForTurn returns the entries written by one turn, in log order.
func ForTurn(entries []Entry, turnID string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.TurnID == turnID {
			out = append(out, e)
		}
	}
	return out
}

// TurnView is what an observer can reconstruct about a turn.
type TurnView struct {
	TurnID        string `json:"turn_id"`
	Transcription string `json:"transcription"`
	Response      string `json:"response"`
	Delivered     bool   `json:"delivered"`
	Failure       string `json:"failure,omitempty"`
}

// Reconstruct builds a TurnView. An empty turnID reads the most recent
// values regardless of which turn wrote them.
func Reconstruct(entries []Entry, turnID string) TurnView {
	find := func(m Marker) (Entry, bool) {
		if turnID == "" {
			return Latest(entries, m)
		}
		return LatestForTurn(entries, turnID, m)
	}

	view := TurnView{TurnID: turnID}
	if e, ok := find(MarkerTranscription); ok {
		view.Transcription = e.Text
		if view.TurnID == "" {
			view.TurnID = e.TurnID
		}
	}
	if e, ok := find(MarkerResponse); ok {
		view.Response = e.Text
	}
	if _, ok := find(MarkerDelivered); ok {
		view.Delivered = true
	}
	if e, ok := find(MarkerFailed); ok {
		view.Failure = e.Text
	}
	return view
}
