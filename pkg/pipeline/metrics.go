package pipeline

import (
	"sync"
	"time"

	"github.com/teslashibe/voicechat/pkg/engine"
)

// historySize is how many recent turns are kept for averaging.
const historySize = 100

// Metrics tracks latency at each stage of one turn.
type Metrics struct {
	TurnID string

	STTLatency   time.Duration // Transcription
	LLMLatency   time.Duration // Text engine round trip
	TTSLatency   time.Duration // Synthesis and artifact check
	TotalLatency time.Duration // Received to terminal state

	Failed      bool
	FailedStage engine.Stage
}

// MetricsCollector keeps the latest turn and a window of recent ones.
// It is goroutine-safe; turns record themselves once they finish.
type MetricsCollector struct {
	mu       sync.Mutex
	last     Metrics
	history  []Metrics
	turns    int
	failures int
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, historySize),
	}
}

// Record archives a finished turn.
func (m *MetricsCollector) Record(turn Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = turn
	m.turns++
	if turn.Failed {
		m.failures++
	}
	m.history = append(m.history, turn)
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}
}

// Last returns the most recent turn's metrics.
func (m *MetricsCollector) Last() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Average returns per-stage averages over recent turns. A stage is only
// averaged over turns that reached it.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg Metrics
	var nSTT, nLLM, nTTS, nTotal time.Duration
	for _, h := range m.history {
		if h.STTLatency > 0 {
			avg.STTLatency += h.STTLatency
			nSTT++
		}
		if h.LLMLatency > 0 {
			avg.LLMLatency += h.LLMLatency
			nLLM++
		}
		if h.TTSLatency > 0 {
			avg.TTSLatency += h.TTSLatency
			nTTS++
		}
		if !h.Failed {
			avg.TotalLatency += h.TotalLatency
			nTotal++
		}
	}
	if nSTT > 0 {
		avg.STTLatency /= nSTT
	}
	if nLLM > 0 {
		avg.LLMLatency /= nLLM
	}
	if nTTS > 0 {
		avg.TTSLatency /= nTTS
	}
	if nTotal > 0 {
		avg.TotalLatency /= nTotal
	}
	return avg
}

// Counts returns how many turns finished and how many of them failed.
func (m *MetricsCollector) Counts() (turns, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns, m.failures
}

// Snapshot is the JSON view served by the HTTP shell.
type Snapshot struct {
	Turns    int          `json:"turns"`
	Failures int          `json:"failures"`
	Last     StageLatency `json:"last"`
	Average  StageLatency `json:"average"`
}

// StageLatency is Metrics in milliseconds.
type StageLatency struct {
	TurnID      string `json:"turn_id,omitempty"`
	STTMs       int64  `json:"stt_ms"`
	LLMMs       int64  `json:"llm_ms"`
	TTSMs       int64  `json:"tts_ms"`
	TotalMs     int64  `json:"total_ms"`
	FailedStage string `json:"failed_stage,omitempty"`
}

func (m Metrics) latency() StageLatency {
	return StageLatency{
		TurnID:      m.TurnID,
		STTMs:       m.STTLatency.Milliseconds(),
		LLMMs:       m.LLMLatency.Milliseconds(),
		TTSMs:       m.TTSLatency.Milliseconds(),
		TotalMs:     m.TotalLatency.Milliseconds(),
		FailedStage: string(m.FailedStage),
	}
}

// Snapshot returns counters, the last turn and averages.
func (m *MetricsCollector) Snapshot() Snapshot {
	turns, failures := m.Counts()
	return Snapshot{
		Turns:    turns,
		Failures: failures,
		Last:     m.Last().latency(),
		Average:  m.Average().latency(),
	}
}

// FormatLatency returns a formatted string of stage latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.STTLatency) + " STT | " +
		formatDuration(m.LLMLatency) + " LLM | " +
		formatDuration(m.TTSLatency) + " TTS | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
