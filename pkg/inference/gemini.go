package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/voicechat/internal/httpc"
)

const providerGemini = "gemini"

// Gemini implements Provider for Google's Gemini generateContent API.
type Gemini struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, WrapError(providerGemini, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}

	return &Gemini{
		config: cfg,
		http:   hc,
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Chat generates a reply for the conversation in req.
func (g *Gemini) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.config.MaxTokens
	}
	temp := req.Temperature
	if temp == 0 {
		temp = g.config.Temperature
	}
	system := req.System
	if system == "" {
		system = g.config.SystemPrompt
	}

	payload := geminiRequest{
		Contents: convertMessages(req.Messages),
		GenerationConfig: generationConfig{
			Temperature:     temp,
			MaxOutputTokens: maxTokens,
		},
	}
	if system != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.config.BaseURL, model)
	header := http.Header{}
	header.Set("x-goog-api-key", g.config.APIKey)

	resp, err := httpc.PostJSON(ctx, g.http, url, header, payload)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	if result.Error != nil && result.Error.Message != "" {
		return nil, &APIError{
			StatusCode: result.Error.Code,
			Message:    result.Error.Message,
			Status:     result.Error.Status,
			Provider:   providerGemini,
		}
	}

	if len(result.Candidates) == 0 {
		if r := result.PromptFeedback.BlockReason; r != "" {
			return nil, WrapError(providerGemini, fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, r))
		}
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}

	cand := result.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, WrapError(providerGemini, fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, cand.FinishReason))
	}

	latency := time.Since(start).Milliseconds()
	g.logger.Debug("chat completed",
		"model", model,
		"messages", len(req.Messages),
		"latency_ms", latency,
	)

	return &ChatResponse{
		Message:      NewAssistantMessage(text.String()),
		FinishReason: cand.FinishReason,
		Usage: Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
		Model:     model,
		LatencyMs: latency,
	}, nil
}

// Name implements Provider.
func (g *Gemini) Name() string {
	return providerGemini
}

// Close releases resources.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}

// convertMessages converts our Message format to Gemini's format.
func convertMessages(msgs []Message) []geminiContent {
	contents := make([]geminiContent, 0, len(msgs))
	for _, msg := range msgs {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	return contents
}

// parseError reads and parses an error response.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error geminiError `json:"error"`
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Provider:   providerGemini,
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Status = errResp.Error.Status
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// geminiResponse is the Gemini API response format.
type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *geminiError `json:"error"`
}

// Verify Gemini implements Provider at compile time.
var _ Provider = (*Gemini)(nil)
