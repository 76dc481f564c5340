// Package inference talks to the remote text engine.
//
// Providers take the whole conversation on every call; nothing is kept
// server-side between requests. The Gemini provider speaks the REST
// generateContent API directly.
//
// Example usage:
//
//	g, _ := inference.NewGemini(
//	    inference.WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//	    inference.WithModel("gemini-2.0-flash"),
//	)
//	defer g.Close()
//
//	resp, _ := g.Chat(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{
//	        inference.NewUserMessage("Halo!"),
//	    },
//	})
package inference

import "context"

// Provider generates replies from a conversation.
type Provider interface {
	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name identifies the provider in logs and errors.
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history, oldest first, ending with the
	// new user message.
	Messages []Message

	// System overrides the configured system instruction.
	System string

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
