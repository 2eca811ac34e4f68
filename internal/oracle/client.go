// Package oracle adapts the planner's expert-mode Oracle hook to a live LLM.
// Client is the narrow LLM surface the oracle needs: one structured chat
// call. Both an OpenAI-backed and an Anthropic-backed Client are provided;
// the planner sees only the planner.Oracle interface in llm_oracle.go.
package oracle

import "context"

// Client sends one prompt and decodes a JSON-schema-constrained response
// into result.
type Client interface {
	Chat(ctx context.Context, req Request, result any) (*Response, error)
	Model() string
}

// Request is one structured chat call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64 // nil = model default, explicit 0 = deterministic
}

// Response carries usage accounting for the call.
type Response struct {
	PromptTokens     int
	CompletionTokens int
}

// Config selects and authenticates a Client.
type Config struct {
	Provider string // "openai" or "anthropic"
	APIKey   string
	BaseURL  string
	Model    string
}

// New builds a Client for cfg.Provider, defaulting to "openai".
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg)
	default:
		return newOpenAIClient(cfg)
	}
}

// Temp returns a pointer to t, for Request.Temperature literals.
func Temp(t float64) *float64 {
	return &t
}
