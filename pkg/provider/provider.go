// Package provider abstracts the language-model backend. A provider turns
// a conversation plus the advertised tool schemas into a ModelResponse,
// which is either final text or a batch of tool calls, never both
// interpreted at once: tool calls win when present.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/artificer-ai/artificer/pkg/tool"
)

// Roles a conversation message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role       string                   `json:"role"`
	Content    string                   `json:"content"`
	ToolCalls  []tool.InvocationRequest `json:"tool_calls,omitempty"`
	ToolCallID string                   `json:"tool_call_id,omitempty"`
}

// Request is the provider-neutral call shape.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []tool.Schema
	Temperature float64
	MaxTokens   int
}

// ModelResponse is the tagged outcome of one round trip. When ToolCalls is
// non-empty the response is a tool-call batch and Text is incidental
// commentary; otherwise it is final text.
type ModelResponse struct {
	Text      string
	ToolCalls []tool.InvocationRequest
	Usage     *TokenUsage
}

// IsToolCalls reports whether the model asked for tools this round.
func (r *ModelResponse) IsToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// TokenUsage tracks token consumption per round trip.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider is the pluggable model backend.
type Provider interface {
	// Submit performs one model round trip.
	Submit(ctx context.Context, req Request) (*ModelResponse, error)

	// Name returns the provider name
	Name() string
}

// AuthProfile holds one backend credential with failover bookkeeping.
type AuthProfile struct {
	ID            string `json:"id" mapstructure:"id"`
	Provider      string `json:"provider" mapstructure:"provider"` // "anthropic", "openai"
	APIKey        string `json:"api_key" mapstructure:"api_key"`
	Model         string `json:"model" mapstructure:"model"`
	Priority      int    `json:"priority" mapstructure:"priority"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty" mapstructure:"-"`
	FailureCount  int    `json:"failure_count" mapstructure:"-"`
}

// Factory creates providers from auth profiles.
type Factory struct{}

// NewProvider builds the backend named by the profile.
func (f *Factory) NewProvider(profile AuthProfile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// IsRetryableError reports whether a provider failure is worth retrying on
// another profile or after backoff.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network-level failures
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}
