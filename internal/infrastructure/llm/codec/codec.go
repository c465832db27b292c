// Package codec translates the vendor-neutral conversation.State into
// provider wire JSON and decodes provider responses back into
// conversation.Message values. Provider-specific shapes (OpenAI
// chat-completions, Anthropic/Bedrock messages) are isolated here so
// they never leak into the internal conversation model.
package codec

import (
	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	"github.com/nmnduy/claude-c-sub003/internal/domain/tool"
)

// Usage carries token counters extracted from a provider response. Field
// mapping from provider usage blocks to these counters differs by
// provider and is recorded, not assumed; see each codec's DecodeResponse.
type Usage struct {
	PromptTokens          int
	CompletionTokens      int
	TotalTokens           int
	CachedTokens          int
	PromptCacheHitTokens  int
	PromptCacheMissTokens int
}

// Codec encodes a conversation into one provider's request shape and
// decodes that provider's response shape back into conversation.Message.
type Codec interface {
	// Name identifies the codec for logging/audit ("openai", "anthropic").
	Name() string

	// EncodeRequest serializes state + tool definitions into the
	// provider's wire JSON, honoring cache-breakpoint annotation when
	// enableCacheHints is true.
	EncodeRequest(state *conversation.State, tools []tool.Definition, model string, maxTokens int, temperature float64, enableCacheHints bool) ([]byte, error)

	// DecodeResponse parses a provider response body into an assistant
	// Message plus usage counters. Never panics on malformed content:
	// unknown fields are ignored, missing tool_calls decode as empty.
	DecodeResponse(body []byte) (conversation.Message, Usage, error)
}
