package codec

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	"github.com/nmnduy/claude-c-sub003/internal/domain/tool"
)

// Anthropic-shaped request/response types. Used directly against the
// native Anthropic Messages API and, after SigV4 signing, against
// Bedrock, which wraps this exact body without changing its shape.

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text,omitempty"`
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Input        map[string]interface{} `json:"input,omitempty"`
	ToolUseID    string                 `json:"tool_use_id,omitempty"`
	Content      string                 `json:"content,omitempty"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicSystemBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string                 `json:"model"`
	System      []anthropicSystemBlock `json:"system,omitempty"`
	Messages    []anthropicMessage     `json:"messages"`
	Tools       []anthropicTool        `json:"tools,omitempty"`
	MaxTokens   int                    `json:"max_tokens"`
	Temperature float64                `json:"temperature"`
}

type anthropicResponse struct {
	Model   string           `json:"model"`
	Content []anthropicBlock `json:"content"`
	Usage   struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// Anthropic is the Anthropic Messages API codec, reused verbatim as the
// Bedrock wire body: Bedrock adds SigV4 signing and a different
// transport, not a different JSON shape (see infrastructure/llm/bedrock).
type Anthropic struct{}

// NewAnthropic builds the Anthropic/Bedrock messages codec.
func NewAnthropic() *Anthropic { return &Anthropic{} }

func (*Anthropic) Name() string { return "anthropic" }

func (c *Anthropic) EncodeRequest(state *conversation.State, tools []tool.Definition, model string, maxTokens int, temperature float64, enableCacheHints bool) ([]byte, error) {
	msgs := state.Messages()
	if maxTokens <= 0 {
		maxTokens = 8192 // Anthropic requires an explicit max_tokens
	}

	lastUserIdx := -1
	for i, m := range msgs {
		if m.Role == conversation.RoleUser {
			lastUserIdx = i
		}
	}

	req := anthropicRequest{Model: model, MaxTokens: maxTokens, Temperature: temperature}

	for i, m := range msgs {
		switch m.Role {
		case conversation.RoleSystem:
			sb := anthropicSystemBlock{Type: "text", Text: m.TextContent()}
			if enableCacheHints {
				sb.CacheControl = &anthropicCacheControl{Type: "ephemeral"}
			}
			req.System = append(req.System, sb)

		case conversation.RoleUser:
			block := anthropicBlock{Type: "text", Text: m.TextContent()}
			if enableCacheHints && i == lastUserIdx {
				block.CacheControl = &anthropicCacheControl{Type: "ephemeral"}
			}
			req.Messages = append(req.Messages, anthropicMessage{Role: "user", Content: []anthropicBlock{block}})

		case conversation.RoleAssistant:
			var blocks []anthropicBlock
			if text := m.TextContent(); text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls() {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ToolCallID(),
					Name:  tc.ToolCallName(),
					Input: tc.ToolCallParams(),
				})
			}
			if len(blocks) > 0 {
				req.Messages = append(req.Messages, anthropicMessage{Role: "assistant", Content: blocks})
			}

		case conversation.RoleToolResult:
			// Anthropic carries tool results as user-role tool_result
			// blocks, one message per immediately preceding assistant
			// turn.
			var blocks []anthropicBlock
			for _, tr := range m.ToolResults() {
				blocks = append(blocks, anthropicBlock{
					Type:      "tool_result",
					ToolUseID: tr.ToolResultID(),
					Content:   stringifyOutput(tr.ToolOutput()),
				})
			}
			if len(blocks) > 0 {
				req.Messages = append(req.Messages, anthropicMessage{Role: "user", Content: blocks})
			}
		}
	}

	for _, td := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: td.Parameters,
		})
	}

	return json.Marshal(req)
}

func (c *Anthropic) DecodeResponse(body []byte) (conversation.Message, Usage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return conversation.Message{}, Usage{}, fmt.Errorf("decode anthropic response: %w", err)
	}

	var blocks []conversation.ContentBlock
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			blocks = append(blocks, conversation.NewTextBlock(b.Text))
		case "tool_use":
			id := b.ID
			if id == "" {
				id = uuid.NewString()
			}
			blocks = append(blocks, conversation.NewToolCallBlock(id, b.Name, b.Input))
		}
	}

	// Anthropic and Bedrock report cache hits via cache_read_input_tokens,
	// not prompt_tokens_details like OpenAI; that is what CachedTokens
	// records. cache_creation_input_tokens is decoded but not recorded.
	usage := Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		CachedTokens:     resp.Usage.CacheReadInputTokens,
	}

	return conversation.Message{Role: conversation.RoleAssistant, Contents: blocks}, usage, nil
}
