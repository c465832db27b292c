package codec

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	"github.com/nmnduy/claude-c-sub003/internal/domain/tool"
)

// openAIMessage mirrors the OpenAI chat-completions message shape.
type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolCallFunc `json:"function"`
}

type openAIToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIFunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   *string          `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

// OpenAI is the OpenAI-compatible chat-completions codec.
type OpenAI struct{}

// NewOpenAI builds the OpenAI-compatible codec.
func NewOpenAI() *OpenAI { return &OpenAI{} }

func (*OpenAI) Name() string { return "openai" }

func (c *OpenAI) EncodeRequest(state *conversation.State, tools []tool.Definition, model string, maxTokens int, temperature float64, enableCacheHints bool) ([]byte, error) {
	msgs := state.Messages()
	var out []openAIMessage

	// enableCacheHints is a no-op on this wire shape: OpenAI-compatible
	// endpoints cache prefixes implicitly, with no breakpoint field.
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleSystem:
			text := m.TextContent()
			out = append(out, openAIMessage{Role: "system", Content: &text})

		case conversation.RoleUser:
			text := m.TextContent()
			out = append(out, openAIMessage{Role: "user", Content: &text})

		case conversation.RoleAssistant:
			var content *string
			if text := m.TextContent(); text != "" {
				content = &text
			}
			var toolCalls []openAIToolCall
			for _, tc := range m.ToolCalls() {
				argsJSON, err := json.Marshal(tc.ToolCallParams())
				if err != nil {
					return nil, fmt.Errorf("encode tool call arguments: %w", err)
				}
				toolCalls = append(toolCalls, openAIToolCall{
					ID:   tc.ToolCallID(),
					Type: "function",
					Function: openAIToolCallFunc{
						Name:      tc.ToolCallName(),
						Arguments: string(argsJSON),
					},
				})
			}
			out = append(out, openAIMessage{Role: "assistant", Content: content, ToolCalls: toolCalls})

		case conversation.RoleToolResult:
			for _, tr := range m.ToolResults() {
				content := stringifyOutput(tr.ToolOutput())
				out = append(out, openAIMessage{
					Role:       "tool",
					Content:    &content,
					ToolCallID: tr.ToolResultID(),
				})
			}
		}
	}

	req := openAIRequest{
		Model:       model,
		Messages:    out,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	for _, td := range tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIFunctionDef{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}

	return json.Marshal(req)
}

func (c *OpenAI) DecodeResponse(body []byte) (conversation.Message, Usage, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return conversation.Message{}, Usage{}, fmt.Errorf("decode openai response: %w", err)
	}

	var blocks []conversation.ContentBlock
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		if msg.Content != nil && *msg.Content != "" {
			blocks = append(blocks, conversation.NewTextBlock(*msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			id := tc.ID
			if id == "" {
				id = uuid.NewString()
			}
			var args map[string]interface{}
			if tc.Function.Arguments != "" {
				// Malformed arguments decode as an empty params map.
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			}
			blocks = append(blocks, conversation.NewToolCallBlock(id, tc.Function.Name, args))
		}
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CachedTokens:     resp.Usage.PromptTokensDetails.CachedTokens,
	}

	return conversation.Message{Role: conversation.RoleAssistant, Contents: blocks}, usage, nil
}

func stringifyOutput(output interface{}) string {
	switch v := output.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
