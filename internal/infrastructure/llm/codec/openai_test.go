package codec

import (
	"encoding/json"
	"testing"

	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
)

// The encoded request must contain one {role:"tool", tool_call_id:<id>,
// content:<string>} message per tool result, immediately after the
// assistant message, in declaration order.
func TestOpenAIEncodeToolResultPairing(t *testing.T) {
	state := conversation.NewState("gpt-5", "sess", "/work", nil)
	state.AppendUser("list files twice")
	state.AppendAssistant(conversation.Message{
		Contents: []conversation.ContentBlock{
			conversation.NewToolCallBlock("call_1", "list", nil),
			conversation.NewToolCallBlock("call_2", "list", nil),
		},
	})
	state.AppendToolResults([]conversation.ToolResultInput{
		{ToolID: "call_1", ToolName: "list", Output: "cancelled", IsError: true},
		{ToolID: "call_2", ToolName: "list", Output: "cancelled", IsError: true},
	})

	body, err := NewOpenAI().EncodeRequest(state, nil, "gpt-5", 0, 0.5, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal encoded request: %v", err)
	}

	n := len(req.Messages)
	if n < 3 {
		t.Fatalf("expected at least 3 messages, got %d", n)
	}
	assistantIdx := -1
	for i, m := range req.Messages {
		if m.Role == "assistant" {
			assistantIdx = i
		}
	}
	if assistantIdx == -1 || assistantIdx+2 >= n {
		t.Fatalf("expected two tool messages after assistant message, messages=%+v", req.Messages)
	}
	first, second := req.Messages[assistantIdx+1], req.Messages[assistantIdx+2]
	if first.Role != "tool" || first.ToolCallID != "call_1" {
		t.Fatalf("expected first tool result for call_1, got %+v", first)
	}
	if second.Role != "tool" || second.ToolCallID != "call_2" {
		t.Fatalf("expected second tool result for call_2, got %+v", second)
	}
	if first.Content == nil || *first.Content == "" {
		t.Fatal("expected non-empty tool result content")
	}
}

func TestOpenAIDecodeResponseSynthesizesMissingToolCallID(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"","tool_calls":[{"type":"function","function":{"name":"read","arguments":"{\"path\":\"a.go\"}"}}]}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	msg, usage, err := NewOpenAI().DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	calls := msg.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].ToolCallID() == "" {
		t.Fatal("expected a synthesized tool call id")
	}
	if usage.TotalTokens != 2 {
		t.Fatalf("expected total_tokens=2, got %d", usage.TotalTokens)
	}
}

func TestOpenAIDecodeResponseNeverPanicsOnMalformedArguments(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"","tool_calls":[{"id":"c1","function":{"name":"read","arguments":"not json"}}]}}]}`)
	msg, _, err := NewOpenAI().DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.ToolCalls()) != 1 {
		t.Fatal("expected tool call to decode despite malformed arguments")
	}
}
