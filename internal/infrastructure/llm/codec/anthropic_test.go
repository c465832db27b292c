package codec

import (
	"encoding/json"
	"testing"

	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
)

func TestAnthropicEncodeCacheBreakpoints(t *testing.T) {
	state := conversation.NewState("claude-opus", "sess", "/work", nil)
	state.AppendUser("first")
	state.AppendUser("second")

	body, err := NewAnthropic().EncodeRequest(state, nil, "claude-opus", 0, 0.5, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(req.System) != 1 || req.System[0].CacheControl == nil {
		t.Fatalf("expected system message to carry a cache breakpoint, got %+v", req.System)
	}

	var lastUser anthropicMessage
	for _, m := range req.Messages {
		if m.Role == "user" {
			lastUser = m
		}
	}
	if len(lastUser.Content) == 0 || lastUser.Content[0].CacheControl == nil {
		t.Fatalf("expected last user message to carry a cache breakpoint, got %+v", lastUser)
	}
}

func TestAnthropicEncodeToolResultAsUserBlock(t *testing.T) {
	state := conversation.NewState("claude-opus", "sess", "/work", nil)
	state.AppendUser("do it")
	state.AppendAssistant(conversation.Message{
		Contents: []conversation.ContentBlock{conversation.NewToolCallBlock("call_1", "read", nil)},
	})
	state.AppendToolResults([]conversation.ToolResultInput{
		{ToolID: "call_1", ToolName: "read", Output: "contents", IsError: false},
	})

	body, err := NewAnthropic().EncodeRequest(state, nil, "claude-opus", 0, 0.5, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || len(last.Content) != 1 || last.Content[0].Type != "tool_result" {
		t.Fatalf("expected trailing user message with a tool_result block, got %+v", last)
	}
	if last.Content[0].ToolUseID != "call_1" {
		t.Fatalf("expected tool_use_id=call_1, got %q", last.Content[0].ToolUseID)
	}
}

func TestAnthropicDecodeCacheTokenMapping(t *testing.T) {
	body := []byte(`{"model":"claude-opus","content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":100,"output_tokens":20,"cache_read_input_tokens":80}}`)
	_, usage, err := NewAnthropic().DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if usage.CachedTokens != 80 {
		t.Fatalf("expected cached_tokens mapped from cache_read_input_tokens, got %d", usage.CachedTokens)
	}
}
