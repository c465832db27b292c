package conversation

import "testing"

func TestNewStateSeedsSystemMessage(t *testing.T) {
	s := NewState("gpt-5", "sess-1", "/work", nil)
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Errorf("expected first message to be system, got %s", msgs[0].Role)
	}
}

func TestAppendUserAssistantToolResults(t *testing.T) {
	s := NewState("gpt-5", "sess-1", "/work", nil)
	s.AppendUser("list files")
	s.AppendAssistant(Message{
		Contents: []ContentBlock{
			NewToolCallBlock("call_1", "list", map[string]interface{}{"path": "."}),
		},
	})
	s.AppendToolResults([]ToolResultInput{
		{ToolID: "call_1", ToolName: "list", Output: "a.go\nb.go", IsError: false},
	})

	msgs := s.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (system,user,assistant,tool-result), got %d", len(msgs))
	}
	if msgs[2].Role != RoleAssistant {
		t.Fatalf("expected msgs[2] to be assistant, got %s", msgs[2].Role)
	}
	if msgs[3].Role != RoleToolResult {
		t.Fatalf("expected msgs[3] to be tool-result, got %s", msgs[3].Role)
	}
	results := msgs[3].ToolResults()
	if len(results) != 1 || results[0].ToolResultID() != "call_1" {
		t.Fatalf("tool result id mismatch: %+v", results)
	}
}

func TestClearResetsToSystemOnly(t *testing.T) {
	s := NewState("gpt-5", "sess-1", "/work", nil)
	s.AppendUser("hi")
	s.Clear()
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Fatalf("expected [system] after Clear, got %+v", msgs)
	}
}

func TestAddDirectoryRebuildsSystemPrompt(t *testing.T) {
	s := NewState("gpt-5", "sess-1", "/work", nil)
	before := s.Messages()[0].TextContent()
	s.AddDirectory("/work/sub")
	after := s.Messages()[0].TextContent()
	if before == after {
		t.Fatal("expected system prompt to change after AddDirectory")
	}
	dirs := s.Directories()
	if len(dirs) != 2 || dirs[1] != "/work/sub" {
		t.Fatalf("unexpected directories: %v", dirs)
	}
}

func TestContentBlockPanicsOnWrongKind(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reading Text() of a ToolCall block")
		}
	}()
	b := NewToolCallBlock("id", "name", nil)
	_ = b.Text()
}
