package application

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	domaintool "github.com/nmnduy/claude-c-sub003/internal/domain/tool"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/llm/codec"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/llm/pipeline"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/toolengine"
	"github.com/nmnduy/claude-c-sub003/internal/queue"
	"go.uber.org/zap"
)

// interruptingPoster returns an assistant turn with two tool calls and
// flips the interrupt flag as the response is handed back, so the worker
// observes cancellation between receiving the turn and dispatching its
// tool calls.
type interruptingPoster struct {
	state *conversation.State
}

func (p *interruptingPoster) Post(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, http.Header, time.Duration, error) {
	p.state.InterruptRequested.Store(true)
	resp := `{"choices":[{"message":{"content":"","tool_calls":[` +
		`{"id":"call_1","type":"function","function":{"name":"list","arguments":"{}"}},` +
		`{"id":"call_2","type":"function","function":{"name":"list","arguments":"{}"}}]}}],` +
		`"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`
	return 200, []byte(resp), nil, time.Millisecond, nil
}

type listStub struct{}

func (listStub) Name() string                   { return "list" }
func (listStub) Kind() domaintool.Kind          { return domaintool.KindRead }
func (listStub) Description() string            { return "stub" }
func (listStub) Schema() map[string]interface{} { return map[string]interface{}{} }
func (listStub) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	return &domaintool.Result{Output: "should never run", Success: true}, nil
}

// Cancellation between the assistant turn and tool dispatch still pairs
// every tool call with exactly one error result, in declaration order,
// and the re-encoded request carries a tool message for each call id.
func TestWorkerCancelBeforeToolsStillPairsResults(t *testing.T) {
	state := conversation.NewState("test-model", "sess", "/work", nil)

	reg := domaintool.NewInMemoryRegistry()
	if err := reg.Register(listStub{}); err != nil {
		t.Fatal(err)
	}

	ui := queue.NewUIQueue(16)
	instr := queue.NewInstructionQueue(4)
	logger := zap.NewNop()

	pl := &pipeline.Pipeline{
		Codec:   codec.NewOpenAI(),
		Poster:  &interruptingPoster{state: state},
		Auditor: pipeline.NoopAuditLogger{},
		Logger:  logger,
		Config:  pipeline.DefaultConfig(),
	}
	engine := toolengine.NewEngine(reg, ui, logger, 4, time.Second)
	w := NewWorker(instr, ui, pl, engine, reg, logger, 1024, 0.5)

	w.runTurn(context.Background(), state, "do things")

	msgs := state.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != conversation.RoleToolResult {
		t.Fatalf("expected trailing tool-result message, got %s", last.Role)
	}
	results := last.ToolResults()
	if len(results) != 2 {
		t.Fatalf("expected 2 tool results, got %d", len(results))
	}
	wantIDs := []string{"call_1", "call_2"}
	for i, r := range results {
		if r.ToolResultID() != wantIDs[i] {
			t.Errorf("result %d: expected tool_id %s, got %s", i, wantIDs[i], r.ToolResultID())
		}
		if !r.IsError() {
			t.Errorf("result %d: expected is_error=true", i)
		}
		out, _ := r.ToolOutput().(string)
		if !strings.Contains(out, "cancelled") {
			t.Errorf("result %d: expected output to mention cancellation, got %q", i, out)
		}
	}

	// Re-encoding must succeed and carry a tool message for each call id.
	body, err := codec.NewOpenAI().EncodeRequest(state, nil, "test-model", 0, 0.5, false)
	if err != nil {
		t.Fatalf("re-encode after cancel: %v", err)
	}
	encoded := string(body)
	for _, id := range wantIDs {
		if !strings.Contains(encoded, `"tool_call_id":"`+id+`"`) {
			t.Errorf("re-encoded request missing tool message for %s", id)
		}
	}
}
