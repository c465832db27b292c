package toolengine

import (
	"context"
	"testing"
	"time"

	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	domaintool "github.com/nmnduy/claude-c-sub003/internal/domain/tool"
)

func newInterruptedState() *conversation.State {
	st := conversation.NewState("m", "s", "/work", nil)
	st.InterruptRequested.Store(true)
	return st
}

type fakeTool struct {
	name    string
	kind    domaintool.Kind
	delay   time.Duration
	output  string
	isError bool
}

func (f *fakeTool) Name() string                   { return f.name }
func (f *fakeTool) Kind() domaintool.Kind          { return f.kind }
func (f *fakeTool) Description() string            { return "fake" }
func (f *fakeTool) Schema() map[string]interface{} { return map[string]interface{}{} }
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &domaintool.Result{Output: f.output, Success: !f.isError}, nil
}

func newRegistry(tools ...domaintool.Tool) domaintool.Registry {
	reg := domaintool.NewInMemoryRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	return reg
}

// Exercises the N-results-for-N-calls guarantee and tool-call declaration
// order regardless of completion order.
func TestEngineRunReturnsSameLengthInDeclarationOrder(t *testing.T) {
	reg := newRegistry(
		&fakeTool{name: "slow", delay: 20 * time.Millisecond, output: "slow-done"},
		&fakeTool{name: "fast", output: "fast-done"},
	)
	e := NewEngine(reg, nil, nil, 4, time.Second)

	results := e.Run(context.Background(), nil, []ToolCall{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "fast"},
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ToolID != "1" || results[0].Output != "slow-done" {
		t.Fatalf("expected slot 0 to answer call 1, got %+v", results[0])
	}
	if results[1].ToolID != "2" || results[1].Output != "fast-done" {
		t.Fatalf("expected slot 1 to answer call 2, got %+v", results[1])
	}
}

func TestEngineUnknownToolIsAnErrorResult(t *testing.T) {
	e := NewEngine(newRegistry(), nil, nil, 4, time.Second)
	results := e.Run(context.Background(), nil, []ToolCall{{ID: "1", Name: "nope"}})
	if !results[0].IsError {
		t.Fatal("expected an error result for an unregistered tool")
	}
}

// Per-tool timeout converts to the cancelled-result shape rather than
// hanging the batch.
func TestEnginePerToolTimeout(t *testing.T) {
	reg := newRegistry(&fakeTool{name: "hangs", delay: time.Hour, output: "never"})
	e := NewEngine(reg, nil, nil, 4, 10*time.Millisecond)

	start := time.Now()
	results := e.Run(context.Background(), nil, []ToolCall{{ID: "1", Name: "hangs"}})
	if time.Since(start) > time.Second {
		t.Fatal("engine did not honor the per-tool timeout")
	}
	if !results[0].IsError || results[0].Output != "Tool execution cancelled during execution" {
		t.Fatalf("expected timeout cancelled-result, got %+v", results[0])
	}
}

// A per-call timeout override (in milliseconds) takes precedence over the
// engine default.
func TestEnginePerCallTimeoutOverride(t *testing.T) {
	reg := newRegistry(&fakeTool{name: "hangs", delay: time.Hour, output: "never"})
	e := NewEngine(reg, nil, nil, 4, time.Hour)

	results := e.Run(context.Background(), nil, []ToolCall{
		{ID: "1", Name: "hangs", Params: map[string]interface{}{"timeout": float64(10)}},
	})
	if !results[0].IsError {
		t.Fatal("expected the per-call timeout override to cancel the call")
	}
}

// A context that dies before any worker can spawn still yields one
// result per call: the failed slot and every later slot are synthesized
// as cancelled-before-start.
func TestEngineSpawnFailureSynthesizesRemainingSlots(t *testing.T) {
	reg := newRegistry(&fakeTool{name: "t", output: "never"})
	e := NewEngine(reg, nil, nil, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.Run(ctx, nil, []ToolCall{
		{ID: "1", Name: "t"},
		{ID: "2", Name: "t"},
		{ID: "3", Name: "t"},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if !r.IsError || r.Output != "Tool execution cancelled before start" {
			t.Fatalf("slot %d: expected cancelled-before-start, got %+v", i, r)
		}
	}
}

// Cancellation mid-execution converts every in-flight call to a
// cancelled result rather than dropping its slot.
func TestEngineCancelMidExecution(t *testing.T) {
	reg := newRegistry(&fakeTool{name: "slow", delay: time.Hour, output: "never"})
	e := NewEngine(reg, nil, nil, 4, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results := e.Run(ctx, nil, []ToolCall{{ID: "1", Name: "slow"}})
	if !results[0].IsError || results[0].Output != "Tool execution cancelled during execution" {
		t.Fatalf("expected cancelled-during-execution, got %+v", results[0])
	}
}

// Already-cancelled state is observed before starting, not mid-flight.
func TestEngineObservesInterruptBeforeStart(t *testing.T) {
	reg := newRegistry(&fakeTool{name: "t", output: "should not run"})
	e := NewEngine(reg, nil, nil, 4, time.Second)

	st := newInterruptedState()
	results := e.Run(context.Background(), st, []ToolCall{{ID: "1", Name: "t"}})
	if !results[0].IsError || results[0].Output != "Tool execution cancelled before start" {
		t.Fatalf("expected before-start cancellation, got %+v", results[0])
	}
}
