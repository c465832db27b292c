// Package toolengine dispatches an assistant turn's tool calls in
// parallel into a pre-allocated result slot array, with cooperative
// cancellation, per-tool timeouts, and partial-start-failure handling.
// Concurrency is bounded by a semaphore.Weighted so acquisition is
// context-aware.
package toolengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	domaintool "github.com/nmnduy/claude-c-sub003/internal/domain/tool"
	"github.com/nmnduy/claude-c-sub003/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ToolCall is one model-requested invocation from an assistant turn.
type ToolCall struct {
	ID     string
	Name   string
	Params map[string]interface{}
}

// ToolResult answers one ToolCall. The engine guarantees exactly one
// ToolResult per ToolCall, in the same order, regardless of completion
// order or failure mode.
type ToolResult struct {
	ToolID  string
	Name    string
	Output  string
	IsError bool
}

// DefaultShellTimeout is the per-tool timeout applied when a call
// doesn't specify its own.
const DefaultShellTimeout = 120 * time.Second

// Engine dispatches tool calls in parallel against a shared Registry,
// bounding concurrency and enforcing cancellation/timeout semantics.
type Engine struct {
	Registry       domaintool.Registry
	MaxParallel    int64
	DefaultTimeout time.Duration
	UIQueue        *queue.UIQueue
	Logger         *zap.Logger
}

// NewEngine builds an Engine with the given registry and UI sink.
// maxParallel<=0 defaults to 8; defaultTimeout<=0 defaults to DefaultShellTimeout.
func NewEngine(registry domaintool.Registry, uiq *queue.UIQueue, logger *zap.Logger, maxParallel int64, defaultTimeout time.Duration) *Engine {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultShellTimeout
	}
	return &Engine{Registry: registry, MaxParallel: maxParallel, DefaultTimeout: defaultTimeout, UIQueue: uiq, Logger: logger}
}

// Run executes every call in calls concurrently and returns a ToolResult
// slice of the same length, in the same order as calls. state is shared,
// mutex-guarded conversation state tools may consult for working-dir
// config; it is never mutated by the engine itself.
func (e *Engine) Run(ctx context.Context, state *conversation.State, calls []ToolCall) []ToolResult {
	n := len(calls)
	results := make([]ToolResult, n)
	if n == 0 {
		return results
	}

	sem := semaphore.NewWeighted(e.MaxParallel)

	var mu sync.Mutex
	notified := make([]bool, n)
	publish := func(idx int, r ToolResult) {
		mu.Lock()
		defer mu.Unlock()
		if notified[idx] {
			return
		}
		notified[idx] = true
		results[idx] = r
	}

	var wg sync.WaitGroup
	spawnFailedAt := -1

	for i, call := range calls {
		// Cancellation checkpoint before each worker starts.
		if state != nil && state.InterruptRequested.Load() {
			publish(i, ToolResult{ToolID: call.ID, Name: call.Name, IsError: true, Output: "Tool execution cancelled before start"})
			continue
		}

		if !e.trySpawn(ctx, sem, &wg, i, call, state, publish) {
			spawnFailedAt = i
			break
		}
	}

	// Workers already running observe the shared context and publish
	// their own (possibly cancelled) results; slots from the failed
	// spawn onward never started and are synthesized here. Either way
	// the result slice keeps one entry per call.
	wg.Wait()
	if spawnFailedAt != -1 {
		for i := spawnFailedAt; i < n; i++ {
			publish(i, ToolResult{ToolID: calls[i].ID, Name: calls[i].Name, IsError: true, Output: "Tool execution cancelled before start"})
		}
	}

	if e.UIQueue != nil {
		e.UIQueue.Post(queue.UIMessage{Tag: queue.TagStatus, Payload: statusWord(calls, results)})
	}

	return results
}

// statusWord summarizes one batch for the UI: "Tool <name> completed" or
// "Tool <name> failed" for a single call; for more than one call,
// "Tool batch completed (k/N)" or "Tool batch failed (k/N)", where k
// counts the calls that did not error.
func statusWord(calls []ToolCall, results []ToolResult) string {
	completed := 0
	for _, r := range results {
		if !r.IsError {
			completed++
		}
	}
	name := calls[0].Name
	if len(calls) > 1 {
		name = "batch"
	}
	word := "completed"
	if completed < len(results) {
		word = "failed"
	}
	if len(results) == 1 {
		return fmt.Sprintf("Tool %s %s", name, word)
	}
	return fmt.Sprintf("Tool %s %s (%d/%d)", name, word, completed, len(results))
}

// trySpawn acquires a semaphore slot and launches call's worker
// goroutine. It returns false when the worker cannot spawn (semaphore
// acquisition errored, e.g. ctx already cancelled); the caller treats
// that as a partial-start failure.
func (e *Engine) trySpawn(
	ctx context.Context,
	sem *semaphore.Weighted,
	wg *sync.WaitGroup,
	idx int,
	call ToolCall,
	state *conversation.State,
	publish func(int, ToolResult),
) bool {
	if err := sem.Acquire(ctx, 1); err != nil {
		return false
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sem.Release(1)
		e.execOne(ctx, state, idx, call, publish)
	}()
	return true
}

func (e *Engine) execOne(ctx context.Context, state *conversation.State, idx int, call ToolCall, publish func(int, ToolResult)) {
	if state != nil && state.InterruptRequested.Load() {
		publish(idx, ToolResult{ToolID: call.ID, Name: call.Name, IsError: true, Output: "Tool execution cancelled before start"})
		return
	}

	t, ok := e.Registry.Get(call.Name)
	if !ok {
		publish(idx, ToolResult{ToolID: call.ID, Name: call.Name, IsError: true, Output: fmt.Sprintf("unknown tool %q", call.Name)})
		return
	}

	timeout := e.DefaultTimeout
	if ms, ok := call.Params["timeout"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := t.Execute(toolCtx, call.Params)
	duration := time.Since(start)

	if toolCtx.Err() == context.DeadlineExceeded {
		publish(idx, ToolResult{ToolID: call.ID, Name: call.Name, IsError: true, Output: "Tool execution cancelled during execution"})
		return
	}
	if ctx.Err() != nil {
		publish(idx, ToolResult{ToolID: call.ID, Name: call.Name, IsError: true, Output: "Tool execution cancelled during execution"})
		return
	}

	if err != nil {
		if e.Logger != nil {
			e.Logger.Error("tool execution failed", zap.String("tool", call.Name), zap.Duration("duration", duration), zap.Error(err))
		}
		publish(idx, ToolResult{ToolID: call.ID, Name: call.Name, IsError: true, Output: err.Error()})
		return
	}

	out := res.DisplayOrOutput()
	if !res.Success && res.Error != "" {
		out = res.Error
	}
	publish(idx, ToolResult{ToolID: call.ID, Name: call.Name, IsError: !res.Success, Output: out})
}

// ToResultInputs adapts Engine results into the conversation package's
// ToolResultInput shape for appending to state in tool-call declaration
// order.
func ToResultInputs(results []ToolResult) []conversation.ToolResultInput {
	out := make([]conversation.ToolResultInput, len(results))
	for i, r := range results {
		out[i] = conversation.ToolResultInput{ToolID: r.ToolID, ToolName: r.Name, Output: r.Output, IsError: r.IsError}
	}
	return out
}
