// Package application wires the queues, conversation state, provider
// pipeline and tool engine into the worker goroutine: it dequeues
// instructions, drives a multi-turn tool-using conversation, and posts
// results to the UI queue.
package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nmnduy/claude-c-sub003/internal/domain/conversation"
	domaintool "github.com/nmnduy/claude-c-sub003/internal/domain/tool"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/llm/pipeline"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/toolengine"
	"github.com/nmnduy/claude-c-sub003/internal/queue"
	apperrors "github.com/nmnduy/claude-c-sub003/pkg/errors"
)

// MaxTurnsPerInstruction bounds the assistant/tool-call loop within one
// user instruction so a misbehaving model can't spin forever.
const MaxTurnsPerInstruction = 50

// Worker is the single worker goroutine: it exclusively mutates
// conversation state for the duration of a turn, blocks on the
// instruction queue between turns, and is the only goroutine that calls
// the provider pipeline or the tool engine.
type Worker struct {
	Instructions *queue.InstructionQueue
	UI           *queue.UIQueue
	Pipeline     *pipeline.Pipeline
	Tools        *toolengine.Engine
	Registry     domaintool.Registry
	Logger       *zap.Logger
	MaxTokens    int
	Temperature  float64

	running chan struct{}
	done    chan struct{}
}

// NewWorker builds a Worker bound to the given queues and collaborators.
func NewWorker(instructions *queue.InstructionQueue, ui *queue.UIQueue, pl *pipeline.Pipeline, tools *toolengine.Engine, registry domaintool.Registry, logger *zap.Logger, maxTokens int, temperature float64) *Worker {
	return &Worker{
		Instructions: instructions,
		UI:           ui,
		Pipeline:     pl,
		Tools:        tools,
		Registry:     registry,
		Logger:       logger,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
		running:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run blocks, dequeuing instructions until the instruction queue is shut
// down. Call it in its own goroutine; Stop (see app.go) tears it down.
func (w *Worker) Run(ctx context.Context) {
	close(w.running)
	defer close(w.done)

	for {
		instr, ok := w.Instructions.Dequeue()
		if !ok {
			return
		}
		state, ok := instr.State.(*conversation.State)
		if !ok || state == nil {
			w.UI.Post(queue.UIMessage{Tag: queue.TagError, Payload: "instruction carried no conversation state"})
			continue
		}
		// An interrupt only applies to the turn it was raised in.
		state.InterruptRequested.Store(false)
		w.runTurn(ctx, state, instr.Text)
	}
}

// runTurn appends the user message, then alternates provider calls and
// tool-execution rounds until the assistant turn carries no tool calls
// (or the turn budget/interrupt ends it early).
func (w *Worker) runTurn(ctx context.Context, state *conversation.State, userText string) {
	state.AppendUser(userText)

	// Tools only observe context cancellation, so bridge the interrupt
	// flag onto a per-turn context while the turn runs.
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-watchDone:
				return
			case <-turnCtx.Done():
				return
			case <-ticker.C:
				if state.InterruptRequested.Load() {
					cancelTurn()
					return
				}
			}
		}
	}()

	for turn := 0; turn < MaxTurnsPerInstruction; turn++ {
		if state.InterruptRequested.Load() {
			w.postCancelled()
			return
		}

		w.UI.Post(queue.UIMessage{Tag: queue.TagStatus, Payload: "Waiting on model..."})

		result, err := w.Pipeline.Call(turnCtx, state, w.Registry.List(), state.Model(), w.MaxTokens, w.Temperature)
		if err != nil {
			w.handlePipelineError(state, err)
			return
		}

		assistant := result.Message
		state.AppendAssistant(assistant)

		if text := assistant.TextContent(); text != "" {
			w.UI.Post(queue.UIMessage{Tag: queue.TagAddLine, Payload: text})
		}

		calls := assistant.ToolCalls()
		if len(calls) == 0 {
			w.UI.Post(queue.UIMessage{Tag: queue.TagStatus, Payload: "Turn complete"})
			return
		}

		if state.InterruptRequested.Load() {
			w.cancelToolCalls(state, calls)
			return
		}

		engineCalls := make([]toolengine.ToolCall, len(calls))
		for i, c := range calls {
			engineCalls[i] = toolengine.ToolCall{ID: c.ToolCallID(), Name: c.ToolCallName(), Params: c.ToolCallParams()}
		}

		results := w.Tools.Run(turnCtx, state, engineCalls)
		state.AppendToolResults(toolengine.ToResultInputs(results))
	}

	w.UI.Post(queue.UIMessage{Tag: queue.TagError, Payload: "turn limit exceeded without a final response"})
}

// cancelToolCalls synthesizes cancelled ToolResults for every pending
// call without invoking the engine, for when interrupt fires between
// receiving the assistant turn and dispatching its tool calls.
func (w *Worker) cancelToolCalls(state *conversation.State, calls []conversation.ContentBlock) {
	inputs := make([]conversation.ToolResultInput, len(calls))
	for i, c := range calls {
		inputs[i] = conversation.ToolResultInput{
			ToolID:   c.ToolCallID(),
			ToolName: c.ToolCallName(),
			Output:   "Tool execution cancelled before start",
			IsError:  true,
		}
	}
	state.AppendToolResults(inputs)
	w.postCancelled()
}

func (w *Worker) postCancelled() {
	w.UI.Post(queue.UIMessage{Tag: queue.TagStatus, Payload: "Cancelled"})
}

// handlePipelineError applies the propagation policy: transport and auth
// errors are already exhausted by the pipeline's own retry/rotation
// budget by the time they reach here, so anything surfacing is terminal
// for this turn. Surface an error line and append a synthetic assistant
// message so the log stays valid for the next turn.
func (w *Worker) handlePipelineError(state *conversation.State, err error) {
	if apperrors.IsCancelled(err) {
		w.postCancelled()
		return
	}
	msg := err.Error()
	w.UI.Post(queue.UIMessage{Tag: queue.TagError, Payload: msg})
	state.AppendAssistant(conversation.NewTextMessage(conversation.RoleAssistant,
		fmt.Sprintf("[Error] request failed: %s", msg)))
}

// Stop shuts down the instruction queue so Run's Dequeue unblocks with
// ok=false, then waits briefly for a graceful exit before the caller
// escalates to process-level teardown.
func (w *Worker) Stop(gracePeriod time.Duration) {
	w.Instructions.Shutdown()
	select {
	case <-w.done:
	case <-time.After(gracePeriod):
	}
}
