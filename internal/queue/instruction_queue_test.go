package queue

import (
	"sync"
	"testing"
	"time"
)

// Enqueue blocks on a full queue until a dequeue frees a slot.
func TestInstructionQueueBlocksOnFull(t *testing.T) {
	q := NewInstructionQueue(2)

	if err := q.Enqueue(Instruction{Text: "A"}); err != nil {
		t.Fatalf("enqueue A: %v", err)
	}
	if err := q.Enqueue(Instruction{Text: "B"}); err != nil {
		t.Fatalf("enqueue B: %v", err)
	}
	if d := q.Depth(); d != 2 {
		t.Fatalf("expected depth 2, got %d", d)
	}

	unblocked := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := q.Enqueue(Instruction{Text: "C"}); err != nil {
			t.Errorf("enqueue C: %v", err)
		}
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("enqueue C should have blocked while queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	instr, ok := q.Dequeue()
	if !ok || instr.Text != "A" {
		t.Fatalf("expected to dequeue A, got %+v ok=%v", instr, ok)
	}

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("enqueue C never unblocked after a dequeue")
	}
	wg.Wait()

	if d := q.Depth(); d != 2 {
		t.Fatalf("expected depth 2 after unblock, got %d", d)
	}
}

func TestInstructionQueueOrderingSingleProducer(t *testing.T) {
	q := NewInstructionQueue(8)
	for _, s := range []string{"one", "two", "three"} {
		if err := q.Enqueue(Instruction{Text: s}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got, ok := q.Dequeue()
		if !ok || got.Text != want {
			t.Fatalf("expected %q, got %+v ok=%v", want, got, ok)
		}
	}
}

func TestInstructionQueueShutdown(t *testing.T) {
	q := NewInstructionQueue(2)
	_ = q.Enqueue(Instruction{Text: "A"})
	q.Shutdown()

	if err := q.Enqueue(Instruction{Text: "B"}); err != ErrShutdown {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}

	instr, ok := q.Dequeue()
	if !ok || instr.Text != "A" {
		t.Fatalf("expected to drain A before shutdown signal, got %+v ok=%v", instr, ok)
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected Dequeue to return ok=false once drained after shutdown")
	}
}
