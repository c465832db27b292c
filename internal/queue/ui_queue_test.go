package queue

import "testing"

// A full queue evicts its oldest message: posting M1..M4 into capacity
// 3 drains as M2, M3, M4.
func TestUIQueueDropOldestOnOverflow(t *testing.T) {
	q := NewUIQueue(3)
	q.Post(UIMessage{Tag: TagAddLine, Payload: "M1"})
	q.Post(UIMessage{Tag: TagAddLine, Payload: "M2"})
	q.Post(UIMessage{Tag: TagAddLine, Payload: "M3"})
	q.Post(UIMessage{Tag: TagAddLine, Payload: "M4"})

	for _, want := range []string{"M2", "M3", "M4"} {
		msg, ok := q.Poll()
		if !ok || msg.Payload != want {
			t.Fatalf("expected %q, got %+v ok=%v", want, msg, ok)
		}
	}
	if _, ok := q.Poll(); ok {
		t.Fatal("expected empty queue after draining")
	}
}

func TestUIQueueWaitReturnsFalseAfterShutdown(t *testing.T) {
	q := NewUIQueue(4)
	q.Shutdown()
	if _, ok := q.Wait(); ok {
		t.Fatal("expected Wait on shutdown+empty queue to return ok=false")
	}
}

func TestUIQueueDepth(t *testing.T) {
	q := NewUIQueue(4)
	q.Post(UIMessage{Tag: TagStatus, Payload: "x"})
	q.Post(UIMessage{Tag: TagStatus, Payload: "y"})
	if d := q.Depth(); d != 2 {
		t.Fatalf("expected depth 2, got %d", d)
	}
}
