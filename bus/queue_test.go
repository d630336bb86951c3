package bus

import (
	"testing"
	"time"
)

func TestQueueBoundedOverflow(t *testing.T) {
	q := newQueue(2, false)
	if ok, _ := q.tryWrite(envelope{id: 1}); !ok {
		t.Fatal("expected first write to succeed")
	}
	if ok, _ := q.tryWrite(envelope{id: 2}); !ok {
		t.Fatal("expected second write to succeed")
	}
	if ok, _ := q.tryWrite(envelope{id: 3}); ok {
		t.Fatal("expected third write to fail at capacity 2")
	}
	if q.len() != 2 {
		t.Fatalf("len = %d, want 2", q.len())
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := newQueue(0, false)
	for i := int64(1); i <= 5; i++ {
		if ok, _ := q.tryWrite(envelope{id: i}); !ok {
			t.Fatalf("write %d failed", i)
		}
	}
	for i := int64(1); i <= 5; i++ {
		e, ok := q.next()
		if !ok {
			t.Fatalf("next() returned ok=false before queue drained")
		}
		if e.id != i {
			t.Fatalf("next() = %d, want %d", e.id, i)
		}
	}
}

func TestQueueConflationFoldsByKey(t *testing.T) {
	q := newQueue(0, true)
	if ok, folded := q.tryWrite(envelope{id: 1, key: "a", hasKey: true}); !ok || !folded {
		t.Fatalf("expected keyed write on a conflation queue to be folded, ok=%v folded=%v", ok, folded)
	}
	q.tryWrite(envelope{id: 2, key: "a", hasKey: true})
	q.tryWrite(envelope{id: 3, key: "b", hasKey: true})

	if q.len() != 2 {
		t.Fatalf("len = %d, want 2 distinct keys buffered", q.len())
	}
	flushed := q.flushConflation()
	if flushed != 2 {
		t.Fatalf("flushConflation = %d, want 2", flushed)
	}

	var got []envelope
	for i := 0; i < 2; i++ {
		e, ok := q.next()
		if !ok {
			t.Fatal("expected message after flush")
		}
		got = append(got, e)
	}
	for _, e := range got {
		if e.key == "a" && e.id != 2 {
			t.Fatalf("key a should have conflated to latest id 2, got %d", e.id)
		}
	}
}

func TestQueueSuspendBlocksReader(t *testing.T) {
	q := newQueue(0, false)
	q.setSuspended(true)
	q.tryWrite(envelope{id: 1})

	done := make(chan envelope, 1)
	go func() {
		e, ok := q.next()
		if ok {
			done <- e
		}
	}()

	select {
	case <-done:
		t.Fatal("reader returned while suspended")
	case <-time.After(50 * time.Millisecond):
	}

	q.setSuspended(false)
	select {
	case e := <-done:
		if e.id != 1 {
			t.Fatalf("got id %d, want 1", e.id)
		}
	case <-time.After(time.Second):
		t.Fatal("reader did not resume after setSuspended(false)")
	}
}

func TestQueueCloseUnblocksReader(t *testing.T) {
	q := newQueue(0, false)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.next()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after close with no pending items")
		}
	case <-time.After(time.Second):
		t.Fatal("close() did not unblock reader")
	}

	if ok, _ := q.tryWrite(envelope{id: 99}); ok {
		t.Fatal("tryWrite should fail on closed queue")
	}
}

func TestQueueCloseUnblocksSuspendedReaderWithBufferedItems(t *testing.T) {
	q := newQueue(0, false)
	q.setSuspended(true)
	q.tryWrite(envelope{id: 1})
	q.tryWrite(envelope{id: 2})

	done := make(chan bool, 1)
	go func() {
		_, ok := q.next()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false: close discards buffered items even while suspended")
		}
	case <-time.After(time.Second):
		t.Fatal("close() did not unblock a suspended reader with buffered items")
	}
}
