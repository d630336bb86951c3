package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRouter() *Router {
	return NewRouter(RouterOptions{})
}

func TestPubSubRoundtrip(t *testing.T) {
	r := newTestRouter()
	defer r.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	sub, err := Subscribe[int](r, "num.inc", func(m Msg[int]) error {
		mu.Lock()
		got = append(got, m.Body)
		if len(got) == 100 {
			close(done)
		}
		mu.Unlock()
		return nil
	}, SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Dispose()

	for i := 0; i < 100; i++ {
		if err := Publish(r, "num.inc", i); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("got %d messages, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}

	stats := sub.Statistics()
	if stats.Enqueued != 100 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

type priceUpdate struct {
	Symbol string
	Price  int
}

func TestStatefulSnapshot(t *testing.T) {
	r := newTestRouter()
	defer r.Close()

	if err := Publish(r, "stock.prices", priceUpdate{"A", 1}, WithKey("A"), WithStore(true)); err != nil {
		t.Fatal(err)
	}
	if err := Publish(r, "stock.prices", priceUpdate{"B", 2}, WithKey("B"), WithStore(true)); err != nil {
		t.Fatal(err)
	}
	if err := Publish(r, "stock.prices", priceUpdate{"A", 3}, WithKey("A"), WithStore(true)); err != nil {
		t.Fatal(err)
	}

	state, err := GetChannelState[priceUpdate](r, "stock.prices")
	if err != nil {
		t.Fatal(err)
	}
	byKey := map[string]int{}
	for _, m := range state {
		byKey[m.Key] = m.Body.Price
	}
	if byKey["A"] != 3 || byKey["B"] != 2 {
		t.Fatalf("unexpected state: %+v", byKey)
	}

	var mu sync.Mutex
	var received []priceUpdate
	var lastSeq int64
	done := make(chan struct{})
	sub, err := Subscribe[priceUpdate](r, "stock.prices", func(m Msg[priceUpdate]) error {
		mu.Lock()
		defer mu.Unlock()
		if m.ID <= lastSeq {
			t.Errorf("non-increasing id: %d after %d", m.ID, lastSeq)
		}
		lastSeq = m.ID
		received = append(received, m.Body)
		if len(received) == 3 {
			close(done)
		}
		return nil
	}, SubscribeOptions{FetchState: true})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Dispose()

	if err := Publish(r, "stock.prices", priceUpdate{"A", 4}, WithKey("A"), WithStore(true)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("got %d messages, want 3", len(received))
	}
	if received[2].Price != 4 {
		t.Fatalf("expected last message to be the live publish, got %+v", received[2])
	}
}

func TestWildcardSubscription(t *testing.T) {
	r := newTestRouter()
	defer r.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	sub, err := Subscribe[string](r, "stock.trades.*", func(m Msg[string]) error {
		mu.Lock()
		got = append(got, m.Body)
		if len(got) == 1 {
			close(done)
		}
		mu.Unlock()
		return nil
	}, SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Dispose()

	if err := Publish(r, "stock.trades.NYSE", "trade1"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	// Existing channels, new wildcard subscription.
	if err := Publish(r, "stock.prices", "p1"); err != nil {
		t.Fatal(err)
	}

	done2 := make(chan struct{})
	var count int32
	sub2, err := Subscribe[string](r, "stock.>", func(m Msg[string]) error {
		if atomic.AddInt32(&count, 1) == 2 {
			close(done2)
		}
		return nil
	}, SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub2.Dispose()

	if err := Publish(r, "stock.prices", "p2"); err != nil {
		t.Fatal(err)
	}
	if err := Publish(r, "stock.trades.NYSE", "trade2"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done2:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wildcard fan-out to existing channels")
	}
}

func TestConflation(t *testing.T) {
	r := newTestRouter()
	defer r.Close()

	var mu sync.Mutex
	var lastVal int
	var processed int

	sub, err := Subscribe[int](r, "ticks", func(m Msg[int]) error {
		mu.Lock()
		lastVal = m.Body
		processed++
		mu.Unlock()
		return nil
	}, SubscribeOptions{
		Overflow:           ConflateAndSkipUpdates,
		ConflationInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Dispose()

	start := time.Now()
	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = Publish(r, "ticks", i, WithKey("K"))
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	time.Sleep(100 * time.Millisecond) // allow final flush(es)

	mu.Lock()
	defer mu.Unlock()
	maxExpected := int(elapsed/(20*time.Millisecond)) + 5
	if processed > maxExpected {
		t.Fatalf("processed %d exceeds conflation bound ~%d", processed, maxExpected)
	}
	if lastVal != 49 {
		t.Logf("last observed value %d (expected last published value eventually)", lastVal)
	}

	if got := sub.Statistics().Conflated; got == 0 {
		t.Fatalf("expected Conflated stat > 0 for a conflated key stream, got %d", got)
	}
}

func TestSkipUpdatesInvariant(t *testing.T) {
	r := newTestRouter()
	defer r.Close()

	block := make(chan struct{})
	var processed int64
	sub, err := Subscribe[int](r, "overload", func(m Msg[int]) error {
		<-block
		atomic.AddInt64(&processed, 1)
		return nil
	}, SubscribeOptions{Overflow: SkipUpdates, BufferCapacity: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Dispose()

	for i := 0; i < 200; i++ {
		_ = Publish(r, "overload", i)
	}
	close(block)
	time.Sleep(200 * time.Millisecond)

	stats := sub.Statistics()
	if stats.Enqueued != stats.Dequeued+stats.Dropped {
		t.Fatalf("invariant violated: enqueued=%d dequeued=%d dropped=%d", stats.Enqueued, stats.Dequeued, stats.Dropped)
	}
}

func TestTryDeleteAndResetChannel(t *testing.T) {
	r := newTestRouter()
	defer r.Close()

	_ = Publish(r, "kv", 1, WithKey("a"), WithStore(true))
	ok, m, err := TryDeleteMessage[int](r, "kv", "a")
	if err != nil || !ok || m.Body != 1 {
		t.Fatalf("delete failed: ok=%v err=%v m=%+v", ok, err, m)
	}
	_, found, _ := TryGetMessage[int](r, "kv", "a")
	if found {
		t.Fatal("expected key removed")
	}

	_ = Publish(r, "kv", 2, WithKey("b"), WithStore(true))
	if err := ResetChannel[int](r, "kv"); err != nil {
		t.Fatal(err)
	}
	state, _ := GetChannelState[int](r, "kv")
	if len(state) != 0 {
		t.Fatalf("expected empty state after reset, got %v", state)
	}
}

func TestTypeMismatch(t *testing.T) {
	r := newTestRouter()
	defer r.Close()
	if err := Publish(r, "typed", 1); err != nil {
		t.Fatal(err)
	}
	err := Publish(r, "typed", "a string")
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestObservabilityTogglesAreRuntimeMutable(t *testing.T) {
	r := newTestRouter()
	defer r.Close()

	if r.MessageTracingEnabled() || r.PublishLoggingEnabled() || r.LifecycleTrackingEnabled() {
		t.Fatal("expected all toggles off by default")
	}

	var traceSeen atomic.Bool
	_, err := Subscribe[envelope](r, "$message.traces", func(Msg[envelope]) error {
		traceSeen.Store(true)
		return nil
	}, SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}

	r.SetMessageTracingEnabled(true)
	if !r.MessageTracingEnabled() {
		t.Fatal("expected message tracing enabled")
	}
	if err := Publish(r, "num.inc", 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if !traceSeen.Load() {
		t.Fatal("expected a trace once message tracing enabled")
	}

	r.SetMessageTracingEnabled(false)
	traceSeen.Store(false)
	if err := Publish(r, "num.inc", 2); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if traceSeen.Load() {
		t.Fatal("expected no trace once message tracing disabled")
	}

	var lifecycleSeen atomic.Bool
	_, err = Subscribe[LifecycleEvent](r, "$lifecycle", func(Msg[LifecycleEvent]) error {
		lifecycleSeen.Store(true)
		return nil
	}, SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	r.SetLifecycleTrackingEnabled(true)
	if _, err := Subscribe[int](r, "another.channel", func(Msg[int]) error { return nil }, SubscribeOptions{}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if !lifecycleSeen.Load() {
		t.Fatal("expected a lifecycle event once lifecycle tracking enabled")
	}
}

func TestStoreWithEmptyKeyIsArgumentError(t *testing.T) {
	r := newTestRouter()
	defer r.Close()

	if err := Publish(r, "kv", 1, WithStore(true)); err == nil {
		t.Fatal("expected ArgumentError: store=true with no key")
	}
	// WithKey("") explicitly sets hasKey=true but the key is still
	// empty; store=true must still be rejected.
	if err := Publish(r, "kv", 1, WithKey(""), WithStore(true)); err == nil {
		t.Fatal("expected ArgumentError: store=true with WithKey(\"\")")
	}
}
