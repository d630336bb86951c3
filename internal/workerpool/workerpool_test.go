package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(2, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var count int64
	var wg sync.WaitGroup
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all tasks completed")
	}
	if atomic.LoadInt64(&count) != n {
		t.Fatalf("count = %d, want %d", count, n)
	}
	p.Stop()
}

func TestPoolDropsOnFullQueue(t *testing.T) {
	p := New(1, 1, zerolog.Nop())
	block := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	// Occupy the single worker so the queue backs up.
	p.Submit(func() { <-block })
	time.Sleep(20 * time.Millisecond)

	p.Submit(func() {})
	p.Submit(func() {})
	p.Submit(func() {})

	if p.Dropped() == 0 {
		t.Fatal("expected at least one dropped task")
	}
	close(block)
	p.Stop()
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := New(1, 4, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var ran int64
	p.Submit(func() { panic("boom") })
	p.Submit(func() { atomic.AddInt64(&ran, 1) })

	deadline := time.After(time.Second)
	for atomic.LoadInt64(&ran) == 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not continue after panic")
		case <-time.After(5 * time.Millisecond):
		}
	}
	p.Stop()
}
