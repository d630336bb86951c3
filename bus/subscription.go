package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DeadLetterEntry is routed to a subscription's optional dead-letter
// sink when a message is dropped by policy, times out, or its handler
// returns an error, and the caller
// opted into DLQ routing (§4.1: "implementer option; default: drop +
// log").
type DeadLetterEntry struct {
	Channel string
	Reason  string
	Msg     envelope
}

// SubscribeOptions configures a Subscription. Zero value is valid and
// matches the documented defaults (unbounded queue, SkipUpdates).
type SubscribeOptions struct {
	Name               string
	FetchState         bool
	Overflow           OverflowPolicy
	BufferCapacity     int // 0 = unbounded
	ConflationInterval time.Duration
	Stats              StatsOptions
	HandlerTimeout     time.Duration
	OnTimeout          func(Subscription)
	DeadLetter         chan<- DeadLetterEntry
}

// subscription is the type-erased core; Subscribe[B] wraps it with a
// typed handler closure.
type subscription struct {
	id               int64
	name             string
	createdAt        int64
	channelOrPattern string

	q *queue

	handler        func(envelope) error
	overflow       OverflowPolicy
	handlerTimeout time.Duration
	onTimeout      func(Subscription)
	deadLetter     chan<- DeadLetterEntry

	suspended atomic.Bool
	detached  atomic.Bool
	disposed  atomic.Bool
	fetchState bool

	lastSentSeq int64 // set by Subscribe's fetch_state path before the consumer goroutine starts, then mutated only by it

	stats *SubscriptionStats

	conflTicker *conflationTicker
	done        chan struct{}
	closeOnce   sync.Once

	logger zerolog.Logger
	ch     *channel
	router *Router
}

// Subscription is the handle returned to callers of Subscribe.
type Subscription struct{ s *subscription }

func (s Subscription) IsSuspended() bool { return s.s.suspended.Load() }
func (s Subscription) IsDetached() bool  { return s.s.detached.Load() }
func (s Subscription) IsDisposed() bool  { return s.s.disposed.Load() }
func (s Subscription) TimeoutCount() int64 { return atomic.LoadInt64(&s.s.stats.TimedOut) }
func (s Subscription) Statistics() SubscriptionStatsSnapshot { return s.s.stats.Snapshot() }
func (s Subscription) Name() string { return s.s.name }
func (s Subscription) ID() int64    { return s.s.id }
func (s Subscription) Suspend()     { s.s.q.setSuspended(true); s.s.suspended.Store(true) }
func (s Subscription) Resume()      { s.s.q.setSuspended(false); s.s.suspended.Store(false) }
func (s Subscription) Dispose()     { s.s.dispose() }

// runLoop is the single consumer task for this subscription: drains the
// queue, enforces last_sent_seq monotonicity, invokes the handler
// (optionally under a deadline), and terminates per §4.3 "Completion".
func (s *subscription) runLoop() {
	defer func() {
		if s.conflTicker != nil {
			s.conflTicker.Stop()
		}
		// Covers the FailSubscription path: fail() closes the queue but
		// does not itself deregister from the channel/wildcard registry.
		// dispose is idempotent, so this is a no-op when the caller
		// already disposed the subscription explicitly.
		s.dispose()
	}()
	for {
		e, ok := s.q.next()
		if !ok {
			return
		}
		now := time.Now().UnixNano()
		s.stats.onDequeue(time.Duration(now - e.timestamp))

		if e.id <= atomic.LoadInt64(&s.lastSentSeq) {
			// State-send race: a stale delivery relative to the
			// snapshot/consumer's high-water mark. Skip, don't deliver.
			continue
		}
		atomic.StoreInt64(&s.lastSentSeq, e.id)

		if !s.invoke(e) {
			return
		}
	}
}

// invoke runs the handler for one message, honouring handler_timeout.
// It always returns true: a FailSubscription overflow ends the loop by
// closing the queue in fail(), not through this return value.
func (s *subscription) invoke(e envelope) bool {
	start := time.Now()
	var err error
	if s.handlerTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.handlerTimeout)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- s.handler(e) }()
		select {
		case err = <-done:
		case <-ctx.Done():
			s.stats.onTimeout()
			if s.onTimeout != nil {
				s.onTimeout(Subscription{s})
			}
			s.routeDeadLetter(e, "handler_timeout")
			return true
		}
	} else {
		err = s.handler(e)
	}
	s.stats.onProcessed(time.Since(start))
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", s.channelOrPattern).Msg("handler error")
		s.routeDeadLetter(e, "handler_error")
	}
	return true
}

func (s *subscription) routeDeadLetter(e envelope, reason string) {
	if s.deadLetter == nil {
		return
	}
	select {
	case s.deadLetter <- DeadLetterEntry{Channel: s.channelOrPattern, Reason: reason, Msg: e}:
	default:
	}
}

// enqueue applies the overflow policy on a full bounded queue. Returns
// false when the subscription is already disposed, or when the policy
// is FailSubscription and the subscription has just been failed (the
// caller should stop delivering to it).
func (s *subscription) enqueue(e envelope) bool {
	if s.disposed.Load() {
		return false
	}
	s.stats.onEnqueue()
	ok, folded := s.q.tryWrite(e)
	if folded {
		// Folded into the conflation buffer rather than appended to the
		// FIFO: this is the actual conflation event, regardless of
		// whether the queue would otherwise have had room.
		s.stats.onConflate()
	}
	if ok {
		return true
	}

	switch s.overflow {
	case SkipUpdates:
		s.stats.onDrop()
		s.logger.Warn().Str("channel", s.channelOrPattern).Msg("queue full: dropping message (SkipUpdates)")
		s.routeDeadLetter(e, "queue_overflow")
		return true
	case ConflateAndSkipUpdates:
		if !e.hasKey {
			s.stats.onDrop()
			s.logger.Warn().Str("channel", s.channelOrPattern).Msg("queue full: unkeyed message dropped under conflation policy")
			s.routeDeadLetter(e, "queue_overflow")
			return true
		}
		// Keyed messages always fold successfully in tryWrite (ok=true,
		// folded=true above), so this branch is unreachable in practice;
		// kept as a defensive fallback if tryWrite's contract ever changes.
		s.stats.onConflate()
		return true
	case FailSubscription:
		s.fail()
		return false
	default:
		s.stats.onDrop()
		return true
	}
}

func (s *subscription) fail() {
	s.disposed.Store(true)
	s.q.close()
	s.logger.Error().Str("channel", s.channelOrPattern).Msg("subscription failed: queue overflow under FailSubscription policy")
}

// dispose is idempotent and synchronous: it stops the consumer loop
// cooperatively and deregisters from the owning channel/router.
func (s *subscription) dispose() {
	s.closeOnce.Do(func() {
		s.disposed.Store(true)
		s.q.close()
		if s.router != nil {
			s.router.removeSubscription(s)
		}
		close(s.done)
	})
}
