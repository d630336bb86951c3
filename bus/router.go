package bus

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Router is the Bus core: channel registry, wildcard registry, publish
// fan-out, and subscription lifecycle. Grounded on the teacher's
// BroadcastBus (internal/multi/broadcast.go) for the fan-out core and
// SubscriptionIndex (internal/shared/connection.go) for the
// copy-on-write per-channel snapshot.
type Router struct {
	opts RouterOptions

	mu       sync.RWMutex
	channels map[string]*channel

	wcMu      sync.RWMutex
	wildcards map[string]map[int64]*subscription // pattern -> subID -> subscription

	idSeq            atomic.Int64
	subIDSeq         atomic.Int64
	correlationIDSeq atomic.Int64

	closed atomic.Bool

	// Observability toggles (§4.1, §6): runtime-flippable, not fixed at
	// construction. Seeded from RouterOptions, then mutated only through
	// the Set* methods below.
	messageTracingEnabled    atomic.Bool
	publishLoggingEnabled    atomic.Bool
	lifecycleTrackingEnabled atomic.Bool
}

// NewRouter constructs a Router ready to accept publishes and
// subscriptions.
func NewRouter(opts RouterOptions) *Router {
	opts = opts.withDefaults()
	r := &Router{
		opts:      opts,
		channels:  make(map[string]*channel),
		wildcards: make(map[string]map[int64]*subscription),
	}
	r.messageTracingEnabled.Store(opts.MessageTracingEnabled)
	r.publishLoggingEnabled.Store(opts.PublishLoggingEnabled)
	r.lifecycleTrackingEnabled.Store(opts.LifecycleTrackingEnabled)
	return r
}

// MessageTracingEnabled reports whether publishes are mirrored onto the
// "$message.traces" system channel.
func (r *Router) MessageTracingEnabled() bool { return r.messageTracingEnabled.Load() }

// SetMessageTracingEnabled flips message tracing at runtime.
func (r *Router) SetMessageTracingEnabled(v bool) { r.messageTracingEnabled.Store(v) }

// PublishLoggingEnabled reports whether every publish is logged.
func (r *Router) PublishLoggingEnabled() bool { return r.publishLoggingEnabled.Load() }

// SetPublishLoggingEnabled flips publish logging at runtime.
func (r *Router) SetPublishLoggingEnabled(v bool) { r.publishLoggingEnabled.Store(v) }

// LifecycleTrackingEnabled reports whether channel/subscription
// lifecycle events are published on "$lifecycle".
func (r *Router) LifecycleTrackingEnabled() bool { return r.lifecycleTrackingEnabled.Load() }

// SetLifecycleTrackingEnabled flips lifecycle tracking at runtime.
func (r *Router) SetLifecycleTrackingEnabled(v bool) { r.lifecycleTrackingEnabled.Store(v) }

// Close disposes every subscription and channel. Close is idempotent.
func (r *Router) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	chans := make([]*channel, 0, len(r.channels))
	for _, c := range r.channels {
		chans = append(chans, c)
	}
	r.channels = make(map[string]*channel)
	r.mu.Unlock()
	for _, c := range chans {
		for _, s := range c.snapshot() {
			s.dispose()
		}
	}
	r.wcMu.Lock()
	var wcSubs []*subscription
	for _, m := range r.wildcards {
		for _, s := range m {
			wcSubs = append(wcSubs, s)
		}
	}
	r.wildcards = make(map[string]map[int64]*subscription)
	r.wcMu.Unlock()
	for _, s := range wcSubs {
		s.dispose()
	}
}

func (r *Router) nextMsgID() int64 { return r.idSeq.Add(1) }

// GetNextCorrelationID returns an atomically incremented id for
// request/response linkage.
func (r *Router) GetNextCorrelationID() int64 { return r.correlationIDSeq.Add(1) }

// getOrCreateChannel returns the named channel, creating it (and
// attaching any pre-existing matching wildcard subscriptions) if absent.
func (r *Router) getOrCreateChannel(name string, bodyType reflect.Type) (*channel, error) {
	r.mu.RLock()
	c, ok := r.channels[name]
	r.mu.RUnlock()
	if ok {
		if bodyType != nil && c.bodyType != nil && c.bodyType != bodyType {
			return nil, newErr("publish", name, ErrTypeMismatch)
		}
		return c, nil
	}

	r.mu.Lock()
	c, ok = r.channels[name]
	if ok {
		r.mu.Unlock()
		if bodyType != nil && c.bodyType != nil && c.bodyType != bodyType {
			return nil, newErr("publish", name, ErrTypeMismatch)
		}
		return c, nil
	}
	c = newChannel(name, bodyType, r.opts.Stats)
	r.channels[name] = c
	r.mu.Unlock()

	// Wildcard registration race, case (i): attach every existing
	// wildcard subscription whose pattern matches this new channel.
	matching := r.matchingWildcardSubs(name)
	c.rebuild(matching)

	r.emitLifecycle(LifecycleEvent{Kind: ChannelCreated, Channel: name})
	return c, nil
}

func (r *Router) matchingWildcardSubs(channelName string) []*subscription {
	r.wcMu.RLock()
	defer r.wcMu.RUnlock()
	var out []*subscription
	for pattern, subs := range r.wildcards {
		if !Match(channelName, pattern) {
			continue
		}
		for _, s := range subs {
			out = append(out, s)
		}
	}
	return out
}

// publishInternal performs the core validated publish + fan-out and is
// shared by the generic Publish[B] wrapper and internal system-channel
// emission (lifecycle events).
func publishInternal(r *Router, channelName string, body any, p publishParams) error {
	if r.closed.Load() {
		return newErr("publish", channelName, ErrClosed)
	}
	if err := ValidateChannelName(channelName, r.opts.SystemPrefix); err != nil {
		return err
	}
	if p.store && p.key == "" {
		return newErr("publish", channelName, fmt.Errorf("%w: store=true requires a non-empty key", ErrArgument))
	}

	var bodyType reflect.Type
	if body != nil {
		bodyType = reflect.TypeOf(body)
	}
	c, err := r.getOrCreateChannel(channelName, bodyType)
	if err != nil {
		return err
	}

	e := envelope{
		id:             r.nextMsgID(),
		timestamp:      time.Now().UnixNano(),
		msgType:        p.msgType,
		correlationID:  p.correlationID,
		key:            p.key,
		hasKey:         p.hasKey,
		inceptionTicks: nowTicks(),
		from:           p.from,
		body:           body,
		tagA:           p.tagA,
	}

	if p.store {
		// Store-before-fan-out: the write happens-before every fan-out
		// of this publish.
		c.ensureStore().put(e)
	}

	c.stats.recordPublish(p.from, e.timestamp)

	traceChannel := r.opts.SystemPrefix + "message.traces"
	if r.messageTracingEnabled.Load() && channelName != traceChannel {
		_ = publishInternal(r, traceChannel, e, publishParams{msgType: Trace})
	}
	if r.publishLoggingEnabled.Load() {
		r.opts.Logger.Debug().Str("channel", channelName).Int64("id", e.id).Msg("publish")
	}

	for _, s := range c.snapshot() {
		if s.disposed.Load() {
			continue
		}
		s.enqueue(e)
	}
	return nil
}

// Publish assigns a monotonically increasing id to body, stores it (if
// requested) before fan-out, and delivers it to every matching
// subscription.
func Publish[B any](r *Router, channelName string, body B, opts ...PublishOption) error {
	var p publishParams
	for _, o := range opts {
		o(&p)
	}
	return publishInternal(r, channelName, body, p)
}

// Subscribe registers handler against channelOrPattern. Wildcard
// patterns ('*', trailing '>') are matched against every existing and
// future channel; plain names register directly on one channel.
func Subscribe[B any](r *Router, channelOrPattern string, handler func(Msg[B]) error, opts SubscribeOptions) (Subscription, error) {
	if r.closed.Load() {
		return Subscription{}, newErr("subscribe", channelOrPattern, ErrClosed)
	}
	if handler == nil {
		return Subscription{}, newErr("subscribe", channelOrPattern, fmt.Errorf("%w: nil handler", ErrArgument))
	}
	if opts.ConflationInterval < 0 {
		return Subscription{}, newErr("subscribe", channelOrPattern, fmt.Errorf("%w: negative conflation interval", ErrArgument))
	}
	isWildcard := IsWildcard(channelOrPattern)
	if isWildcard {
		if err := ValidatePattern(channelOrPattern); err != nil {
			return Subscription{}, err
		}
	} else if err := ValidateChannelName(channelOrPattern, r.opts.SystemPrefix); err != nil {
		return Subscription{}, err
	}

	statsOpts := opts.Stats
	if statsOpts.EWMAWindow == 0 {
		statsOpts = r.opts.Stats
	}

	s := &subscription{
		id:               r.subIDSeq.Add(1),
		name:             opts.Name,
		createdAt:        time.Now().UnixNano(),
		channelOrPattern: channelOrPattern,
		q:                newQueue(opts.BufferCapacity, opts.Overflow == ConflateAndSkipUpdates),
		overflow:         opts.Overflow,
		handlerTimeout:   opts.HandlerTimeout,
		deadLetter:       opts.DeadLetter,
		fetchState:       opts.FetchState,
		stats:            newSubscriptionStats(statsOpts),
		done:             make(chan struct{}),
		logger:           r.opts.Logger,
		router:           r,
	}
	s.handler = func(e envelope) error {
		m, err := fromEnvelope[B](e)
		if err != nil {
			return err
		}
		return handler(m)
	}
	if opts.OnTimeout != nil {
		s.onTimeout = opts.OnTimeout
	}
	if opts.Overflow == ConflateAndSkipUpdates {
		s.conflTicker = startConflationTicker(s.q, opts.ConflationInterval)
	}

	bodyType := reflect.TypeOf((*B)(nil)).Elem()

	if isWildcard {
		r.wcMu.Lock()
		if r.wildcards[channelOrPattern] == nil {
			r.wildcards[channelOrPattern] = make(map[int64]*subscription)
		}
		r.wildcards[channelOrPattern][s.id] = s
		r.wcMu.Unlock()

		// Wildcard registration race, case (ii): scan existing channels
		// and attach to every matching one.
		r.mu.RLock()
		var matched []*channel
		for name, c := range r.channels {
			if Match(name, channelOrPattern) {
				matched = append(matched, c)
			}
		}
		r.mu.RUnlock()
		for _, c := range matched {
			c.rebuild(r.matchingWildcardSubs(c.name))
		}
		s.ch = nil
		go s.runLoop()
		r.emitLifecycle(LifecycleEvent{Kind: SubscriptionCreated, Channel: channelOrPattern, SubscriptionID: s.id, SubscriptionNm: s.name})
		return Subscription{s}, nil
	}

	c, err := r.getOrCreateChannel(channelOrPattern, bodyType)
	if err != nil {
		return Subscription{}, err
	}
	s.ch = c
	c.addDirect(s, r.matchingWildcardSubs(channelOrPattern))

	if opts.FetchState && c.hasStore() {
		snap := c.ensureStore().snapshot()
		sort.Slice(snap, func(i, j int) bool { return snap[i].id < snap[j].id })
		var maxID int64
		for _, e := range snap {
			if err := s.handler(e); err != nil {
				s.logger.Warn().Err(err).Str("channel", channelOrPattern).Msg("fetch_state handler error")
			}
			if e.id > maxID {
				maxID = e.id
			}
		}
		atomic.StoreInt64(&s.lastSentSeq, maxID)
	}

	go s.runLoop()
	r.emitLifecycle(LifecycleEvent{Kind: SubscriptionCreated, Channel: channelOrPattern, SubscriptionID: s.id, SubscriptionNm: s.name})
	return Subscription{s}, nil
}

// removeSubscription deregisters s from its channel or the wildcard
// registry, called from subscription.dispose.
func (r *Router) removeSubscription(s *subscription) {
	if IsWildcard(s.channelOrPattern) {
		r.wcMu.Lock()
		if m, ok := r.wildcards[s.channelOrPattern]; ok {
			delete(m, s.id)
		}
		r.wcMu.Unlock()
		r.mu.RLock()
		var matched []*channel
		for name, c := range r.channels {
			if Match(name, s.channelOrPattern) {
				matched = append(matched, c)
			}
		}
		r.mu.RUnlock()
		for _, c := range matched {
			c.rebuild(r.matchingWildcardSubs(c.name))
		}
	} else if s.ch != nil {
		s.ch.removeDirect(s.id, r.matchingWildcardSubs(s.ch.name))
	}
	r.emitLifecycle(LifecycleEvent{Kind: SubscriptionDisposed, Channel: s.channelOrPattern, SubscriptionID: s.id, SubscriptionNm: s.name})
}

// GetChannelState returns a point-in-time snapshot of channel's Message
// Store; order is unspecified.
func GetChannelState[B any](r *Router, channelName string) ([]Msg[B], error) {
	r.mu.RLock()
	c, ok := r.channels[channelName]
	r.mu.RUnlock()
	if !ok || !c.hasStore() {
		return nil, nil
	}
	envs := c.ensureStore().snapshot()
	out := make([]Msg[B], 0, len(envs))
	for _, e := range envs {
		m, err := fromEnvelope[B](e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// TryGetMessage returns the stored message for key, if any.
func TryGetMessage[B any](r *Router, channelName, key string) (Msg[B], bool, error) {
	r.mu.RLock()
	c, ok := r.channels[channelName]
	r.mu.RUnlock()
	if !ok || !c.hasStore() {
		return Msg[B]{}, false, nil
	}
	e, found := c.ensureStore().get(key)
	if !found {
		return Msg[B]{}, false, nil
	}
	m, err := fromEnvelope[B](e)
	return m, true, err
}

// TryDeleteMessage removes key from channel's store and, on success,
// emits a ChannelDelete message to subscribers.
func TryDeleteMessage[B any](r *Router, channelName, key string) (bool, Msg[B], error) {
	r.mu.RLock()
	c, ok := r.channels[channelName]
	r.mu.RUnlock()
	if !ok || !c.hasStore() {
		return false, Msg[B]{}, nil
	}
	e, found := c.ensureStore().remove(key)
	if !found {
		return false, Msg[B]{}, nil
	}
	del := e
	del.id = r.nextMsgID()
	del.msgType = ChannelDelete
	del.timestamp = time.Now().UnixNano()
	for _, s := range c.snapshot() {
		s.enqueue(del)
	}
	m, err := fromEnvelope[B](e)
	return true, m, err
}

// ResetChannel clears channel's Message Store and emits a ChannelReset.
func ResetChannel[B any](r *Router, channelName string) error {
	r.mu.RLock()
	c, ok := r.channels[channelName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if c.hasStore() {
		c.ensureStore().reset()
	}
	var zero B
	e := envelope{
		id:        r.nextMsgID(),
		timestamp: time.Now().UnixNano(),
		msgType:   ChannelReset,
		body:      zero,
	}
	for _, s := range c.snapshot() {
		s.enqueue(e)
	}
	return nil
}

// TryDeleteChannel disposes all subscriptions on channelName and drops
// it from the registry.
func (r *Router) TryDeleteChannel(channelName string) bool {
	r.mu.Lock()
	c, ok := r.channels[channelName]
	if ok {
		delete(r.channels, channelName)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	for _, s := range c.snapshot() {
		s.dispose()
	}
	r.emitLifecycle(LifecycleEvent{Kind: ChannelDeleted, Channel: channelName})
	return true
}

// Channels returns a snapshot of every non-system channel.
func (r *Router) Channels() []ChannelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(r.channels))
	for name, c := range r.channels {
		if strings.HasPrefix(name, r.opts.SystemPrefix) {
			continue
		}
		snap := c.stats.Snapshot()
		out = append(out, ChannelInfo{
			Name:          name,
			BodyType:      typeName(c.bodyType),
			SubCount:      len(c.snapshot()),
			HasStore:      c.hasStore(),
			Published:     snap.Published,
			LastPublishBy: snap.LastPublishBy,
			LastPublishAt: snap.LastPublishAt,
		})
	}
	return out
}

// ChannelSubscriptions returns the current subscriptions on channelName.
func (r *Router) ChannelSubscriptions(channelName string) []Subscription {
	r.mu.RLock()
	c, ok := r.channels[channelName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	snap := c.snapshot()
	out := make([]Subscription, 0, len(snap))
	for _, s := range snap {
		out = append(out, Subscription{s})
	}
	return out
}

func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}
