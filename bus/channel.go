package bus

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// channel is the registry entry for one named destination. subscriberSnapshot
// is a copy-on-write slice rebuilt whenever the direct or matching-wildcard
// subscription set changes, so the publish hot path never takes a lock —
// grounded on the teacher's SubscriptionIndex atomic-snapshot pattern.
type channel struct {
	name     string
	bodyType reflect.Type

	mu   sync.Mutex
	subs map[int64]*subscription // direct (non-wildcard) subscriptions

	st *store // guarded by mu; lazily created on first keyed store=true publish

	stats *ChannelStats

	subscriberSnapshot atomic.Value // []*subscription
}

func newChannel(name string, bodyType reflect.Type, statsOpts StatsOptions) *channel {
	c := &channel{
		name:     name,
		bodyType: bodyType,
		subs:     make(map[int64]*subscription),
		stats:    newChannelStats(statsOpts),
	}
	c.subscriberSnapshot.Store([]*subscription{})
	return c
}

func (c *channel) ensureStore() *store {
	c.mu.Lock()
	if c.st == nil {
		c.st = newStore()
	}
	st := c.st
	c.mu.Unlock()
	return st
}

func (c *channel) hasStore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st != nil
}

func (c *channel) snapshot() []*subscription {
	v := c.subscriberSnapshot.Load()
	if v == nil {
		return nil
	}
	return v.([]*subscription)
}

// rebuild recomputes the published fan-out snapshot from direct subs plus
// the wildcard subs supplied by the caller (the router owns the wildcard
// registry and passes the currently-matching set).
func (c *channel) rebuild(matchingWildcards []*subscription) {
	c.mu.Lock()
	next := make([]*subscription, 0, len(c.subs)+len(matchingWildcards))
	for _, s := range c.subs {
		next = append(next, s)
	}
	c.mu.Unlock()
	next = append(next, matchingWildcards...)
	c.subscriberSnapshot.Store(next)
}

func (c *channel) addDirect(s *subscription, matchingWildcards []*subscription) {
	c.mu.Lock()
	c.subs[s.id] = s
	c.mu.Unlock()
	c.rebuild(matchingWildcards)
}

func (c *channel) removeDirect(id int64, matchingWildcards []*subscription) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
	c.rebuild(matchingWildcards)
}

// ChannelInfo is a read-only snapshot returned by Router.Channels.
type ChannelInfo struct {
	Name          string
	BodyType      string
	SubCount      int
	HasStore      bool
	Published     int64
	LastPublishBy string
	LastPublishAt int64
}
