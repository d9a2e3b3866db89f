// Package broker fans out rendered market updates to per-subscriber
// outbound queues and manages subscription state for every downstream
// connection.
package broker

import (
	"errors"
	"fmt"
	"sync"

	"stockstreamer/internal/cache"
	"stockstreamer/internal/model"
)

// QueueCap bounds each subscriber's outbound queue. A full queue drops
// new events for that subscriber only; slow consumers lose the freshest
// data instead of stalling the publisher.
const QueueCap = 1000

// ErrUnknownSymbol rejects a subscription to a symbol the cache has never
// seen. The subscriber's prior subscription is left untouched.
var ErrUnknownSymbol = errors.New("unknown symbol")

// ErrUnknownSubscriber rejects operations on an id that was never added
// or has been torn down.
var ErrUnknownSubscriber = errors.New("unknown subscriber")

// Target is what a subscriber listens to: a single symbol or the
// aggregate all-symbols feed. The zero Target means "not subscribed".
type Target struct {
	all    bool
	symbol string
}

// AllTarget subscribes to the aggregate feed of every symbol.
func AllTarget() Target { return Target{all: true} }

// SymbolTarget subscribes to one symbol.
func SymbolTarget(name string) Target { return Target{symbol: name} }

// All reports whether the target is the aggregate feed.
func (t Target) All() bool { return t.all }

// Symbol returns the symbol name; empty for the aggregate feed.
func (t Target) Symbol() string { return t.symbol }

// none reports the zero "not subscribed" state.
func (t Target) none() bool { return !t.all && t.symbol == "" }

func (t Target) String() string {
	if t.all {
		return "*"
	}
	return t.symbol
}

// Broker owns the subscriber registry and outbound queues. A single
// readers-writer lock guards both; per-symbol contention lives in the
// cache's own locks. Snapshot seeding and registration happen under the
// same exclusive section, so a concurrent publish can never land between
// a subscriber's reseed and its registry entry.
type Broker struct {
	cache    *cache.MarketCache
	queueCap int

	// OnDrop, when set, is called once per event dropped against a full
	// subscriber queue. Must not call back into the broker.
	OnDrop func(id int64)

	mu      sync.RWMutex
	nextID  int64
	queues  map[int64][]string
	subs    map[Target]map[int64]struct{}
	current map[int64]Target
}

// New creates a broker reading history snapshots from the given cache.
func New(c *cache.MarketCache) *Broker {
	return &Broker{
		cache:    c,
		queueCap: QueueCap,
		queues:   make(map[int64][]string),
		subs:     make(map[Target]map[int64]struct{}),
		current:  make(map[int64]Target),
	}
}

// AddSubscriber registers a new subscriber and returns its id. Ids are
// monotonically increasing per broker instance and never reused.
func (b *Broker) AddSubscriber() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.queues[id] = nil
	b.current[id] = Target{}
	return id
}

// Subscribe switches the subscriber to the given target. The previous
// subscription, if any, is removed first; the outbound queue is replaced
// wholesale with a fresh history snapshot so the replay arrives as one
// consistent delivery ahead of any later live event. A symbol the cache
// has never seen is rejected with ErrUnknownSymbol and no state changes.
func (b *Broker) Subscribe(id int64, target Target) error {
	if target.none() {
		return fmt.Errorf("subscribe %d: empty target", id)
	}
	if !target.All() && !b.cache.HasSymbol(target.Symbol()) {
		return fmt.Errorf("subscribe %d to %q: %w", id, target.Symbol(), ErrUnknownSymbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[id]; !ok {
		return fmt.Errorf("subscribe %d: %w", id, ErrUnknownSubscriber)
	}

	if prev := b.current[id]; !prev.none() {
		if set := b.subs[prev]; set != nil {
			delete(set, id)
		}
	}

	set := b.subs[target]
	if set == nil {
		set = make(map[int64]struct{})
		b.subs[target] = set
	}
	set[id] = struct{}{}
	b.current[id] = target

	if target.All() {
		b.queues[id] = b.cache.SnapshotAll()
	} else {
		b.queues[id] = b.cache.Snapshot(target.Symbol())
	}
	return nil
}

// Unsubscribe removes the subscriber from the target's set. A no-op when
// the target is empty or the subscriber is not in the set.
func (b *Broker) Unsubscribe(id int64, target Target) {
	if target.none() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if set := b.subs[target]; set != nil {
		delete(set, id)
	}
	if b.current[id] == target {
		b.current[id] = Target{}
	}
}

// Publish appends the rendered event to every queue subscribed to the
// symbol. Base-interval events also reach all-symbols subscribers. Full
// queues drop the event for that subscriber only.
func (b *Broker) Publish(symbol string, interval model.Interval, event string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.enqueue(b.subs[SymbolTarget(symbol)], event)
	if interval == model.BaseInterval {
		b.enqueue(b.subs[AllTarget()], event)
	}
}

func (b *Broker) enqueue(set map[int64]struct{}, event string) {
	for id := range set {
		q, ok := b.queues[id]
		if !ok {
			continue
		}
		if len(q) >= b.queueCap {
			if b.OnDrop != nil {
				b.OnDrop(id)
			}
			continue
		}
		b.queues[id] = append(q, event)
	}
}

// Drain atomically takes and clears the subscriber's pending events.
// Within one subscriber, publish order is preserved.
func (b *Broker) Drain(id int64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[id]
	if len(q) == 0 {
		return nil
	}
	b.queues[id] = nil
	return q
}

// RemoveSubscriber tears the subscriber down: registry membership and
// queue are deleted. Safe to call any number of times from any worker.
func (b *Broker) RemoveSubscriber(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t := b.current[id]; !t.none() {
		if set := b.subs[t]; set != nil {
			delete(set, id)
		}
	}
	delete(b.current, id)
	delete(b.queues, id)
}

// QueueLen returns the subscriber's current queue length.
func (b *Broker) QueueLen(id int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues[id])
}

// Subscribers returns how many ids are subscribed to the target.
func (b *Broker) Subscribers(target Target) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[target])
}

// Count returns the number of live subscribers.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues)
}
