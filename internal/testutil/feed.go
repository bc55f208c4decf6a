package testutil

import (
	"slices"
	"sync"

	"github.com/roach88/stockline/internal/channel"
	"github.com/roach88/stockline/internal/reconcile"
)

// Feed is an in-process push channel.
//
// Deliver hands an event to every subscriber while the feed is connected
// and drops it otherwise, the way a websocket misses broadcasts during an
// outage. Use it as a FakeServer sink.
//
// Thread-safety: safe for concurrent use. Callbacks run without the lock.
type Feed struct {
	mu        sync.Mutex
	handlers  map[int]channel.Handler
	states    []func(channel.StateChange)
	next      int
	connected bool
	dropped   int
}

// NewFeed creates a disconnected feed.
func NewFeed() *Feed {
	return &Feed{handlers: make(map[int]channel.Handler)}
}

// SubscribeAll registers fn for every event.
func (f *Feed) SubscribeAll(fn channel.Handler) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.handlers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

// OnState registers fn for state transitions.
func (f *Feed) OnState(fn func(channel.StateChange)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, fn)
}

// Deliver dispatches env, in subscription order, when connected.
func (f *Feed) Deliver(env reconcile.Envelope) {
	f.mu.Lock()
	if !f.connected {
		f.dropped++
		f.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(f.handlers))
	for id := range f.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hs := make([]channel.Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, f.handlers[id])
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(env)
	}
}

// Set moves the feed to st and reports it to state callbacks. Only
// StateConnected delivers events.
func (f *Feed) Set(st channel.State) {
	f.mu.Lock()
	f.connected = st == channel.StateConnected
	states := slices.Clone(f.states)
	f.mu.Unlock()

	for _, fn := range states {
		fn(channel.StateChange{State: st})
	}
}

// Connected reports whether events are being delivered.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Dropped returns how many events were lost while disconnected.
func (f *Feed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
