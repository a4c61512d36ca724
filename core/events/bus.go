package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Debouncer
// =============================================================================

// debouncer suppresses duplicate events inside a time window. The
// signature includes the trace id, so two outcomes from different traces
// are never coalesced even when they hit the same candidate back to back.
type debouncer struct {
	window time.Duration
	mu     sync.RWMutex
	seen   map[string]time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

func (d *debouncer) shouldSkip(e *Event) bool {
	sig := fmt.Sprintf("%s:%s:%s", e.Type, e.CandidateID, e.TraceID)

	d.mu.RLock()
	last, exists := d.seen[sig]
	d.mu.RUnlock()

	if exists && time.Since(last) <= d.window {
		return true
	}

	d.mu.Lock()
	d.seen[sig] = time.Now()
	d.mu.Unlock()
	return false
}

// cleanup drops expired signatures so the seen map cannot grow without
// bound. Called opportunistically from the dispatch loop.
func (d *debouncer) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-d.window)
	for sig, last := range d.seen {
		if last.Before(cutoff) {
			delete(d.seen, sig)
		}
	}
}

// =============================================================================
// Bus
// =============================================================================

// cleanupEvery is how many dispatched events pass between debouncer
// sweeps.
const cleanupEvery = 256

// Config tunes a Bus. Zero values fall back to defaults.
type Config struct {
	// Buffer is the pending-event channel capacity. Default 1024.
	Buffer int

	// DebounceWindow is the duplicate-suppression window. Default 100ms.
	// Negative disables debouncing.
	DebounceWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = 100 * time.Millisecond
	}
	return c
}

// Bus fans events out to subscribers from a single dispatch goroutine.
// Publishing never blocks: when the buffer is full the event is dropped
// and counted. Delivery order matches publish order per publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Subscriber
	wildcard    []Subscriber
	closed      bool

	buffer   chan *Event
	debounce *debouncer
	dropped  atomic.Uint64

	startMu sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup

	cfg Config
}

// NewBus creates a stopped bus. Call Start before publishing matters.
func NewBus(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{
		subscribers: make(map[Type][]Subscriber),
		buffer:      make(chan *Event, cfg.Buffer),
		done:        make(chan struct{}),
		cfg:         cfg,
	}
	if cfg.DebounceWindow > 0 {
		b.debounce = newDebouncer(cfg.DebounceWindow)
	}
	return b
}

// Publish enqueues an event for delivery. Nil events, duplicates inside
// the debounce window, and events that find the buffer full are dropped.
func (b *Bus) Publish(e *Event) {
	if e == nil {
		return
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	if b.debounce != nil && b.debounce.shouldSkip(e) {
		return
	}

	select {
	case b.buffer <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded on a full buffer.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe registers a subscriber. An empty Types() list subscribes to
// every event.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	types := sub.Types()
	if len(types) == 0 {
		b.wildcard = append(b.wildcard, sub)
		return
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], sub)
	}
}

// Unsubscribe removes every registration under the given subscriber id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wildcard = withoutSubscriber(b.wildcard, id)
	for t, subs := range b.subscribers {
		b.subscribers[t] = withoutSubscriber(subs, id)
	}
}

func withoutSubscriber(subs []Subscriber, id string) []Subscriber {
	kept := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.ID() != id {
			kept = append(kept, sub)
		}
	}
	return kept
}

// Start launches the dispatch goroutine. Repeated calls are no-ops.
func (b *Bus) Start() {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.started {
		return
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	b.started = true
	b.wg.Add(1)
	go b.dispatch()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()

	var since int
	for {
		select {
		case e := <-b.buffer:
			b.deliver(e)
			since++
			if b.debounce != nil && since >= cleanupEvery {
				b.debounce.cleanup()
				since = 0
			}
		case <-b.done:
			return
		}
	}
}

func (b *Bus) deliver(e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.wildcard {
		_ = sub.OnEvent(e)
	}
	for _, sub := range b.subscribers[e.Type] {
		_ = sub.OnEvent(e)
	}
}

// Close stops accepting events and waits for the dispatcher to exit.
// Events still sitting in the buffer are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}
