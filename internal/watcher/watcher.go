// Package watcher keeps the notifier subscribed to the message store's change
// feed while at least one notification is live, and re-evaluates unread counts
// whenever the store changes.
package watcher

import (
	"context"
	"sync"
	"time"

	"msgnotify/internal/eventbus"
	"msgnotify/internal/metrics"
	"msgnotify/internal/registry"
	logx "msgnotify/pkg/logx"
)

type State int

const (
	Unsubscribed State = iota
	Subscribed
)

func (s State) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// Feed is the subscription half of msgstore.Store.
type Feed interface {
	Subscribe(buffer int) (<-chan eventbus.Event, func())
}

// Counter is the aggregation the watcher needs.
type Counter interface {
	UnreadCounts(ctx context.Context, keys []string) map[string]int
}

// Handler reacts to a store change. Dismiss is called for every active key
// whose unread count dropped to zero; gen is the registry generation observed
// before counting. AfterStoreChange runs once per evaluation, after all
// dismissals, and is where the owner decides whether to unsubscribe.
type Handler interface {
	Dismiss(ctx context.Context, key string, gen uint64)
	AfterStoreChange(ctx context.Context)
}

// Spawner starts a named background goroutine. supervisor.Supervisor
// satisfies it via its Go method.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
	Context() context.Context
}

type Option func(*Watcher)

func WithLogger(log logx.Logger) Option { return func(w *Watcher) { w.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(w *Watcher) { w.bus = bus } }
func WithSpawner(sp Spawner) Option     { return func(w *Watcher) { w.spawn = sp } }

func WithMetrics(m *metrics.Metrics) Option { return func(w *Watcher) { w.metrics = m } }

// WithBuffer sets the change-feed channel size (default 16).
func WithBuffer(n int) Option { return func(w *Watcher) { w.buffer = n } }

type subscription struct {
	events <-chan eventbus.Event
	unsub  func()
	stop   chan struct{}
	poke   chan struct{}
}

// Watcher is a two-state machine: Unsubscribed (initial) and Subscribed.
// Safe for concurrent use.
type Watcher struct {
	feed    Feed
	reg     registry.Registry
	counter Counter
	h       Handler

	log     logx.Logger
	bus     eventbus.Bus
	spawn   Spawner
	buffer  int
	metrics *metrics.Metrics

	mu           sync.Mutex
	sub          *subscription
	subscribes   uint64
	unsubscribes uint64
	wg           sync.WaitGroup
}

func New(feed Feed, reg registry.Registry, counter Counter, h Handler, opts ...Option) *Watcher {
	w := &Watcher{feed: feed, reg: reg, counter: counter, h: h, buffer: 16}
	for _, o := range opts {
		o(w)
	}
	if w.log.IsZero() {
		w.log = logx.Nop()
	}
	w.log = w.log.With(logx.Component("watcher"))
	if w.buffer <= 0 {
		w.buffer = 16
	}
	return w
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return Subscribed
	}
	return Unsubscribed
}

// Transitions returns how many times the watcher entered each state.
func (w *Watcher) Transitions() (subscribes, unsubscribes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.subscribes, w.unsubscribes
}

// EnsureSubscribed moves Unsubscribed -> Subscribed. No-op when already
// subscribed. Returns true if a transition happened.
func (w *Watcher) EnsureSubscribed() bool {
	w.mu.Lock()
	if w.sub != nil {
		w.mu.Unlock()
		return false
	}
	events, unsub := w.feed.Subscribe(w.buffer)
	sub := &subscription{
		events: events,
		unsub:  unsub,
		stop:   make(chan struct{}),
		poke:   make(chan struct{}, 1),
	}
	w.sub = sub
	w.subscribes++
	w.wg.Add(1)
	w.mu.Unlock()

	if w.spawn != nil {
		w.spawn.Go("watcher.loop", func(ctx context.Context) error {
			defer w.wg.Done()
			w.loop(ctx, sub)
			return nil
		})
	} else {
		go func() {
			defer w.wg.Done()
			w.loop(context.Background(), sub)
		}()
	}

	w.metrics.SetSubscribed(true)
	w.log.Debug("subscribed to store changes")
	eventbus.Emit(w.bus, eventbus.WatcherSubscribed, nil)
	return true
}

// EnsureUnsubscribed moves Subscribed -> Unsubscribed. No-op when already
// unsubscribed. Returns true if a transition happened.
func (w *Watcher) EnsureUnsubscribed() bool {
	return w.UnsubscribeIfIdle(nil)
}

// UnsubscribeIfIdle unsubscribes only if idle reports true. The check runs
// under the watcher lock, so it cannot interleave with EnsureSubscribed.
// A nil idle unsubscribes unconditionally.
func (w *Watcher) UnsubscribeIfIdle(idle func() bool) bool {
	w.mu.Lock()
	sub := w.sub
	if sub == nil || (idle != nil && !idle()) {
		w.mu.Unlock()
		return false
	}
	w.sub = nil
	w.unsubscribes++
	w.mu.Unlock()

	close(sub.stop)
	sub.unsub()

	w.metrics.SetSubscribed(false)
	w.log.Debug("unsubscribed from store changes")
	eventbus.Emit(w.bus, eventbus.WatcherUnsubscribed, nil)
	return true
}

// Poke schedules a re-evaluation as if the store had changed. No-op while
// unsubscribed; never blocks.
func (w *Watcher) Poke() {
	w.mu.Lock()
	sub := w.sub
	w.mu.Unlock()
	if sub == nil {
		return
	}
	select {
	case sub.poke <- struct{}{}:
	default:
	}
}

// Close unsubscribes and waits for the consumer goroutine to exit. It must
// not be called from a Handler.
func (w *Watcher) Close() {
	w.EnsureUnsubscribed()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.stop:
			return
		case _, ok := <-sub.events:
			if !ok {
				return
			}
		case <-sub.poke:
		}
		// Collapse whatever piled up during the previous evaluation.
		w.drain(sub)
		w.OnStoreChanged(ctx)
	}
}

func (w *Watcher) drain(sub *subscription) {
	for {
		select {
		case _, ok := <-sub.events:
			if !ok {
				return
			}
		case <-sub.poke:
		default:
			return
		}
	}
}

// OnStoreChanged recounts unread messages for every active key and dismisses
// keys at zero. It does not unsubscribe; Handler.AfterStoreChange decides.
func (w *Watcher) OnStoreChanged(ctx context.Context) {
	start := time.Now()
	keys := w.reg.ActiveKeys()
	if len(keys) > 0 {
		gens := make(map[string]uint64, len(keys))
		for _, k := range keys {
			gens[k] = w.reg.Generation(k)
		}
		counts := w.counter.UnreadCounts(ctx, keys)
		for _, k := range keys {
			n := counts[k]
			w.log.Trace("unread count", logx.Addr("key", k), logx.Int("unread", n))
			if n == 0 {
				w.h.Dismiss(ctx, k, gens[k])
			}
		}
	}
	w.metrics.ObserveEvaluate(time.Since(start))
	w.h.AfterStoreChange(ctx)
}
