package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal. Delivery is best effort: a subscriber whose
// buffer is full misses the event. Data should be small and JSON friendly.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published by the store and the notification lifecycle.
const (
	StoreChanged = "store.changed"

	NotificationShown      = "notification.shown"
	NotificationDismissed  = "notification.dismissed"
	NotificationSuppressed = "notification.suppressed"

	ReplySent       = "reply.sent"
	ReplySendFailed = "reply.send_failed"

	WatcherSubscribed   = "watcher.subscribed"
	WatcherUnsubscribed = "watcher.unsubscribed"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Emit publishes on bus if it is non-nil.
func Emit(bus Bus, typ string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     uint64
	dropped atomic.Uint64
}

// Publish never blocks. Channels are only closed under the write lock, so
// holding the read lock for the sends is enough to keep them open.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Subscribers reports the current number of subscriptions, or -1 for a
// bus not created by New.
func Subscribers(bus Bus) int {
	mb, ok := bus.(*memBus)
	if !ok || mb == nil {
		return -1
	}
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber's
// buffer was full.
func Dropped(bus Bus) uint64 {
	mb, ok := bus.(*memBus)
	if !ok || mb == nil {
		return 0
	}
	return mb.dropped.Load()
}
