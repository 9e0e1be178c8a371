package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgnotify/internal/aggregator"
	"msgnotify/internal/eventbus"
	"msgnotify/internal/msgstore"
	"msgnotify/internal/registry"
	logx "msgnotify/pkg/logx"
)

// removingHandler behaves like the coordinator: dismiss forgets the key and
// the post-change hook unsubscribes once the registry is empty.
type removingHandler struct {
	reg registry.Registry
	w   *Watcher

	mu        sync.Mutex
	dismissed []string
	changes   int
}

func (h *removingHandler) Dismiss(_ context.Context, key string, _ uint64) {
	h.mu.Lock()
	h.dismissed = append(h.dismissed, key)
	h.mu.Unlock()
	h.reg.Remove(key)
}

func (h *removingHandler) AfterStoreChange(context.Context) {
	h.mu.Lock()
	h.changes++
	h.mu.Unlock()
	h.w.UnsubscribeIfIdle(func() bool { return h.reg.Len() == 0 })
}

func (h *removingHandler) snapshot() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.dismissed...), h.changes
}

func setup(t *testing.T) (*Watcher, *removingHandler, *msgstore.Memory, *registry.Memory) {
	t.Helper()
	st := msgstore.NewMemory()
	reg := registry.NewMemory()
	h := &removingHandler{reg: reg}
	w := New(st, reg, aggregator.New(st, logx.Nop()), h)
	h.w = w
	t.Cleanup(w.Close)
	return w, h, st, reg
}

func TestEnsureSubscribedIsIdempotent(t *testing.T) {
	st := msgstore.NewMemory()
	reg := registry.NewMemory()
	bus := eventbus.New()
	h := &removingHandler{reg: reg}
	w := New(st, reg, aggregator.New(st, logx.Nop()), h, WithBus(bus))
	h.w = w
	t.Cleanup(w.Close)

	events, unsub := bus.Subscribe(4)
	defer unsub()

	assert.Equal(t, Unsubscribed, w.State())
	assert.True(t, w.EnsureSubscribed())
	assert.False(t, w.EnsureSubscribed())
	assert.Equal(t, Subscribed, w.State())

	subs, _ := w.Transitions()
	assert.EqualValues(t, 1, subs)
	assert.Equal(t, 1, eventbus.Subscribers(st.Feed()), "exactly one store subscription")

	e := <-events
	assert.Equal(t, eventbus.WatcherSubscribed, e.Type)
	select {
	case e := <-events:
		t.Fatalf("unexpected second event %q", e.Type)
	default:
	}
}

func TestEnsureUnsubscribedIsIdempotent(t *testing.T) {
	w, _, _, _ := setup(t)

	assert.False(t, w.EnsureUnsubscribed(), "initial state is unsubscribed")
	w.EnsureSubscribed()
	assert.True(t, w.EnsureUnsubscribed())
	assert.False(t, w.EnsureUnsubscribed())
	_, unsubs := w.Transitions()
	assert.EqualValues(t, 1, unsubs)
}

func TestUnsubscribeIfIdleRespectsPredicate(t *testing.T) {
	w, _, _, _ := setup(t)
	w.EnsureSubscribed()

	assert.False(t, w.UnsubscribeIfIdle(func() bool { return false }))
	assert.Equal(t, Subscribed, w.State())
	assert.True(t, w.UnsubscribeIfIdle(func() bool { return true }))
	assert.Equal(t, Unsubscribed, w.State())
}

func TestStoreChangeDismissesZeroUnreadKeys(t *testing.T) {
	w, h, st, reg := setup(t)
	ctx := context.Background()

	_, _ = st.InsertInbound(ctx, "alice", "hi", time.Time{})
	_, _ = st.InsertInbound(ctx, "bob", "yo", time.Time{})
	reg.GetOrCreate("alice")
	reg.GetOrCreate("bob")
	w.EnsureSubscribed()

	_, err := st.MarkRead(ctx, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return reg.Lookup("alice") == registry.NotFound }, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, registry.NotFound, reg.Lookup("bob"))
	assert.Equal(t, Subscribed, w.State(), "bob is still active")

	_, err = st.MarkRead(ctx, "bob")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return w.State() == Unsubscribed }, time.Second, 5*time.Millisecond)

	dismissed, _ := h.snapshot()
	assert.ElementsMatch(t, []string{"alice", "bob"}, dismissed)
	_, unsubs := w.Transitions()
	assert.EqualValues(t, 1, unsubs, "unsubscribe happens exactly once")
}

func TestUnsubscribeOnceWhenManyKeysClearTogether(t *testing.T) {
	w, h, _, reg := setup(t)
	for _, k := range []string{"a", "b", "c"} {
		reg.GetOrCreate(k)
	}
	w.EnsureSubscribed()

	// No unread rows at all: one evaluation clears every key.
	w.OnStoreChanged(context.Background())

	dismissed, changes := h.snapshot()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, dismissed)
	assert.Equal(t, 1, changes)
	_, unsubs := w.Transitions()
	assert.EqualValues(t, 1, unsubs)
	assert.Equal(t, Unsubscribed, w.State())
}

func TestPokeTriggersEvaluation(t *testing.T) {
	w, h, _, reg := setup(t)
	reg.GetOrCreate("a")

	w.Poke() // unsubscribed: no-op
	_, changes := h.snapshot()
	assert.Zero(t, changes)

	w.EnsureSubscribed()
	w.Poke()
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestResubscribeAfterUnsubscribe(t *testing.T) {
	w, _, _, _ := setup(t)
	w.EnsureSubscribed()
	w.EnsureUnsubscribed()
	assert.True(t, w.EnsureSubscribed())
	subs, unsubs := w.Transitions()
	assert.EqualValues(t, 2, subs)
	assert.EqualValues(t, 1, unsubs)
}
