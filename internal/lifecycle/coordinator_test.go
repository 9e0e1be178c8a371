package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgnotify/internal/aggregator"
	"msgnotify/internal/contacts"
	"msgnotify/internal/eventbus"
	"msgnotify/internal/msgstore"
	"msgnotify/internal/presenter"
	"msgnotify/internal/registry"
	"msgnotify/internal/transport"
	"msgnotify/internal/watcher"
	logx "msgnotify/pkg/logx"
)

const alice = "+15551234567"

// recordingPresenter keeps the live set like the log presenter and records
// every cancel.
type recordingPresenter struct {
	*presenter.Log

	mu        sync.Mutex
	cancelled []int
}

func (p *recordingPresenter) Cancel(ctx context.Context, id int) error {
	p.mu.Lock()
	p.cancelled = append(p.cancelled, id)
	p.mu.Unlock()
	return p.Log.Cancel(ctx, id)
}

func (p *recordingPresenter) Cancelled() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.cancelled...)
}

type failingSender struct{}

func (failingSender) Send(context.Context, string, string) error {
	return errors.New("no signal")
}

type fixture struct {
	c      *Coordinator
	reg    *registry.Memory
	store  *msgstore.Memory
	pres   *recordingPresenter
	sender *transport.Log
	bus    eventbus.Bus
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, nil, opts...)
}

func newFixtureWith(t *testing.T, sender transport.Sender, wrap func(*aggregator.Aggregator) Unread, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		reg:    registry.NewMemory(),
		store:  msgstore.NewMemory(),
		pres:   &recordingPresenter{Log: presenter.NewLog(logx.Nop())},
		sender: transport.NewLog(logx.Nop()),
		bus:    eventbus.New(),
	}
	if sender == nil {
		sender = f.sender
	}
	var unread Unread = aggregator.New(f.store, logx.Nop())
	if wrap != nil {
		unread = wrap(unread.(*aggregator.Aggregator))
	}
	book, err := contacts.Open(contacts.Config{
		DefaultRegion: "US",
		Static:        map[string]string{alice: "Alice", "+15550001111": "Bob"},
	})
	require.NoError(t, err)

	inbox := InboxFunc(func(ctx context.Context, sender, body string, at time.Time) error {
		_, err := f.store.InsertInbound(ctx, sender, body, at)
		return err
	})
	all := append([]Option{WithBus(f.bus), WithInbox(inbox)}, opts...)
	f.c = New(f.reg, unread, f.store, f.pres, book, sender, all...)
	t.Cleanup(f.c.Close)
	return f
}

func (f *fixture) deliver(t *testing.T, key, body string) int {
	t.Helper()
	id, err := f.c.Deliver(context.Background(), key, body, time.Now())
	require.NoError(t, err)
	return id
}

func TestScenarioFirstMessage(t *testing.T) {
	f := newFixture(t)

	id := f.deliver(t, alice, "hi")

	assert.Equal(t, 0, id)
	n, ok := f.pres.Get(0)
	require.True(t, ok)
	assert.Equal(t, "Alice", n.Title)
	assert.Equal(t, "hi", n.Body)
	require.Len(t, n.Actions, 3)
	assert.Equal(t, alice, n.Actions[0].Key)
	assert.Equal(t, 0, n.Actions[0].NotificationID)
	assert.Equal(t, watcher.Subscribed, f.c.Watcher().State())
}

func TestScenarioSecondMessageBatches(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, alice, "hi")
	id := f.deliver(t, alice, "there")

	assert.Equal(t, 0, id, "same id reused")
	n, ok := f.pres.Get(0)
	require.True(t, ok)
	assert.Equal(t, "hi   there", n.Body)
	assert.Len(t, f.pres.Live(), 1)
}

func TestScenarioReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deliver(t, alice, "hi")
	f.deliver(t, alice, "there")

	f.c.ReplySent(ctx, alice, "ok", 0)

	assert.Equal(t, []transport.Sent{{Destination: alice, Body: "ok"}}, f.sender.Sent())
	unread, err := f.store.QueryUnread(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, unread)
	assert.Contains(t, f.pres.Cancelled(), 0)
	assert.Equal(t, registry.NotFound, f.reg.Lookup(alice))
	assert.Zero(t, f.reg.Len())

	assert.Equal(t, watcher.Unsubscribed, f.c.Watcher().State())
	// Give the consumer a chance to run its own post-change hook.
	time.Sleep(20 * time.Millisecond)
	_, unsubs := f.c.Watcher().Transitions()
	assert.EqualValues(t, 1, unsubs)
}

func TestScenarioExternalRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deliver(t, alice, "hi")
	_, err := f.store.MarkRead(ctx, alice)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.reg.Lookup(alice) == registry.NotFound
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0}, f.pres.Cancelled())
	assert.Empty(t, f.sender.Sent(), "no reply involved")
	require.Eventually(t, func() bool {
		return f.c.Watcher().State() == watcher.Unsubscribed
	}, time.Second, 5*time.Millisecond)
}

func TestUnknownContactIsSuppressed(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	id := f.deliver(t, "+15559999999", "spam")

	assert.Equal(t, registry.NotFound, id)
	assert.Zero(t, f.reg.Len())
	assert.Empty(t, f.pres.Live())
	assert.Equal(t, watcher.Unsubscribed, f.c.Watcher().State())

	select {
	case e := <-events:
		assert.Equal(t, eventbus.NotificationSuppressed, e.Type)
	case <-time.After(time.Second):
		t.Fatal("no suppressed event")
	}
}

func TestContactMatchedByE164KeepsRawKey(t *testing.T) {
	f := newFixture(t)

	id := f.deliver(t, "(555) 123-4567", "hi")
	assert.Equal(t, 0, id)
	n, _ := f.pres.Get(0)
	assert.Equal(t, "Alice", n.Title)

	// Different representation, different key.
	id2 := f.deliver(t, alice, "hi again")
	assert.Equal(t, 1, id2)
	assert.ElementsMatch(t, []string{"(555) 123-4567", alice}, f.reg.ActiveKeys())
}

func TestDistinctContactsGetDistinctIDs(t *testing.T) {
	f := newFixture(t)
	a := f.deliver(t, alice, "hi")
	b := f.deliver(t, "+15550001111", "yo")
	assert.NotEqual(t, a, b)
	assert.Equal(t, []Active{{Key: "+15550001111", ID: b}, {Key: alice, ID: a}}, f.c.Active())
}

func TestNewIDAfterDismissal(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, alice, "hi")
	f.c.ReplySent(context.Background(), alice, "ok", 0)

	id := f.deliver(t, alice, "again")
	assert.Equal(t, 1, id, "ids are never recycled")
	n, _ := f.pres.Get(1)
	assert.Equal(t, "again", n.Body, "read messages are not batched")
}

func TestSendFailureStillClears(t *testing.T) {
	f := newFixtureWith(t, failingSender{}, nil)
	events, unsub := f.bus.Subscribe(32)
	defer unsub()

	f.deliver(t, alice, "hi")
	f.c.ReplySent(context.Background(), alice, "ok", 0)

	assert.Equal(t, registry.NotFound, f.reg.Lookup(alice))
	assert.Empty(t, f.pres.Live())
	unread, err := f.store.QueryUnread(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, unread, "marked read despite the failed send")

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == eventbus.ReplySendFailed {
				data := e.Data.(map[string]any)
				assert.Equal(t, alice, data["key"])
				return
			}
		case <-deadline:
			t.Fatal("no reply.send_failed event")
		}
	}
}

func TestReplyFromStaleNotificationCancelsLiveOne(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, alice, "hi")
	f.c.ReplySent(context.Background(), alice, "ok", 0)
	f.deliver(t, alice, "second")

	f.c.ReplySent(context.Background(), alice, "ok", 0)
	assert.Contains(t, f.pres.Cancelled(), 1)
	assert.Empty(t, f.pres.Live())
}

// failingUnread serves bodies normally but every count fails, which reads as
// zero unread.
type failingUnread struct {
	*aggregator.Aggregator
	fail bool
	mu   sync.Mutex
}

func (u *failingUnread) UnreadCounts(ctx context.Context, keys []string) map[string]int {
	u.mu.Lock()
	fail := u.fail
	u.mu.Unlock()
	if fail {
		out := map[string]int{}
		for _, k := range keys {
			out[k] = 0
		}
		return out
	}
	return u.Aggregator.UnreadCounts(ctx, keys)
}

func TestStoreFailureDismisses(t *testing.T) {
	var u *failingUnread
	f := newFixtureWith(t, nil, func(a *aggregator.Aggregator) Unread {
		u = &failingUnread{Aggregator: a}
		return u
	})
	f.deliver(t, alice, "hi")
	require.Equal(t, 0, f.reg.Lookup(alice))

	u.mu.Lock()
	u.fail = true
	u.mu.Unlock()
	f.c.Watcher().Poke()

	require.Eventually(t, func() bool {
		return f.reg.Lookup(alice) == registry.NotFound
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0}, f.pres.Cancelled())
}

func TestDismissGenerationGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Announce without recording, so the store has nothing unread.
	id := f.c.MessageArrived(ctx, alice, "hi")
	stale := f.reg.Generation(alice)
	f.c.MessageArrived(ctx, alice, "hi again")

	f.c.Dismiss(ctx, alice, stale)
	assert.Equal(t, id, f.reg.Lookup(alice), "refreshed notification survives a stale dismissal")
	assert.Empty(t, f.pres.Cancelled())

	f.c.Dismiss(ctx, alice, f.reg.Generation(alice))
	assert.Equal(t, registry.NotFound, f.reg.Lookup(alice))
	assert.Equal(t, []int{id}, f.pres.Cancelled())
}

func TestDismissSkipsWhenUnreadAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deliver(t, alice, "hi")
	f.c.Dismiss(ctx, alice, f.reg.Generation(alice))

	assert.Equal(t, 0, f.reg.Lookup(alice))
	assert.Empty(t, f.pres.Cancelled())
}

func TestDismissUnknownKeyIsNoop(t *testing.T) {
	f := newFixture(t)
	f.c.Dismiss(context.Background(), "nobody", 0)
	assert.Empty(t, f.pres.Cancelled())
}

func TestUnsubscribeOnceWhenLastKeyLeaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deliver(t, alice, "hi")
	f.deliver(t, "+15550001111", "yo")

	for _, k := range []string{alice, "+15550001111"} {
		_, err := f.store.MarkRead(ctx, k)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return f.reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.c.Watcher().State() == watcher.Unsubscribed
	}, time.Second, 5*time.Millisecond)
	_, unsubs := f.c.Watcher().Transitions()
	assert.EqualValues(t, 1, unsubs)
}

func TestApplySettings(t *testing.T) {
	f := newFixture(t)
	f.c.Apply(Settings{Separator: " / ", QuickReplies: []QuickReply{{Label: "OK", Body: "ok"}}})

	f.deliver(t, alice, "a")
	f.deliver(t, alice, "b")

	n, _ := f.pres.Get(0)
	assert.Equal(t, "a / b", n.Body)
	require.Len(t, n.Actions, 1)
	assert.Equal(t, "ok", n.Actions[0].Body)
	assert.Equal(t, DefaultMaxLength, f.c.Settings().MaxLength)
}

func TestHandleActionRepliesFromButton(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, alice, "lunch?")
	n, _ := f.pres.Get(0)

	f.c.HandleAction(context.Background(), n.Actions[0])

	assert.Equal(t, []transport.Sent{{Destination: alice, Body: "Yes"}}, f.sender.Sent())
	assert.Zero(t, f.reg.Len())
}

func TestConcurrentArrivalsAndReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.c.Deliver(ctx, alice, "ping", time.Now())
		}()
		go func() {
			defer wg.Done()
			f.c.ReplySent(ctx, alice, "pong", f.reg.Lookup(alice))
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, a live key always has a subscription.
	if f.reg.Len() > 0 {
		assert.Equal(t, watcher.Subscribed, f.c.Watcher().State())
	}
	assert.Zero(t, f.c.keys.size())
}
