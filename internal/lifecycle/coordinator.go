// Package lifecycle ties the registry, the unread aggregator, the store
// watcher and the presenter together into the per-contact notification
// lifecycle: show on arrival, dismiss when read elsewhere, dismiss on reply.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"msgnotify/internal/contacts"
	"msgnotify/internal/eventbus"
	"msgnotify/internal/metrics"
	"msgnotify/internal/presenter"
	"msgnotify/internal/registry"
	"msgnotify/internal/transport"
	"msgnotify/internal/watcher"
	logx "msgnotify/pkg/logx"
)

// Unread is the aggregator surface the coordinator depends on.
type Unread interface {
	UnreadBodies(ctx context.Context, key string) []string
	UnreadCounts(ctx context.Context, keys []string) map[string]int
	MarkRead(ctx context.Context, key string) error
	RecordSent(ctx context.Context, key, body string) error
}

// Inbox records an inbound message after it has been announced.
type Inbox interface {
	InsertInbound(ctx context.Context, sender, body string, at time.Time) error
}

// InboxFunc adapts a function to Inbox.
type InboxFunc func(ctx context.Context, sender, body string, at time.Time) error

func (f InboxFunc) InsertInbound(ctx context.Context, sender, body string, at time.Time) error {
	return f(ctx, sender, body, at)
}

type QuickReply struct {
	Label string `json:"label"`
	Body  string `json:"body"`
}

// Settings are the runtime-tunable parts of notification rendering.
type Settings struct {
	Separator    string
	MaxLength    int
	QuickReplies []QuickReply
}

func DefaultSettings() Settings {
	return Settings{
		Separator: DefaultSeparator,
		MaxLength: DefaultMaxLength,
		QuickReplies: []QuickReply{
			{Label: "Yes", Body: "Yes"},
			{Label: "Later", Body: "Can't talk now, I'll get back to you later."},
			{Label: "No", Body: "No"},
		},
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.Separator == "" {
		s.Separator = d.Separator
	}
	if s.MaxLength <= 0 {
		s.MaxLength = d.MaxLength
	}
	if s.QuickReplies == nil {
		s.QuickReplies = d.QuickReplies
	}
	return s
}

// Active is one live notification.
type Active struct {
	Key string `json:"key"`
	ID  int    `json:"id"`
}

type Option func(*Coordinator)

func WithLogger(log logx.Logger) Option     { return func(c *Coordinator) { c.log = log } }
func WithBus(bus eventbus.Bus) Option       { return func(c *Coordinator) { c.bus = bus } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }
func WithSettings(s Settings) Option        { return func(c *Coordinator) { c.settings = s.normalized() } }
func WithInbox(in Inbox) Option             { return func(c *Coordinator) { c.inbox = in } }
func WithWatcherOptions(o ...watcher.Option) Option {
	return func(c *Coordinator) { c.watcherOpts = append(c.watcherOpts, o...) }
}

// Coordinator is safe for concurrent use. Events for the same contact are
// serialized; events for different contacts run concurrently.
type Coordinator struct {
	reg     registry.Registry
	unread  Unread
	pres    presenter.Presenter
	dir     contacts.Directory
	sender  transport.Sender
	watcher *watcher.Watcher
	inbox   Inbox

	log         logx.Logger
	bus         eventbus.Bus
	metrics     *metrics.Metrics
	watcherOpts []watcher.Option
	keys        *keyLock

	setMu    sync.RWMutex
	settings Settings
}

// New builds a coordinator and the watcher it drives. feed is the store's
// change feed.
func New(reg registry.Registry, unread Unread, feed watcher.Feed, pres presenter.Presenter,
	dir contacts.Directory, sender transport.Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		reg:      reg,
		unread:   unread,
		pres:     pres,
		dir:      dir,
		sender:   sender,
		keys:     newKeyLock(),
		settings: DefaultSettings(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.Component("lifecycle"))

	wopts := []watcher.Option{
		watcher.WithLogger(c.log),
		watcher.WithBus(c.bus),
		watcher.WithMetrics(c.metrics),
	}
	wopts = append(wopts, c.watcherOpts...)
	c.watcher = watcher.New(feed, reg, unread, c, wopts...)
	return c
}

func (c *Coordinator) Watcher() *watcher.Watcher { return c.watcher }

// Apply swaps the rendering settings. Live notifications keep their text
// until the next message for the contact.
func (c *Coordinator) Apply(s Settings) {
	s = s.normalized()
	c.setMu.Lock()
	c.settings = s
	c.setMu.Unlock()
}

func (c *Coordinator) Settings() Settings {
	c.setMu.RLock()
	defer c.setMu.RUnlock()
	return c.settings
}

// Active lists the live notifications ordered by key.
func (c *Coordinator) Active() []Active {
	entries := c.reg.Entries()
	out := make([]Active, 0, len(entries))
	for _, e := range entries {
		out = append(out, Active{Key: e.Key, ID: e.ID})
	}
	return out
}

// MessageArrived shows or refreshes the notification for key. It returns the
// notification id, or registry.NotFound when the sender is not a known
// contact and the message was suppressed.
func (c *Coordinator) MessageArrived(ctx context.Context, key, body string) int {
	unlock := c.keys.Lock(key)
	defer unlock()
	return c.messageArrived(ctx, key, body)
}

// Deliver announces an inbound message and then records it as unread, both
// under the contact's lock. A store change evaluation that runs in between
// cannot dismiss the notification just shown.
func (c *Coordinator) Deliver(ctx context.Context, key, body string, at time.Time) (int, error) {
	unlock := c.keys.Lock(key)
	defer unlock()

	id := c.messageArrived(ctx, key, body)
	if c.inbox == nil {
		return id, nil
	}
	if err := c.inbox.InsertInbound(ctx, key, body, at); err != nil {
		return id, err
	}
	return id, nil
}

func (c *Coordinator) messageArrived(ctx context.Context, key, body string) int {
	name, ok := c.dir.DisplayName(key)
	if !ok {
		c.log.Info("sender is not a contact; suppressed", logx.Addr("key", key))
		c.metrics.IncrementNotification("suppressed")
		eventbus.Emit(c.bus, eventbus.NotificationSuppressed, map[string]any{"key": key})
		return registry.NotFound
	}

	// Read before touching the registry: no store I/O under its lock.
	unread := c.unread.UnreadBodies(ctx, key)
	id := c.reg.GetOrCreate(key)

	s := c.Settings()
	n := presenter.Notification{
		ID:      id,
		Title:   name,
		Body:    BuildText(unread, body, s.Separator, s.MaxLength),
		Actions: quickActions(s.QuickReplies, key, id),
	}
	if err := c.pres.Show(ctx, n); err != nil {
		c.metrics.IncrementPresenterError("show")
		c.log.Warn("show notification failed", logx.Addr("key", key), logx.Int("id", id), logx.Err(err))
	}
	c.log.Debug("notification shown",
		logx.Addr("key", key),
		logx.Int("id", id),
		logx.Int("unread", len(unread)),
	)
	c.metrics.IncrementNotification("shown")
	c.metrics.SetActive(c.reg.Len())
	eventbus.Emit(c.bus, eventbus.NotificationShown, map[string]any{
		"key": key, "id": id, "unread": len(unread) + 1,
	})

	c.watcher.EnsureSubscribed()
	return id
}

func quickActions(replies []QuickReply, key string, id int) []presenter.Action {
	out := make([]presenter.Action, 0, len(replies))
	for _, r := range replies {
		out = append(out, presenter.Action{Label: r.Label, Body: r.Body, Key: key, NotificationID: id})
	}
	return out
}

// HandleAction is a presenter.ReplyFunc.
func (c *Coordinator) HandleAction(ctx context.Context, a presenter.Action) {
	c.ReplySent(ctx, a.Key, a.Body, a.NotificationID)
}

// ReplySent handles a quick reply: the reply is handed to the transport and
// the conversation is treated as answered whatever the send outcome. A send
// failure is logged and published as reply.send_failed.
func (c *Coordinator) ReplySent(ctx context.Context, key, body string, id int) {
	unlock := c.keys.Lock(key)

	if err := c.sender.Send(ctx, key, body); err != nil {
		c.log.Warn("reply send failed", logx.Addr("key", key), logx.Err(err))
		c.metrics.IncrementReply("send_failed")
		eventbus.Emit(c.bus, eventbus.ReplySendFailed, map[string]any{
			"key": key, "id": id, "body": body, "error": err.Error(),
		})
	} else {
		c.metrics.IncrementReply("sent")
		eventbus.Emit(c.bus, eventbus.ReplySent, map[string]any{"key": key, "id": id})
	}

	if err := c.unread.RecordSent(ctx, key, body); err != nil {
		c.log.Warn("record sent failed", logx.Err(err))
	}
	if err := c.unread.MarkRead(ctx, key); err != nil {
		c.log.Warn("mark read failed", logx.Err(err))
	}

	current := c.reg.Lookup(key)
	if id >= 0 {
		c.cancel(ctx, id)
	}
	// A reply from an older notification still answers the live one.
	if current != registry.NotFound && current != id {
		c.cancel(ctx, current)
	}
	c.reg.Remove(key)
	c.metrics.SetActive(c.reg.Len())
	unlock()

	c.unsubscribeIfIdle()
}

// Dismiss removes the notification for key after its unread count dropped
// to zero. It is skipped when key was re-announced since gen was observed,
// or when unread messages showed up in the meantime.
func (c *Coordinator) Dismiss(ctx context.Context, key string, gen uint64) {
	unlock := c.keys.Lock(key)
	defer unlock()

	id := c.reg.Lookup(key)
	if id == registry.NotFound {
		return
	}
	if cur := c.reg.Generation(key); cur != gen {
		c.log.Debug("dismiss skipped; notification refreshed", logx.Addr("key", key))
		return
	}
	if n := c.unread.UnreadCounts(ctx, []string{key})[key]; n > 0 {
		c.log.Debug("dismiss skipped; unread again", logx.Addr("key", key), logx.Int("unread", n))
		return
	}

	c.cancel(ctx, id)
	c.reg.Remove(key)
	c.log.Debug("notification dismissed", logx.Addr("key", key), logx.Int("id", id))
	c.metrics.IncrementNotification("dismissed")
	c.metrics.SetActive(c.reg.Len())
	eventbus.Emit(c.bus, eventbus.NotificationDismissed, map[string]any{"key": key, "id": id})
}

// AfterStoreChange releases the store subscription once nothing is live.
func (c *Coordinator) AfterStoreChange(context.Context) {
	c.unsubscribeIfIdle()
}

func (c *Coordinator) unsubscribeIfIdle() {
	c.watcher.UnsubscribeIfIdle(func() bool { return c.reg.Len() == 0 })
}

func (c *Coordinator) cancel(ctx context.Context, id int) {
	if err := c.pres.Cancel(ctx, id); err != nil {
		c.metrics.IncrementPresenterError("cancel")
		c.log.Warn("cancel notification failed", logx.Int("id", id), logx.Err(err))
	}
}

// Close stops the watcher and waits for its consumer to exit.
func (c *Coordinator) Close() {
	c.watcher.Close()
}
