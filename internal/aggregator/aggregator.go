// Package aggregator derives per-contact unread views from the message store.
//
// Nothing here is cached: every call re-reads the store. Query failures are
// logged and read as "no unread messages", which makes callers err toward
// dismissing a notification rather than leaving a stale one on screen.
package aggregator

import (
	"context"
	"fmt"

	"msgnotify/internal/msgstore"
	logx "msgnotify/pkg/logx"
)

type Aggregator struct {
	store msgstore.Store
	log   logx.Logger
}

func New(store msgstore.Store, log logx.Logger) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{store: store, log: log.With(logx.Component("aggregator"))}
}

// UnreadBodies returns the bodies of unread messages from key, oldest first.
func (a *Aggregator) UnreadBodies(ctx context.Context, key string) []string {
	rows, err := a.store.QueryUnread(ctx, key)
	if err != nil {
		a.log.Warn("unread query failed; treating as empty", logx.Addr("key", key), logx.Err(err))
		return nil
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Body)
	}
	return out
}

// UnreadCounts scans every unread row once and buckets by sender. Each key in
// keys is present in the result, defaulting to 0. Senders outside keys are
// counted too; callers ignore them.
func (a *Aggregator) UnreadCounts(ctx context.Context, keys []string) map[string]int {
	counts := make(map[string]int, len(keys))
	for _, k := range keys {
		counts[k] = 0
	}

	rows, err := a.store.QueryUnread(ctx, "")
	if err != nil {
		a.log.Warn("unread scan failed; treating all as read", logx.Int("keys", len(keys)), logx.Err(err))
		return counts
	}
	for _, r := range rows {
		counts[r.Address]++
	}
	return counts
}

// MarkRead marks every unread message from key as read. Idempotent.
func (a *Aggregator) MarkRead(ctx context.Context, key string) error {
	n, err := a.store.MarkRead(ctx, key)
	if err != nil {
		return fmt.Errorf("mark read %q: %w", key, err)
	}
	a.log.Debug("marked read", logx.Addr("key", key), logx.Int("rows", n))
	return nil
}

// RecordSent appends an outgoing message to the sent log.
func (a *Aggregator) RecordSent(ctx context.Context, key, body string) error {
	if _, err := a.store.InsertSent(ctx, key, body); err != nil {
		return fmt.Errorf("record sent to %q: %w", key, err)
	}
	return nil
}
