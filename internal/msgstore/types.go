// Package msgstore provides the message log the notifier reads unread state from.
//
// It currently supports:
//   - "memory": volatile in-process store (default)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Every mutation that changes the log is announced on a change feed
// (Subscribe). The feed carries no guarantees beyond "something may have
// changed"; consumers re-query.
package msgstore

import (
	"context"
	"errors"
	"time"

	"msgnotify/internal/eventbus"
)

var (
	ErrClosed       = errors.New("message store closed")
	ErrEmptyAddress = errors.New("address is required")
)

type Box string

const (
	BoxInbox Box = "inbox"
	BoxSent  Box = "sent"
)

// Message is one stored row.
type Message struct {
	ID      string    `json:"id"`
	Box     Box       `json:"box"`
	Address string    `json:"address"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
	Read    bool      `json:"read"`
}

// Change is the payload of a store.changed event.
type Change struct {
	Op      string `json:"op"` // "insert", "read"
	Box     Box    `json:"box"`
	Address string `json:"address"`
	Rows    int    `json:"rows"`
}

// Store is the message log API used by the aggregator and the app.
type Store interface {
	// QueryUnread returns unread inbox rows ordered by arrival, oldest first.
	// An empty sender returns unread rows for every sender.
	QueryUnread(ctx context.Context, sender string) ([]Message, error)
	// MarkRead flags every unread inbox row from sender as read and returns
	// the number of rows changed.
	MarkRead(ctx context.Context, sender string) (int, error)
	// InsertInbound appends an unread inbox row.
	InsertInbound(ctx context.Context, sender, body string, at time.Time) (Message, error)
	// InsertSent appends a row to the sent box.
	InsertSent(ctx context.Context, recipient, body string) (Message, error)

	// Subscribe registers on the change feed. Closing is done by calling the
	// returned function; it is idempotent.
	Subscribe(buffer int) (<-chan eventbus.Event, func())

	Close() error
}

// Config configures the message store.
//
// Driver values:
//   - "memory" (or empty): in-process, lost on restart
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
