package msgstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"msgnotify/internal/eventbus"
)

type memRow struct {
	Message
	seq uint64
}

// Memory is a volatile Store. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	rows   []memRow
	seq    uint64
	closed bool

	bus eventbus.Bus
	// now is swapped in tests.
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{bus: eventbus.New(), now: time.Now}
}

func (m *Memory) QueryUnread(ctx context.Context, sender string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	rows := make([]memRow, 0, len(m.rows))
	for _, r := range m.rows {
		if r.Box != BoxInbox || r.Read {
			continue
		}
		if sender != "" && r.Address != sender {
			continue
		}
		rows = append(rows, r)
	}
	m.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]Message, len(rows))
	for i, r := range rows {
		out[i] = r.Message
	}
	return out, nil
}

func (m *Memory) MarkRead(ctx context.Context, sender string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(sender) == "" {
		return 0, ErrEmptyAddress
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	n := 0
	for i := range m.rows {
		r := &m.rows[i]
		if r.Box == BoxInbox && !r.Read && r.Address == sender {
			r.Read = true
			n++
		}
	}
	m.mu.Unlock()

	if n > 0 {
		announce(m.bus, Change{Op: "read", Box: BoxInbox, Address: sender, Rows: n})
	}
	return n, nil
}

func (m *Memory) InsertInbound(ctx context.Context, sender, body string, at time.Time) (Message, error) {
	if at.IsZero() {
		at = m.now()
	}
	return m.insert(ctx, BoxInbox, sender, body, at)
}

func (m *Memory) InsertSent(ctx context.Context, recipient, body string) (Message, error) {
	return m.insert(ctx, BoxSent, recipient, body, m.now())
}

func (m *Memory) insert(ctx context.Context, box Box, addr, body string, at time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(addr) == "" {
		return Message{}, ErrEmptyAddress
	}
	msg := Message{
		ID:      uuid.NewString(),
		Box:     box,
		Address: addr,
		Body:    body,
		Date:    at,
		// Sent rows are never unread.
		Read: box == BoxSent,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Message{}, ErrClosed
	}
	m.seq++
	m.rows = append(m.rows, memRow{Message: msg, seq: m.seq})
	m.mu.Unlock()

	announce(m.bus, Change{Op: "insert", Box: box, Address: addr, Rows: 1})
	return msg, nil
}

func (m *Memory) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return m.bus.Subscribe(buffer)
}

// Feed exposes the change bus backing Subscribe.
func (m *Memory) Feed() eventbus.Bus { return m.bus }

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var _ Store = (*Memory)(nil)
