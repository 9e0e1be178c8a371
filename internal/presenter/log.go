package presenter

import (
	"context"
	"sort"
	"sync"

	logx "msgnotify/pkg/logx"
)

// Log renders notifications as log lines and keeps the live set in memory.
// The HTTP surface reads it back through Live.
type Log struct {
	log logx.Logger

	mu   sync.Mutex
	live map[int]Notification
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.Component("presenter.log")), live: map[int]Notification{}}
}

func (p *Log) Show(_ context.Context, n Notification) error {
	p.mu.Lock()
	_, replaced := p.live[n.ID]
	p.live[n.ID] = n
	p.mu.Unlock()

	p.log.Info("notification",
		logx.Int("id", n.ID),
		logx.String("title", n.Title),
		logx.String("body", n.Body),
		logx.Int("actions", len(n.Actions)),
		logx.Bool("replaced", replaced),
	)
	return nil
}

func (p *Log) Cancel(_ context.Context, id int) error {
	p.mu.Lock()
	_, ok := p.live[id]
	delete(p.live, id)
	p.mu.Unlock()
	if ok {
		p.log.Info("notification cancelled", logx.Int("id", id))
	}
	return nil
}

// Get returns the live notification with id.
func (p *Log) Get(id int) (Notification, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.live[id]
	return n, ok
}

// Live returns the live notifications ordered by id.
func (p *Log) Live() []Notification {
	p.mu.Lock()
	out := make([]Notification, 0, len(p.live))
	for _, n := range p.live {
		out = append(out, n)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
