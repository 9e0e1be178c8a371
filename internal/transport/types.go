// Package transport sends outgoing short messages.
//
// The notifier treats sending as fire-and-forget: an error is logged and
// published, but never blocks clearing the notification.
package transport

import (
	"context"
	"errors"
	"strings"
	"sync"

	logx "msgnotify/pkg/logx"
)

var ErrEmptyDestination = errors.New("destination is required")

type Sender interface {
	Send(ctx context.Context, destination, body string) error
}

// Config selects the outgoing transport.
//
// Driver values:
//   - "log" (or empty): record the send in the log only (no carrier)
type Config struct {
	Driver string
}

func Open(cfg Config, log logx.Logger) (Sender, error) {
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "log":
		return NewLog(log), nil
	default:
		return nil, errors.New("unknown transport driver: " + d)
	}
}

// Sent is one recorded outgoing message.
type Sent struct {
	Destination string
	Body        string
}

// Log is a Sender that only logs. It also remembers what it sent, which
// the ops surface and tests read back.
type Log struct {
	log logx.Logger

	mu   sync.Mutex
	sent []Sent
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.Component("transport.log"))}
}

func (l *Log) Send(ctx context.Context, destination, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(destination) == "" {
		return ErrEmptyDestination
	}
	l.mu.Lock()
	l.sent = append(l.sent, Sent{Destination: destination, Body: body})
	if len(l.sent) > 300 {
		l.sent = l.sent[len(l.sent)-300:]
	}
	l.mu.Unlock()
	l.log.Info("fake send", logx.Addr("to", destination), logx.Int("len", len(body)))
	return nil
}

func (l *Log) Sent() []Sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Sent(nil), l.sent...)
}
