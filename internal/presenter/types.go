// Package presenter renders per-contact notifications on a user-facing surface.
//
// A presenter is keyed by notification id: Show with a known id replaces the
// existing notification in place, Cancel removes it. Neither call returns
// anything the notifier waits on beyond an error for logging.
package presenter

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "msgnotify/pkg/logx"
)

// Action is a quick reply attached to a notification. It carries everything
// needed to act on it without consulting the notifier's state.
type Action struct {
	Label          string `json:"label"`
	Body           string `json:"body"`
	Key            string `json:"key"`
	NotificationID int    `json:"notification_id"`
}

type Notification struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Actions []Action `json:"actions,omitempty"`
}

type Presenter interface {
	Show(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, id int) error
}

// ReplyFunc is invoked when the user picks a quick reply on the surface.
type ReplyFunc func(ctx context.Context, a Action)

// Config selects and configures the presenter.
//
// Driver values:
//   - "log" (or empty): structured log lines only
//   - "telegram": messages in a Telegram chat, quick replies as inline buttons
type Config struct {
	Driver   string
	Telegram TelegramConfig
}

type TelegramConfig struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
	RatePerSec  int
}

// Open builds the configured presenter. onReply may be nil for presenters
// that cannot deliver replies.
func Open(cfg Config, log logx.Logger, onReply ReplyFunc) (Presenter, error) {
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "log":
		return NewLog(log), nil
	case "telegram":
		t, err := NewTelegram(cfg.Telegram, log, onReply)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, errors.New("unknown presenter driver: " + d)
	}
}
