package presenter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "msgnotify/pkg/logx"
)

// botAPI is the slice of *tele.Bot the presenter calls. Tests substitute it.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
}

// pollRunner is the long-poll loop of *tele.Bot. Start blocks until Stop.
type pollRunner interface {
	Start()
	Stop()
}

type liveMessage struct {
	ref     *tele.Message
	actions []Action
}

// Telegram shows each notification as one message in an owner chat. Showing
// an id again edits that message; cancelling deletes it. Quick replies are
// inline buttons whose callback data points back into the live table.
type Telegram struct {
	cfg     TelegramConfig
	log     logx.Logger
	bot     *tele.Bot
	api     botAPI
	limiter *rate.Limiter
	onReply ReplyFunc

	mu   sync.Mutex
	live map[int]*liveMessage

	poller     pollRunner
	handleOnce sync.Once
}

func NewTelegram(cfg TelegramConfig, log logx.Logger, onReply ReplyFunc) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	t := newTelegram(cfg, log, b, onReply)
	t.bot = b
	t.poller = b
	return t, nil
}

func newTelegram(cfg TelegramConfig, log logx.Logger, api botAPI, onReply ReplyFunc) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	return &Telegram{
		cfg: cfg,
		log: log.With(logx.Component("presenter.telegram")),
		api: api,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		onReply: onReply,
		live:    map[int]*liveMessage{},
	}
}

// SetRate swaps the outgoing call rate (config hot reload).
func (t *Telegram) SetRate(perSec int) {
	if perSec <= 0 {
		return
	}
	t.limiter.SetLimit(rate.Limit(perSec))
	t.limiter.SetBurst(perSec)
}

// ErrPollerExited is returned by Poll when polling ended without its
// context being cancelled.
var ErrPollerExited = errors.New("telegram polling ended unexpectedly")

// Poll receives button presses until ctx is cancelled. It blocks, so run it
// under a supervisor that restarts it on ErrPollerExited.
func (t *Telegram) Poll(ctx context.Context) error {
	if t.poller == nil {
		return errors.New("telegram bot not initialized")
	}
	if t.bot != nil {
		t.handleOnce.Do(func() { t.bot.Handle(tele.OnCallback, t.callbackHandler(ctx)) })
	}

	exited := make(chan struct{})
	defer close(exited)
	go func() {
		select {
		case <-ctx.Done():
			t.poller.Stop()
		case <-exited:
		}
	}()

	t.log.Info("polling started")
	t.poller.Start()
	if ctx.Err() != nil {
		t.log.Info("polling stopped")
		return nil
	}
	return ErrPollerExited
}

func (t *Telegram) callbackHandler(ctx context.Context) tele.HandlerFunc {
	return func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		a, ok := t.resolveCallback(m.Chat.ID, cb.Data)
		if !ok {
			return c.Respond(&tele.CallbackResponse{Text: "This notification is no longer active."})
		}
		_ = c.Respond(&tele.CallbackResponse{Text: "Sent: " + a.Label})
		if t.onReply != nil {
			t.onReply(ctx, a)
		}
		return nil
	}
}

func (t *Telegram) Show(ctx context.Context, n Notification) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	text := renderText(n)
	opts := &tele.SendOptions{ReplyMarkup: buildMarkup(n)}

	t.mu.Lock()
	prev := t.live[n.ID]
	t.mu.Unlock()

	if prev != nil {
		_, err := t.api.Edit(prev.ref, text, opts)
		switch {
		case err == nil, isNotModified(err):
			t.mu.Lock()
			if cur := t.live[n.ID]; cur != nil {
				cur.actions = n.Actions
			}
			t.mu.Unlock()
			return nil
		case isGone(err):
			// The user deleted it in the client; fall through and send anew.
		default:
			return fmt.Errorf("edit notification %d: %w", n.ID, err)
		}
	}

	msg, err := t.api.Send(&tele.Chat{ID: t.cfg.ChatID}, text, opts)
	if err != nil {
		return fmt.Errorf("send notification %d: %w", n.ID, err)
	}
	t.mu.Lock()
	t.live[n.ID] = &liveMessage{ref: msg, actions: n.Actions}
	t.mu.Unlock()
	return nil
}

func (t *Telegram) Cancel(ctx context.Context, id int) error {
	t.mu.Lock()
	lm := t.live[id]
	delete(t.live, id)
	t.mu.Unlock()
	if lm == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := t.api.Delete(lm.ref); err != nil && !isGone(err) {
		return fmt.Errorf("delete notification %d: %w", id, err)
	}
	return nil
}

func (t *Telegram) resolveCallback(chatID int64, data string) (Action, bool) {
	if chatID != t.cfg.ChatID {
		return Action{}, false
	}
	id, idx, ok := parseCallbackData(data)
	if !ok {
		return Action{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	lm := t.live[id]
	if lm == nil || idx < 0 || idx >= len(lm.actions) {
		return Action{}, false
	}
	return lm.actions[idx], true
}

func renderText(n Notification) string {
	if n.Title == "" {
		return n.Body
	}
	return n.Title + "\n" + n.Body
}

func buildMarkup(n Notification) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	if len(n.Actions) == 0 {
		return rm
	}
	row := make([]tele.InlineButton, 0, len(n.Actions))
	for i, a := range n.Actions {
		row = append(row, tele.InlineButton{Text: a.Label, Data: callbackData(n.ID, i)})
	}
	rm.InlineKeyboard = [][]tele.InlineButton{row}
	return rm
}

// Callback data stays well under Telegram's 64-byte limit: "r:<id>:<idx>".
func callbackData(id, idx int) string {
	return "r:" + strconv.Itoa(id) + ":" + strconv.Itoa(idx)
}

func parseCallbackData(s string) (id, idx int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 || parts[0] != "r" {
		return 0, 0, false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil || id < 0 {
		return 0, 0, false
	}
	idx, err = strconv.Atoi(parts[2])
	if err != nil || idx < 0 {
		return 0, 0, false
	}
	return id, idx, true
}

// Bot API errors are matched by description; telebot's typed errors vary
// across versions.
func isNotModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

func isGone(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "message to edit not found") || strings.Contains(s, "message to delete not found")
}
