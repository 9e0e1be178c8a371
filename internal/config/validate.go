package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "msgnotify/pkg/logx"
)

const (
	DefaultPollTimeout     = 10 * time.Second
	DefaultRatePerSec      = 3
	DefaultShutdownTimeout = 10 * time.Second
	DefaultResyncSchedule  = "@every 5m"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func oneOf(path, v string, allowed ...string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported value %q (want one of %s)", path, v, strings.Join(allowed[1:], ", "))
}

// Validate checks cfg and returns the first problem, prefixed with the
// dotted path of the offending field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		return fmt.Errorf("logging.level: unknown level %q", lv)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return errors.New("logging.file.path: required when file logging is enabled")
	}

	if err := oneOf("store.driver", cfg.Store.Driver, "", "memory", "sqlite", "sqlite3"); err != nil {
		return err
	}
	if d := strings.ToLower(strings.TrimSpace(cfg.Store.Driver)); strings.HasPrefix(d, "sqlite") && strings.TrimSpace(cfg.Store.Path) == "" {
		return errors.New("store.path: required for sqlite")
	}
	if _, err := ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout); err != nil {
		return err
	}

	if r := strings.TrimSpace(cfg.Contacts.DefaultRegion); r != "" && len(r) != 2 {
		return fmt.Errorf("contacts.default_region: want a two-letter region code, got %q", r)
	}

	if err := oneOf("presenter.driver", cfg.Presenter.Driver, "", "log", "telegram"); err != nil {
		return err
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Presenter.Driver), "telegram") {
		tg := cfg.Presenter.Telegram
		if strings.TrimSpace(tg.Token) == "" {
			return errors.New("presenter.telegram.token: required")
		}
		if tg.ChatID == 0 {
			return errors.New("presenter.telegram.chat_id: required")
		}
	}
	if _, err := ParseDurationField("presenter.telegram.poll_timeout", cfg.Presenter.Telegram.PollTimeout); err != nil {
		return err
	}
	if cfg.Presenter.Telegram.RatePerSec < 0 {
		return errors.New("presenter.telegram.rate_per_sec: must be >= 0")
	}

	if err := oneOf("transport.driver", cfg.Transport.Driver, "", "log"); err != nil {
		return err
	}

	if cfg.Notify.MaxLength < 0 {
		return errors.New("notify.max_length: must be >= 0")
	}
	for i, q := range cfg.Notify.QuickReplies {
		if strings.TrimSpace(q.Label) == "" {
			return fmt.Errorf("notify.quick_replies[%d].label: required", i)
		}
		if strings.TrimSpace(q.Body) == "" {
			return fmt.Errorf("notify.quick_replies[%d].body: required", i)
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if cfg.Resync.Enabled {
		if _, err := ParseSchedule(ResyncSchedule(cfg.Resync)); err != nil {
			return fmt.Errorf("resync.schedule: %w", err)
		}
	}
	return nil
}

// Schedules accept an optional seconds field and descriptors like "@every 1m".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func CronParser() cron.Parser { return cronParser }

func ParseSchedule(spec string) (cron.Schedule, error) {
	return cronParser.Parse(strings.TrimSpace(spec))
}

// ResyncSchedule returns the configured schedule or the default.
func ResyncSchedule(r ResyncConfig) string {
	if s := strings.TrimSpace(r.Schedule); s != "" {
		return s
	}
	return DefaultResyncSchedule
}
