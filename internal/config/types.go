package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted sections fall back to the defaults documented on each type.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Contacts  ContactsConfig  `json:"contacts"`
	Presenter PresenterConfig `json:"presenter"`
	Transport TransportConfig `json:"transport"`
	Notify    NotifyConfig    `json:"notify"`
	Server    ServerConfig    `json:"server"`
	Resync    ResyncConfig    `json:"resync"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig controls the message store.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./data/messages.db" }
type StoreConfig struct {
	Driver      string `json:"driver"` // "memory" (default) or "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ContactsConfig feeds the address book. Senders not found here never get
// a notification.
type ContactsConfig struct {
	// DefaultRegion (ISO 3166, e.g. "US") enables phone-number matching for
	// entries written without a country code.
	DefaultRegion string            `json:"default_region,omitempty"`
	Static        map[string]string `json:"static,omitempty"`
	VCardPath     string            `json:"vcard_path,omitempty"`
}

type PresenterConfig struct {
	Driver   string         `json:"driver"` // "log" (default) or "telegram"
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// PollTimeout is the long-poll window (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outgoing Bot API calls (default 3).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type TransportConfig struct {
	Driver string `json:"driver"` // "log" (default)
}

// NotifyConfig tunes notification text. Hot-reloadable.
//
// Defaults:
//   - separator: three spaces
//   - max_length: 255 (runes)
//   - quick_replies: Yes / Later / No
type NotifyConfig struct {
	Separator    string             `json:"separator,omitempty"`
	MaxLength    int                `json:"max_length,omitempty"`
	QuickReplies []QuickReplyConfig `json:"quick_replies,omitempty"`
}

type QuickReplyConfig struct {
	Label string `json:"label"`
	Body  string `json:"body"`
}

// ServerConfig controls the HTTP surface. Empty Addr disables it.
//
// Security note: the ingest endpoints are unauthenticated; bind to
// localhost unless something in front of it handles auth.
type ServerConfig struct {
	Addr            string `json:"addr,omitempty"`
	Pprof           bool   `json:"pprof,omitempty"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// ResyncConfig schedules a periodic unread re-evaluation, which catches
// store changes made by something that does not publish on the change feed.
//
// Schedule is a cron spec (robfig/cron), e.g. "@every 5m" or "*/10 * * * *".
type ResyncConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
}
