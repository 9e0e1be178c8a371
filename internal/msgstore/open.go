package msgstore

import (
	"errors"
	"strings"

	"msgnotify/internal/eventbus"
	logx "msgnotify/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown message store driver: " + driver)
	}
}

func announce(bus eventbus.Bus, c Change) {
	eventbus.Emit(bus, eventbus.StoreChanged, c)
}
