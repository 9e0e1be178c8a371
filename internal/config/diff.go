package config

import (
	"reflect"
	"strings"

	logx "msgnotify/pkg/logx"
)

// Sections that are applied live on reload. Everything else needs a restart.
var hotSections = map[string]bool{"logging": true, "notify": true, "presenter": true, "contacts": true}

// ChangeSummary lists the sections that differ between two configs.
type ChangeSummary struct {
	Changed []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
	// Attrs are safe to log; secrets are reported as set/unset only.
	Attrs []logx.Field
}

func (s ChangeSummary) Has(section string) bool {
	for _, c := range s.Changed {
		if c == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares oldCfg and newCfg section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) ChangeSummary {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var s ChangeSummary
	mark := func(section string, attrs ...logx.Field) {
		s.Changed = append(s.Changed, section)
		if !hotSections[section] {
			s.Restart = append(s.Restart, section)
		}
		s.Attrs = append(s.Attrs, attrs...)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Store != newCfg.Store {
		mark("store", logx.String("store.driver", newCfg.Store.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Contacts, newCfg.Contacts) {
		mark("contacts",
			logx.Int("contacts.static", len(newCfg.Contacts.Static)),
			logx.Bool("contacts.vcard_set", strings.TrimSpace(newCfg.Contacts.VCardPath) != ""),
		)
	}

	op, np := oldCfg.Presenter, newCfg.Presenter
	if op != np {
		s.Changed = append(s.Changed, "presenter")
		// Only the rate applies live; driver, token and chat need a new bot.
		if op.Driver != np.Driver || op.Telegram.Token != np.Telegram.Token ||
			op.Telegram.ChatID != np.Telegram.ChatID || op.Telegram.PollTimeout != np.Telegram.PollTimeout {
			s.Restart = append(s.Restart, "presenter")
		}
		s.Attrs = append(s.Attrs,
			logx.String("presenter.driver", np.Driver),
			logx.Bool("presenter.telegram.token_set", strings.TrimSpace(np.Telegram.Token) != ""),
			logx.Int("presenter.telegram.rate_per_sec", np.Telegram.RatePerSec),
		)
	}

	if oldCfg.Transport != newCfg.Transport {
		mark("transport", logx.String("transport.driver", newCfg.Transport.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		mark("notify",
			logx.Int("notify.max_length", newCfg.Notify.MaxLength),
			logx.Int("notify.quick_replies", len(newCfg.Notify.QuickReplies)),
		)
	}
	if oldCfg.Server != newCfg.Server {
		mark("server", logx.String("server.addr", newCfg.Server.Addr), logx.Bool("server.pprof", newCfg.Server.Pprof))
	}
	if oldCfg.Resync != newCfg.Resync {
		mark("resync", logx.Bool("resync.enabled", newCfg.Resync.Enabled), logx.String("resync.schedule", newCfg.Resync.Schedule))
	}
	return s
}
