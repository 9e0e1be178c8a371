package app

import (
	"msgnotify/internal/config"
	"msgnotify/internal/contacts"
	"msgnotify/internal/lifecycle"
	"msgnotify/internal/msgstore"
	"msgnotify/internal/presenter"
	"msgnotify/internal/server"
	logx "msgnotify/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStore(cfg *config.Config) (msgstore.Config, error) {
	bt, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return msgstore.Config{}, err
	}
	return msgstore.Config{Driver: cfg.Store.Driver, Path: cfg.Store.Path, BusyTimeout: bt}, nil
}

func mapContacts(cfg *config.Config) contacts.Config {
	return contacts.Config{
		DefaultRegion: cfg.Contacts.DefaultRegion,
		Static:        cfg.Contacts.Static,
		VCardPath:     cfg.Contacts.VCardPath,
	}
}

func mapPresenter(cfg *config.Config) (presenter.Config, error) {
	tg := cfg.Presenter.Telegram
	poll, err := config.ParseDurationOrDefault("presenter.telegram.poll_timeout", tg.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return presenter.Config{}, err
	}
	rate := tg.RatePerSec
	if rate <= 0 {
		rate = config.DefaultRatePerSec
	}
	return presenter.Config{
		Driver: cfg.Presenter.Driver,
		Telegram: presenter.TelegramConfig{
			Token:       tg.Token,
			ChatID:      tg.ChatID,
			PollTimeout: poll,
			RatePerSec:  rate,
		},
	}, nil
}

func mapSettings(cfg *config.Config) lifecycle.Settings {
	s := lifecycle.Settings{
		Separator: cfg.Notify.Separator,
		MaxLength: cfg.Notify.MaxLength,
	}
	if len(cfg.Notify.QuickReplies) > 0 {
		s.QuickReplies = make([]lifecycle.QuickReply, 0, len(cfg.Notify.QuickReplies))
		for _, q := range cfg.Notify.QuickReplies {
			s.QuickReplies = append(s.QuickReplies, lifecycle.QuickReply{Label: q.Label, Body: q.Body})
		}
	}
	return s
}

func mapServer(cfg *config.Config) (server.Config, error) {
	read, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	shutdown, err := config.ParseDurationOrDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout, config.DefaultShutdownTimeout)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Addr:            cfg.Server.Addr,
		Pprof:           cfg.Server.Pprof,
		ReadTimeout:     read,
		WriteTimeout:    write,
		ShutdownTimeout: shutdown,
	}, nil
}
