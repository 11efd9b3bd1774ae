package app

import (
	"reelbot/internal/config"
	"reelbot/internal/notifier"
	"reelbot/internal/push"
	"reelbot/internal/storage"
	logx "reelbot/pkg/logx"
)

func storageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.StorageDriver(),
		Path:        cfg.StoragePath(),
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
		MaxConns:    cfg.Storage.MaxConns,
	}, nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled && cfg.GroupLogID() != 0,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// notifierConfig maps the notifier section. Durations were checked by
// Validate, so parse errors fall back to the service defaults.
func notifierConfig(cfg *config.Config) notifier.Config {
	out := notifier.Config{Operators: cfg.Telegram.OperatorIDs}
	n := cfg.Notifier
	if n == nil {
		return out
	}
	out.Workers = n.Workers
	out.QueueSize = n.QueueSize
	out.RatePerSec = n.RatePerSec
	out.RetryMax = n.RetryMax
	out.DedupMaxEntries = n.DedupMaxEntries
	out.UnavailableText = n.UnavailableText
	out.RetryBase, _ = config.Duration("notifier.retry_base", n.RetryBase, 0)
	out.RetryMaxDelay, _ = config.Duration("notifier.retry_max_delay", n.RetryMaxDelay, 0)
	out.DedupWindow, _ = config.Duration("notifier.dedup_window", n.DedupWindow, 0)
	return out
}

func pushSettings(cfg *config.Config) push.Settings {
	return push.Settings{
		Interval:        cfg.PushInterval(),
		ExhaustedText:   cfg.ExhaustedText(),
		PausedText:      cfg.PausedText(),
		Caption:         cfg.Push.Caption,
		OperatorCaption: cfg.Push.OperatorCaption,
	}
}
