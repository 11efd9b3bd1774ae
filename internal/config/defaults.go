package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPushInterval   = 10 * time.Minute
	DefaultIngestCooldown = time.Minute
	DefaultPingInterval   = 5 * time.Minute
	DefaultPollTimeout    = 10 * time.Second
	DefaultSQLitePath     = "./data/reelbot.db"

	DefaultExhaustedText  = "There are no more videos for now. Ask an operator to restock, then /kc again."
	DefaultPausedText     = "Taking a break. Delivery paused."
	DefaultStartFirstText = "Delivery is not running here. Start it with /kc first."
)

// PushInterval returns push.interval or the default.
func (c *Config) PushInterval() time.Duration {
	d, _ := Duration("push.interval", c.Push.Interval, DefaultPushInterval)
	return d
}

// IngestCooldown returns ingest.cooldown or the default.
func (c *Config) IngestCooldown() time.Duration {
	d, _ := Duration("ingest.cooldown", c.Ingest.Cooldown, DefaultIngestCooldown)
	return d
}

// PingInterval returns storage.ping_interval or the default.
func (c *Config) PingInterval() time.Duration {
	d, _ := Duration("storage.ping_interval", c.Storage.PingInterval, DefaultPingInterval)
	return d
}

func (c *Config) PollTimeout() time.Duration {
	d, _ := Duration("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
	return d
}

// StorageDriver normalizes storage.driver; empty means sqlite.
func (c *Config) StorageDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch d {
	case "", "sqlite3":
		return "sqlite"
	case "postgresql", "pgx":
		return "postgres"
	}
	return d
}

func (c *Config) StoragePath() string {
	if p := strings.TrimSpace(c.Storage.Path); p != "" {
		return p
	}
	return DefaultSQLitePath
}

// GroupLogID parses telegram.group_log (0 when unset or invalid).
func (c *Config) GroupLogID() int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func textOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (c *Config) ExhaustedText() string  { return textOr(c.Push.ExhaustedText, DefaultExhaustedText) }
func (c *Config) PausedText() string     { return textOr(c.Push.PausedText, DefaultPausedText) }
func (c *Config) StartFirstText() string { return textOr(c.Push.StartFirstText, DefaultStartFirstText) }

// Validate checks a parsed config. It is used at startup (fatal) and before
// committing a hot reload (rejected reloads keep the previous config).
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set REELBOT_TELEGRAM_TOKEN)"))
	}
	for _, id := range c.Telegram.OperatorIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("telegram.operator_ids: invalid user id %d", id))
		}
	}
	if g := strings.TrimSpace(c.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: %q is not a chat id", g))
		}
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"push.interval", c.Push.Interval},
		{"ingest.cooldown", c.Ingest.Cooldown},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"storage.ping_interval", c.Storage.PingInterval},
	}
	if n := c.Notifier; n != nil {
		durations = append(durations,
			struct{ path, raw string }{"notifier.retry_base", n.RetryBase},
			struct{ path, raw string }{"notifier.retry_max_delay", n.RetryMaxDelay},
			struct{ path, raw string }{"notifier.dedup_window", n.DedupWindow},
		)
	}
	for _, d := range durations {
		if _, err := Duration(d.path, d.raw, 0); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.StorageDriver() {
	case "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres (or set REELBOT_STORAGE_DSN)"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.MaxConns < 0 {
		errs = append(errs, errors.New("storage.max_conns must be >= 0"))
	}
	return errors.Join(errs...)
}
