package config

import (
	"fmt"
	"strings"

	env "github.com/Netflix/go-env"
)

// Overrides are secrets that may come from the environment instead of the
// config file. Set values win over the file.
type Overrides struct {
	TelegramToken string `env:"REELBOT_TELEGRAM_TOKEN"`
	StorageDSN    string `env:"REELBOT_STORAGE_DSN"`
}

// LoadOverrides reads Overrides from the process environment.
func LoadOverrides() (Overrides, error) {
	var o Overrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return Overrides{}, fmt.Errorf("read environment: %w", err)
	}
	return o, nil
}

// Apply copies set overrides into cfg.
func (o Overrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(o.TelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(o.StorageDSN); v != "" {
		cfg.Storage.DSN = v
	}
}
