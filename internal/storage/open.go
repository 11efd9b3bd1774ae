package storage

import (
	"context"
	"fmt"
	"strings"

	logx "reelbot/pkg/logx"
)

// Open initializes the configured backend and applies its schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

// Opener returns a function that opens cfg on demand; Handle uses it to
// rebuild the backend.
func Opener(cfg Config, log logx.Logger) func(ctx context.Context) (Backend, error) {
	return func(ctx context.Context) (Backend, error) {
		return Open(ctx, cfg, log)
	}
}
