package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrClosed         = errors.New("storage closed")
	ErrUnknownDriver  = errors.New("unknown storage driver")
	ErrNegativeOffset = errors.New("offset must be >= 0")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path (default)
//   - "postgres": Postgres reachable via DSN
//   - "memory": in-process, lost on exit
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgxpool default
}

// Item is one catalog row. ID is assigned in insertion order and never reused.
type Item struct {
	ID       int64  `json:"id"`
	MediaRef string `json:"media_ref"`
}

// ProgressRow is one recipient_progress row.
type ProgressRow struct {
	ChatID     int64 `json:"chat_id"`
	NextOffset int   `json:"next_offset"`
}

// Catalog is the ordered list of media references.
type Catalog interface {
	// Append stores ref at the end of the catalog and returns its id.
	Append(ctx context.Context, ref string) (int64, error)
	Count(ctx context.Context) (int, error)
	// At returns the media reference at the 0-based offset in id order.
	// ok is false when offset is past the end.
	At(ctx context.Context, offset int) (ref string, ok bool, err error)
	// Deduplicate removes every item whose media reference also belongs to
	// an item with a lower id, in one statement. Ids are never renumbered.
	Deduplicate(ctx context.Context) (removed int64, err error)
	// ExportItems writes every item as JSON Lines in id order.
	ExportItems(ctx context.Context, w io.Writer) error
}

// Progress maps chat ids to their next catalog offset.
type Progress interface {
	Offset(ctx context.Context, chatID int64) (offset int, ok bool, err error)
	// InitOffset inserts the row only if it does not exist yet.
	InitOffset(ctx context.Context, chatID int64, offset int) error
	// SetOffset overwrites the row unconditionally.
	SetOffset(ctx context.Context, chatID int64, offset int) error
	// ExportProgress writes every row as JSON Lines ordered by chat id.
	ExportProgress(ctx context.Context, w io.Writer) error
}

// Backend is a concrete storage engine holding both tables.
type Backend interface {
	Catalog
	Progress
	Ping(ctx context.Context) error
	Close() error
}
