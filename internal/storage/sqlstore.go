package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	sq "github.com/Masterminds/squirrel"
)

const (
	tableItems    = "catalog_items"
	tableProgress = "recipient_progress"
)

var errNoRows = errors.New("no rows")

type rowScanner interface {
	Scan(dest ...any) error
}

type rowIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// conn hides the differences between database/sql and pgxpool.
// queryRow must report a missing row as errNoRows.
type conn interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) rowScanner
	query(ctx context.Context, query string, args ...any) (rowIter, error)
	ping(ctx context.Context) error
	close() error
}

// sqlStore implements Backend on top of a conn. Statements are built with
// squirrel so both drivers share them; only the placeholder format differs.
type sqlStore struct {
	db conn
	sb sq.StatementBuilderType
}

func newSQLStore(db conn, ph sq.PlaceholderFormat) *sqlStore {
	return &sqlStore{db: db, sb: sq.StatementBuilder.PlaceholderFormat(ph)}
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.ping(ctx) }

func (s *sqlStore) Close() error { return s.db.close() }

func (s *sqlStore) Append(ctx context.Context, ref string) (int64, error) {
	q, args, err := s.sb.Insert(tableItems).
		Columns("media_ref").
		Values(ref).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build append: %w", err)
	}
	var id int64
	if err := s.db.queryRow(ctx, q, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("append item: %w", err)
	}
	return id, nil
}

func (s *sqlStore) Count(ctx context.Context) (int, error) {
	q, args, err := s.sb.Select("COUNT(*)").From(tableItems).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int64
	if err := s.db.queryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return int(n), nil
}

func (s *sqlStore) At(ctx context.Context, offset int) (string, bool, error) {
	if offset < 0 {
		return "", false, nil
	}
	q, args, err := s.sb.Select("media_ref").
		From(tableItems).
		OrderBy("id").
		Limit(1).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build item lookup: %w", err)
	}
	var ref string
	err = s.db.queryRow(ctx, q, args...).Scan(&ref)
	if errors.Is(err, errNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("item at %d: %w", offset, err)
	}
	return ref, true, nil
}

func (s *sqlStore) Deduplicate(ctx context.Context) (int64, error) {
	q, args, err := s.sb.Delete(tableItems).
		Where("id NOT IN (SELECT MIN(id) FROM " + tableItems + " GROUP BY media_ref)").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build dedup: %w", err)
	}
	n, err := s.db.exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("deduplicate: %w", err)
	}
	return n, nil
}

func (s *sqlStore) ExportItems(ctx context.Context, w io.Writer) error {
	q, args, err := s.sb.Select("id", "media_ref").From(tableItems).OrderBy("id").ToSql()
	if err != nil {
		return fmt.Errorf("build item export: %w", err)
	}
	rows, err := s.db.query(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("export items: %w", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.MediaRef); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		if err := enc.Encode(it); err != nil {
			return fmt.Errorf("write item: %w", err)
		}
	}
	return rows.Err()
}

func (s *sqlStore) Offset(ctx context.Context, chatID int64) (int, bool, error) {
	q, args, err := s.sb.Select("next_offset").
		From(tableProgress).
		Where(sq.Eq{"chat_id": chatID}).
		ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build offset lookup: %w", err)
	}
	var off int64
	err = s.db.queryRow(ctx, q, args...).Scan(&off)
	if errors.Is(err, errNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("offset for %d: %w", chatID, err)
	}
	return int(off), true, nil
}

func (s *sqlStore) InitOffset(ctx context.Context, chatID int64, offset int) error {
	return s.upsertOffset(ctx, chatID, offset, "ON CONFLICT (chat_id) DO NOTHING")
}

func (s *sqlStore) SetOffset(ctx context.Context, chatID int64, offset int) error {
	return s.upsertOffset(ctx, chatID, offset, "ON CONFLICT (chat_id) DO UPDATE SET next_offset = excluded.next_offset")
}

func (s *sqlStore) upsertOffset(ctx context.Context, chatID int64, offset int, conflict string) error {
	if offset < 0 {
		return ErrNegativeOffset
	}
	q, args, err := s.sb.Insert(tableProgress).
		Columns("chat_id", "next_offset").
		Values(chatID, int64(offset)).
		Suffix(conflict).
		ToSql()
	if err != nil {
		return fmt.Errorf("build offset upsert: %w", err)
	}
	if _, err := s.db.exec(ctx, q, args...); err != nil {
		return fmt.Errorf("store offset for %d: %w", chatID, err)
	}
	return nil
}

func (s *sqlStore) ExportProgress(ctx context.Context, w io.Writer) error {
	q, args, err := s.sb.Select("chat_id", "next_offset").From(tableProgress).OrderBy("chat_id").ToSql()
	if err != nil {
		return fmt.Errorf("build progress export: %w", err)
	}
	rows, err := s.db.query(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("export progress: %w", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	for rows.Next() {
		var (
			row ProgressRow
			off int64
		)
		if err := rows.Scan(&row.ChatID, &off); err != nil {
			return fmt.Errorf("scan progress: %w", err)
		}
		row.NextOffset = int(off)
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write progress: %w", err)
		}
	}
	return rows.Err()
}
