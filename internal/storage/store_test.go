package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	logx "reelbot/pkg/logx"
)

type backendFactory func(t *testing.T) Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) Backend {
			return NewMemory()
		},
		"sqlite": func(t *testing.T) Backend {
			t.Helper()
			cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "reelbot.db")}
			b, err := Open(context.Background(), cfg, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
}

func appendAll(t *testing.T, b Backend, refs ...string) {
	t.Helper()
	for _, r := range refs {
		if _, err := b.Append(context.Background(), r); err != nil {
			t.Fatalf("append %q: %v", r, err)
		}
	}
}

func TestCatalogOrderAndLookup(t *testing.T) {
	t.Parallel()
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := mk(t)

			first, err := b.Append(ctx, "A")
			if err != nil {
				t.Fatal(err)
			}
			second, err := b.Append(ctx, "B")
			if err != nil {
				t.Fatal(err)
			}
			if second <= first {
				t.Fatalf("ids not increasing: %d then %d", first, second)
			}
			appendAll(t, b, "C")

			n, err := b.Count(ctx)
			if err != nil || n != 3 {
				t.Fatalf("Count = %d, %v; want 3", n, err)
			}
			for off, want := range []string{"A", "B", "C"} {
				got, ok, err := b.At(ctx, off)
				if err != nil || !ok || got != want {
					t.Fatalf("At(%d) = %q, %v, %v; want %q", off, got, ok, err, want)
				}
			}
			if _, ok, err := b.At(ctx, 3); ok || err != nil {
				t.Fatalf("At past end: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestDeduplicateKeepsEarliest(t *testing.T) {
	t.Parallel()
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := mk(t)
			// "x" sits at positions 2 and 5.
			appendAll(t, b, "a", "b", "x", "c", "d", "x")

			removed, err := b.Deduplicate(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if removed != 1 {
				t.Fatalf("removed = %d, want 1", removed)
			}
			want := []string{"a", "b", "x", "c", "d"}
			n, _ := b.Count(ctx)
			if n != len(want) {
				t.Fatalf("Count = %d, want %d", n, len(want))
			}
			for off, ref := range want {
				got, _, _ := b.At(ctx, off)
				if got != ref {
					t.Fatalf("At(%d) = %q, want %q", off, got, ref)
				}
			}

			again, err := b.Deduplicate(ctx)
			if err != nil || again != 0 {
				t.Fatalf("second Deduplicate = %d, %v; want 0", again, err)
			}
		})
	}
}

func TestDeduplicateKeepsIDs(t *testing.T) {
	t.Parallel()
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := mk(t)
			appendAll(t, b, "x", "x", "y")
			if _, err := b.Deduplicate(ctx); err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			if err := b.ExportItems(ctx, &buf); err != nil {
				t.Fatal(err)
			}
			items := decodeLines[Item](t, buf.Bytes())
			if len(items) != 2 || items[0].ID != 1 || items[1].ID != 3 {
				t.Fatalf("items after dedup = %+v, want ids 1 and 3", items)
			}
		})
	}
}

func TestProgressInitAndSet(t *testing.T) {
	t.Parallel()
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := mk(t)

			if _, ok, err := b.Offset(ctx, 42); ok || err != nil {
				t.Fatalf("missing row: ok=%v err=%v", ok, err)
			}
			if err := b.InitOffset(ctx, 42, 0); err != nil {
				t.Fatal(err)
			}
			if err := b.SetOffset(ctx, 42, 7); err != nil {
				t.Fatal(err)
			}
			// InitOffset must not clobber an existing row.
			if err := b.InitOffset(ctx, 42, 0); err != nil {
				t.Fatal(err)
			}
			off, ok, err := b.Offset(ctx, 42)
			if err != nil || !ok || off != 7 {
				t.Fatalf("Offset = %d, %v, %v; want 7", off, ok, err)
			}
			if err := b.SetOffset(ctx, 42, -1); !errors.Is(err, ErrNegativeOffset) {
				t.Fatalf("negative offset err = %v", err)
			}
		})
	}
}

func TestExportProgressJSONLines(t *testing.T) {
	t.Parallel()
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := mk(t)
			_ = b.SetOffset(ctx, -100500, 3)
			_ = b.SetOffset(ctx, 7, 1)

			var buf bytes.Buffer
			if err := b.ExportProgress(ctx, &buf); err != nil {
				t.Fatal(err)
			}
			rows := decodeLines[ProgressRow](t, buf.Bytes())
			want := []ProgressRow{{ChatID: -100500, NextOffset: 3}, {ChatID: 7, NextOffset: 1}}
			if len(rows) != len(want) {
				t.Fatalf("rows = %+v", rows)
			}
			for i := range want {
				if rows[i] != want[i] {
					t.Fatalf("row %d = %+v, want %+v", i, rows[i], want[i])
				}
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Path: filepath.Join(t.TempDir(), "nested", "bot.db")}

	b, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	appendAll(t, b, "keep")
	_ = b.SetOffset(ctx, 1, 1)
	_ = b.Close()

	b, err = Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if n, _ := b.Count(ctx); n != 1 {
		t.Fatalf("Count after reopen = %d", n)
	}
	if off, ok, _ := b.Offset(ctx, 1); !ok || off != 1 {
		t.Fatalf("Offset after reopen = %d, %v", off, ok)
	}
}

func decodeLines[T any](t *testing.T, data []byte) []T {
	t.Helper()
	var out []T
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, v)
	}
	return out
}
