// Package maintenance implements the operator-only catalog actions:
// deduplication and exporting both tables as a zip archive.
package maintenance

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
	"reelbot/pkg/tgui"
)

const (
	ItemsFile    = "catalog_items.jsonl"
	ProgressFile = "recipient_progress.jsonl"
	archiveMIME  = "application/zip"
)

// Callback data for the operator controls.
var (
	DedupData  = tgui.Data("admin", "dedup", "")
	ExportData = tgui.Data("admin", "export", "")
)

// Controls is the operator row shown under deliveries and upload summaries.
func Controls() []kit.Control {
	return []kit.Control{
		tgui.Btn("🧹 Dedup", DedupData),
		tgui.Btn("📦 Export", ExportData),
	}
}

type Store interface {
	Count(ctx context.Context) (int, error)
	Deduplicate(ctx context.Context) (int64, error)
	ExportItems(ctx context.Context, w io.Writer) error
	ExportProgress(ctx context.Context, w io.Writer) error
}

type Sender interface {
	kit.TextSender
	SendDocument(ctx context.Context, to kit.ChatTarget, path string, meta kit.DocumentMeta) (kit.MessageRef, error)
	SendAction(ctx context.Context, to kit.ChatTarget, action kit.ChatAction) error
}

type Options struct {
	Store  Store
	Sender Sender
	// TempDir returns the parent directory for export scratch space; ""
	// means os.TempDir().
	TempDir func() string
	Now     func() time.Time
	Log     logx.Logger
}

type Service struct {
	store   Store
	send    Sender
	tempDir func() string
	now     func() time.Time
	log     logx.Logger
}

func New(opt Options) *Service {
	tempDir := opt.TempDir
	if tempDir == nil {
		tempDir = func() string { return "" }
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   opt.Store,
		send:    opt.Sender,
		tempDir: tempDir,
		now:     now,
		log:     opt.Log.With(logx.String("comp", "maintenance")),
	}
}

// Report is the outcome of a deduplication run.
type Report struct {
	Removed   int64
	Remaining int
}

func (r Report) String() string {
	return fmt.Sprintf("✅ Cleanup finished\n🗑 Removed %d duplicate item(s)\n📊 Catalog size: %d", r.Removed, r.Remaining)
}

// Deduplicate removes every item whose media reference already appears at a
// lower position, then reads the resulting catalog size.
func (s *Service) Deduplicate(ctx context.Context) (Report, error) {
	removed, err := s.store.Deduplicate(ctx)
	if err != nil {
		return Report{}, err
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		return Report{Removed: removed}, fmt.Errorf("count after dedup: %w", err)
	}
	s.log.Info("catalog deduplicated", logx.Int64("removed", removed), logx.Int("remaining", n))
	return Report{Removed: removed, Remaining: n}, nil
}

// DeduplicateFor runs Deduplicate on behalf of chat and replies with the
// report.
func (s *Service) DeduplicateFor(ctx context.Context, chat kit.ChatTarget) (Report, error) {
	if err := s.send.SendAction(ctx, chat, kit.ActionTyping); err != nil {
		s.log.Debug("chat action failed", logx.Err(err))
	}
	rep, err := s.Deduplicate(ctx)
	if err != nil {
		return rep, err
	}
	if _, err := s.send.SendText(ctx, chat, rep.String(), nil); err != nil {
		return rep, fmt.Errorf("send dedup report: %w", err)
	}
	return rep, nil
}

// WriteArchive dumps both tables concurrently into scratch files and writes
// them to w as a zip archive. Scratch files are removed before it returns.
func (s *Service) WriteArchive(ctx context.Context, w io.Writer) error {
	dir, err := os.MkdirTemp(s.tempDir(), "reelbot-export-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)
	return s.writeArchive(ctx, dir, w)
}

func (s *Service) writeArchive(ctx context.Context, dir string, w io.Writer) error {
	dumps := []struct {
		name string
		fn   func(context.Context, io.Writer) error
	}{
		{ItemsFile, s.store.ExportItems},
		{ProgressFile, s.store.ExportProgress},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range dumps {
		g.Go(func() error {
			return dumpTo(gctx, filepath.Join(dir, d.name), d.fn)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dump tables: %w", err)
	}

	zw := zip.NewWriter(w)
	for _, d := range dumps {
		if err := addFile(zw, filepath.Join(dir, d.name), d.name, s.now()); err != nil {
			_ = zw.Close()
			return fmt.Errorf("archive %s: %w", d.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// Export builds the archive in scratch space and sends it to chat as a
// document. Scratch space is removed whatever the outcome.
func (s *Service) Export(ctx context.Context, chat kit.ChatTarget) error {
	if err := s.send.SendAction(ctx, chat, kit.ActionUploadDocument); err != nil {
		s.log.Debug("chat action failed", logx.Err(err))
	}

	dir, err := os.MkdirTemp(s.tempDir(), "reelbot-export-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("reelbot-backup-%s.zip", s.now().UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	if err := s.writeArchive(ctx, dir, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	meta := kit.DocumentMeta{FileName: name, MIME: archiveMIME, Caption: "📦 Catalog backup"}
	if _, err := s.send.SendDocument(ctx, chat, path, meta); err != nil {
		return fmt.Errorf("send archive: %w", err)
	}
	s.log.Info("export delivered", logx.Int64("chat_id", chat.ChatID), logx.String("file", name))
	return nil
}

func dumpTo(ctx context.Context, path string, fn func(context.Context, io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(ctx, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func addFile(zw *zip.Writer, path, name string, mod time.Time) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: mod})
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
