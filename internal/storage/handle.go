package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	logx "reelbot/pkg/logx"
)

// OpenFunc opens a fresh backend.
type OpenFunc func(ctx context.Context) (Backend, error)

type backendBox struct{ b Backend }

// Handle is the process-wide storage entry point. Every call resolves the
// current backend, so a rebuild swaps the pool under callers without touching
// their timers. Calls already running on the old backend may fail.
type Handle struct {
	log logx.Logger

	cur atomic.Pointer[backendBox]

	mu      sync.Mutex // serializes Rebuild, Reconfigure, Close
	open    OpenFunc
	closed  bool
	rebuilt atomic.Uint64
}

var _ Backend = (*Handle)(nil)

// NewHandle opens the first backend. A failure here is fatal to the caller.
func NewHandle(ctx context.Context, open OpenFunc, log logx.Logger) (*Handle, error) {
	if open == nil {
		return nil, errors.New("storage: nil opener")
	}
	b, err := open(ctx)
	if err != nil {
		return nil, err
	}
	h := &Handle{log: log.With(logx.String("comp", "storage")), open: open}
	h.cur.Store(&backendBox{b: b})
	return h, nil
}

// WrapBackend returns a Handle around an already opened backend. Rebuild
// reopens through open when it is non-nil.
func WrapBackend(b Backend, open OpenFunc, log logx.Logger) *Handle {
	h := &Handle{log: log.With(logx.String("comp", "storage")), open: open}
	h.cur.Store(&backendBox{b: b})
	return h
}

func (h *Handle) backend() (Backend, error) {
	box := h.cur.Load()
	if box == nil || box.b == nil {
		return nil, ErrClosed
	}
	return box.b, nil
}

// Rebuilds reports how many times the backend has been replaced.
func (h *Handle) Rebuilds() uint64 { return h.rebuilt.Load() }

// Check pings the backend and rebuilds it when the ping fails. It returns the
// ping error, or the rebuild error if the rebuild failed too.
func (h *Handle) Check(ctx context.Context) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	perr := b.Ping(ctx)
	if perr == nil {
		return nil
	}
	h.log.Warn("storage ping failed, rebuilding", logx.Err(perr))
	if err := h.Rebuild(ctx); err != nil {
		return fmt.Errorf("ping: %v; rebuild: %w", perr, err)
	}
	return perr
}

// Rebuild opens a new backend and swaps it in, then closes the old one. On
// failure the old backend stays in place.
func (h *Handle) Rebuild(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rebuildLocked(ctx)
}

func (h *Handle) rebuildLocked(ctx context.Context) error {
	if h.closed {
		return ErrClosed
	}
	if h.open == nil {
		return errors.New("storage: no opener configured")
	}
	next, err := h.open(ctx)
	if err != nil {
		h.log.Error("storage rebuild failed", logx.Err(err))
		return err
	}
	old := h.cur.Swap(&backendBox{b: next})
	n := h.rebuilt.Add(1)
	if old != nil && old.b != nil {
		if err := old.b.Close(); err != nil {
			h.log.Warn("closing previous backend failed", logx.Err(err))
		}
	}
	h.log.Info("storage rebuilt", logx.Uint64("rebuilds", n))
	return nil
}

// Reconfigure replaces the opener and rebuilds with it. The previous opener
// and backend are kept when the new backend cannot be opened.
func (h *Handle) Reconfigure(ctx context.Context, open OpenFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.open
	h.open = open
	if err := h.rebuildLocked(ctx); err != nil {
		h.open = prev
		return err
	}
	return nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	old := h.cur.Swap(nil)
	if old == nil || old.b == nil {
		return nil
	}
	return old.b.Close()
}

func (h *Handle) Ping(ctx context.Context) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.Ping(ctx)
}

func (h *Handle) Append(ctx context.Context, ref string) (int64, error) {
	b, err := h.backend()
	if err != nil {
		return 0, err
	}
	return b.Append(ctx, ref)
}

func (h *Handle) Count(ctx context.Context) (int, error) {
	b, err := h.backend()
	if err != nil {
		return 0, err
	}
	return b.Count(ctx)
}

func (h *Handle) At(ctx context.Context, offset int) (string, bool, error) {
	b, err := h.backend()
	if err != nil {
		return "", false, err
	}
	return b.At(ctx, offset)
}

func (h *Handle) Deduplicate(ctx context.Context) (int64, error) {
	b, err := h.backend()
	if err != nil {
		return 0, err
	}
	return b.Deduplicate(ctx)
}

func (h *Handle) ExportItems(ctx context.Context, w io.Writer) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.ExportItems(ctx, w)
}

func (h *Handle) Offset(ctx context.Context, chatID int64) (int, bool, error) {
	b, err := h.backend()
	if err != nil {
		return 0, false, err
	}
	return b.Offset(ctx, chatID)
}

func (h *Handle) InitOffset(ctx context.Context, chatID int64, offset int) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.InitOffset(ctx, chatID, offset)
}

func (h *Handle) SetOffset(ctx context.Context, chatID int64, offset int) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.SetOffset(ctx, chatID, offset)
}

func (h *Handle) ExportProgress(ctx context.Context, w io.Writer) error {
	b, err := h.backend()
	if err != nil {
		return err
	}
	return b.ExportProgress(ctx, w)
}
