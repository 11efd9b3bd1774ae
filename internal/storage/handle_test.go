package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "reelbot/pkg/logx"
)

func TestHandleCheckRebuildsOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first := NewMemory()
	var opened []*Memory
	open := func(context.Context) (Backend, error) {
		m := NewMemory()
		opened = append(opened, m)
		return m, nil
	}
	h := WrapBackend(first, open, logx.Nop())
	defer h.Close()

	if err := h.Check(ctx); err != nil {
		t.Fatalf("healthy check: %v", err)
	}
	if h.Rebuilds() != 0 {
		t.Fatal("healthy check must not rebuild")
	}

	first.FailPing(errors.New("connection reset"))
	if err := h.Check(ctx); err == nil {
		t.Fatal("check should report the ping failure")
	}
	if h.Rebuilds() != 1 || len(opened) != 1 {
		t.Fatalf("rebuilds=%d opened=%d", h.Rebuilds(), len(opened))
	}
	if _, err := first.Count(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("old backend should be closed, err=%v", err)
	}
	if _, err := h.Append(ctx, "v"); err != nil {
		t.Fatalf("append after rebuild: %v", err)
	}
	if n, _ := opened[0].Count(ctx); n != 1 {
		t.Fatalf("append went to the wrong backend, new count=%d", n)
	}
}

func TestHandleRebuildFailureKeepsBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cur := NewMemory()
	h := WrapBackend(cur, func(context.Context) (Backend, error) {
		return nil, errors.New("dial tcp: refused")
	}, logx.Nop())
	defer h.Close()

	if err := h.Rebuild(ctx); err == nil {
		t.Fatal("Rebuild should fail")
	}
	if _, err := h.Append(ctx, "still here"); err != nil {
		t.Fatalf("old backend should still serve: %v", err)
	}
	if n, _ := cur.Count(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestHandleReconfigureRollsBackOpener(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	good := func(context.Context) (Backend, error) { return NewMemory(), nil }
	h := WrapBackend(NewMemory(), good, logx.Nop())
	defer h.Close()

	bad := func(context.Context) (Backend, error) { return nil, errors.New("bad dsn") }
	if err := h.Reconfigure(ctx, bad); err == nil {
		t.Fatal("Reconfigure with a failing opener should fail")
	}
	if err := h.Rebuild(ctx); err != nil {
		t.Fatalf("previous opener should be restored: %v", err)
	}
}

func TestHandleClosed(t *testing.T) {
	t.Parallel()
	h := WrapBackend(NewMemory(), nil, logx.Nop())
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Count(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := h.Rebuild(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("rebuild after close err = %v", err)
	}
}

func TestHeartbeatReschedule(t *testing.T) {
	t.Parallel()
	h := WrapBackend(NewMemory(), nil, logx.Nop())
	defer h.Close()
	hb := NewHeartbeat(h, logx.Nop())
	defer hb.Stop(context.Background())

	if err := hb.Start(time.Hour); err != nil {
		t.Fatal(err)
	}
	if got := hb.Interval(); got != time.Hour {
		t.Fatalf("Interval = %v", got)
	}
	if err := hb.Start(2 * time.Hour); err != nil {
		t.Fatal(err)
	}
	if got := hb.Interval(); got != 2*time.Hour {
		t.Fatalf("Interval after reschedule = %v", got)
	}
	hb.Stop(context.Background())
	if got := hb.Interval(); got != 0 {
		t.Fatalf("Interval after stop = %v", got)
	}
}
