package storage

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
)

// Memory is an in-process Backend. Its state is lost on exit.
type Memory struct {
	mu       sync.RWMutex
	seq      int64
	items    []Item
	progress map[int64]int
	closed   bool
	pingErr  error
}

func NewMemory() *Memory {
	return &Memory{progress: map[int64]int{}}
}

func (m *Memory) Append(_ context.Context, ref string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.seq++
	m.items = append(m.items, Item{ID: m.seq, MediaRef: ref})
	return m.seq, nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.items), nil
}

func (m *Memory) At(_ context.Context, offset int) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	if offset < 0 || offset >= len(m.items) {
		return "", false, nil
	}
	return m.items[offset].MediaRef, true, nil
}

func (m *Memory) Deduplicate(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	seen := make(map[string]struct{}, len(m.items))
	kept := m.items[:0]
	var removed int64
	for _, it := range m.items {
		if _, dup := seen[it.MediaRef]; dup {
			removed++
			continue
		}
		seen[it.MediaRef] = struct{}{}
		kept = append(kept, it)
	}
	m.items = kept
	return removed, nil
}

func (m *Memory) ExportItems(_ context.Context, w io.Writer) error {
	m.mu.RLock()
	items := append([]Item(nil), m.items...)
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Offset(_ context.Context, chatID int64) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, false, ErrClosed
	}
	off, ok := m.progress[chatID]
	return off, ok, nil
}

func (m *Memory) InitOffset(_ context.Context, chatID int64, offset int) error {
	if offset < 0 {
		return ErrNegativeOffset
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.progress[chatID]; !ok {
		m.progress[chatID] = offset
	}
	return nil
}

func (m *Memory) SetOffset(_ context.Context, chatID int64, offset int) error {
	if offset < 0 {
		return ErrNegativeOffset
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.progress[chatID] = offset
	return nil
}

func (m *Memory) ExportProgress(_ context.Context, w io.Writer) error {
	m.mu.RLock()
	rows := make([]ProgressRow, 0, len(m.progress))
	for id, off := range m.progress {
		rows = append(rows, ProgressRow{ChatID: id, NextOffset: off})
	}
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ChatID < rows[j].ChatID })
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.pingErr
}

// FailPing makes Ping return err until it is called again with nil.
func (m *Memory) FailPing(err error) {
	m.mu.Lock()
	m.pingErr = err
	m.mu.Unlock()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
