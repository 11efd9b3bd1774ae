package timers

import (
	"sync"
	"time"
)

// Timer is the subset of *time.Timer the registry needs.
type Timer interface {
	Stop() bool
}

// Clock creates timers. RealClock is backed by time.AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock returns the wall-clock implementation.
func RealClock() Clock { return realClock{} }

type entry struct {
	token uint64
	t     Timer
}

// Registry keeps at most one pending timer per key.
//
// Every Arm returns a fresh token. When a timer fires it is removed from the
// registry only if it is still the registered one, then fn receives its token.
// A timer that was replaced or cancelled never runs fn.
type Registry[K comparable] struct {
	clock Clock

	mu      sync.Mutex
	seq     uint64
	entries map[K]entry
	stopped bool
}

func New[K comparable](clock Clock) *Registry[K] {
	if clock == nil {
		clock = RealClock()
	}
	return &Registry[K]{clock: clock, entries: map[K]entry{}}
}

// Arm schedules fn after d for key, replacing any pending timer for key.
// It returns 0 (and schedules nothing) once the registry is stopped.
func (r *Registry[K]) Arm(key K, d time.Duration, fn func(token uint64)) uint64 {
	if d < 0 {
		d = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return 0
	}
	if old, ok := r.entries[key]; ok {
		old.t.Stop()
	}
	r.seq++
	tok := r.seq
	// fire blocks on r.mu until this Arm has stored the entry.
	t := r.clock.AfterFunc(d, func() {
		r.mu.Lock()
		cur, ok := r.entries[key]
		if !ok || cur.token != tok {
			r.mu.Unlock()
			return
		}
		delete(r.entries, key)
		r.mu.Unlock()
		fn(tok)
	})
	r.entries[key] = entry{token: tok, t: t}
	return tok
}

// Cancel stops the pending timer for key. It reports whether one existed.
func (r *Registry[K]) Cancel(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.t.Stop()
	delete(r.entries, key)
	return true
}

// Pending reports whether key has a timer that has not fired yet.
func (r *Registry[K]) Pending(key K) bool {
	r.mu.Lock()
	_, ok := r.entries[key]
	r.mu.Unlock()
	return ok
}

func (r *Registry[K]) Len() int {
	r.mu.Lock()
	n := len(r.entries)
	r.mu.Unlock()
	return n
}

// Stop cancels every pending timer and rejects further Arm calls.
func (r *Registry[K]) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.entries {
		e.t.Stop()
		delete(r.entries, k)
	}
	r.stopped = true
}
