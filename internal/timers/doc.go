// Package timers owns per-key one-shot timers.
//
// A Registry holds at most one pending timer per key. Arming a key replaces
// (and stops) the previous timer; callers never see the underlying handles.
package timers
