// Package notifier delivers operator alerts and terse failure notices.
//
// Messages go through an async pipeline: a bounded queue, a small worker
// pool, a shared rate limit, retry with backoff and a dedup window so a
// failing dependency cannot flood operators with identical alerts.
//
// Fail is the entry point for user-visible failures: the full error is
// logged, the affected chat gets a generic "temporarily unavailable" notice,
// and every operator gets a "system failure" alert.
package notifier
