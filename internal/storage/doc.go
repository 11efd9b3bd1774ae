// Package storage persists the video catalog and per-chat progress.
//
// Two tables back the bot:
//   - catalog_items: append-only ordered media references
//   - recipient_progress: chat id -> next offset into the catalog
//
// Backends: sqlite (default), postgres (pgxpool) and memory. Handle wraps the
// active backend so it can be rebuilt after a failed liveness check without
// disturbing callers.
package storage
