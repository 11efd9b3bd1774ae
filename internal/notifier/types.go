package notifier

import (
	"time"

	kit "reelbot/internal/transport"
)

// Config controls the alert pipeline.
type Config struct {
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int

	// Operators receive system failure alerts.
	Operators []int64
	// UnavailableText is sent to a chat whose request failed.
	UnavailableText string
}

const DefaultUnavailableText = "⚠️ Service temporarily unavailable, please try again later."

// Notification is one queued message.
type Notification struct {
	// Channel groups related notifications for dedup (e.g. "alert").
	Channel string
	Target  kit.ChatTarget
	Text    string
	Options *kit.SendOptions
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}
