package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "10s", "10m").
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Push     PushConfig      `json:"push"`
	Ingest   IngestConfig    `json:"ingest"`
	Storage  StorageConfig   `json:"storage"`
	Export   ExportConfig    `json:"export,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via REELBOT_TELEGRAM_TOKEN.
	Token string `json:"token"`
	// OperatorIDs is the static allow-list for uploads and maintenance.
	OperatorIDs []int64 `json:"operator_ids"`
	// GroupLog is the chat id that receives forwarded log lines.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PushConfig controls per-chat delivery.
//
// Defaults:
//   - interval: "10m"
//   - exhausted_text, paused_text: built-in messages
type PushConfig struct {
	Interval        string `json:"interval"`
	ExhaustedText   string `json:"exhausted_text,omitempty"`
	PausedText      string `json:"paused_text,omitempty"`
	StartFirstText  string `json:"start_first_text,omitempty"`
	Caption         string `json:"caption,omitempty"`
	OperatorCaption string `json:"operator_caption,omitempty"`
}

// IngestConfig controls upload batching. Cooldown defaults to "1m".
type IngestConfig struct {
	Cooldown string `json:"cooldown"`
}

// StorageConfig selects the catalog backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reelbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@db/reelbot" }
//
// The DSN may be supplied via REELBOT_STORAGE_DSN instead.
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	PingInterval string `json:"ping_interval,omitempty"`
	MaxConns     int32  `json:"max_conns,omitempty"`
}

// ExportConfig controls archive scratch space. An empty TempDir uses the
// system temp directory.
type ExportConfig struct {
	TempDir string `json:"temp_dir,omitempty"`
}

// NotifierConfig controls the operator alert pipeline. If the whole section
// is omitted, defaults apply.
type NotifierConfig struct {
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	UnavailableText string `json:"unavailable_text,omitempty"`
}

// IsOperator reports whether id is on the operator allow-list.
func (c *Config) IsOperator(id int64) bool {
	if c == nil || id == 0 {
		return false
	}
	for _, op := range c.Telegram.OperatorIDs {
		if op == id {
			return true
		}
	}
	return false
}
