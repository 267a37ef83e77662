package config

// Config is the root configuration document.
//
// The file may be JSON or YAML; decoding is strict (unknown fields are
// rejected) so typos surface at load time instead of being silently
// ignored. All durations are Go duration strings (e.g. "500ms", "10s").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
}

type TelegramConfig struct {
	// Token supports ${ENV_VAR} expansion so the secret can live in the
	// environment (or a .env file) instead of the config file.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"` // default "10s"

	// UpdateBuffer sizes the incoming update channel. Updates beyond the
	// buffer are dropped (and counted) rather than blocking the poll loop.
	UpdateBuffer int `json:"update_buffer,omitempty"` // default 256
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"` // default "INFO"
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the SQLite database that holds reminders,
// timezone preferences and notes.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // default "5s"
}

// DeliveryConfig controls pacing of outgoing reminder messages.
type DeliveryConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 3
	SendTimeout string `json:"send_timeout,omitempty"` // default "10s"
}

// SchedulerConfig controls retry behavior and housekeeping of the
// reminder scheduler.
type SchedulerConfig struct {
	RetryMax      int    `json:"retry_max,omitempty"`       // default 3
	RetryBase     string `json:"retry_base,omitempty"`      // default "2s"
	RetryMaxDelay string `json:"retry_max_delay,omitempty"` // default "1m"

	// DefaultOffset is the UTC offset assumed for owners who never picked
	// one, e.g. "+05:00".
	DefaultOffset string `json:"default_offset,omitempty"`

	// PruneSpec is a cron expression for the nightly cleanup of terminal
	// reminders; PruneAfter is how long terminal rows are kept.
	PruneSpec  string `json:"prune_spec,omitempty"`  // default "0 4 * * *"
	PruneAfter string `json:"prune_after,omitempty"` // default "720h" (30d)
}
