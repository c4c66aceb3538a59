package config

// Config is the root of the on-disk configuration. JSON and YAML are both
// accepted; YAML is coerced to JSON before strict decoding so unknown keys
// are rejected in either format.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`

	// Engine controls the background sweep that activates and expires tasks.
	// If the whole section is omitted, the sweep runs with defaults.
	Engine *EngineConfig `json:"engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Push     *PushConfig     `json:"push,omitempty"`
}

// ServerConfig controls the HTTP API listener.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"` // default 0 (disabled) so the event stream can run indefinitely
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls the enforcement sweep.
//
// Defaults (when fields are omitted/zero):
//   - interval: "30s"
//   - auto_create_sessions: true
//
// Setting enabled=false runs the service without the sweep: tasks only
// change state through the API, which suits read-only replicas and some
// test setups.
type EngineConfig struct {
	Enabled bool `json:"enabled"`

	// Interval is a Go duration string between sweep ticks.
	Interval string `json:"interval,omitempty"`

	// AutoCreateSessions makes activation open a pending session for
	// the owner's device to pick up. Pointer so an explicit false can be
	// told apart from an omitted field.
	AutoCreateSessions *bool `json:"auto_create_sessions,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings. If the whole section is omitted,
// the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./focusgate.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PushConfig controls the fallback push channel used when an owner has no
// live event stream connected.
type PushConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // bot token (do not log)
	// Timeout is a Go duration string for outbound delivery calls.
	Timeout string `json:"timeout,omitempty"`
}
