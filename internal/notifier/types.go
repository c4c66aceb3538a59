package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	// Enabled gates the push fallback only; the live channel always runs.
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Event types delivered to clients.
const (
	EventTaskAutoStarted = "task_auto_started"
	EventTaskCompleted   = "task_completed"
)

// Event is one lifecycle transition, addressed to exactly one owner.
//
// The (Type, TaskID) pair is the client-side dedup key: a retried sweep may
// deliver the same event twice and clients drop the second occurrence. The
// payload always carries enough state for a client to act without a
// follow-up query, but a missed event is recoverable by re-reading current
// task status.
type Event struct {
	Type      string         `json:"type"`
	TaskID    string         `json:"taskId"`
	SessionID string         `json:"sessionId,omitempty"`
	OwnerID   string         `json:"ownerId"`
	Title     string         `json:"title,omitempty"`
	At        time.Time      `json:"at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// DedupKey identifies a logically-identical redelivery.
func (e Event) DedupKey() string {
	return e.Type + "|" + e.TaskID
}
