package storage

import (
	"context"
	"errors"
	"time"

	"focusgate/internal/proof"
	"focusgate/internal/session"
	"focusgate/internal/task"
)

var (
	// ErrNotFound is returned when a task, session, or proof does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps transient persistence failures.
	ErrUnavailable = errors.New("store unavailable")
	// ErrSessionExists is returned by CreateSession when the task already
	// has an open session. Callers claim the existing one.
	ErrSessionExists = errors.New("task already has an open session")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process map store, used by tests and throwaway runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence contract consumed by the engine and the request
// surface. It is the single source of truth for task/session/proof state;
// nothing above it caches authoritative state.
//
// The conditional Update*Status methods implement compare-and-swap on the
// status column: they return (false, nil) when the row has already left the
// expected state, which callers treat as "lost the race, skip" rather than
// an error.
type Store interface {
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]*task.Task, error)
	// UpdateTaskPending persists user edits, guarded by status=pending.
	UpdateTaskPending(ctx context.Context, t *task.Task) (bool, error)
	UpdateTaskStatus(ctx context.Context, id string, expect, next task.Status, at time.Time) (bool, error)
	DeleteTask(ctx context.Context, id string) error
	// Due queries drive the scheduler sweeps.
	ListTasksDueToStart(ctx context.Context, now time.Time) ([]*task.Task, error)
	ListTasksDueToStop(ctx context.Context, now time.Time) ([]*task.Task, error)
	CountTasks(ctx context.Context, ownerID string) (total, completed int, err error)

	// CreateSession inserts a session. At most one open (non-terminal)
	// session may exist per task; a second insert fails with
	// ErrSessionExists.
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	// OpenSessionForTask returns the task's non-terminal session, if any.
	// CreateSession's uniqueness guard keeps this at most one.
	OpenSessionForTask(ctx context.Context, taskID string) (*session.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, expect, next session.Status, at time.Time) (bool, error)
	SetSessionEnforcement(ctx context.Context, id string, level task.Strictness, warnings []string) error

	CreateProof(ctx context.Context, p *proof.Proof) error
	ListProofs(ctx context.Context, sessionID string) ([]*proof.Proof, error)
	// CreateProofAndUnlockSession inserts the accepted proof and moves the
	// session proof_required -> unlocked in one transaction. When the session
	// has already left proof_required it returns (false, nil) and inserts
	// nothing, so a session can never unlock without a matching proof row and
	// a proof row for a won unlock is never lost.
	CreateProofAndUnlockSession(ctx context.Context, p *proof.Proof, sessionID string, at time.Time) (bool, error)

	PutPushToken(ctx context.Context, ownerID, token string) error
	DeletePushToken(ctx context.Context, ownerID, token string) error
	ListPushTokens(ctx context.Context, ownerID string) ([]string, error)

	Close() error
}
