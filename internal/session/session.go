// Package session models the device-side enforcement instance tied to one
// task activation, including its explicit state machine.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"focusgate/internal/task"
)

var ErrInvalidTransition = errors.New("invalid session transition")

// Status is the enforcement session state.
//
//	pending --(device confirms lock)--> locked
//	locked --(duration elapses or user requests unlock)--> proof_required
//	proof_required --(proof accepted)--> unlocked        [terminal]
//	any non-terminal --(task deleted, device lost, timeout)--> failed [terminal]
//
// A rejected proof leaves the session in proof_required; only the proof log
// grows.
type Status string

const (
	StatusPending       Status = "pending"
	StatusLocked        Status = "locked"
	StatusProofRequired Status = "proof_required"
	StatusUnlocked      Status = "unlocked"
	StatusFailed        Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusLocked, StatusProofRequired, StatusUnlocked, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusUnlocked || s == StatusFailed
}

var next = map[Status][]Status{
	StatusPending:       {StatusLocked, StatusFailed},
	StatusLocked:        {StatusProofRequired, StatusFailed},
	StatusProofRequired: {StatusUnlocked, StatusFailed},
}

// Transition validates a status move and returns the new status.
// Moving out of a terminal state is never legal.
func Transition(from, to Status) (Status, error) {
	for _, n := range next[from] {
		if n == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Session couples a task activation to the device enforcing it.
//
// The session status and the owning task's status are kept logically
// consistent but are independent fields: a failed session does not
// retroactively alter the task record.
type Session struct {
	ID       string
	TaskID   string
	OwnerID  string
	DeviceID string
	Status   Status

	// ActualStrictness is the level the device actually achieved after
	// capability negotiation; it may be lower than the task requested.
	ActualStrictness task.Strictness
	Warnings         []string

	StartedAt  time.Time
	EndedAt    *time.Time
	UnlockedAt *time.Time
}

// New builds a pending session for a task activation.
func New(taskID, ownerID, deviceID string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		OwnerID:   ownerID,
		DeviceID:  deviceID,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
}
