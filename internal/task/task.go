package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrValidation        = errors.New("invalid task")
)

// Status is the task lifecycle state.
//
// Transitions are monotonic: pending -> active -> completed, or -> failed
// from any non-terminal state. There is no way back out of a terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// next maps each state to the set of states it may move to.
// Encoding the table centrally prevents illegal transitions by construction;
// callers never set Status directly.
var next = map[Status][]Status{
	StatusPending: {StatusActive, StatusFailed},
	StatusActive:  {StatusCompleted, StatusFailed},
}

// Transition validates a status move and returns the new status.
func Transition(from, to Status) (Status, error) {
	for _, n := range next[from] {
		if n == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Strictness is the requested intensity of on-device restriction.
// LevelTimerOnly is never requested; it only appears as a capability
// downgrade result.
type Strictness string

const (
	LevelSoft      Strictness = "soft"
	LevelMedium    Strictness = "medium"
	LevelHard      Strictness = "hard"
	LevelTimerOnly Strictness = "timer_only"
)

func (s Strictness) Valid() bool {
	switch s {
	case LevelSoft, LevelMedium, LevelHard:
		return true
	}
	return false
}

// Task is a scheduled, time-boxed focus activity.
//
// End is always derived from Start + Duration; the two are never set
// independently.
type Task struct {
	ID              string
	OwnerID         string
	Title           string
	TargetApps      []string
	Strictness      Strictness
	ProofMethods    []string
	Start           time.Time
	End             time.Time
	DurationMinutes int
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateInput carries the user-settable fields of a new task.
type CreateInput struct {
	Title           string
	Start           time.Time
	DurationMinutes int
	Strictness      Strictness
	TargetApps      []string
	ProofMethods    []string
}

// New builds a pending task with a computed end time.
func New(ownerID string, in CreateInput) (*Task, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.Start.IsZero() {
		return nil, fmt.Errorf("%w: start time is required", ErrValidation)
	}
	if in.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	if !in.Strictness.Valid() {
		return nil, fmt.Errorf("%w: unknown strictness %q", ErrValidation, in.Strictness)
	}

	now := time.Now().UTC()
	t := &Task{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Title:           strings.TrimSpace(in.Title),
		TargetApps:      append([]string(nil), in.TargetApps...),
		Strictness:      in.Strictness,
		ProofMethods:    append([]string(nil), in.ProofMethods...),
		Start:           in.Start.UTC(),
		DurationMinutes: in.DurationMinutes,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	t.End = computeEnd(t.Start, t.DurationMinutes)
	return t, nil
}

// Patch holds whitelisted, optional edits. Nil pointers mean "unchanged".
// Edits are only legal while the task is pending.
type Patch struct {
	Title           *string
	Start           *time.Time
	DurationMinutes *int
	Strictness      *Strictness
	TargetApps      *[]string
	ProofMethods    *[]string
}

// Apply mutates the task in place, recomputing End when Start or the
// duration changed.
func (t *Task) Apply(p Patch) error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: cannot edit %s task", ErrInvalidTransition, t.Status)
	}
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return fmt.Errorf("%w: title is required", ErrValidation)
		}
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Start != nil {
		if p.Start.IsZero() {
			return fmt.Errorf("%w: start time is required", ErrValidation)
		}
		t.Start = p.Start.UTC()
	}
	if p.DurationMinutes != nil {
		if *p.DurationMinutes <= 0 {
			return fmt.Errorf("%w: duration must be positive", ErrValidation)
		}
		t.DurationMinutes = *p.DurationMinutes
	}
	if p.Strictness != nil {
		if !p.Strictness.Valid() {
			return fmt.Errorf("%w: unknown strictness %q", ErrValidation, *p.Strictness)
		}
		t.Strictness = *p.Strictness
	}
	if p.TargetApps != nil {
		t.TargetApps = append([]string(nil), (*p.TargetApps)...)
	}
	if p.ProofMethods != nil {
		t.ProofMethods = append([]string(nil), (*p.ProofMethods)...)
	}
	t.End = computeEnd(t.Start, t.DurationMinutes)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func computeEnd(start time.Time, minutes int) time.Time {
	return start.Add(time.Duration(minutes) * time.Minute)
}
