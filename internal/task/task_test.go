package task

import (
	"errors"
	"testing"
	"time"
)

func TestNewComputesEnd(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tk, err := New("owner-1", CreateInput{
		Title:           "deep work",
		Start:           start,
		DurationMinutes: 45,
		Strictness:      LevelHard,
		TargetApps:      []string{"com.example.social"},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if got, want := tk.End, start.Add(45*time.Minute); !got.Equal(want) {
		t.Fatalf("End = %v, want %v", got, want)
	}
	if tk.Status != StatusPending {
		t.Fatalf("Status = %s, want %s", tk.Status, StatusPending)
	}
	if tk.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	start := time.Now()
	tests := []struct {
		name string
		in   CreateInput
	}{
		{name: "missing title", in: CreateInput{Start: start, DurationMinutes: 30, Strictness: LevelSoft}},
		{name: "zero start", in: CreateInput{Title: "x", DurationMinutes: 30, Strictness: LevelSoft}},
		{name: "zero duration", in: CreateInput{Title: "x", Start: start, Strictness: LevelSoft}},
		{name: "bad strictness", in: CreateInput{Title: "x", Start: start, DurationMinutes: 30, Strictness: "extreme"}},
		{name: "timer_only not requestable", in: CreateInput{Title: "x", Start: start, DurationMinutes: 30, Strictness: LevelTimerOnly}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New("owner-1", tt.in); !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusFailed, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusActive, StatusPending, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
	}
	for _, tt := range tests {
		got, err := Transition(tt.from, tt.to)
		if tt.ok {
			if err != nil {
				t.Fatalf("Transition(%s, %s) error: %v", tt.from, tt.to, err)
			}
			if got != tt.to {
				t.Fatalf("Transition(%s, %s) = %s", tt.from, tt.to, got)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("Transition(%s, %s) error = %v, want ErrInvalidTransition", tt.from, tt.to, err)
		}
		if got != tt.from {
			t.Fatalf("failed transition mutated status: %s", got)
		}
	}
}

func TestApplyRecomputesEnd(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tk, err := New("owner-1", CreateInput{Title: "x", Start: start, DurationMinutes: 30, Strictness: LevelSoft})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	d := 60
	if err := tk.Apply(Patch{DurationMinutes: &d}); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if got, want := tk.End, start.Add(time.Hour); !got.Equal(want) {
		t.Fatalf("End = %v, want %v", got, want)
	}

	newStart := start.Add(2 * time.Hour)
	if err := tk.Apply(Patch{Start: &newStart}); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if got, want := tk.End, newStart.Add(time.Hour); !got.Equal(want) {
		t.Fatalf("End = %v, want %v", got, want)
	}
}

func TestApplyRejectsNonPending(t *testing.T) {
	t.Parallel()
	tk, err := New("owner-1", CreateInput{Title: "x", Start: time.Now(), DurationMinutes: 30, Strictness: LevelSoft})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	tk.Status = StatusActive
	title := "y"
	if err := tk.Apply(Patch{Title: &title}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestApproxStreaks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                 string
		completed, total     int
		current, longest     int
	}{
		{name: "empty", completed: 0, total: 0},
		{name: "no completions", completed: 0, total: 5},
		{name: "all done small", completed: 2, total: 2, current: 2, longest: 2},
		{name: "all done large", completed: 30, total: 30, current: 7, longest: 14},
		{name: "half done", completed: 10, total: 20, current: 4, longest: 7},
		{name: "longest never below current", completed: 1, total: 1, current: 1, longest: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := ApproxStreaks(tt.completed, tt.total)
			if got.Current != tt.current || got.Longest != tt.longest {
				t.Fatalf("ApproxStreaks(%d, %d) = %+v, want current=%d longest=%d",
					tt.completed, tt.total, got, tt.current, tt.longest)
			}
		})
	}
}
