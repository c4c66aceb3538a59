package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"focusgate/internal/proof"
	"focusgate/internal/session"
	"focusgate/internal/task"
)

func newTask(t *testing.T, owner string, start time.Time, minutes int) *task.Task {
	t.Helper()
	tk, err := task.New(owner, task.CreateInput{
		Title:           "focus",
		Start:           start,
		DurationMinutes: minutes,
		Strictness:      task.LevelMedium,
	})
	if err != nil {
		t.Fatalf("task.New error: %v", err)
	}
	return tk
}

func TestTaskRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()

	tk := newTask(t, "owner-1", time.Now().Add(time.Hour), 30)
	if err := st.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}

	got, err := st.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	if got.ID != tk.ID || got.Status != task.StatusPending {
		t.Fatalf("unexpected task: %+v", got)
	}

	if _, err := st.GetTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDueQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	now := time.Now()

	due := newTask(t, "owner-1", now.Add(-time.Second), 30)
	future := newTask(t, "owner-1", now.Add(time.Hour), 30)
	for _, tk := range []*task.Task{due, future} {
		if err := st.CreateTask(ctx, tk); err != nil {
			t.Fatalf("CreateTask error: %v", err)
		}
	}

	start, err := st.ListTasksDueToStart(ctx, now)
	if err != nil {
		t.Fatalf("ListTasksDueToStart error: %v", err)
	}
	if len(start) != 1 || start[0].ID != due.ID {
		t.Fatalf("due-to-start = %v", start)
	}

	// Nothing is active yet, so due-to-stop is empty.
	stop, err := st.ListTasksDueToStop(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListTasksDueToStop error: %v", err)
	}
	if len(stop) != 0 {
		t.Fatalf("due-to-stop = %v", stop)
	}

	if ok, err := st.UpdateTaskStatus(ctx, due.ID, task.StatusPending, task.StatusActive, now); err != nil || !ok {
		t.Fatalf("UpdateTaskStatus = %v, %v", ok, err)
	}
	stop, err = st.ListTasksDueToStop(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListTasksDueToStop error: %v", err)
	}
	if len(stop) != 1 || stop[0].ID != due.ID {
		t.Fatalf("due-to-stop = %v", stop)
	}
}

func TestConditionalTaskUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	now := time.Now()

	tk := newTask(t, "owner-1", now, 30)
	if err := st.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}

	ok, err := st.UpdateTaskStatus(ctx, tk.ID, task.StatusPending, task.StatusActive, now)
	if err != nil || !ok {
		t.Fatalf("first transition = %v, %v", ok, err)
	}
	// Second identical CAS loses: zero rows affected, no error.
	ok, err = st.UpdateTaskStatus(ctx, tk.ID, task.StatusPending, task.StatusActive, now)
	if err != nil {
		t.Fatalf("second transition error: %v", err)
	}
	if ok {
		t.Fatal("second transition should be a no-op")
	}
}

func TestOpenSessionForTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	now := time.Now()

	sess := session.New("task-1", "owner-1", "device-1")
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	open, err := st.OpenSessionForTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("OpenSessionForTask error: %v", err)
	}
	if open.ID != sess.ID {
		t.Fatalf("open session = %+v", open)
	}

	if ok, _ := st.UpdateSessionStatus(ctx, sess.ID, session.StatusPending, session.StatusFailed, now); !ok {
		t.Fatal("fail transition should win")
	}
	if _, err := st.OpenSessionForTask(ctx, "task-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("terminal session still reported open: %v", err)
	}

	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if got.EndedAt == nil {
		t.Fatal("failed session should have ended-at set")
	}
}

func TestCreateProofAndUnlockSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	now := time.Now()

	sess := session.New("task-1", "owner-1", "device-1")
	sess.Status = session.StatusProofRequired
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	p := proof.New(sess.ID, proof.MethodCheckin, proof.Submission{Text: "finished the whole chapter"}, proof.Result{Accepted: true, Score: 90})
	ok, err := st.CreateProofAndUnlockSession(ctx, p, sess.ID, now)
	if err != nil || !ok {
		t.Fatalf("unlock = %v, %v", ok, err)
	}

	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if got.Status != session.StatusUnlocked || got.UnlockedAt == nil {
		t.Fatalf("session after unlock: %+v", got)
	}
	proofs, err := st.ListProofs(ctx, sess.ID)
	if err != nil || len(proofs) != 1 {
		t.Fatalf("proofs = %v, %v", proofs, err)
	}

	// A second accepted proof loses the race and writes nothing.
	p2 := proof.New(sess.ID, proof.MethodCheckin, proof.Submission{Text: "finished it again, promise"}, proof.Result{Accepted: true, Score: 90})
	ok, err = st.CreateProofAndUnlockSession(ctx, p2, sess.ID, now)
	if err != nil {
		t.Fatalf("second unlock error: %v", err)
	}
	if ok {
		t.Fatal("second unlock should lose")
	}
	proofs, _ = st.ListProofs(ctx, sess.ID)
	if len(proofs) != 1 {
		t.Fatalf("losing unlock wrote a proof: %v", proofs)
	}
}

func TestPushTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()

	if err := st.PutPushToken(ctx, "owner-1", "tok-a"); err != nil {
		t.Fatalf("PutPushToken error: %v", err)
	}
	if err := st.PutPushToken(ctx, "owner-1", "tok-a"); err != nil {
		t.Fatalf("duplicate PutPushToken error: %v", err)
	}
	if err := st.PutPushToken(ctx, "owner-2", "tok-b"); err != nil {
		t.Fatalf("PutPushToken error: %v", err)
	}

	toks, err := st.ListPushTokens(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListPushTokens error: %v", err)
	}
	if len(toks) != 1 || toks[0] != "tok-a" {
		t.Fatalf("tokens = %v", toks)
	}

	if err := st.DeletePushToken(ctx, "owner-1", "tok-a"); err != nil {
		t.Fatalf("DeletePushToken error: %v", err)
	}
	toks, _ = st.ListPushTokens(ctx, "owner-1")
	if len(toks) != 0 {
		t.Fatalf("tokens after delete = %v", toks)
	}
}

func TestCountTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	now := time.Now()

	for i := 0; i < 3; i++ {
		tk := newTask(t, "owner-1", now.Add(-time.Hour), 30)
		if err := st.CreateTask(ctx, tk); err != nil {
			t.Fatalf("CreateTask error: %v", err)
		}
		if i == 0 {
			_, _ = st.UpdateTaskStatus(ctx, tk.ID, task.StatusPending, task.StatusActive, now)
			_, _ = st.UpdateTaskStatus(ctx, tk.ID, task.StatusActive, task.StatusCompleted, now)
		}
	}

	total, completed, err := st.CountTasks(ctx, "owner-1")
	if err != nil {
		t.Fatalf("CountTasks error: %v", err)
	}
	if total != 3 || completed != 1 {
		t.Fatalf("CountTasks = %d, %d", total, completed)
	}
}

func TestCreateSessionRejectsSecondOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	now := time.Now()

	first := session.New("task-1", "owner-1", "")
	if err := st.CreateSession(ctx, first); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	// Second open session for the same task must be rejected, no matter
	// which device tries.
	second := session.New("task-1", "owner-1", "device-2")
	if err := st.CreateSession(ctx, second); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("second open session accepted: %v", err)
	}
	if _, err := st.GetSession(ctx, second.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("rejected session was persisted")
	}

	// Once the open session is terminal, a new one may be created.
	if ok, _ := st.UpdateSessionStatus(ctx, first.ID, session.StatusPending, session.StatusFailed, now); !ok {
		t.Fatal("fail transition should win")
	}
	if err := st.CreateSession(ctx, second); err != nil {
		t.Fatalf("CreateSession after settle error: %v", err)
	}

	open, err := st.OpenSessionForTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("OpenSessionForTask error: %v", err)
	}
	if open.ID != second.ID {
		t.Fatalf("open session = %s, want %s", open.ID, second.ID)
	}
}
