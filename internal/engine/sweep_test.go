package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"focusgate/internal/notifier"
	"focusgate/internal/session"
	"focusgate/internal/storage"
	"focusgate/internal/task"
	logx "focusgate/pkg/logx"
)

type capturePub struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (p *capturePub) Publish(_ context.Context, e notifier.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePub) byType(typ string) []notifier.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notifier.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func newEngine(t *testing.T, cfg Config) (*Service, storage.Store, *capturePub) {
	t.Helper()
	st := storage.NewMemory()
	pub := &capturePub{}
	return New(cfg, st, pub, logx.Nop()), st, pub
}

func mustCreateTask(t *testing.T, st storage.Store, owner string, start time.Time, minutes int) *task.Task {
	t.Helper()
	tk, err := task.New(owner, task.CreateInput{
		Title:           "focus block",
		Start:           start,
		DurationMinutes: minutes,
		Strictness:      task.LevelHard,
		TargetApps:      []string{"com.example.feed"},
	})
	if err != nil {
		t.Fatalf("task.New error: %v", err)
	}
	if err := st.CreateTask(context.Background(), tk); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	return tk
}

func TestActivationSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, st, pub := newEngine(t, Config{AutoCreateSessions: true})

	now := time.Now().UTC()
	tk := mustCreateTask(t, st, "owner-1", now.Add(-time.Second), 30)

	eng.Tick(ctx, now)

	got, err := st.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	if got.Status != task.StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}

	started := pub.byType(notifier.EventTaskAutoStarted)
	if len(started) != 1 {
		t.Fatalf("auto-started events = %d, want 1", len(started))
	}
	e := started[0]
	if e.OwnerID != "owner-1" || e.TaskID != tk.ID {
		t.Fatalf("event addressing: %+v", e)
	}
	if e.Payload["strictness"] != "hard" {
		t.Fatalf("payload missing restriction data: %+v", e.Payload)
	}

	// Auto-created pending session is waiting for the device.
	sess, err := st.OpenSessionForTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("OpenSessionForTask error: %v", err)
	}
	if sess.Status != session.StatusPending {
		t.Fatalf("session status = %s", sess.Status)
	}
}

func TestActivationSweepIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, st, pub := newEngine(t, Config{AutoCreateSessions: true})

	now := time.Now().UTC()
	tk := mustCreateTask(t, st, "owner-1", now.Add(-time.Second), 30)

	eng.Tick(ctx, now)
	eng.Tick(ctx, now)

	got, _ := st.GetTask(ctx, tk.ID)
	if got.Status != task.StatusActive {
		t.Fatalf("status = %s", got.Status)
	}
	if n := len(pub.byType(notifier.EventTaskAutoStarted)); n != 1 {
		t.Fatalf("auto-started events = %d, want 1", n)
	}
}

func TestExpirySweepCompletesAndSettlesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, st, pub := newEngine(t, Config{AutoCreateSessions: true})

	start := time.Now().UTC().Add(-time.Hour)
	tk := mustCreateTask(t, st, "owner-1", start, 30)

	eng.Tick(ctx, start.Add(time.Second))

	// Device confirms the lock during the window.
	sess, err := st.OpenSessionForTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("OpenSessionForTask error: %v", err)
	}
	if ok, _ := st.UpdateSessionStatus(ctx, sess.ID, session.StatusPending, session.StatusLocked, start.Add(time.Minute)); !ok {
		t.Fatal("lock transition failed")
	}

	end := start.Add(31 * time.Minute)
	eng.Tick(ctx, end)

	got, _ := st.GetTask(ctx, tk.ID)
	if got.Status != task.StatusCompleted {
		t.Fatalf("task status = %s, want completed", got.Status)
	}
	if n := len(pub.byType(notifier.EventTaskCompleted)); n != 1 {
		t.Fatalf("completed events = %d, want 1", n)
	}

	after, _ := st.GetSession(ctx, sess.ID)
	if after.Status != session.StatusProofRequired {
		t.Fatalf("session status = %s, want proof_required", after.Status)
	}

	// Further ticks leave the task alone.
	eng.Tick(ctx, end.Add(time.Minute))
	if n := len(pub.byType(notifier.EventTaskCompleted)); n != 1 {
		t.Fatalf("completed events after extra tick = %d", n)
	}
}

func TestExpirySweepFailsUnpickedSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, st, _ := newEngine(t, Config{AutoCreateSessions: true})

	start := time.Now().UTC().Add(-time.Hour)
	tk := mustCreateTask(t, st, "owner-1", start, 30)

	eng.Tick(ctx, start.Add(time.Second))
	sess, err := st.OpenSessionForTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("OpenSessionForTask error: %v", err)
	}

	// Device never confirmed the lock before the window ended.
	eng.Tick(ctx, start.Add(31*time.Minute))

	after, _ := st.GetSession(ctx, sess.ID)
	if after.Status != session.StatusFailed {
		t.Fatalf("session status = %s, want failed", after.Status)
	}
}

func TestOrderingWithinOneTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, st, pub := newEngine(t, Config{})

	start := time.Now().UTC().Add(-time.Hour)
	mustCreateTask(t, st, "owner-1", start, 30)

	// One tick past the end boundary: the task is due to start AND its end
	// already passed. Activation still strictly precedes completion.
	at := start.Add(time.Hour)
	eng.Tick(ctx, at)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 2 {
		t.Fatalf("events = %+v", pub.events)
	}
	if pub.events[0].Type != notifier.EventTaskAutoStarted || pub.events[1].Type != notifier.EventTaskCompleted {
		t.Fatalf("ordering = %s, %s", pub.events[0].Type, pub.events[1].Type)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	eng, st, pub := newEngine(t, Config{Enabled: true, Interval: time.Hour, AutoCreateSessions: true})

	now := time.Now().UTC()
	tk := mustCreateTask(t, st, "owner-1", now.Add(-time.Second), 30)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("second Start error: %v", err)
	}

	// The immediate startup sweep should activate the due task without
	// waiting for the first interval.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := st.GetTask(ctx, tk.ID)
		if err == nil && got.Status == task.StatusActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("startup sweep did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(pub.byType(notifier.EventTaskAutoStarted)); n != 1 {
		t.Fatalf("auto-started events = %d", n)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	eng.Stop(stopCtx)
	eng.Stop(stopCtx) // idempotent
}

func TestDisabledEngineDoesNotSweep(t *testing.T) {
	t.Parallel()
	eng, st, pub := newEngine(t, Config{Enabled: false, Interval: 10 * time.Millisecond, AutoCreateSessions: true})

	now := time.Now().UTC()
	tk := mustCreateTask(t, st, "owner-1", now.Add(-time.Second), 30)

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	got, err := st.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	if got.Status != task.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if n := len(pub.byType(notifier.EventTaskAutoStarted)); n != 0 {
		t.Fatalf("disabled engine published %d events", n)
	}
	eng.Stop(ctx)
}

// ctxPub records the context each publish was made with, so a test can
// observe whether the engine released its run context.
type ctxPub struct {
	mu   sync.Mutex
	ctxs []context.Context
}

func (p *ctxPub) Publish(ctx context.Context, _ notifier.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctxs = append(p.ctxs, ctx)
}

func (p *ctxPub) last() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ctxs) == 0 {
		return nil
	}
	return p.ctxs[len(p.ctxs)-1]
}

func TestStopReleasesRunContext(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	pub := &ctxPub{}
	eng := New(Config{Enabled: true, Interval: time.Hour, AutoCreateSessions: false}, st, pub, logx.Nop())

	now := time.Now().UTC()
	mustCreateTask(t, st, "owner-1", now.Add(-time.Second), 30)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pub.last() == nil {
		if time.Now().After(deadline) {
			t.Fatal("startup sweep did not publish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	eng.Stop(stopCtx)
	if stopCtx.Err() != nil {
		t.Fatal("clean stop should not exhaust its deadline")
	}
	if pub.last().Err() == nil {
		t.Fatal("run context still live after clean stop")
	}
}
