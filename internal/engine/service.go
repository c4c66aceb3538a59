package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"focusgate/internal/notifier"
	"focusgate/internal/storage"
	logx "focusgate/pkg/logx"
)

// Config controls the sweep cadence.
type Config struct {
	// Enabled gates the background sweep entirely. A disabled engine
	// starts as a no-op; state then only changes through the API.
	Enabled bool
	// Interval between sweeps. The engine also fires one sweep immediately
	// at Start.
	Interval time.Duration
	// AutoCreateSessions makes activation create a pending enforcement
	// session for the device to pick up, saving the client a round trip.
	AutoCreateSessions bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	return c
}

// Publisher receives one event per committed transition.
type Publisher interface {
	Publish(ctx context.Context, e notifier.Event)
}

// Service is the time-driven scheduler.
type Service struct {
	mu sync.Mutex

	cfg   Config
	store storage.Store
	pub   Publisher
	log   logx.Logger

	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
	tickWG    sync.WaitGroup

	// ticking guards against overlapping sweeps when a tick outlives the
	// cadence; the skipped work is picked up by the next tick anyway.
	ticking bool
}

func New(cfg Config, store storage.Store, pub Publisher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		store: store,
		pub:   pub,
		log:   log.With(logx.String("comp", "engine")),
	}
}

// Start begins the periodic sweeps. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("engine disabled; sweeps will not run")
		return nil
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.runTick(runCtx) }); err != nil {
		s.runCancel()
		s.runCtx, s.runCancel = nil, nil
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.c = c
	c.Start()

	// First sweep immediately so due tasks are not left waiting a full
	// interval after process start.
	go s.runTick(runCtx)

	s.log.Info("engine started", logx.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop halts new ticks and waits for the in-flight sweep, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	// Stop issuing new ticks, then let the in-flight sweep finish. Every
	// individual transition is a single atomic store operation, so even a
	// forced cancel cannot leave a task mid-transition.
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		s.tickWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("engine stopped")
	case <-ctx.Done():
		s.log.Warn("engine stop timed out; canceling in-flight sweep")
	}
	// Release the run context on every path, not just timeout.
	if cancel != nil {
		cancel()
	}
}

// runTick is the cron entrypoint: one guarded, panic-isolated sweep.
func (s *Service) runTick(ctx context.Context) {
	s.mu.Lock()
	if s.ticking {
		s.mu.Unlock()
		s.log.Debug("previous sweep still running; skipping tick")
		return
	}
	s.ticking = true
	s.tickWG.Add(1)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in sweep", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		s.mu.Lock()
		s.ticking = false
		s.mu.Unlock()
		s.tickWG.Done()
	}()

	s.Tick(ctx, time.Now().UTC())
}

// Tick performs both sweeps at the given instant. Exported so tests can
// drive the engine without waiting on wall-clock time.
func (s *Service) Tick(ctx context.Context, now time.Time) {
	s.activateDue(ctx, now)
	s.expireDue(ctx, now)
}
