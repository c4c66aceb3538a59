package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"focusgate/internal/storage"
	"focusgate/internal/transport"
	logx "focusgate/pkg/logx"
)

var ErrStopped = errors.New("notifier stopped")

// TokenSource lists the delivery tokens registered for an owner.
type TokenSource interface {
	ListPushTokens(ctx context.Context, ownerID string) ([]string, error)
}

// Service is the notification dispatcher. It feeds one authoritative
// transition event into two independent best-effort sinks:
//
//   - the live hub (per-owner in-memory channel, consumed by SSE streams)
//   - a push fallback (queue + worker pool + rate limit + retry)
//
// Neither sink can fail the state transition that produced the event; by the
// time Publish is called the transition is already committed to the store.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	hub    *Hub
	pusher transport.Pusher // nil when no fallback channel is configured
	tokens TokenSource

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Event
	workerWG sync.WaitGroup
	stopDone chan struct{} // non-nil while stopping

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, hub *Hub, pusher transport.Pusher, tokens TokenSource, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "notifier")),
		hub:    hub,
		pusher: pusher,
		tokens: tokens,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Hub() *Hub { return s.hub }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Event, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	q := s.queue
	s.mu.Unlock()

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(ctx, q, idx)
		}()
	}
}

// Stop stops intake and drains the push queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight publishes, then close the queue so workers drain.
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		s.workerWG.Wait()

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Publish fans the event out. It never returns an error: delivery failures
// are logged, and the caller's state transition is already committed.
func (s *Service) Publish(ctx context.Context, e Event) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	// Redundant redeliveries inside the window are suppressed before they
	// reach either sink.
	s.mu.Lock()
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.mu.Unlock()
	if window > 0 && !s.dedupAllow(e.DedupKey(), window, maxEntries) {
		s.log.Debug("event deduped", logx.String("key", e.DedupKey()))
		return
	}

	// Live channel first: a connected client should hear about a transition
	// before any fallback push lands.
	if s.hub != nil {
		s.hub.Publish(e)
	}

	if s.pusher == nil {
		return
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Debug("push fallback disabled by config", logx.String("key", e.DedupKey()))
		return
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		s.log.Debug("push fallback skipped; notifier not running", logx.String("key", e.DedupKey()))
		return
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- e:
	default:
		s.log.Warn("push queue full; dropping fallback delivery",
			logx.String("key", e.DedupKey()),
			logx.Int("queue_cap", cap(q)))
	}
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	// Bounded cache: drop expired entries first, then oldest wins arbitrarily.
	if len(s.dedup) >= maxEntries {
		for k, until := range s.dedup {
			if now.After(until) {
				delete(s.dedup, k)
			}
		}
		for k := range s.dedup {
			if len(s.dedup) < maxEntries {
				break
			}
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Event, idx int) {
	log := s.log.With(logx.Int("worker", idx))
	for e := range q {
		s.deliverPush(ctx, log, e)
	}
}

func (s *Service) deliverPush(ctx context.Context, log logx.Logger, e Event) {
	s.mu.Lock()
	lim := s.limiter
	retryMax := s.cfg.RetryMax
	base := s.cfg.RetryBase
	maxDelay := s.cfg.RetryMaxDelay
	s.mu.Unlock()

	toks, err := s.tokens.ListPushTokens(ctx, e.OwnerID)
	if err != nil {
		log.Warn("push token lookup failed", logx.Err(err), logx.String("owner", e.OwnerID))
		return
	}
	if len(toks) == 0 {
		// Owner never registered a fallback channel.
		return
	}

	msg := pushMessage(e)
	for _, tok := range toks {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}
		if err := s.pushWithRetry(ctx, tok, msg, retryMax, base, maxDelay); err != nil {
			if errors.Is(err, transport.ErrInvalidToken) {
				log.Debug("skipping invalid delivery token", logx.String("owner", e.OwnerID))
				continue
			}
			log.Warn("push delivery failed",
				logx.Err(err),
				logx.String("key", e.DedupKey()),
				logx.String("owner", e.OwnerID))
		}
	}
}

func (s *Service) pushWithRetry(ctx context.Context, token string, msg transport.PushMessage, retryMax int, base, maxDelay time.Duration) error {
	var err error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(base, maxDelay, attempt)):
			}
		}
		err = s.pusher.Push(ctx, token, msg)
		if err == nil || errors.Is(err, transport.ErrInvalidToken) {
			return err
		}
	}
	return err
}

// backoffDelay is exponential with jitter: base*2^(attempt-1) +/- 20%.
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	if rand.Intn(2) == 0 {
		return d - jitter
	}
	return d + jitter
}

// pushMessage renders the fallback payload for an event.
func pushMessage(e Event) transport.PushMessage {
	data := map[string]string{
		"type":    e.Type,
		"taskId":  e.TaskID,
		"ownerId": e.OwnerID,
	}
	if e.SessionID != "" {
		data["sessionId"] = e.SessionID
	}

	title := e.Title
	var body string
	switch e.Type {
	case EventTaskAutoStarted:
		if title == "" {
			title = "Focus task started"
		}
		if mins, ok := e.Payload["durationMinutes"]; ok {
			body = "Enforcement is active for " + formatMinutes(mins) + "."
		} else {
			body = "Enforcement is active."
		}
	case EventTaskCompleted:
		if title == "" {
			title = "Focus task completed"
		}
		body = "Submit proof to unlock your device."
	default:
		if title == "" {
			title = e.Type
		}
	}
	return transport.PushMessage{Title: title, Body: body, Data: data}
}

func formatMinutes(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n) + " minutes"
	case float64:
		return strconv.Itoa(int(n)) + " minutes"
	default:
		return fmt.Sprint(v) + " minutes"
	}
}

// compile-time check: the storage layer satisfies the token source contract.
var _ TokenSource = storage.Store(nil)
