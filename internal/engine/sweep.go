package engine

import (
	"context"
	"errors"
	"time"

	"focusgate/internal/notifier"
	"focusgate/internal/session"
	"focusgate/internal/storage"
	"focusgate/internal/task"
	logx "focusgate/pkg/logx"
)

// activateDue moves due pending tasks to active and announces enforcement.
//
// Per-task failures are logged and skipped; the task stays pending and is
// revisited on the next tick.
func (s *Service) activateDue(ctx context.Context, now time.Time) {
	due, err := s.store.ListTasksDueToStart(ctx, now)
	if err != nil {
		s.log.Error("activation sweep query failed", logx.Err(err))
		return
	}

	for _, t := range due {
		ok, err := s.store.UpdateTaskStatus(ctx, t.ID, task.StatusPending, task.StatusActive, now)
		if err != nil {
			s.log.Error("activation failed", logx.Err(err), logx.String("task", t.ID))
			continue
		}
		if !ok {
			// Already activated, edited, or deleted concurrently. Not a failure.
			s.log.Debug("activation skipped; task left pending state", logx.String("task", t.ID))
			continue
		}

		sessionID := ""
		if s.cfg.AutoCreateSessions {
			sess := session.New(t.ID, t.OwnerID, "")
			switch err := s.store.CreateSession(ctx, sess); {
			case err == nil:
				sessionID = sess.ID
			case errors.Is(err, storage.ErrSessionExists):
				// A device opened one concurrently; announce that one.
				if open, oerr := s.store.OpenSessionForTask(ctx, t.ID); oerr == nil {
					sessionID = open.ID
				}
			default:
				// The device can still start a session explicitly.
				s.log.Warn("auto session create failed", logx.Err(err), logx.String("task", t.ID))
			}
		}

		s.log.Info("task auto-started",
			logx.String("task", t.ID),
			logx.String("owner", t.OwnerID),
			logx.String("strictness", string(t.Strictness)))

		s.pub.Publish(ctx, notifier.Event{
			Type:      notifier.EventTaskAutoStarted,
			TaskID:    t.ID,
			SessionID: sessionID,
			OwnerID:   t.OwnerID,
			Title:     t.Title,
			At:        now,
			Payload: map[string]any{
				"strictness":      string(t.Strictness),
				"targetApps":      t.TargetApps,
				"durationMinutes": t.DurationMinutes,
			},
		})
	}
}

// expireDue completes overrun active tasks and settles their sessions.
func (s *Service) expireDue(ctx context.Context, now time.Time) {
	due, err := s.store.ListTasksDueToStop(ctx, now)
	if err != nil {
		s.log.Error("expiry sweep query failed", logx.Err(err))
		return
	}

	for _, t := range due {
		ok, err := s.store.UpdateTaskStatus(ctx, t.ID, task.StatusActive, task.StatusCompleted, now)
		if err != nil {
			s.log.Error("completion failed", logx.Err(err), logx.String("task", t.ID))
			continue
		}
		if !ok {
			s.log.Debug("completion skipped; task left active state", logx.String("task", t.ID))
			continue
		}

		s.settleSession(ctx, t.ID, now)

		s.log.Info("task completed", logx.String("task", t.ID), logx.String("owner", t.OwnerID))

		s.pub.Publish(ctx, notifier.Event{
			Type:    notifier.EventTaskCompleted,
			TaskID:  t.ID,
			OwnerID: t.OwnerID,
			Title:   t.Title,
			At:      now,
			Payload: map[string]any{
				"completedAt": now.Format(time.RFC3339),
			},
		})
	}
}

// settleSession moves the task's open session along when its enforcement
// window ends: a locked device now owes proof, a session the device never
// picked up fails.
func (s *Service) settleSession(ctx context.Context, taskID string, now time.Time) {
	sess, err := s.store.OpenSessionForTask(ctx, taskID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("open session lookup failed", logx.Err(err), logx.String("task", taskID))
		}
		return
	}

	switch sess.Status {
	case session.StatusLocked:
		if _, err := s.store.UpdateSessionStatus(ctx, sess.ID, session.StatusLocked, session.StatusProofRequired, now); err != nil {
			s.log.Warn("session proof-required transition failed", logx.Err(err), logx.String("session", sess.ID))
		}
	case session.StatusPending:
		if _, err := s.store.UpdateSessionStatus(ctx, sess.ID, session.StatusPending, session.StatusFailed, now); err != nil {
			s.log.Warn("session fail transition failed", logx.Err(err), logx.String("session", sess.ID))
		}
	}
}
