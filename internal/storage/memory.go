package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"focusgate/internal/proof"
	"focusgate/internal/session"
	"focusgate/internal/task"
)

// memoryStore is a map-backed Store with the same conditional-update
// semantics as the SQLite driver. Primarily for tests.
type memoryStore struct {
	mu       sync.Mutex
	tasks    map[string]*task.Task
	sessions map[string]*session.Session
	proofs   map[string]*proof.Proof
	tokens   map[string]map[string]time.Time // owner -> token -> registered at
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		tasks:    map[string]*task.Task{},
		sessions: map[string]*session.Session{},
		proofs:   map[string]*proof.Proof{},
		tokens:   map[string]map[string]time.Time{},
	}
}

func (s *memoryStore) Close() error { return nil }

// ---- tasks ----

func (s *memoryStore) CreateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *memoryStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memoryStore) ListTasks(_ context.Context, ownerID string) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *memoryStore) ListTasksDueToStart(_ context.Context, now time.Time) ([]*task.Task, error) {
	return s.listDue(task.StatusPending, func(t *task.Task) bool { return !t.Start.After(now) })
}

func (s *memoryStore) ListTasksDueToStop(_ context.Context, now time.Time) ([]*task.Task, error) {
	return s.listDue(task.StatusActive, func(t *task.Task) bool { return !t.End.After(now) })
}

func (s *memoryStore) listDue(status task.Status, due func(*task.Task) bool) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status != status || !due(t) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *memoryStore) UpdateTaskPending(_ context.Context, t *task.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur.Status != task.StatusPending {
		return false, nil
	}
	cp := *t
	cp.Status = task.StatusPending
	s.tasks[t.ID] = &cp
	return true, nil
}

func (s *memoryStore) UpdateTaskStatus(_ context.Context, id string, expect, next task.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok || cur.Status != expect {
		return false, nil
	}
	cur.Status = next
	cur.UpdatedAt = at
	return true, nil
}

func (s *memoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *memoryStore) CountTasks(_ context.Context, ownerID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, completed := 0, 0
	for _, t := range s.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		total++
		if t.Status == task.StatusCompleted {
			completed++
		}
	}
	return total, completed, nil
}

// ---- sessions ----

func (s *memoryStore) CreateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.TaskID == sess.TaskID && !existing.Status.Terminal() {
			return ErrSessionExists
		}
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memoryStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memoryStore) OpenSessionForTask(_ context.Context, taskID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.TaskID == taskID && !sess.Status.Terminal() {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) UpdateSessionStatus(_ context.Context, id string, expect, next session.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casSessionLocked(id, expect, next, at), nil
}

func (s *memoryStore) casSessionLocked(id string, expect, next session.Status, at time.Time) bool {
	sess, ok := s.sessions[id]
	if !ok || sess.Status != expect {
		return false
	}
	sess.Status = next
	switch next {
	case session.StatusUnlocked:
		t := at
		sess.UnlockedAt = &t
		sess.EndedAt = &t
	case session.StatusFailed:
		t := at
		sess.EndedAt = &t
	}
	return true
}

func (s *memoryStore) SetSessionEnforcement(_ context.Context, id string, level task.Strictness, warnings []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.ActualStrictness = level
	sess.Warnings = append([]string(nil), warnings...)
	return nil
}

// ---- proofs ----

func (s *memoryStore) CreateProof(_ context.Context, p *proof.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.proofs[p.ID] = &cp
	return nil
}

func (s *memoryStore) ListProofs(_ context.Context, sessionID string) ([]*proof.Proof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*proof.Proof
	for _, p := range s.proofs {
		if p.SessionID != sessionID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) CreateProofAndUnlockSession(_ context.Context, p *proof.Proof, sessionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.casSessionLocked(sessionID, session.StatusProofRequired, session.StatusUnlocked, at) {
		return false, nil
	}
	cp := *p
	s.proofs[p.ID] = &cp
	return true, nil
}

// ---- push tokens ----

func (s *memoryStore) PutPushToken(_ context.Context, ownerID, token string) error {
	if token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tokens[ownerID]
	if !ok {
		m = map[string]time.Time{}
		s.tokens[ownerID] = m
	}
	if _, exists := m[token]; !exists {
		m[token] = time.Now()
	}
	return nil
}

func (s *memoryStore) DeletePushToken(_ context.Context, ownerID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens[ownerID], token)
	return nil
}

func (s *memoryStore) ListPushTokens(_ context.Context, ownerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.tokens[ownerID]
	out := make([]string, 0, len(m))
	for tok := range m {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return m[out[i]].Before(m[out[j]]) })
	return out, nil
}
