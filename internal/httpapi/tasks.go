package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"focusgate/internal/session"
	"focusgate/internal/task"
	logx "focusgate/pkg/logx"
)

type taskJSON struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	TargetApps      []string  `json:"targetApps"`
	Strictness      string    `json:"strictness"`
	ProofMethods    []string  `json:"proofMethods"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"durationMinutes"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func renderTask(t *task.Task) taskJSON {
	return taskJSON{
		ID:              t.ID,
		Title:           t.Title,
		TargetApps:      emptySlice(t.TargetApps),
		Strictness:      string(t.Strictness),
		ProofMethods:    emptySlice(t.ProofMethods),
		Start:           t.Start,
		End:             t.End,
		DurationMinutes: t.DurationMinutes,
		Status:          string(t.Status),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// emptySlice keeps list fields as [] instead of null in responses.
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type createTaskBody struct {
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"durationMinutes"`
	Strictness      string    `json:"strictness"`
	TargetApps      []string  `json:"targetApps"`
	ProofMethods    []string  `json:"proofMethods"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, owner string) {
	var body createTaskBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error())
		return
	}

	t, err := task.New(owner, task.CreateInput{
		Title:           body.Title,
		Start:           body.Start,
		DurationMinutes: body.DurationMinutes,
		Strictness:      task.Strictness(body.Strictness),
		TargetApps:      body.TargetApps,
		ProofMethods:    body.ProofMethods,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.CreateTask(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderTask(t))
}

// handleListTasks lists the owner's tasks. Two optional filters support
// client reconciliation after a missed live event:
//
//	?status=active          only tasks in that status
//	?due=now|<RFC3339>      only tasks whose window covers the instant
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, owner string) {
	tasks, err := s.store.ListTasks(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		st := task.Status(raw)
		if !st.Valid() {
			writeErrorCode(w, http.StatusBadRequest, "validation", fmt.Sprintf("unknown status %q", raw))
			return
		}
		tasks = filterTasks(tasks, func(t *task.Task) bool { return t.Status == st })
	}
	if raw := q.Get("due"); raw != "" {
		at := time.Now().UTC()
		if !strings.EqualFold(raw, "now") {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeErrorCode(w, http.StatusBadRequest, "validation", "due must be \"now\" or RFC3339")
				return
			}
			at = parsed.UTC()
		}
		tasks = filterTasks(tasks, func(t *task.Task) bool {
			return !t.Start.After(at) && t.End.After(at)
		})
	}

	out := make([]taskJSON, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, renderTask(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func filterTasks(in []*task.Task, keep func(*task.Task) bool) []*task.Task {
	out := in[:0]
	for _, t := range in {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) getOwnedTask(r *http.Request, owner, id string) (*task.Task, error) {
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != owner {
		return nil, errForbidden
	}
	return t, nil
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, owner string) {
	t, err := s.getOwnedTask(r, owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderTask(t))
}

type patchTaskBody struct {
	Title           *string    `json:"title"`
	Start           *time.Time `json:"start"`
	DurationMinutes *int       `json:"durationMinutes"`
	Strictness      *string    `json:"strictness"`
	TargetApps      *[]string  `json:"targetApps"`
	ProofMethods    *[]string  `json:"proofMethods"`
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request, owner string) {
	var body patchTaskBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error())
		return
	}

	t, err := s.getOwnedTask(r, owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	p := task.Patch{
		Title:           body.Title,
		Start:           body.Start,
		DurationMinutes: body.DurationMinutes,
		TargetApps:      body.TargetApps,
		ProofMethods:    body.ProofMethods,
	}
	if body.Strictness != nil {
		lvl := task.Strictness(*body.Strictness)
		p.Strictness = &lvl
	}
	if err := t.Apply(p); err != nil {
		s.writeError(w, r, err)
		return
	}

	ok, err := s.store.UpdateTaskPending(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		// Activation sweep won the race between read and write.
		writeErrorCode(w, http.StatusConflict, "invalid_transition", "task is no longer pending")
		return
	}
	writeJSON(w, http.StatusOK, renderTask(t))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, owner string) {
	t, err := s.getOwnedTask(r, owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// A deleted task must not leave a device enforcing a phantom session.
	if !t.Status.Terminal() {
		if sess, err := s.store.OpenSessionForTask(r.Context(), t.ID); err == nil {
			if _, err := s.store.UpdateSessionStatus(r.Context(), sess.ID, sess.Status, session.StatusFailed, time.Now().UTC()); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
	}

	if err := s.store.DeleteTask(r.Context(), t.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Debug("task deleted", logx.String("task", t.ID), logx.String("owner", owner))
	w.WriteHeader(http.StatusNoContent)
}

type statsJSON struct {
	TotalTasks     int `json:"totalTasks"`
	CompletedTasks int `json:"completedTasks"`
	CurrentStreak  int `json:"currentStreak"`
	LongestStreak  int `json:"longestStreak"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, owner string) {
	total, completed, err := s.store.CountTasks(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st := task.ApproxStreaks(completed, total)
	writeJSON(w, http.StatusOK, statsJSON{
		TotalTasks:     total,
		CompletedTasks: completed,
		CurrentStreak:  st.Current,
		LongestStreak:  st.Longest,
	})
}
