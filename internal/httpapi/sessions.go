package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"focusgate/internal/capability"
	"focusgate/internal/session"
	"focusgate/internal/storage"
	"focusgate/internal/task"
	logx "focusgate/pkg/logx"
)

type sessionJSON struct {
	ID               string     `json:"id"`
	TaskID           string     `json:"taskId"`
	DeviceID         string     `json:"deviceId,omitempty"`
	Status           string     `json:"status"`
	ActualStrictness string     `json:"actualStrictness,omitempty"`
	Warnings         []string   `json:"warnings"`
	StartedAt        time.Time  `json:"startedAt"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	UnlockedAt       *time.Time `json:"unlockedAt,omitempty"`
}

func renderSession(s *session.Session) sessionJSON {
	return sessionJSON{
		ID:               s.ID,
		TaskID:           s.TaskID,
		DeviceID:         s.DeviceID,
		Status:           string(s.Status),
		ActualStrictness: string(s.ActualStrictness),
		Warnings:         emptySlice(s.Warnings),
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
		UnlockedAt:       s.UnlockedAt,
	}
}

type createSessionBody struct {
	TaskID   string `json:"taskId"`
	DeviceID string `json:"deviceId"`
}

// handleCreateSession opens a session for an active task. When the sweep
// already auto-created a pending session, the device claims that one instead
// of opening a second.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, owner string) {
	var body createSessionBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error())
		return
	}
	if body.TaskID == "" {
		writeErrorCode(w, http.StatusBadRequest, "validation", "taskId is required")
		return
	}

	t, err := s.getOwnedTask(r, owner, body.TaskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if t.Status != task.StatusActive {
		writeErrorCode(w, http.StatusConflict, "invalid_transition",
			fmt.Sprintf("cannot open session for %s task", t.Status))
		return
	}

	if open, err := s.store.OpenSessionForTask(r.Context(), t.ID); err == nil {
		writeJSON(w, http.StatusOK, renderSession(open))
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}

	sess := session.New(t.ID, owner, body.DeviceID)
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		if errors.Is(err, storage.ErrSessionExists) {
			// Lost the open race to the sweep or another device; claim the
			// winner's session.
			if open, oerr := s.store.OpenSessionForTask(r.Context(), t.ID); oerr == nil {
				writeJSON(w, http.StatusOK, renderSession(open))
				return
			}
		}
		s.writeError(w, r, err)
		return
	}
	s.log.Debug("session opened", logx.String("session", sess.ID), logx.String("task", t.ID))
	writeJSON(w, http.StatusCreated, renderSession(sess))
}

func (s *Server) getOwnedSession(r *http.Request, owner, id string) (*session.Session, error) {
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != owner {
		return nil, errForbidden
	}
	return sess, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, owner string) {
	sess, err := s.getOwnedSession(r, owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSession(sess))
}

type patchSessionBody struct {
	Status string `json:"status"`
}

// handlePatchSession drives device/user transitions: the device confirms the
// lock (pending -> locked), the user requests an unlock (locked ->
// proof_required) or abandons the session (-> failed). Unlocking itself only
// happens through an accepted proof.
func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request, owner string) {
	var body patchSessionBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error())
		return
	}
	next := session.Status(body.Status)
	if !next.Valid() {
		writeErrorCode(w, http.StatusBadRequest, "validation", fmt.Sprintf("unknown status %q", body.Status))
		return
	}
	if next == session.StatusUnlocked {
		writeErrorCode(w, http.StatusBadRequest, "validation", "unlock requires an accepted proof")
		return
	}

	sess, err := s.getOwnedSession(r, owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := session.Transition(sess.Status, next); err != nil {
		s.writeError(w, r, err)
		return
	}

	ok, err := s.store.UpdateSessionStatus(r.Context(), sess.ID, sess.Status, next, time.Now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeErrorCode(w, http.StatusConflict, "invalid_transition",
			fmt.Sprintf("session already left %s", sess.Status))
		return
	}

	sess, err = s.store.GetSession(r.Context(), sess.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSession(sess))
}

type capabilitiesBody struct {
	CanBlockApps       bool `json:"canBlockApps"`
	CanShowOverlay     bool `json:"canShowOverlay"`
	CanTrackUsage      bool `json:"canTrackUsage"`
	CanRunInBackground bool `json:"canRunInBackground"`
}

type capabilitiesJSON struct {
	Level    string   `json:"level"`
	Warnings []string `json:"warnings"`
}

// handleCapabilities records what the device can actually enforce and
// returns the negotiated strictness, which may be lower than the task asked
// for.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request, owner string) {
	var body capabilitiesBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error())
		return
	}

	sess, err := s.getOwnedSession(r, owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.store.GetTask(r.Context(), sess.TaskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res := capability.Downgrade(t.Strictness, capability.Set{
		CanBlockApps:       body.CanBlockApps,
		CanShowOverlay:     body.CanShowOverlay,
		CanTrackUsage:      body.CanTrackUsage,
		CanRunInBackground: body.CanRunInBackground,
	})
	if err := s.store.SetSessionEnforcement(r.Context(), sess.ID, res.Level, res.Warnings); err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Downgraded() {
		s.log.Info("enforcement downgraded",
			logx.String("session", sess.ID),
			logx.String("requested", string(t.Strictness)),
			logx.String("actual", string(res.Level)))
	}
	writeJSON(w, http.StatusOK, capabilitiesJSON{Level: string(res.Level), Warnings: emptySlice(res.Warnings)})
}
