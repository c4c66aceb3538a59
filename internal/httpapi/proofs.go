package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"focusgate/internal/proof"
	"focusgate/internal/session"
	logx "focusgate/pkg/logx"
)

type proofJSON struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Method      string    `json:"method"`
	Accepted    bool      `json:"accepted"`
	Score       int       `json:"score"`
	ArtifactRef string    `json:"artifactRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func renderProof(p *proof.Proof) proofJSON {
	return proofJSON{
		ID:          p.ID,
		SessionID:   p.SessionID,
		Method:      string(p.Method),
		Accepted:    p.Accepted,
		Score:       p.Score,
		ArtifactRef: p.ArtifactRef,
		CreatedAt:   p.CreatedAt,
	}
}

type proofResultJSON struct {
	Accepted      bool   `json:"accepted"`
	Score         int    `json:"score"`
	SessionStatus string `json:"sessionStatus"`
}

// handleSubmitProof scores a proof attempt against a proof_required session.
// Accepted proofs unlock the session atomically with the proof insert, so
// two concurrent accepted submissions produce exactly one unlock. Rejected
// attempts are persisted too, as an audit trail, and leave the session
// where it was.
func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request, owner string) {
	method, err := proof.ParseMethod(r.PathValue("method"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var sub proof.Submission
	if err := decodeJSON(r, &sub); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error())
		return
	}

	sess, err := s.getOwnedSession(r, owner, r.PathValue("sessionId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sess.Status != session.StatusProofRequired {
		writeErrorCode(w, http.StatusConflict, "invalid_transition",
			fmt.Sprintf("session is %s, proof not expected", sess.Status))
		return
	}

	t, err := s.store.GetTask(r.Context(), sess.TaskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(t.ProofMethods) > 0 && !contains(t.ProofMethods, string(method)) {
		writeErrorCode(w, http.StatusBadRequest, "validation",
			fmt.Sprintf("method %s not allowed for this task", method))
		return
	}

	res, err := proof.Evaluate(method, sub)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	p := proof.New(sess.ID, method, sub, res)
	status := sess.Status
	if res.Accepted {
		ok, err := s.store.CreateProofAndUnlockSession(r.Context(), p, sess.ID, time.Now().UTC())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !ok {
			// A concurrent proof already unlocked (or the sweep failed) the
			// session; this attempt leaves no trace.
			writeErrorCode(w, http.StatusConflict, "invalid_transition", "session already settled")
			return
		}
		status = session.StatusUnlocked
		s.log.Info("session unlocked",
			logx.String("session", sess.ID),
			logx.String("method", string(method)),
			logx.Int("score", res.Score))
	} else {
		if err := s.store.CreateProof(r.Context(), p); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.log.Debug("proof rejected",
			logx.String("session", sess.ID),
			logx.String("method", string(method)),
			logx.Int("score", res.Score))
	}

	writeJSON(w, http.StatusOK, proofResultJSON{
		Accepted:      res.Accepted,
		Score:         res.Score,
		SessionStatus: string(status),
	})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Server) handleListProofs(w http.ResponseWriter, r *http.Request, owner string) {
	sess, err := s.getOwnedSession(r, owner, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proofs, err := s.store.ListProofs(r.Context(), sess.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]proofJSON, 0, len(proofs))
	for _, p := range proofs {
		out = append(out, renderProof(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proofs": out})
}
