package httpapi

import (
	"net/http"
	"strings"
)

type pushTokenBody struct {
	Token string `json:"token"`
}

func (s *Server) handlePutPushToken(w http.ResponseWriter, r *http.Request, owner string) {
	var body pushTokenBody
	if err := decodeJSON(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error())
		return
	}
	token := strings.TrimSpace(body.Token)
	if token == "" {
		writeErrorCode(w, http.StatusBadRequest, "validation", "token is required")
		return
	}
	if err := s.store.PutPushToken(r.Context(), owner, token); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePushToken(w http.ResponseWriter, r *http.Request, owner string) {
	token := r.PathValue("token")
	if token == "" {
		writeErrorCode(w, http.StatusBadRequest, "validation", "token is required")
		return
	}
	// Removing an unknown token is a no-op, not an error.
	if err := s.store.DeletePushToken(r.Context(), owner, token); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
