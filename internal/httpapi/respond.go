package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"focusgate/internal/proof"
	"focusgate/internal/session"
	"focusgate/internal/storage"
	"focusgate/internal/task"
	logx "focusgate/pkg/logx"
)

// errForbidden marks owner mismatches: the resource exists but belongs to
// someone else.
var errForbidden = errors.New("forbidden")

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: msg}})
}

// writeError maps domain errors onto the HTTP taxonomy. Unknown errors are
// logged and reported as a bare internal failure so store details never leak
// to clients.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, errForbidden):
		writeErrorCode(w, http.StatusForbidden, "forbidden", "resource belongs to another owner")
	case errors.Is(err, task.ErrValidation), errors.Is(err, proof.ErrValidation):
		writeErrorCode(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, task.ErrInvalidTransition), errors.Is(err, session.ErrInvalidTransition):
		writeErrorCode(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		s.log.Warn("store unavailable", logx.Err(err), logx.String("path", r.URL.Path))
		writeErrorCode(w, http.StatusServiceUnavailable, "store_unavailable", "persistence temporarily unavailable")
	default:
		s.log.Error("request failed", logx.Err(err), logx.String("path", r.URL.Path))
		writeErrorCode(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// ownerID extracts the caller identity set by the fronting auth layer.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}
