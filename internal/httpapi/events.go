package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	logx "focusgate/pkg/logx"
)

const (
	eventBuffer       = 16
	heartbeatInterval = 30 * time.Second
)

// handleEvents streams the owner's live events as server-sent events.
// A heartbeat comment keeps idle proxies from timing out the connection.
// Delivery is best effort: a client that missed events reconciles via
// GET /tasks.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, owner string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorCode(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	ch, unsub := s.hub.Subscribe(owner, eventBuffer)
	defer unsub()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	s.log.Debug("event stream opened", logx.String("owner", owner))
	defer s.log.Debug("event stream closed", logx.String("owner", owner))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(map[string]any{
				"type":      e.Type,
				"taskId":    e.TaskID,
				"sessionId": e.SessionID,
				"title":     e.Title,
				"at":        e.At,
				"payload":   e.Payload,
			})
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + e.Type + "\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
