package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// streamProgress relays a session's events as server-sent events. Events
// recorded before the subscription are replayed first; the stream ends after
// the terminal event.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := s.logger.With(zap.String("session_id", sessionID))
	logger.Debug("progress stream opened")
	for evt := range s.broker.Subscribe(r.Context(), sessionID) {
		payload, err := json.Marshal(evt)
		if err != nil {
			logger.Error("encode progress event failed", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			logger.Debug("progress stream write failed", zap.Error(err))
			return
		}
		flusher.Flush()
	}
	logger.Debug("progress stream closed")
}
