package httpx

import (
	"net/http"
	"time"

	"github.com/Sasha125a/sphere-dev-network/internal/service/logs"
	"github.com/Sasha125a/sphere-dev-network/internal/ws"
)

const (
	logStreamBackfillLimit = 50
	logStreamHeartbeat     = 15 * time.Second
)

// handleLogStream serves GET /api/projects/:id/logs/stream: a ping, the
// most recent logs oldest first, then live pipeline logs until the client
// goes away.
func (r *Router) handleLogStream(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if _, err := r.svc.Projects.Get(req.Context(), projectID); err != nil {
		writeServiceError(w, err)
		return
	}
	hub := r.svc.Logs.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "log stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	backfill, err := r.svc.Logs.List(req.Context(), projectID, logStreamBackfillLimit, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := ws.NewSSEClient(w, flusher, r.logger)
	if err := client.Heartbeat(); err != nil {
		return
	}
	for i := len(backfill) - 1; i >= 0; i-- {
		payload, err := logs.MarshalEntry(backfill[i])
		if err != nil {
			continue
		}
		if err := client.Send(payload); err != nil {
			return
		}
	}

	hub.Register(projectID, client)
	defer func() {
		hub.Unregister(projectID, client)
		client.Close()
	}()

	interval := r.heartbeat
	if interval <= 0 {
		interval = logStreamHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
