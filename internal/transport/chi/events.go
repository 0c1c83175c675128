package chi

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// eventBuffer is how many change notifications a slow client may lag
// behind before notifications are dropped for it.
const eventBuffer = 64

// Events handles GET /events: a server-sent event per provider state change.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming unsupported")
		return
	}

	changes := make(chan string, eventBuffer)
	unsubscribe := s.coord.Subscribe(func(name string) {
		select {
		case changes <- name:
		default:
			s.logger.Warn("dropping change event for slow client", zap.String("provider", name))
		}
	})
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case name := <-changes:
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", name); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
