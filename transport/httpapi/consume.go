package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// handleConsume streams a session as Server-Sent Events. Each message is one
// "data: <json>\n\n" frame; comment frames keep idle connections alive. The
// stream ends when the client disconnects, the channel is cleared, or the
// session fails (e.g. a replay gap).
func (a *API) handleConsume(w http.ResponseWriter, r *http.Request) {
	session, err := a.subscribe(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer session.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	var keepAlive <-chan time.Time
	if a.cfg.SSEKeepAlive > 0 {
		ticker := time.NewTicker(a.cfg.SSEKeepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepAlive:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case msg, ok := <-session.Messages():
			if !ok {
				if err := session.Err(); err != nil {
					a.logger.ErrorContext(r.Context(), "consume stream terminated",
						slog.String("channel", session.Channel()),
						slog.String("session_id", session.ID().String()),
						slog.Any("error", err))
				}
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				a.logger.WarnContext(r.Context(), "failed to encode message",
					slog.String("channel", session.Channel()), slog.Any("error", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
