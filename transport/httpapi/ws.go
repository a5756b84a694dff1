package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleConsumeWS streams a session over a WebSocket, one JSON text frame per
// message. The read side only watches for the client closing the connection.
func (a *API) handleConsumeWS(w http.ResponseWriter, r *http.Request) {
	session, err := a.subscribe(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		session.Close()
		a.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	defer session.Close()

	// Reader goroutine: the peer's close frame (or any read error) ends the
	// session. Inbound data frames are discarded; this endpoint only streams.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				session.Close()
				return
			}
		}
	}()

	var ping <-chan time.Time
	if a.cfg.WSPingInterval > 0 {
		ticker := time.NewTicker(a.cfg.WSPingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ping:
			deadline := time.Now().Add(a.cfg.WSWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case msg, ok := <-session.Messages():
			if !ok {
				if err := session.Err(); err != nil {
					a.logger.ErrorContext(r.Context(), "websocket stream terminated",
						slog.String("channel", session.Channel()),
						slog.String("session_id", session.ID().String()),
						slog.Any("error", err))
					deadline := time.Now().Add(a.cfg.WSWriteTimeout)
					data := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream terminated")
					_ = conn.WriteControl(websocket.CloseMessage, data, deadline)
					return
				}
				deadline := time.Now().Add(a.cfg.WSWriteTimeout)
				data := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
				_ = conn.WriteControl(websocket.CloseMessage, data, deadline)
				return
			}
			if a.cfg.WSWriteTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(a.cfg.WSWriteTimeout))
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
