package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// StreamTaskSSE handles GET /stream/task/{id}: a server-sent-event feed
// of the task's event log, per §4.5/§6.1's "clients may reconnect and
// resume from the last seen sequence" (the since_seq query parameter).
func (h *Handler) StreamTaskSSE(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	sinceSeq, _ := strconv.ParseInt(r.URL.Query().Get("since_seq"), 10, 64)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, err := h.bus.Subscribe(r.Context(), taskID, sinceSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to subscribe to task stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Kind, payload)
			flusher.Flush()
		}
	}
}

// wsUpgrader mirrors the teacher's monitor/event WebSocket upgrader
// configuration (internal/api/websocket.go, internal/api/monitor_ws.go):
// origin checking is left permissive since the same task events are
// already exposed unauthenticated over SSE.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamTaskWS handles GET /ws/task/{id}: the WebSocket-encoded
// alternative to StreamTaskSSE, carrying the identical event payloads
// (§9's "both are alternate encodings of one interface").
func (h *Handler) StreamTaskWS(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	sinceSeq, _ := strconv.ParseInt(r.URL.Query().Get("since_seq"), 10, 64)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.WithError(err).Warn("api: websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	ch, err := h.bus.Subscribe(r.Context(), taskID, sinceSeq)
	if err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": "failed to subscribe to task stream"})
		return
	}

	done := make(chan struct{})
	go readPump(conn, done)

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(map[string]any{"type": "event", "data": event}); err != nil {
				return
			}
		}
	}
}

// readPump drains and discards client frames, closing done on
// disconnect; this stream is one-directional (server to client), so
// the only client message worth acting on is the connection closing.
func readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("api: websocket read error: %v", err)
			}
			return
		}
	}
}
