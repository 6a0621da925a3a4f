package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"testdeck/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Bearer auth already ran in the middleware chain.
		return true
	},
}

const (
	watchInterval  = time.Second
	watchWriteWait = 10 * time.Second
)

// WatchRun streams run status snapshots over a websocket until the run
// reaches a terminal state or the client goes away. Each message is the
// same JSON shape as GET /api/v1/test-runs/{id}.
func (h *Handler) WatchRun(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	runID := r.PathValue("id")

	// Check the run exists before upgrading so the client gets a proper
	// error envelope instead of a dropped socket.
	run, err := h.runs.Status(r.Context(), runID, user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(run *model.TestRun) error {
		conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
		return conn.WriteJSON(run)
	}

	if err := send(run); err != nil {
		return
	}
	if model.RunTerminal(run.Status) {
		h.closeWatch(conn)
		return
	}

	lastStatus := run.Status
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			run, err := h.runs.Status(r.Context(), runID, user.ID)
			if err != nil {
				h.closeWatch(conn)
				return
			}

			// Only push when something changed; terminal always pushes.
			if run.Status == lastStatus && !model.RunTerminal(run.Status) {
				continue
			}
			lastStatus = run.Status

			if err := send(run); err != nil {
				return
			}
			if model.RunTerminal(run.Status) {
				h.closeWatch(conn)
				return
			}
		}
	}
}

func (h *Handler) closeWatch(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}
