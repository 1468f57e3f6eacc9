package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before the read side
	// gives up; pings go out a little faster than that.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Progress streams carry no credentials and no mutations; any origin
	// may subscribe.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleProgressWS streams a job's progress events until the job finishes or
// the client goes away. Late subscribers only see events from now on; a job
// already finished yields an immediate clean close.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.engine.Status(jobID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	events, cancel := s.hub.Subscribe(jobID)
	defer cancel()

	// If the job went terminal before we attached, the feed would stay
	// silent forever; close it out with the final snapshot instead.
	if job, err := s.engine.Status(jobID); err == nil && job.Status.Terminal() {
		s.hub.Complete(jobID)
	}

	done := make(chan struct{})
	go s.wsReadPump(conn, done)
	s.wsWritePump(conn, jobID, events, done)
}

// wsReadPump discards client frames; its job is noticing disconnects and
// keeping the pong deadline fresh.
func (s *Server) wsReadPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsWritePump pushes events and keepalive pings until the feed closes.
func (s *Server) wsWritePump(conn *websocket.Conn, jobID string, events <-chan schemas.ProgressEvent, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Job finished; tell the client this is a clean end.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("Progress write failed",
					zap.String("job_id", jobID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
