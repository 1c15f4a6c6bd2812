package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The relay is same-deployment infrastructure; origin policy belongs
	// to the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// handleJobSocket relays a job's progress events to one WebSocket client.
// Each client gets its own bus subscription; events published before the
// client connected are not replayed. The socket closes after the terminal
// event has been forwarded.
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	// Subscribe before upgrading so no event falls between the two.
	events, cancel, err := s.bus.Subscribe(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Progress subscription failed")
		writeError(w, http.StatusServiceUnavailable, "progress stream unavailable")
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	s.logger.Debug().Str("job_id", jobID).Msg("WebSocket client connected")

	// Drain client frames so pings and close frames are processed; the
	// relay itself is write-only.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	terminalSeen := false
	for {
		select {
		case event, ok := <-events:
			if !ok {
				s.closeSocket(conn, jobID)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug().Err(err).Str("job_id", jobID).Msg("WebSocket write failed")
				return
			}
			if event.IsTerminal() {
				terminalSeen = true
			}
			// done trails complete; once both are through, hang up.
			if terminalSeen && (event.Type == models.EventDone || event.Type == models.EventError) {
				s.closeSocket(conn, jobID)
				return
			}
		case <-clientGone:
			s.logger.Debug().Str("job_id", jobID).Msg("WebSocket client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) closeSocket(conn *websocket.Conn, jobID string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"))
	s.logger.Debug().Str("job_id", jobID).Msg("WebSocket stream completed")
}
