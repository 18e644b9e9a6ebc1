package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/idbridge/idbridge/internal/audit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The route already sits behind the token middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleAuditStream upgrades to a websocket and streams audit events as
// they are logged, until the client disconnects.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("failed to upgrade audit stream connection")
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := audit.Subscribe()
	defer cancel()

	// Reader goroutine detects client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event := <-events:
			if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
