package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/tabsync/internal/coordinator"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are local agents, not browsers; origin checks do not apply.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSender pushes coordinator commands to one connected client. The write
// mutex also covers the ping loop; gorilla connections allow only one
// concurrent writer.
type wsSender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSender) Send(cmd coordinator.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coordinator.ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteJSON(cmd); err != nil {
		s.closed = true
		return fmt.Errorf("%w: %v", coordinator.ErrNotConnected, err)
	}
	return nil
}

func (s *wsSender) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *wsSender) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// handleWS upgrades GET /v1/ws?client_id=... and registers the connection
// as the client's command channel until it closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "client_id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade", "client", clientID, "err", err)
		return
	}

	sender := &wsSender{conn: conn}
	s.coord.Attach(clientID, sender)
	defer func() {
		s.coord.DetachIf(clientID, sender)
		sender.close()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sender.ping(); err != nil {
					return
				}
			}
		}
	}()
	defer close(done)

	// The command channel is push-only; reads exist to surface closes and
	// service pongs.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket closed", "client", clientID, "err", err)
			}
			return
		}
	}
}
