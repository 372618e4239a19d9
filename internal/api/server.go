package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/tabsync/internal/coordinator"
	"github.com/marcus/tabsync/internal/store"
)

// Server is the HTTP API server for tabsyncd.
type Server struct {
	config Config
	http   *http.Server
	store  *store.Store
	coord  *coordinator.Coordinator
	cancel context.CancelFunc
}

// NewServer creates a new Server with the given config, store and coordinator.
func NewServer(cfg Config, st *store.Store, coord *coordinator.Coordinator) (*Server, error) {
	s := &Server{
		config: cfg,
		store:  st,
		coord:  coord,
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	// Periodically sweep create commands that were never acknowledged.
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("sweep panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.ExpirePending(s.config.PendingExpiry)
				if err != nil {
					slog.Error("expire pending creates", "err", err)
				} else if n > 0 {
					slog.Info("expired unacknowledged creates", "count", n)
				}
			}
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/tabs", s.handleListTabs)

	mux.HandleFunc("POST /v1/sync", s.handleSync)

	mux.HandleFunc("POST /v1/tabs", s.handleAddTab)
	mux.HandleFunc("POST /v1/tabs/move", s.handleMoveTab)
	mux.HandleFunc("POST /v1/tabs/close", s.handleCloseTab)
	mux.HandleFunc("POST /v1/tabs/url", s.handleChangeURL)
	mux.HandleFunc("POST /v1/tabs/activate", s.handleActivateTab)
	mux.HandleFunc("POST /v1/creates/ack", s.handleAckCreate)

	mux.HandleFunc("GET /v1/ws", s.handleWS)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
