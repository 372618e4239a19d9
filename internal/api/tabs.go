package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcus/tabsync/internal/store"
)

type addTabRequest struct {
	ClientID   string `json:"clientId"`
	LocalID    int64  `json:"localId"`
	Position   int    `json:"position"`
	URL        string `json:"url"`
	Background bool   `json:"openInBackground"`
}

func (s *Server) handleAddTab(w http.ResponseWriter, r *http.Request) {
	var req addTabRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.coord.AddTab(req.ClientID, req.LocalID, req.Position, req.URL, req.Background); err != nil {
		slog.Error("add tab", "client", req.ClientID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "add tab failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type moveTabRequest struct {
	ClientID    string `json:"clientId"`
	LocalID     int64  `json:"localId"`
	NewPosition int    `json:"newPosition"`
}

func (s *Server) handleMoveTab(w http.ResponseWriter, r *http.Request) {
	var req moveTabRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.coord.MoveTab(req.ClientID, req.LocalID, req.NewPosition); err != nil {
		slog.Error("move tab", "client", req.ClientID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "move tab failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type closeTabRequest struct {
	ClientID string `json:"clientId"`
	LocalID  int64  `json:"localId"`
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	var req closeTabRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.coord.CloseTab(req.ClientID, req.LocalID); err != nil {
		slog.Error("close tab", "client", req.ClientID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "close tab failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type changeURLRequest struct {
	ClientID string `json:"clientId"`
	LocalID  int64  `json:"localId"`
	NewURL   string `json:"newUrl"`
}

func (s *Server) handleChangeURL(w http.ResponseWriter, r *http.Request) {
	var req changeURLRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.coord.ChangeURL(req.ClientID, req.LocalID, req.NewURL); err != nil {
		slog.Error("change url", "client", req.ClientID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "change url failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleActivateTab(w http.ResponseWriter, r *http.Request) {
	var req closeTabRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.coord.ActivateTab(req.ClientID, req.LocalID); err != nil {
		slog.Error("activate tab", "client", req.ClientID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "activate tab failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ackCreateRequest struct {
	ClientID      string `json:"clientId"`
	CorrelationID string `json:"correlationId"`
	LocalID       int64  `json:"localId"`
	FinalPosition int    `json:"finalPosition"`
}

func (s *Server) handleAckCreate(w http.ResponseWriter, r *http.Request) {
	var req ackCreateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CorrelationID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "correlationId is required")
		return
	}
	if err := s.coord.AckCreate(req.ClientID, req.CorrelationID, req.LocalID, req.FinalPosition); err != nil {
		if errors.Is(err, store.ErrUnknownCorrelation) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown correlation id")
			return
		}
		slog.Error("ack create", "client", req.ClientID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "ack create failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := s.coord.Tabs()
	if err != nil {
		slog.Error("list tabs", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "list tabs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": tabs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.CurrentStatus()
	if err != nil {
		slog.Error("status", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "status failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// decode reads a JSON body into dst and reports whether the handler may
// proceed; on failure it has already written the error response.
func decode(w http.ResponseWriter, r *http.Request, dst interface{ clientID() string }) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if dst.clientID() == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "clientId is required")
		return false
	}
	return true
}

func (r addTabRequest) clientID() string    { return r.ClientID }
func (r moveTabRequest) clientID() string   { return r.ClientID }
func (r closeTabRequest) clientID() string  { return r.ClientID }
func (r changeURLRequest) clientID() string { return r.ClientID }
func (r ackCreateRequest) clientID() string { return r.ClientID }
