package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/marcus/tabsync/internal/coordinator"
	"github.com/marcus/tabsync/internal/op"
)

// syncRequest is a batch synchronization submission: the client's buffered
// operations plus a snapshot of its live tab list.
type syncRequest struct {
	ClientID   string        `json:"clientId"`
	Operations []op.Op       `json:"operations"`
	Snapshot   []snapshotTab `json:"snapshot"`
}

type snapshotTab struct {
	LocalID  int64  `json:"localId"`
	Position int    `json:"position"`
	URL      string `json:"url"`
}

// handleSync processes POST /v1/sync. A malformed operation rejects the
// whole batch; nothing is applied.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		code := ErrCodeBadRequest
		msg := fmt.Sprintf("invalid request body: %v", err)
		if errors.Is(err, op.ErrUnknownType) {
			msg = fmt.Sprintf("invalid operation: %v", err)
		}
		writeError(w, http.StatusBadRequest, code, msg)
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "clientId is required")
		return
	}
	if len(req.Operations) > s.config.MaxBatchOps {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest,
			fmt.Sprintf("batch exceeds %d operations", s.config.MaxBatchOps))
		return
	}

	snap := make([]coordinator.ClientTab, 0, len(req.Snapshot))
	for _, t := range req.Snapshot {
		if t.Position < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "snapshot position must be non-negative")
			return
		}
		snap = append(snap, coordinator.ClientTab{LocalID: t.LocalID, Pos: t.Position, URL: t.URL})
	}

	result, err := s.coord.SyncBatch(req.ClientID, req.Operations, snap)
	if err != nil {
		slog.Error("sync batch", "client", req.ClientID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
