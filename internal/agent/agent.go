// Package agent is the client-side library: it buffers tab operations
// while offline in a local bolt database, flushes them as a batch when
// connectivity returns, and holds the websocket command channel while
// connected.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcus/tabsync/internal/coordinator"
	"github.com/marcus/tabsync/internal/op"
)

// Agent talks to one tabsyncd server on behalf of one client.
type Agent struct {
	serverURL string
	clientID  string
	http      *http.Client
	buffer    *Buffer
}

// New creates an agent for clientID against serverURL, buffering offline
// operations at bufferPath.
func New(serverURL, clientID, bufferPath string) (*Agent, error) {
	buf, err := OpenBuffer(bufferPath)
	if err != nil {
		return nil, err
	}
	return &Agent{
		serverURL: serverURL,
		clientID:  clientID,
		http:      &http.Client{Timeout: 30 * time.Second},
		buffer:    buf,
	}, nil
}

// NewREST creates an agent without an offline buffer, for callers that
// only issue live calls and reads.
func NewREST(serverURL, clientID string) *Agent {
	return &Agent{
		serverURL: serverURL,
		clientID:  clientID,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Close releases the offline buffer.
func (a *Agent) Close() error {
	if a.buffer == nil {
		return nil
	}
	return a.buffer.Close()
}

// Record appends an operation to the offline buffer. It is drained by the
// next Sync.
func (a *Agent) Record(o op.Op) error {
	if a.buffer == nil {
		return fmt.Errorf("agent has no offline buffer")
	}
	return a.buffer.Append(o)
}

// SnapshotTab is one row of the live tab list reported during sync.
type SnapshotTab struct {
	LocalID  int64  `json:"localId"`
	Position int    `json:"position"`
	URL      string `json:"url"`
}

// SyncResult mirrors the server's batch sync response.
type SyncResult struct {
	Bootstrapped bool `json:"Bootstrapped"`
	Applied      int  `json:"Applied"`
	Corrective   int  `json:"Corrective"`
}

// Sync submits the buffered operations together with the current live
// snapshot. The buffer is cleared only after the server accepts the
// batch; a retransmission after a lost response is harmless because the
// server deduplicates by operation id.
func (a *Agent) Sync(ctx context.Context, snapshot []SnapshotTab) (SyncResult, error) {
	var result SyncResult

	var ops []op.Op
	if a.buffer != nil {
		var err error
		if ops, err = a.buffer.Pending(); err != nil {
			return result, err
		}
	}

	body := map[string]any{
		"clientId":   a.clientID,
		"operations": ops,
		"snapshot":   snapshot,
	}
	if err := a.post(ctx, "/v1/sync", body, &result); err != nil {
		return result, err
	}
	if a.buffer != nil {
		if err := a.buffer.Clear(); err != nil {
			return result, fmt.Errorf("clear buffer: %w", err)
		}
	}
	return result, nil
}

// AddTab reports a tab the user just opened.
func (a *Agent) AddTab(ctx context.Context, localID int64, position int, url string, background bool) error {
	return a.post(ctx, "/v1/tabs", map[string]any{
		"clientId":         a.clientID,
		"localId":          localID,
		"position":         position,
		"url":              url,
		"openInBackground": background,
	}, nil)
}

// MoveTab reports a tab relocation.
func (a *Agent) MoveTab(ctx context.Context, localID int64, newPosition int) error {
	return a.post(ctx, "/v1/tabs/move", map[string]any{
		"clientId":    a.clientID,
		"localId":     localID,
		"newPosition": newPosition,
	}, nil)
}

// CloseTab reports a closed tab.
func (a *Agent) CloseTab(ctx context.Context, localID int64) error {
	return a.post(ctx, "/v1/tabs/close", map[string]any{
		"clientId": a.clientID,
		"localId":  localID,
	}, nil)
}

// ChangeURL reports a navigation.
func (a *Agent) ChangeURL(ctx context.Context, localID int64, newURL string) error {
	return a.post(ctx, "/v1/tabs/url", map[string]any{
		"clientId": a.clientID,
		"localId":  localID,
		"newUrl":   newURL,
	}, nil)
}

// ActivateTab reports tab focus.
func (a *Agent) ActivateTab(ctx context.Context, localID int64) error {
	return a.post(ctx, "/v1/tabs/activate", map[string]any{
		"clientId": a.clientID,
		"localId":  localID,
	}, nil)
}

// AckCreate completes a two-phase create after the local tab exists.
func (a *Agent) AckCreate(ctx context.Context, correlationID string, localID int64, finalPosition int) error {
	return a.post(ctx, "/v1/creates/ack", map[string]any{
		"clientId":      a.clientID,
		"correlationId": correlationID,
		"localId":       localID,
		"finalPosition": finalPosition,
	}, nil)
}

// Tabs fetches the server's canonical tab list.
func (a *Agent) Tabs(ctx context.Context) ([]coordinator.TabView, error) {
	var resp struct {
		Tabs []coordinator.TabView `json:"tabs"`
	}
	if err := a.get(ctx, "/v1/tabs", &resp); err != nil {
		return nil, err
	}
	return resp.Tabs, nil
}

// Status fetches the server's status summary.
func (a *Agent) Status(ctx context.Context) (coordinator.Status, error) {
	var st coordinator.Status
	err := a.get(ctx, "/v1/status", &st)
	return st, err
}

func (a *Agent) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *Agent) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.serverURL+path, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *Agent) do(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("%s %s: %s (%s)", req.Method, req.URL.Path, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
