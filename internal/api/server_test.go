package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/marcus/tabsync/internal/coordinator"
	"github.com/marcus/tabsync/internal/store"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	st, err := store.OpenDB(conn)
	if err != nil {
		t.Fatalf("init test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv, err := NewServer(LoadConfig(), st, coordinator.New(st))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv.routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error.Code
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestSyncRejectsUnknownOperationType(t *testing.T) {
	h := newTestServer(t)
	body := `{"clientId":"alpha","operations":[{"type":"duplicateTab","id":"op-1","position":0}],"snapshot":[]}`
	rec := do(t, h, "POST", "/v1/sync", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	if code := errCode(t, rec); code != ErrCodeBadRequest {
		t.Fatalf("code %s", code)
	}

	// The whole batch was rejected; nothing was applied.
	rec = do(t, h, "GET", "/v1/tabs", "")
	var resp struct {
		Tabs []coordinator.TabView `json:"tabs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Tabs) != 0 {
		t.Fatalf("rejected batch created tabs: %v", resp.Tabs)
	}
}

func TestSyncRequiresClientID(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, "POST", "/v1/sync", `{"operations":[],"snapshot":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestSyncBootstrapRoundTrip(t *testing.T) {
	h := newTestServer(t)
	body := `{"clientId":"alpha","operations":[],"snapshot":[
		{"localId":11,"position":0,"url":"https://a.test"},
		{"localId":12,"position":1,"url":"https://b.test"}]}`
	rec := do(t, h, "POST", "/v1/sync", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res coordinator.SyncResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Bootstrapped {
		t.Fatalf("result %+v", res)
	}

	rec = do(t, h, "GET", "/v1/tabs", "")
	var resp struct {
		Tabs []coordinator.TabView `json:"tabs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Tabs) != 2 || resp.Tabs[0].URL != "https://a.test" {
		t.Fatalf("tabs %v", resp.Tabs)
	}
}

func TestAckCreateUnknownCorrelationIs404(t *testing.T) {
	h := newTestServer(t)
	body := `{"clientId":"alpha","correlationId":"nope","localId":1,"finalPosition":0}`
	rec := do(t, h, "POST", "/v1/creates/ack", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
	if code := errCode(t, rec); code != ErrCodeNotFound {
		t.Fatalf("code %s", code)
	}
}

func TestSingleOpStaleReferenceIsOK(t *testing.T) {
	h := newTestServer(t)
	do(t, h, "POST", "/v1/sync", `{"clientId":"alpha","operations":[],"snapshot":[
		{"localId":11,"position":0,"url":"https://a.test"}]}`)

	rec := do(t, h, "POST", "/v1/tabs/move", `{"clientId":"alpha","localId":999,"newPosition":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stale move status %d: %s", rec.Code, rec.Body.String())
	}
}
