package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	st, err := OpenDB(conn)
	if err != nil {
		t.Fatalf("init test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testTx(t *testing.T, st *Store) *sql.Tx {
	t.Helper()
	tx, err := st.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func seedTabs(t *testing.T, tx *sql.Tx, urls ...string) []string {
	t.Helper()
	ids := make([]string, len(urls))
	for i, u := range urls {
		ids[i] = NewTabID()
		if err := InsertTab(tx, ids[i], i, u); err != nil {
			t.Fatalf("seed tab %d: %v", i, err)
		}
	}
	return ids
}

func openOrder(t *testing.T, tx *sql.Tx) []string {
	t.Helper()
	tabs, err := OpenTabs(tx)
	if err != nil {
		t.Fatalf("open tabs: %v", err)
	}
	ids := make([]string, len(tabs))
	for i, tab := range tabs {
		if *tab.Position != i {
			t.Fatalf("tab %s at position %d listed at index %d", tab.ID, *tab.Position, i)
		}
		ids[i] = tab.ID
	}
	return ids
}

func TestShiftTabsMakesRoom(t *testing.T) {
	st := newTestStore(t)
	tx := testTx(t, st)
	ids := seedTabs(t, tx, "https://a.test", "https://b.test", "https://c.test")

	if err := ShiftTabsFrom(tx, 1, 1); err != nil {
		t.Fatalf("shift: %v", err)
	}
	newID := NewTabID()
	if err := InsertTab(tx, newID, 1, "https://x.test"); err != nil {
		t.Fatalf("insert into gap: %v", err)
	}

	got := openOrder(t, tx)
	want := []string{ids[0], newID, ids[1], ids[2]}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestShiftTabsRange(t *testing.T) {
	st := newTestStore(t)
	tx := testTx(t, st)
	ids := seedTabs(t, tx, "https://a.test", "https://b.test", "https://c.test", "https://d.test")

	// Move d from 3 to 1: vacate its slot, shift the range [1,2] up,
	// place it in the gap.
	if err := VacateTab(tx, ids[3]); err != nil {
		t.Fatalf("vacate: %v", err)
	}
	if err := ShiftTabs(tx, 1, 2, 1); err != nil {
		t.Fatalf("shift range: %v", err)
	}
	if err := SetTabPosition(tx, ids[3], 1); err != nil {
		t.Fatalf("place moved tab: %v", err)
	}

	got := openOrder(t, tx)
	want := []string{ids[0], ids[3], ids[1], ids[2]}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestTombstoneRemovesFromOpenSet(t *testing.T) {
	st := newTestStore(t)
	tx := testTx(t, st)
	ids := seedTabs(t, tx, "https://a.test", "https://b.test")

	if err := TombstoneTab(tx, ids[0]); err != nil {
		t.Fatalf("tombstone: %v", err)
	}
	if err := ShiftTabsFrom(tx, 1, -1); err != nil {
		t.Fatalf("compact: %v", err)
	}

	tab, err := GetTab(tx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if tab == nil || tab.Position != nil {
		t.Fatalf("tombstoned tab should persist without a position, got %+v", tab)
	}
	n, err := OpenTabCount(tx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("open count %d, want 1", n)
	}
}

func TestBindingsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	tx := testTx(t, st)
	ids := seedTabs(t, tx, "https://a.test", "https://b.test")

	if err := InsertBinding(tx, "alpha", 101, 0, ids[0]); err != nil {
		t.Fatal(err)
	}
	if err := InsertBinding(tx, "alpha", 102, 1, ids[1]); err != nil {
		t.Fatal(err)
	}
	if err := InsertBinding(tx, "beta", 7, 0, ids[0]); err != nil {
		t.Fatal(err)
	}

	b, err := GetBinding(tx, "alpha", 102)
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || b.TabID != ids[1] || b.Position != 1 {
		t.Fatalf("got %+v", b)
	}

	if b, _ := GetBinding(tx, "alpha", 999); b != nil {
		t.Fatalf("unknown local id resolved to %+v", b)
	}

	all, err := ClientBindings(tx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Position != 0 || all[1].Position != 1 {
		t.Fatalf("got %+v", all)
	}

	known, err := HasBindings(tx, "beta")
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Fatal("beta should be known")
	}
	known, err = HasBindings(tx, "gamma")
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Fatal("gamma should be unknown")
	}
}

func TestDeleteBindingsForTabFiltersClients(t *testing.T) {
	st := newTestStore(t)
	tx := testTx(t, st)
	ids := seedTabs(t, tx, "https://a.test")

	if err := InsertBinding(tx, "alpha", 1, 0, ids[0]); err != nil {
		t.Fatal(err)
	}
	if err := InsertBinding(tx, "beta", 2, 0, ids[0]); err != nil {
		t.Fatal(err)
	}

	removed, err := DeleteBindingsForTab(tx, ids[0], []string{"alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0].ClientID != "alpha" || removed[0].LocalID != 1 {
		t.Fatalf("removed %+v", removed)
	}

	// beta's binding stays frozen.
	b, err := BindingForTab(tx, "beta", ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if b == nil {
		t.Fatal("beta's binding should survive")
	}
}

func TestShiftBindingsKeepsUniqueness(t *testing.T) {
	st := newTestStore(t)
	tx := testTx(t, st)
	ids := seedTabs(t, tx, "https://a.test", "https://b.test", "https://c.test")

	for i, id := range ids {
		if err := InsertBinding(tx, "alpha", int64(100+i), i, id); err != nil {
			t.Fatal(err)
		}
	}

	if err := ShiftBindings(tx, []string{"alpha"}, 0, 1<<30, 1); err != nil {
		t.Fatalf("shift bindings: %v", err)
	}

	all, err := ClientBindings(tx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range all {
		if b.Position != i+1 {
			t.Fatalf("binding %d at position %d, want %d", i, b.Position, i+1)
		}
	}
}

func TestPendingCreateLedger(t *testing.T) {
	st := newTestStore(t)
	tx := testTx(t, st)

	type token struct {
		TabID string `json:"tabId"`
	}
	id, err := RecordPending(tx, token{TabID: "tab-test"})
	if err != nil {
		t.Fatal(err)
	}

	var got token
	if err := LookupPending(tx, id, &got); err != nil {
		t.Fatal(err)
	}
	if got.TabID != "tab-test" {
		t.Fatalf("payload %+v", got)
	}

	if err := Fulfill(tx, id); err != nil {
		t.Fatal(err)
	}
	err = LookupPending(tx, id, &got)
	if !errors.Is(err, ErrUnknownCorrelation) {
		t.Fatalf("err = %v, want ErrUnknownCorrelation", err)
	}
}

func TestExpirePending(t *testing.T) {
	st := newTestStore(t)
	tx := testTx(t, st)
	if _, err := RecordPending(tx, map[string]string{"tabId": "tab-old"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	n, err := st.ExpirePending(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("fresh record expired: %d", n)
	}

	n, err = st.ExpirePending(-time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
}

func TestMarkProcessedDeduplicates(t *testing.T) {
	st := newTestStore(t)
	tx := testTx(t, st)

	first, err := MarkProcessed(tx, "alpha", "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Fatal("first mark should report fresh")
	}
	again, err := MarkProcessed(tx, "alpha", "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if again {
		t.Fatal("second mark should report duplicate")
	}

	seen, err := IsProcessed(tx, "alpha", "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatal("op-1 should be recorded")
	}
	seen, err = IsProcessed(tx, "beta", "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Fatal("keys are per client")
	}
}
