package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertTab inserts an open tab at the given position. The caller must
// have shifted existing tabs to free the slot.
func InsertTab(tx *sql.Tx, id string, position int, url string) error {
	_, err := tx.Exec(
		`INSERT INTO tabs (id, position, url, last_modified) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`,
		id, position, url,
	)
	if err != nil {
		return fmt.Errorf("insert tab %s: %w", id, err)
	}
	return nil
}

// GetTab returns the tab with the given id, or nil if it does not exist.
func GetTab(tx *sql.Tx, id string) (*Tab, error) {
	row := tx.QueryRow(`SELECT id, position, url FROM tabs WHERE id = ?`, id)
	var t Tab
	var pos sql.NullInt64
	if err := row.Scan(&t.ID, &pos, &t.URL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tab %s: %w", id, err)
	}
	if pos.Valid {
		p := int(pos.Int64)
		t.Position = &p
	}
	return &t, nil
}

// OpenTabs returns all open tabs ordered by position.
func OpenTabs(tx *sql.Tx) ([]Tab, error) {
	rows, err := tx.Query(`SELECT id, position, url FROM tabs WHERE position IS NOT NULL ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("query open tabs: %w", err)
	}
	defer rows.Close()

	var tabs []Tab
	for rows.Next() {
		var t Tab
		var pos int
		if err := rows.Scan(&t.ID, &pos, &t.URL); err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		t.Position = &pos
		tabs = append(tabs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return tabs, nil
}

// OpenTabCount returns the number of open tabs.
func OpenTabCount(tx *sql.Tx) (int, error) {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM tabs WHERE position IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open tabs: %w", err)
	}
	return n, nil
}

// SetTabPosition moves a tab to a new position. The caller shifts the
// tabs in between first.
func SetTabPosition(tx *sql.Tx, id string, position int) error {
	_, err := tx.Exec(
		`UPDATE tabs SET position = ?, last_modified = CURRENT_TIMESTAMP WHERE id = ?`,
		position, id,
	)
	if err != nil {
		return fmt.Errorf("set tab %s position: %w", id, err)
	}
	return nil
}

// SetTabURL updates a tab's url.
func SetTabURL(tx *sql.Tx, id, url string) error {
	_, err := tx.Exec(
		`UPDATE tabs SET url = ?, last_modified = CURRENT_TIMESTAMP WHERE id = ?`,
		url, id,
	)
	if err != nil {
		return fmt.Errorf("set tab %s url: %w", id, err)
	}
	return nil
}

// VacateTab clears a tab's position ahead of a reposition, freeing its
// slot in the open-position index while the surrounding tabs shift.
func VacateTab(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`UPDATE tabs SET position = NULL WHERE id = ?`, id); err != nil {
		return fmt.Errorf("vacate tab %s: %w", id, err)
	}
	return nil
}

// TombstoneTab marks a tab closed by clearing its position. The row is
// kept; closed tabs have no position and never collide in the open index.
func TombstoneTab(tx *sql.Tx, id string) error {
	_, err := tx.Exec(
		`UPDATE tabs SET position = NULL, last_modified = CURRENT_TIMESTAMP WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("tombstone tab %s: %w", id, err)
	}
	return nil
}

// ShiftTabs adds delta to the position of every open tab with
// lo <= position <= hi. The update detours through negated positions so
// the unique open-position index never sees a transient duplicate.
func ShiftTabs(tx *sql.Tx, lo, hi, delta int) error {
	if delta == 0 {
		return nil
	}
	_, err := tx.Exec(
		`UPDATE tabs SET position = -(position + ?) - 1 WHERE position >= ? AND position <= ?`,
		delta, lo, hi,
	)
	if err != nil {
		return fmt.Errorf("shift tabs: %w", err)
	}
	_, err = tx.Exec(`UPDATE tabs SET position = -position - 1 WHERE position < 0`)
	if err != nil {
		return fmt.Errorf("unshift tabs: %w", err)
	}
	return nil
}

// ShiftTabsFrom adds delta to every open tab position at or after lo.
func ShiftTabsFrom(tx *sql.Tx, lo, delta int) error {
	return ShiftTabs(tx, lo, 1<<30, delta)
}
