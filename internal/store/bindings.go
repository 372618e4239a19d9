package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// InsertBinding binds a client local id to a canonical tab at position.
func InsertBinding(tx *sql.Tx, clientID string, localID int64, position int, tabID string) error {
	_, err := tx.Exec(
		`INSERT INTO bindings (client_id, client_local_id, position, tab_id) VALUES (?, ?, ?, ?)`,
		clientID, localID, position, tabID,
	)
	if err != nil {
		return fmt.Errorf("insert binding %s/%d: %w", clientID, localID, err)
	}
	return nil
}

// GetBinding returns the binding for (clientID, localID), or nil.
func GetBinding(tx *sql.Tx, clientID string, localID int64) (*Binding, error) {
	row := tx.QueryRow(
		`SELECT id, client_id, client_local_id, position, tab_id FROM bindings
		 WHERE client_id = ? AND client_local_id = ?`,
		clientID, localID,
	)
	return scanBinding(row)
}

// BindingForTab returns clientID's binding for the given canonical tab,
// or nil if the client does not track it.
func BindingForTab(tx *sql.Tx, clientID, tabID string) (*Binding, error) {
	row := tx.QueryRow(
		`SELECT id, client_id, client_local_id, position, tab_id FROM bindings
		 WHERE client_id = ? AND tab_id = ?`,
		clientID, tabID,
	)
	return scanBinding(row)
}

func scanBinding(row *sql.Row) (*Binding, error) {
	var b Binding
	if err := row.Scan(&b.ID, &b.ClientID, &b.LocalID, &b.Position, &b.TabID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	return &b, nil
}

// ClientBindings returns all bindings for a client ordered by position.
func ClientBindings(tx *sql.Tx, clientID string) ([]Binding, error) {
	rows, err := tx.Query(
		`SELECT id, client_id, client_local_id, position, tab_id FROM bindings
		 WHERE client_id = ? ORDER BY position ASC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query bindings for %s: %w", clientID, err)
	}
	defer rows.Close()

	var bindings []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.ID, &b.ClientID, &b.LocalID, &b.Position, &b.TabID); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return bindings, nil
}

// HasBindings reports whether the client has any bindings at all; a
// client without bindings has never completed bootstrap.
func HasBindings(tx *sql.Tx, clientID string) (bool, error) {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM bindings WHERE client_id = ?`, clientID).Scan(&n); err != nil {
		return false, fmt.Errorf("count bindings for %s: %w", clientID, err)
	}
	return n > 0, nil
}

// SetBindingLocalID rebinds a row to a new client local id, used when a
// client restart reassigned its local identifiers.
func SetBindingLocalID(tx *sql.Tx, id int64, localID int64) error {
	if _, err := tx.Exec(`UPDATE bindings SET client_local_id = ? WHERE id = ?`, localID, id); err != nil {
		return fmt.Errorf("set binding %d local id: %w", id, err)
	}
	return nil
}

// SetBindingPosition updates a single binding's synchronized position.
func SetBindingPosition(tx *sql.Tx, id int64, position int) error {
	if _, err := tx.Exec(`UPDATE bindings SET position = ? WHERE id = ?`, position, id); err != nil {
		return fmt.Errorf("set binding %d position: %w", id, err)
	}
	return nil
}

// DeleteBinding removes one binding row.
func DeleteBinding(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec(`DELETE FROM bindings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete binding %d: %w", id, err)
	}
	return nil
}

// DeleteBindingsForTab removes the listed clients' bindings for a tab and
// returns the removed rows so the caller can address each client. Other
// clients' bindings stay frozen at their last-synchronized state until
// those clients reconcile.
func DeleteBindingsForTab(tx *sql.Tx, tabID string, clientIDs []string) ([]Binding, error) {
	if len(clientIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(clientIDs)), ",")
	args := []any{tabID}
	for _, id := range clientIDs {
		args = append(args, id)
	}

	rows, err := tx.Query(
		`SELECT id, client_id, client_local_id, position, tab_id FROM bindings
		 WHERE tab_id = ? AND client_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query bindings for tab %s: %w", tabID, err)
	}
	var removed []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.ID, &b.ClientID, &b.LocalID, &b.Position, &b.TabID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		removed = append(removed, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	rows.Close()

	if _, err := tx.Exec(
		`DELETE FROM bindings WHERE tab_id = ? AND client_id IN (`+placeholders+`)`,
		args...,
	); err != nil {
		return nil, fmt.Errorf("delete bindings for tab %s: %w", tabID, err)
	}
	return removed, nil
}

// ShiftBindings adds delta to the position of every binding with
// lo <= position <= hi for the listed clients. Like ShiftTabs it detours
// through negated positions to keep the (client_id, position) index
// consistent mid-update.
func ShiftBindings(tx *sql.Tx, clientIDs []string, lo, hi, delta int) error {
	if delta == 0 || len(clientIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(clientIDs)), ",")
	args := []any{delta, lo, hi}
	for _, id := range clientIDs {
		args = append(args, id)
	}
	_, err := tx.Exec(
		`UPDATE bindings SET position = -(position + ?) - 1
		 WHERE position >= ? AND position <= ? AND client_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("shift bindings: %w", err)
	}
	if _, err := tx.Exec(`UPDATE bindings SET position = -position - 1 WHERE position < 0`); err != nil {
		return fmt.Errorf("unshift bindings: %w", err)
	}
	return nil
}
