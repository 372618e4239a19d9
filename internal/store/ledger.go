package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownCorrelation is returned by LookupPending for a correlation id
// that was never recorded or has already been fulfilled. Receiving an
// acknowledgment for one is a caller contract violation.
var ErrUnknownCorrelation = errors.New("unknown correlation id")

// RecordPending persists a serialized two-phase create token and returns
// its correlation id.
func RecordPending(tx *sql.Tx, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal pending payload: %w", err)
	}
	id := uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO pending_creates (correlation_id, payload) VALUES (?, ?)`,
		id, data,
	); err != nil {
		return "", fmt.Errorf("record pending %s: %w", id, err)
	}
	return id, nil
}

// LookupPending deserializes the payload recorded under id into dest.
func LookupPending(tx *sql.Tx, id string, dest any) error {
	var data []byte
	err := tx.QueryRow(`SELECT payload FROM pending_creates WHERE correlation_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownCorrelation, id)
	}
	if err != nil {
		return fmt.Errorf("lookup pending %s: %w", id, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal pending %s: %w", id, err)
	}
	return nil
}

// Fulfill removes a pending create record.
func Fulfill(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM pending_creates WHERE correlation_id = ?`, id); err != nil {
		return fmt.Errorf("fulfill pending %s: %w", id, err)
	}
	return nil
}

// ExpirePending drops pending create records older than the cutoff and
// returns how many were removed. A record only lingers this long when the
// target client never acknowledged the create.
func (s *Store) ExpirePending(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.conn.Exec(`DELETE FROM pending_creates WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire pending creates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// PendingCount returns the number of outstanding two-phase creates.
func PendingCount(tx *sql.Tx) (int, error) {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM pending_creates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending creates: %w", err)
	}
	return n, nil
}

// MarkProcessed records an operation's idempotency key for a client.
// It returns false when the key was already present, in which case the
// operation must not be applied again.
func MarkProcessed(tx *sql.Tx, clientID, opID string) (bool, error) {
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO processed_ops (client_id, op_id) VALUES (?, ?)`,
		clientID, opID,
	)
	if err != nil {
		return false, fmt.Errorf("mark processed %s/%s: %w", clientID, opID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// IsProcessed reports whether the operation id was already applied for
// the client.
func IsProcessed(tx *sql.Tx, clientID, opID string) (bool, error) {
	var n int
	err := tx.QueryRow(
		`SELECT COUNT(*) FROM processed_ops WHERE client_id = ? AND op_id = ?`,
		clientID, opID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check processed %s/%s: %w", clientID, opID, err)
	}
	return n > 0, nil
}
