package coordinator

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/marcus/tabsync/internal/store"
)

// The single-operation entry points service one live event from one
// connected client: take the critical section, mutate canonical state in
// one transaction, commit, release, then fan the effect out to every
// other connected client.

// AddTab records a tab the client just opened. The client already holds
// the tab locally under localID; peers receive two-phase creates.
func (c *Coordinator) AddTab(clientID string, localID int64, position int, url string, background bool) error {
	c.mu.Lock()
	out, err := func() ([]outbound, error) {
		tx, err := c.store.Begin()
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		tabID, out, err := c.applyCreate(tx, clientID, &localID, position, url, background, c.connectedExcept(clientID), false)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		slog.Debug("tab added", "client", clientID, "tab", tabID, "position", position)
		return out, nil
	}()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.dispatch(out)
	return nil
}

// MoveTab relocates the tab the client knows as localID. A stale local id
// (tab closed concurrently) is a silent no-op.
func (c *Coordinator) MoveTab(clientID string, localID int64, newPosition int) error {
	return c.singleOp(clientID, localID, func(tx *sql.Tx, tabID string) ([]outbound, error) {
		return c.applyMove(tx, tabID, newPosition, clientID, c.connectedExcept(clientID), false)
	})
}

// CloseTab closes the tab the client knows as localID.
func (c *Coordinator) CloseTab(clientID string, localID int64) error {
	return c.singleOp(clientID, localID, func(tx *sql.Tx, tabID string) ([]outbound, error) {
		return c.applyClose(tx, tabID, clientID, c.connectedExcept(clientID), false)
	})
}

// ChangeURL updates the url of the tab the client knows as localID.
func (c *Coordinator) ChangeURL(clientID string, localID int64, newURL string) error {
	return c.singleOp(clientID, localID, func(tx *sql.Tx, tabID string) ([]outbound, error) {
		return c.applyURL(tx, tabID, newURL, clientID, c.connectedExcept(clientID), false)
	})
}

// ActivateTab records that the client focused a tab. Activation is
// tracked but not propagated to other clients.
func (c *Coordinator) ActivateTab(clientID string, localID int64) error {
	return c.singleOp(clientID, localID, func(tx *sql.Tx, tabID string) ([]outbound, error) {
		tab, err := store.GetTab(tx, tabID)
		if err != nil {
			return nil, err
		}
		if tab == nil || tab.Position == nil {
			return nil, nil
		}
		slog.Debug("tab activated", "client", clientID, "tab", tabID, "position", fmtPos(tab.Position))
		return nil, nil
	})
}

// singleOp resolves the client's local id to a canonical tab and runs fn
// under the critical section in one transaction. An unknown local id is
// treated as a stale reference and dropped silently.
func (c *Coordinator) singleOp(clientID string, localID int64, fn func(tx *sql.Tx, tabID string) ([]outbound, error)) error {
	c.mu.Lock()
	out, err := func() ([]outbound, error) {
		tx, err := c.store.Begin()
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		binding, err := store.GetBinding(tx, clientID, localID)
		if err != nil {
			return nil, err
		}
		if binding == nil {
			slog.Debug("stale local id, dropping operation", "client", clientID, "local", localID)
			return nil, tx.Commit()
		}

		out, err := fn(tx, binding.TabID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return out, nil
	}()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.dispatch(out)
	return nil
}

// AckCreate finalizes a two-phase create: the client has created the tab
// locally and reports the local id it assigned. An unknown correlation id
// is a caller contract violation and is returned as an error.
func (c *Coordinator) AckCreate(clientID, correlationID string, localID int64, finalPosition int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.store.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var pc pendingCreate
	if err := store.LookupPending(tx, correlationID, &pc); err != nil {
		return err
	}
	if pc.ClientID != clientID {
		return fmt.Errorf("correlation %s belongs to client %s, not %s", correlationID, pc.ClientID, clientID)
	}

	if err := store.Fulfill(tx, correlationID); err != nil {
		return err
	}

	tab, err := store.GetTab(tx, pc.TabID)
	if err != nil {
		return err
	}
	if tab == nil || tab.Position == nil {
		// The tab was closed while the create was in flight; the client
		// will be told to close it on its next reconciliation.
		slog.Debug("acknowledged create for closed tab", "tab", pc.TabID, "client", clientID)
		return tx.Commit()
	}

	if err := store.InsertBinding(tx, clientID, localID, *tab.Position, pc.TabID); err != nil {
		return err
	}
	if finalPosition != *tab.Position {
		slog.Debug("create ack position differs from canonical",
			"client", clientID, "reported", finalPosition, "canonical", *tab.Position)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
