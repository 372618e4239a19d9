package coordinator

import (
	"database/sql"
	"fmt"

	"github.com/marcus/tabsync/internal/store"
)

// The apply* helpers mutate canonical state inside the caller's
// transaction and return the commands owed to other clients. Binding
// positions are only maintained for the originator and currently
// connected clients; a disconnected client's bindings stay frozen at its
// last synchronized view until it reconciles.

// applyCreate opens a canonical tab at position. When originLocal is
// non-nil the originator already holds the tab locally and is bound
// immediately; every client in peers receives a two-phase CreateTab
// command and is bound on acknowledgment.
func (c *Coordinator) applyCreate(tx *sql.Tx, origin string, originLocal *int64, position int, url string, background bool, peers []string, fromRecon bool) (string, []outbound, error) {
	count, err := store.OpenTabCount(tx)
	if err != nil {
		return "", nil, err
	}
	position = clamp(position, 0, count)

	if err := store.ShiftTabsFrom(tx, position, 1); err != nil {
		return "", nil, err
	}
	shiftClients := append([]string{origin}, peers...)
	if err := store.ShiftBindings(tx, shiftClients, position, 1<<30, 1); err != nil {
		return "", nil, err
	}

	tabID := store.NewTabID()
	if err := store.InsertTab(tx, tabID, position, url); err != nil {
		return "", nil, err
	}
	if originLocal != nil {
		if err := store.InsertBinding(tx, origin, *originLocal, position, tabID); err != nil {
			return "", nil, err
		}
	}

	var out []outbound
	for _, peer := range peers {
		corrID, err := store.RecordPending(tx, pendingCreate{
			TabID:    tabID,
			ClientID: peer,
			Position: position,
			URL:      url,
		})
		if err != nil {
			return "", nil, err
		}
		out = append(out, outbound{clientID: peer, cmd: Command{
			Type:               CmdCreateTab,
			CorrelationID:      corrID,
			Position:           position,
			URL:                url,
			Background:         background,
			FromReconciliation: fromRecon,
		}})
	}
	return tabID, out, nil
}

// applyMove relocates a canonical tab. A move of a tab that is already
// closed is a silent no-op: the reference went stale in flight.
func (c *Coordinator) applyMove(tx *sql.Tx, tabID string, to int, origin string, peers []string, fromRecon bool) ([]outbound, error) {
	tab, err := store.GetTab(tx, tabID)
	if err != nil {
		return nil, err
	}
	if tab == nil || tab.Position == nil {
		return nil, nil
	}
	count, err := store.OpenTabCount(tx)
	if err != nil {
		return nil, err
	}
	from := *tab.Position
	to = clamp(to, 0, count-1)
	if from == to {
		return nil, nil
	}

	// The moving tab vacates its slot before the range shifts, so the
	// unique position indexes never see a duplicate.
	lo, hi, delta := from+1, to, -1
	if to < from {
		lo, hi, delta = to, from-1, 1
	}
	if err := store.VacateTab(tx, tabID); err != nil {
		return nil, err
	}
	if err := store.ShiftTabs(tx, lo, hi, delta); err != nil {
		return nil, err
	}
	if err := store.SetTabPosition(tx, tabID, to); err != nil {
		return nil, err
	}

	var out []outbound
	synced := append([]string{origin}, peers...)
	for _, cid := range synced {
		b, err := store.BindingForTab(tx, cid, tabID)
		if err != nil {
			return nil, err
		}
		if b != nil {
			if err := store.DeleteBinding(tx, b.ID); err != nil {
				return nil, err
			}
		}
		if err := store.ShiftBindings(tx, []string{cid}, lo, hi, delta); err != nil {
			return nil, err
		}
		if b != nil {
			if err := store.InsertBinding(tx, cid, b.LocalID, to, tabID); err != nil {
				return nil, err
			}
			if cid != origin {
				out = append(out, outbound{clientID: cid, cmd: Command{
					Type:               CmdMoveTab,
					LocalID:            b.LocalID,
					Position:           from,
					NewPosition:        to,
					FromReconciliation: fromRecon,
				}})
			}
		}
	}
	return out, nil
}

// applyClose tombstones a canonical tab. Closing an already-closed tab is
// a silent no-op.
func (c *Coordinator) applyClose(tx *sql.Tx, tabID string, origin string, peers []string, fromRecon bool) ([]outbound, error) {
	tab, err := store.GetTab(tx, tabID)
	if err != nil {
		return nil, err
	}
	if tab == nil || tab.Position == nil {
		return nil, nil
	}
	pos := *tab.Position

	if err := store.TombstoneTab(tx, tabID); err != nil {
		return nil, err
	}
	if err := store.ShiftTabsFrom(tx, pos+1, -1); err != nil {
		return nil, err
	}

	synced := append([]string{origin}, peers...)
	removed, err := store.DeleteBindingsForTab(tx, tabID, synced)
	if err != nil {
		return nil, err
	}
	if err := store.ShiftBindings(tx, synced, pos+1, 1<<30, -1); err != nil {
		return nil, err
	}

	var out []outbound
	for _, b := range removed {
		if b.ClientID == origin {
			continue
		}
		out = append(out, outbound{clientID: b.ClientID, cmd: Command{
			Type:               CmdCloseTab,
			LocalID:            b.LocalID,
			Position:           b.Position,
			FromReconciliation: fromRecon,
		}})
	}
	return out, nil
}

// applyURL updates a canonical tab's url. Url changes to a vanished tab
// are silent no-ops.
func (c *Coordinator) applyURL(tx *sql.Tx, tabID, url string, origin string, peers []string, fromRecon bool) ([]outbound, error) {
	tab, err := store.GetTab(tx, tabID)
	if err != nil {
		return nil, err
	}
	if tab == nil || tab.Position == nil {
		return nil, nil
	}
	if err := store.SetTabURL(tx, tabID, url); err != nil {
		return nil, err
	}

	var out []outbound
	for _, cid := range peers {
		b, err := store.BindingForTab(tx, cid, tabID)
		if err != nil {
			return nil, err
		}
		if b == nil {
			continue
		}
		out = append(out, outbound{clientID: cid, cmd: Command{
			Type:               CmdChangeURL,
			LocalID:            b.LocalID,
			Position:           *tab.Position,
			URL:                url,
			FromReconciliation: fromRecon,
		}})
	}
	return out, nil
}

func clamp(n, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func fmtPos(p *int) string {
	if p == nil {
		return "closed"
	}
	return fmt.Sprintf("%d", *p)
}
