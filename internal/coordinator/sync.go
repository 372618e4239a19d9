package coordinator

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/marcus/tabsync/internal/diff"
	"github.com/marcus/tabsync/internal/op"
	"github.com/marcus/tabsync/internal/optimize"
	"github.com/marcus/tabsync/internal/projection"
	"github.com/marcus/tabsync/internal/store"
)

// ClientTab is one row of the live snapshot a client reports: the tab's
// ephemeral local id, its position in the client's list, and its url.
type ClientTab struct {
	LocalID int64
	Pos     int
	URL     string
}

// SyncResult summarizes a batch sync.
type SyncResult struct {
	Bootstrapped bool
	Applied      int // client operations applied to canonical state
	Corrective   int // commands sent back to the syncing client
}

// SyncBatch is the batch entry point: a client submits its buffered
// operations together with its current live snapshot. A never-seen client
// is bootstrapped from the snapshot; a known client is reconciled.
func (c *Coordinator) SyncBatch(clientID string, ops []op.Op, snapshot []ClientTab) (SyncResult, error) {
	snap := make([]ClientTab, len(snapshot))
	copy(snap, snapshot)
	sort.Slice(snap, func(i, j int) bool { return snap[i].Pos < snap[j].Pos })

	c.mu.Lock()
	result, out, err := func() (SyncResult, []outbound, error) {
		var result SyncResult

		tx, err := c.store.Begin()
		if err != nil {
			return result, nil, fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		known, err := store.HasBindings(tx, clientID)
		if err != nil {
			return result, nil, err
		}

		var out []outbound
		if !known {
			out, err = c.bootstrap(tx, clientID, snap)
			result.Bootstrapped = true
		} else {
			out, result.Applied, result.Corrective, err = c.reconcile(tx, clientID, ops, snap)
		}
		if err != nil {
			return result, nil, err
		}

		// Every submitted key is recorded, including operations the
		// optimizer cancelled: a retransmitted batch must be a no-op.
		for _, o := range ops {
			if _, err := store.MarkProcessed(tx, clientID, o.ID); err != nil {
				return result, nil, err
			}
		}

		if err := tx.Commit(); err != nil {
			return result, nil, fmt.Errorf("commit: %w", err)
		}
		return result, out, nil
	}()
	c.mu.Unlock()
	if err != nil {
		return result, err
	}
	c.dispatch(out)
	return result, nil
}

// bootstrap admits a never-seen client. Its reported tabs are matched
// against canonical tabs by case-insensitive url; urls canonical does not
// have become new canonical tabs at the tail and are pushed to the other
// connected clients. Canonical tabs the client did not report are
// answered with tail-positioned close commands back to the client.
func (c *Coordinator) bootstrap(tx *sql.Tx, clientID string, snap []ClientTab) ([]outbound, error) {
	canonical, err := store.OpenTabs(tx)
	if err != nil {
		return nil, err
	}
	peers := c.connectedExcept(clientID)

	matched := make([]bool, len(canonical))
	var out []outbound
	var surplus []ClientTab

	for _, ct := range snap {
		idx := -1
		for i, tab := range canonical {
			if !matched[i] && strings.EqualFold(tab.URL, ct.URL) {
				idx = i
				break
			}
		}
		if idx < 0 {
			surplus = append(surplus, ct)
			continue
		}
		matched[idx] = true
		if err := store.InsertBinding(tx, clientID, ct.LocalID, *canonical[idx].Position, canonical[idx].ID); err != nil {
			return nil, err
		}
	}

	// Client tabs with no canonical counterpart: new canonical tabs,
	// appended at the tail in the client's order and fanned out to the
	// already-connected clients.
	for _, ct := range surplus {
		count, err := store.OpenTabCount(tx)
		if err != nil {
			return nil, err
		}
		local := ct.LocalID
		_, created, err := c.applyCreate(tx, clientID, &local, count, ct.URL, true, peers, true)
		if err != nil {
			return nil, err
		}
		out = append(out, created...)
	}

	// Canonical tabs the client did not report: tell the client to close
	// whatever it may still hold past its reported tail. Canonical state
	// stays authoritative; for a client that truly lacks those tabs the
	// commands are no-ops.
	tail := len(snap)
	deficit := 0
	for i := range canonical {
		if matched[i] {
			continue
		}
		out = append(out, outbound{clientID: clientID, cmd: Command{
			Type:               CmdCloseTab,
			Position:           tail + deficit,
			FromReconciliation: true,
		}})
		deficit++
	}

	slog.Info("client bootstrapped",
		"client", clientID, "reported", len(snap), "created", len(surplus), "deficit", deficit)
	return out, nil
}

// reconcile merges a known client's buffered operations with the
// canonical changes it missed while away.
func (c *Coordinator) reconcile(tx *sql.Tx, clientID string, rawOps []op.Op, snap []ClientTab) ([]outbound, int, int, error) {
	bindings, err := store.ClientBindings(tx, clientID)
	if err != nil {
		return nil, 0, 0, err
	}

	snapByPos := make(map[int]ClientTab, len(snap))
	for _, ct := range snap {
		snapByPos[ct.Pos] = ct
	}

	// Operations already applied in an earlier batch are dropped up
	// front; a retransmission must neither reapply them nor project
	// binding positions through them a second time.
	fresh := make([]op.Op, 0, len(rawOps))
	for _, o := range rawOps {
		seen, err := store.IsProcessed(tx, clientID, o.ID)
		if err != nil {
			return nil, 0, 0, err
		}
		if !seen {
			fresh = append(fresh, o)
		}
	}

	// Step 1: repair identity drift. Local ids may have been reassigned
	// since the client last connected; the binding position projected
	// through the buffered operations lands on the tab's position in the
	// reported snapshot, which carries its current local id.
	if err := c.repairLocalIDs(tx, bindings, fresh, snapByPos); err != nil {
		return nil, 0, 0, err
	}
	bindings, err = store.ClientBindings(tx, clientID)
	if err != nil {
		return nil, 0, 0, err
	}

	// The client's last-synchronized frame, frozen before anything below
	// rewrites binding positions. Buffered operation positions resolve
	// against this frame.
	lastByPos := make(map[int]store.Binding, len(bindings))
	for _, b := range bindings {
		lastByPos[b.Position] = b
	}

	// Step 2: snap the client's binding positions to current canonical
	// positions, dropping bindings whose tab closed while the client was
	// away. From here on the bindings live in canonical coordinates and
	// shift consistently with everyone else's; the frozen frame captured
	// above keeps resolving the buffered operations.
	if err := c.rebindToCanonical(tx, clientID); err != nil {
		return nil, 0, 0, err
	}

	// Step 3: apply the client's buffered operations to canonical state
	// in original order, fanning each effect out to the other clients.
	// This runs before the corrective diff so the client's own offline
	// changes are already canonical and never diffed back at it.
	applied, fanout, err := c.applyClientOps(tx, clientID, fresh, snapByPos, lastByPos)
	if err != nil {
		return nil, 0, 0, err
	}

	// Step 4: corrective script. Whatever still separates the client's
	// reported state from canonical happened while the client was away;
	// it is sent back to this client only.
	corrective, err := c.correctFor(tx, clientID, snap)
	if err != nil {
		return nil, 0, 0, err
	}

	out := append(fanout, corrective...)
	return out, applied, len(corrective), nil
}

// repairLocalIDs re-derives the current local id for each bound canonical
// tab. Rebinding goes through a reserved negative range first so that two
// bindings swapping local ids never trip the uniqueness constraint.
func (c *Coordinator) repairLocalIDs(tx *sql.Tx, bindings []store.Binding, fresh []op.Op, snapByPos map[int]ClientTab) error {
	type rebind struct {
		bindingID int64
		localID   int64
	}
	reported := make(map[int64]bool, len(snapByPos))
	for _, ct := range snapByPos {
		reported[ct.LocalID] = true
	}

	var rebinds []rebind
	var stale []store.Binding
	for _, b := range bindings {
		pos, ok := projection.Forward(b.Position, fresh)
		if !ok {
			// The client closed this tab while offline; the close in the
			// buffered batch will collect the binding.
			stale = append(stale, b)
			continue
		}
		ct, ok := snapByPos[pos]
		if !ok || ct.LocalID == b.LocalID {
			continue
		}
		rebinds = append(rebinds, rebind{bindingID: b.ID, localID: ct.LocalID})
	}
	// A binding for a tab closed offline may still squat on a local id
	// the browser has since reassigned; move it out of the way.
	for _, b := range stale {
		if reported[b.LocalID] {
			rebinds = append(rebinds, rebind{bindingID: b.ID, localID: -b.ID - 1})
		}
	}
	for _, r := range rebinds {
		if err := store.SetBindingLocalID(tx, r.bindingID, -r.bindingID-1); err != nil {
			return err
		}
	}
	for _, r := range rebinds {
		if err := store.SetBindingLocalID(tx, r.bindingID, r.localID); err != nil {
			return err
		}
	}
	return nil
}

// correctFor diffs the client's reported state against current canonical
// state and turns the script into commands for that client. The snapshot
// must be sorted by position.
func (c *Coordinator) correctFor(tx *sql.Tx, clientID string, snap []ClientTab) ([]outbound, error) {
	old := make([]diff.Entry, 0, len(snap))
	localByTab := make(map[string]int64, len(snap))
	for i, ct := range snap {
		b, err := store.GetBinding(tx, clientID, ct.LocalID)
		if err != nil {
			return nil, err
		}
		id := fmt.Sprintf("unbound-%d", ct.LocalID)
		if b != nil {
			id = b.TabID
		}
		localByTab[id] = ct.LocalID
		old = append(old, diff.Entry{ID: id, Pos: i, URL: ct.URL})
	}

	canonical, err := store.OpenTabs(tx)
	if err != nil {
		return nil, err
	}
	now := make([]diff.Entry, 0, len(canonical))
	for _, t := range canonical {
		now = append(now, diff.Entry{ID: t.ID, Pos: *t.Position, URL: t.URL})
	}

	var out []outbound
	for _, ch := range diff.Changes(old, now) {
		switch ch.Op.Kind {
		case op.Create:
			corrID, err := store.RecordPending(tx, pendingCreate{
				TabID:    ch.TabID,
				ClientID: clientID,
				Position: ch.Op.Pos,
				URL:      ch.Op.URL,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, outbound{clientID: clientID, cmd: Command{
				Type:               CmdCreateTab,
				CorrelationID:      corrID,
				Position:           ch.Op.Pos,
				URL:                ch.Op.URL,
				Background:         true,
				FromReconciliation: true,
			}})
		case op.Close:
			out = append(out, outbound{clientID: clientID, cmd: Command{
				Type:               CmdCloseTab,
				LocalID:            localByTab[ch.TabID],
				Position:           ch.Op.Pos,
				FromReconciliation: true,
			}})
		case op.Move:
			out = append(out, outbound{clientID: clientID, cmd: Command{
				Type:               CmdMoveTab,
				LocalID:            localByTab[ch.TabID],
				Position:           ch.Op.Pos,
				NewPosition:        ch.Op.To,
				FromReconciliation: true,
			}})
		case op.SetURL:
			out = append(out, outbound{clientID: clientID, cmd: Command{
				Type:               CmdChangeURL,
				LocalID:            localByTab[ch.TabID],
				Position:           ch.Op.Pos,
				URL:                ch.Op.URL,
				FromReconciliation: true,
			}})
		}
	}
	return out, nil
}

// applyClientOps replays the client's buffered operations against
// canonical state. Each operation names a slot in the client's
// last-synchronized frame; a working model of that frame resolves the
// slot to a canonical tab, and the effect is applied by tab identity.
func (c *Coordinator) applyClientOps(tx *sql.Tx, clientID string, fresh []op.Op, snapByPos map[int]ClientTab, lastByPos map[int]store.Binding) (int, []outbound, error) {
	opt := optimize.Optimize(fresh)

	maxPos := -1
	for pos := range lastByPos {
		if pos > maxPos {
			maxPos = pos
		}
	}
	model := make([]string, 0, maxPos+1)
	for pos := 0; pos <= maxPos; pos++ {
		if b, ok := lastByPos[pos]; ok {
			model = append(model, b.TabID)
		}
	}

	peers := c.connectedExcept(clientID)
	applied := 0
	var out []outbound
	for k, o := range opt {
		switch o.Kind {
		case op.Create:
			p := clamp(o.Pos, 0, len(model))
			canonPos, err := canonicalSlot(tx, model, p)
			if err != nil {
				return 0, nil, err
			}
			// The surviving create is present in the client's final
			// snapshot; its slot there carries the local id to bind.
			var originLocal *int64
			if finalPos, ok := projection.Forward(p, opt[k+1:]); ok {
				if ct, ok := snapByPos[finalPos]; ok {
					id := ct.LocalID
					originLocal = &id
				}
			}
			if originLocal == nil {
				slog.Warn("buffered create missing from snapshot", "client", clientID, "position", o.Pos)
			}
			tabID, created, err := c.applyCreate(tx, clientID, originLocal, canonPos, o.URL, o.Background, peers, false)
			if err != nil {
				return 0, nil, err
			}
			out = append(out, created...)
			model = append(model[:p], append([]string{tabID}, model[p:]...)...)
			applied++

		case op.Move:
			if o.Pos < 0 || o.Pos >= len(model) {
				continue
			}
			tabID := model[o.Pos]
			q := clamp(o.To, 0, len(model)-1)
			model = append(model[:o.Pos], model[o.Pos+1:]...)
			model = append(model[:q], append([]string{tabID}, model[q:]...)...)

			target, err := moveTarget(tx, model, q, tabID)
			if err != nil {
				return 0, nil, err
			}
			fan, err := c.applyMove(tx, tabID, target, clientID, peers, false)
			if err != nil {
				return 0, nil, err
			}
			out = append(out, fan...)
			applied++

		case op.Close:
			if o.Pos < 0 || o.Pos >= len(model) {
				continue
			}
			tabID := model[o.Pos]
			model = append(model[:o.Pos], model[o.Pos+1:]...)
			fan, err := c.applyClose(tx, tabID, clientID, peers, false)
			if err != nil {
				return 0, nil, err
			}
			out = append(out, fan...)
			applied++

		case op.SetURL:
			if o.Pos < 0 || o.Pos >= len(model) {
				continue
			}
			fan, err := c.applyURL(tx, model[o.Pos], o.URL, clientID, peers, false)
			if err != nil {
				return 0, nil, err
			}
			out = append(out, fan...)
			applied++
		}
	}
	return applied, out, nil
}

// canonicalSlot returns the canonical position at which to insert a tab
// so that it lands before model[p]. Tabs closed canonically since the
// client's last synchronization are skipped over.
func canonicalSlot(tx *sql.Tx, model []string, p int) (int, error) {
	for i := p; i < len(model); i++ {
		tab, err := store.GetTab(tx, model[i])
		if err != nil {
			return 0, err
		}
		if tab != nil && tab.Position != nil {
			return *tab.Position, nil
		}
	}
	return store.OpenTabCount(tx)
}

// moveTarget returns the canonical final position for tabID given the
// post-move model with the tab at index q.
func moveTarget(tx *sql.Tx, model []string, q int, tabID string) (int, error) {
	cur, err := store.GetTab(tx, tabID)
	if err != nil {
		return 0, err
	}
	if cur == nil || cur.Position == nil {
		return 0, nil
	}
	for i := q + 1; i < len(model); i++ {
		next, err := store.GetTab(tx, model[i])
		if err != nil {
			return 0, err
		}
		if next == nil || next.Position == nil {
			continue
		}
		if *cur.Position < *next.Position {
			return *next.Position - 1, nil
		}
		return *next.Position, nil
	}
	count, err := store.OpenTabCount(tx)
	if err != nil {
		return 0, err
	}
	return count - 1, nil
}

// rebindToCanonical snaps the client's binding positions to current
// canonical positions and drops bindings whose tab is gone. Positions
// detour through a reserved negative range to keep (client, position)
// unique mid-rewrite.
func (c *Coordinator) rebindToCanonical(tx *sql.Tx, clientID string) error {
	bindings, err := store.ClientBindings(tx, clientID)
	if err != nil {
		return err
	}
	type target struct {
		bindingID int64
		position  int
	}
	var targets []target
	for _, b := range bindings {
		tab, err := store.GetTab(tx, b.TabID)
		if err != nil {
			return err
		}
		if tab == nil || tab.Position == nil {
			if err := store.DeleteBinding(tx, b.ID); err != nil {
				return err
			}
			continue
		}
		if *tab.Position != b.Position {
			targets = append(targets, target{bindingID: b.ID, position: *tab.Position})
		}
	}
	for _, t := range targets {
		if err := store.SetBindingPosition(tx, t.bindingID, int(-t.bindingID-1)); err != nil {
			return err
		}
	}
	for _, t := range targets {
		if err := store.SetBindingPosition(tx, t.bindingID, t.position); err != nil {
			return err
		}
	}
	return nil
}
