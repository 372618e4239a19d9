// Package diff computes the operation script that transforms one snapshot
// of the ordered tab collection into another. Snapshot entries are
// correlated by stable id, never by position.
package diff

import (
	"sort"

	"github.com/marcus/tabsync/internal/op"
)

// Entry is one open tab in a snapshot.
type Entry struct {
	ID  string // stable id correlating the same tab across snapshots
	Pos int
	URL string
}

// Change is one scripted operation together with the id of the tab it
// concerns. For a Create that is the id of the tab being introduced.
type Change struct {
	Op    op.Op
	TabID string
}

// Ops strips the tab ids off a change list.
func Ops(changes []Change) []op.Op {
	ops := make([]op.Op, len(changes))
	for i, c := range changes {
		ops[i] = c.Op
	}
	return ops
}

// item tracks one tab through the phases of the computation.
type item struct {
	id     string
	cur    int // position right now, adjusted as the script grows
	target int // position in the new snapshot
	oldURL string
	newURL string
}

// Changes returns an ordered script such that replaying it against old
// reproduces new's open set, order, and urls. Creates come first (ascending
// by target position), then closes, then moves, then url changes. Multiple
// minimal move decompositions exist; Changes picks the entry with the
// largest remaining displacement each round.
func Changes(oldSnap, newSnap []Entry) []Change {
	newByID := make(map[string]Entry, len(newSnap))
	for _, e := range newSnap {
		newByID[e.ID] = e
	}
	oldByID := make(map[string]Entry, len(oldSnap))
	for _, e := range oldSnap {
		oldByID[e.ID] = e
	}

	items := make([]*item, 0, len(oldSnap)+len(newSnap))
	for _, e := range oldSnap {
		it := &item{id: e.ID, cur: e.Pos, target: -1, oldURL: e.URL}
		if n, ok := newByID[e.ID]; ok {
			it.target = n.Pos
			it.newURL = n.URL
		}
		items = append(items, it)
	}

	var script []Change

	// Phase 1: creates, ascending by target position. Each create shifts
	// every tab currently at or after its target one step forward.
	var created []Entry
	for _, e := range newSnap {
		if _, ok := oldByID[e.ID]; !ok {
			created = append(created, e)
		}
	}
	sort.Slice(created, func(i, j int) bool { return created[i].Pos < created[j].Pos })
	for _, e := range created {
		for _, it := range items {
			if it.cur >= e.Pos {
				it.cur++
			}
		}
		items = append(items, &item{id: e.ID, cur: e.Pos, target: e.Pos, oldURL: e.URL, newURL: e.URL})
		script = append(script, Change{
			Op:    op.NewCreate(e.Pos, e.URL, true),
			TabID: e.ID,
		})
	}

	// Phase 2: closes at phase-1-adjusted positions. Each close shifts
	// every tab after it one step back.
	var survivors []*item
	for _, it := range items {
		if it.target >= 0 {
			survivors = append(survivors, it)
		}
	}
	for _, it := range items {
		if it.target >= 0 {
			continue
		}
		script = append(script, Change{Op: op.NewClose(it.cur), TabID: it.id})
		for _, other := range items {
			if other != it && other.cur > it.cur {
				other.cur--
			}
		}
	}
	items = survivors

	// Phase 3: moves. Repeatedly relocate the tab with the largest
	// remaining displacement; the positions strictly between its old and
	// new spot shift by one to absorb it.
	for limit := len(items) * len(items); limit >= 0; limit-- {
		var pick *item
		for _, it := range items {
			d := abs(it.target - it.cur)
			if d == 0 {
				continue
			}
			if pick == nil || d > abs(pick.target-pick.cur) ||
				(d == abs(pick.target-pick.cur) && it.cur < pick.cur) {
				pick = it
			}
		}
		if pick == nil {
			break
		}
		from, to := pick.cur, pick.target
		script = append(script, Change{Op: op.NewMove(from, to), TabID: pick.id})
		for _, it := range items {
			if it == pick {
				continue
			}
			switch {
			case to > from && it.cur > from && it.cur <= to:
				it.cur--
			case to < from && it.cur >= to && it.cur < from:
				it.cur++
			}
		}
		pick.cur = to
	}

	// Phase 4: url corrections for surviving tabs, at their final
	// positions. Closed tabs never emit one.
	for _, it := range items {
		if it.oldURL != it.newURL {
			script = append(script, Change{Op: op.NewSetURL(it.cur, it.newURL), TabID: it.id})
		}
	}

	return script
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
