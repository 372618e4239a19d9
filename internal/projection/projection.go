// Package projection simulates how a single tracked tab position moves
// through a sequence of pending operations, forward or backward in time.
// Both directions are pure index arithmetic; neither touches tab state.
package projection

import "github.com/marcus/tabsync/internal/op"

// Forward applies ops in order to one tracked position and reports where
// it ends up. The second result is false when the tracked tab is removed
// by a Close along the way; the position cannot be traced past that.
func Forward(pos int, ops []op.Op) (int, bool) {
	tracked := pos
	for _, o := range ops {
		switch o.Kind {
		case op.Create:
			if o.Pos <= tracked {
				tracked++
			}
		case op.Close:
			if o.Pos == tracked {
				return 0, false
			}
			if o.Pos < tracked {
				tracked--
			}
		case op.Move:
			switch {
			case o.Pos == tracked:
				tracked = o.To
			case o.Pos > tracked && o.To <= tracked:
				tracked++
			case o.Pos < tracked && o.To >= tracked:
				tracked--
			}
		}
	}
	return tracked, true
}

// Backward traces a position back through ops, undoing them newest-first:
// where was the tab that is now at pos before these operations ran?
// The second result is false when the trace hits a Create at the tracked
// position — the tab did not exist before that operation.
func Backward(pos int, ops []op.Op) (int, bool) {
	tracked := pos
	for i := len(ops) - 1; i >= 0; i-- {
		o := ops[i]
		switch o.Kind {
		case op.Create:
			if o.Pos == tracked {
				return 0, false
			}
			if o.Pos < tracked {
				tracked--
			}
		case op.Close:
			// Undoing a close re-inserts the tab, shifting everything
			// at or after it up by one.
			if o.Pos <= tracked {
				tracked++
			}
		case op.Move:
			// The inverse of Pos->To is To->Pos.
			switch {
			case o.To == tracked:
				tracked = o.Pos
			case o.To > tracked && o.Pos <= tracked:
				tracked++
			case o.To < tracked && o.Pos >= tracked:
				tracked--
			}
		}
	}
	return tracked, true
}
