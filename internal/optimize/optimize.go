// Package optimize compresses a raw operation log into an equivalent
// minimal one. Replaying the optimized script is observationally
// equivalent to replaying the raw script it came from.
package optimize

import (
	"slices"

	"github.com/marcus/tabsync/internal/op"
)

// Optimize returns a minimal script with the same external effect as raw.
// It absorbs url changes into the create they follow, merges repeated url
// changes on one tab, and cancels create/close pairs that both happen
// within the script, together with every operation correlated to the
// cancelled tab. The input is not modified.
func Optimize(raw []op.Op) []op.Op {
	ops := slices.Clone(raw)
	alive := make([]bool, len(ops))
	for i := range alive {
		alive[i] = true
	}

	for i := range ops {
		if !alive[i] {
			continue
		}
		switch ops[i].Kind {
		case op.Create:
			compactCreate(ops, alive, i)
		case op.SetURL:
			mergeURLChanges(ops, alive, i)
		}
	}

	out := make([]op.Op, 0, len(ops))
	for i, o := range ops {
		if alive[i] {
			out = append(out, o)
		}
	}
	return out
}

// compactCreate follows the tab introduced at ops[i] through the rest of
// the script. Url changes on it are folded into the create; if the tab is
// closed before the script ends, the create, the close, and everything
// correlated in between are dropped and the positions of the intervening
// uncorrelated operations are corrected for the removed tab.
func compactCreate(ops []op.Op, alive []bool, i int) {
	tracked := ops[i].Pos
	correlated := []int{i}
	// Position of the created tab at the time each intervening op was
	// recorded, used to unshift those ops if the create is cancelled.
	trackedAt := make(map[int]int)

	for j := i + 1; j < len(ops); j++ {
		if !alive[j] {
			continue
		}
		o := ops[j]
		switch o.Kind {
		case op.Create:
			trackedAt[j] = tracked
			if o.Pos <= tracked {
				tracked++
			}
		case op.SetURL:
			if o.Pos == tracked {
				ops[i].URL = o.URL
				alive[j] = false
				correlated = append(correlated, j)
				continue
			}
			trackedAt[j] = tracked
		case op.Move:
			if o.Pos == tracked {
				tracked = o.To
				correlated = append(correlated, j)
				continue
			}
			trackedAt[j] = tracked
			switch {
			case o.Pos > tracked && o.To <= tracked:
				tracked++
			case o.Pos < tracked && o.To >= tracked:
				tracked--
			}
		case op.Close:
			if o.Pos == tracked {
				// Created and closed within the same script: the tab
				// never outlives it. Drop the whole group and correct
				// the intervening survivors.
				for _, k := range correlated {
					alive[k] = false
				}
				alive[j] = false
				unshiftBetween(ops, alive, i, j, trackedAt)
				return
			}
			trackedAt[j] = tracked
			if o.Pos < tracked {
				tracked--
			}
		}
	}
}

// unshiftBetween rewrites the position fields of surviving ops between a
// cancelled create at i and its close at j. Each such op was recorded in a
// world where the cancelled tab occupied trackedAt[k]; removing the tab
// pulls every position beyond that point down by one. A move's source is
// in pre-move coordinates, but its target names a slot in the post-move
// arrangement, where the cancelled tab may itself have been displaced by
// the move; the target is corrected against that displaced position. Ops
// after the close already live in post-close coordinates and need no
// correction.
func unshiftBetween(ops []op.Op, alive []bool, i, j int, trackedAt map[int]int) {
	for k := i + 1; k < j; k++ {
		if !alive[k] {
			continue
		}
		at, ok := trackedAt[k]
		if !ok {
			continue
		}
		if ops[k].Kind == op.Move {
			after := at
			switch {
			case ops[k].Pos > at && ops[k].To <= at:
				after++
			case ops[k].Pos < at && ops[k].To >= at:
				after--
			}
			if ops[k].Pos > at {
				ops[k].Pos--
			}
			if ops[k].To > after {
				ops[k].To--
			}
			continue
		}
		if ops[k].Pos > at {
			ops[k].Pos--
		}
	}
}

// mergeURLChanges drops ops[i] if a later url change targets the same
// tracked tab before anything closes it. The later change keeps its own
// url, which is all that is observable.
func mergeURLChanges(ops []op.Op, alive []bool, i int) {
	tracked := ops[i].Pos
	for j := i + 1; j < len(ops); j++ {
		if !alive[j] {
			continue
		}
		o := ops[j]
		switch o.Kind {
		case op.Create:
			if o.Pos <= tracked {
				tracked++
			}
		case op.SetURL:
			if o.Pos == tracked {
				alive[i] = false
				return
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
		case op.Close:
			if o.Pos == tracked {
				// Grouping interrupted by close: a later create reusing
				// this position is a different tab.
				return
			}
			if o.Pos < tracked {
				tracked--
			}
		}
	}
}
