package projection

import (
	"math/rand"
	"testing"

	"github.com/marcus/tabsync/internal/op"
)

func TestForwardCreateShifts(t *testing.T) {
	ops := []op.Op{op.NewCreate(2, "https://a.test", false)}

	pos, ok := Forward(5, ops)
	if !ok || pos != 6 {
		t.Fatalf("Forward(5) = %d, %v; want 6, true", pos, ok)
	}
	pos, ok = Forward(1, ops)
	if !ok || pos != 1 {
		t.Fatalf("Forward(1) = %d, %v; want 1, true", pos, ok)
	}
	// A create at the tracked position pushes the occupant right.
	pos, ok = Forward(2, ops)
	if !ok || pos != 3 {
		t.Fatalf("Forward(2) = %d, %v; want 3, true", pos, ok)
	}
}

func TestForwardCloseTerminates(t *testing.T) {
	ops := []op.Op{op.NewClose(3)}

	if _, ok := Forward(3, ops); ok {
		t.Fatal("tracking through a close of the tracked tab should fail")
	}
	pos, ok := Forward(5, ops)
	if !ok || pos != 4 {
		t.Fatalf("Forward(5) = %d, %v; want 4, true", pos, ok)
	}
	pos, ok = Forward(1, ops)
	if !ok || pos != 1 {
		t.Fatalf("Forward(1) = %d, %v; want 1, true", pos, ok)
	}
}

func TestForwardMove(t *testing.T) {
	ops := []op.Op{op.NewMove(1, 4)}

	cases := []struct {
		in, want int
	}{
		{1, 4}, // the moved tab itself
		{0, 0},
		{2, 1},
		{4, 3},
		{5, 5},
	}
	for _, c := range cases {
		pos, ok := Forward(c.in, ops)
		if !ok || pos != c.want {
			t.Errorf("Forward(%d) = %d, %v; want %d, true", c.in, pos, ok, c.want)
		}
	}
}

func TestBackwardCloseRestores(t *testing.T) {
	// A tab now at 3 was at 4 before a close at 1 compacted the list.
	pos, ok := Backward(3, []op.Op{op.NewClose(1)})
	if !ok || pos != 4 {
		t.Fatalf("Backward(3) = %d, %v; want 4, true", pos, ok)
	}
}

func TestBackwardCreateTerminates(t *testing.T) {
	ops := []op.Op{op.NewCreate(2, "https://a.test", false)}
	if _, ok := Backward(2, ops); ok {
		t.Fatal("a tab born inside the sequence has no earlier position")
	}
	pos, ok := Backward(4, ops)
	if !ok || pos != 3 {
		t.Fatalf("Backward(4) = %d, %v; want 3, true", pos, ok)
	}
}

func TestForwardBackwardRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 200; trial++ {
		n := 8
		var ops []op.Op
		for i := 0; i < 5; i++ {
			switch rng.Intn(3) {
			case 0:
				ops = append(ops, op.NewCreate(rng.Intn(n+1), "https://x.test", false))
				n++
			case 1:
				if n > 1 {
					ops = append(ops, op.NewClose(rng.Intn(n)))
					n--
				}
			case 2:
				ops = append(ops, op.NewMove(rng.Intn(n), rng.Intn(n)))
			}
		}
		start := rng.Intn(9)
		end, ok := Forward(start, ops)
		if !ok {
			continue
		}
		back, ok := Backward(end, ops)
		if !ok || back != start {
			t.Fatalf("trial %d: Forward(%d)=%d but Backward(%d)=%d, %v", trial, start, end, end, back, ok)
		}
	}
}
