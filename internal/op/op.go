// Package op defines the tab operation model shared by the diff engine,
// the optimizer, and the synchronization coordinator. An Op is a plain
// value; copying one copies it fully.
package op

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the operation variants.
type Kind int

const (
	// Create opens a new tab at Pos with URL.
	Create Kind = iota
	// Move relocates the tab at Pos to To.
	Move
	// Close removes the tab at Pos.
	Close
	// SetURL changes the URL of the tab at Pos.
	SetURL
)

// String returns the wire discriminator for the kind.
func (k Kind) String() string {
	switch k {
	case Create:
		return "createTab"
	case Move:
		return "moveTab"
	case Close:
		return "closeTab"
	case SetURL:
		return "changeTabUrl"
	default:
		return "unknown"
	}
}

// Op is a single tab operation. Pos is the position the operation referred
// to in the emitting client's tab list at the moment it was recorded; it is
// only meaningful relative to the operations recorded before it.
type Op struct {
	ID         string    // idempotency key
	Kind       Kind
	Pos        int
	To         int    // Move target position
	URL        string // Create and SetURL payload
	Background bool   // Create: open without focus
	Time       time.Time
}

// NewID returns a fresh idempotency key.
func NewID() string {
	return uuid.NewString()
}

// NewCreate builds a Create op with a fresh idempotency key.
func NewCreate(pos int, url string, background bool) Op {
	return Op{ID: NewID(), Kind: Create, Pos: pos, URL: url, Background: background, Time: time.Now().UTC()}
}

// NewMove builds a Move op with a fresh idempotency key.
func NewMove(from, to int) Op {
	return Op{ID: NewID(), Kind: Move, Pos: from, To: to, Time: time.Now().UTC()}
}

// NewClose builds a Close op with a fresh idempotency key.
func NewClose(pos int) Op {
	return Op{ID: NewID(), Kind: Close, Pos: pos, Time: time.Now().UTC()}
}

// NewSetURL builds a SetURL op with a fresh idempotency key.
func NewSetURL(pos int, url string) Op {
	return Op{ID: NewID(), Kind: SetURL, Pos: pos, URL: url, Time: time.Now().UTC()}
}
