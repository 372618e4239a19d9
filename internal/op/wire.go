package op

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownType is returned when a wire record carries an unrecognized
// type discriminator. Batches containing such records are rejected whole.
var ErrUnknownType = errors.New("unknown operation type")

// wireOp is the JSON encoding of an Op. The type discriminator is matched
// case-insensitively on decode.
type wireOp struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Position   int    `json:"position"`
	NewPos     *int   `json:"newPosition,omitempty"`
	URL        string `json:"url,omitempty"`
	NewURL     string `json:"newUrl,omitempty"`
	Background bool   `json:"openInBackground,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// MarshalJSON encodes the op as a tagged wire record.
func (o Op) MarshalJSON() ([]byte, error) {
	w := wireOp{
		Type:      o.Kind.String(),
		ID:        o.ID,
		Position:  o.Pos,
		Timestamp: o.Time.UTC().Format(time.RFC3339Nano),
	}
	switch o.Kind {
	case Create:
		w.URL = o.URL
		w.Background = o.Background
	case Move:
		p := o.To
		w.NewPos = &p
	case SetURL:
		w.NewURL = o.URL
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a tagged wire record into the op.
func (o *Op) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	kind, err := ParseKind(w.Type)
	if err != nil {
		return err
	}

	*o = Op{ID: w.ID, Kind: kind, Pos: w.Position}
	switch kind {
	case Create:
		o.URL = w.URL
		o.Background = w.Background
	case Move:
		if w.NewPos == nil {
			return fmt.Errorf("moveTab record missing newPosition")
		}
		o.To = *w.NewPos
	case SetURL:
		o.URL = w.NewURL
	}

	if w.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			t, err = time.Parse(time.RFC3339, w.Timestamp)
			if err != nil {
				return fmt.Errorf("parse timestamp %q: %w", w.Timestamp, err)
			}
		}
		o.Time = t
	}
	return nil
}

// ParseKind resolves a wire discriminator, ignoring case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "createtab":
		return Create, nil
	case "movetab":
		return Move, nil
	case "closetab":
		return Close, nil
	case "changetaburl":
		return SetURL, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}
