package op

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseKindCaseInsensitive(t *testing.T) {
	cases := map[string]Kind{
		"createTab":    Create,
		"CREATETAB":    Create,
		"moveTab":      Move,
		"MoveTab":      Move,
		"closetab":     Close,
		"changeTabUrl": SetURL,
		"CHANGETABURL": SetURL,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Errorf("ParseKind(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseKind(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseKindUnknown(t *testing.T) {
	_, err := ParseKind("duplicateTab")
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestDecodeCreate(t *testing.T) {
	record := `{"type":"createTab","id":"op-1","position":2,"url":"https://a.test","openInBackground":true,"timestamp":"2026-08-28T10:00:00Z"}`
	var o Op
	if err := json.Unmarshal([]byte(record), &o); err != nil {
		t.Fatal(err)
	}
	if o.Kind != Create || o.Pos != 2 || o.URL != "https://a.test" || !o.Background {
		t.Fatalf("decoded %+v", o)
	}
	if o.Time.IsZero() {
		t.Fatal("timestamp not decoded")
	}
}

func TestDecodeMoveRequiresNewPosition(t *testing.T) {
	record := `{"type":"moveTab","id":"op-2","position":1}`
	var o Op
	err := json.Unmarshal([]byte(record), &o)
	if err == nil || !strings.Contains(err.Error(), "newPosition") {
		t.Fatalf("err = %v, want missing newPosition", err)
	}
}

func TestDecodeBatchRejectsUnknownType(t *testing.T) {
	batch := `[{"type":"closeTab","id":"op-3","position":0},{"type":"bogus","id":"op-4","position":1}]`
	var ops []Op
	err := json.Unmarshal([]byte(batch), &ops)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestRoundTrip(t *testing.T) {
	in := NewMove(1, 4)
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Op
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID || out.Kind != Move || out.Pos != 1 || out.To != 4 {
		t.Fatalf("round trip produced %+v", out)
	}
}
