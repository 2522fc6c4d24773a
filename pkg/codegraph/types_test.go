package codegraph

import "testing"

func TestNodeID_StringRoundTrip(t *testing.T) {
	var id NodeID
	for i := range id {
		id[i] = byte(i * 7)
	}
	s := id.String()
	if len(s) != 32 {
		t.Fatalf("String() length = %d, want 32", len(s))
	}
	got, err := ParseNodeID(s)
	if err != nil {
		t.Fatalf("ParseNodeID: %v", err)
	}
	if got != id {
		t.Errorf("round trip mismatch: got %v, want %v", got, id)
	}
}

func TestParseNodeID_InvalidHex(t *testing.T) {
	if _, err := ParseNodeID("not-hex-zzzz"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
}

func TestParseNodeID_WrongLength(t *testing.T) {
	if _, err := ParseNodeID("abcd"); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestNodeID_Less(t *testing.T) {
	var a, b NodeID
	a[15] = 1
	b[15] = 2
	if !a.Less(b) {
		t.Error("expected a < b")
	}
	if b.Less(a) {
		t.Error("expected b not < a")
	}
	if a.Less(a) {
		t.Error("expected a not < a")
	}
}

func TestNodeID_LessTieBreaksOnFirstDifferingByte(t *testing.T) {
	var a, b NodeID
	a[0], b[0] = 1, 1
	a[1], b[1] = 5, 9
	if !a.Less(b) {
		t.Error("expected a < b based on second byte")
	}
}
