package smtp4j

import "testing"

func TestParseAddress(t *testing.T) {
	mbx, ok := ParseAddress("alice@example.com")
	if !ok || mbx.LocalPart != "alice" || mbx.Domain != "example.com" {
		t.Fatalf("got %+v, %v", mbx, ok)
	}
}

func TestParseAddress_Null(t *testing.T) {
	mbx, ok := ParseAddress("")
	if !ok || mbx.LocalPart != "" || mbx.Domain != "" {
		t.Fatalf("expected null path, got %+v, %v", mbx, ok)
	}
	if !(Path{Mailbox: mbx}).IsNull() {
		t.Fatal("expected IsNull to be true for the empty address")
	}
}

func TestParseAddress_NoAt(t *testing.T) {
	if _, ok := ParseAddress("not-an-address"); ok {
		t.Fatal("expected failure for an address with no @")
	}
}

func TestPath_String(t *testing.T) {
	mbx, _ := ParseAddress("bob@example.com")
	p := Path{Mailbox: mbx}
	if got, want := p.String(), "<bob@example.com>"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	null := Path{}
	if got, want := null.String(), "<>"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
