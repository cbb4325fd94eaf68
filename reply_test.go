package smtp4j

import (
	"strings"
	"testing"
)

func TestReply_Render_SingleLine(t *testing.T) {
	r := NewReply(CodeOK, "OK")
	if got, want := r.Render(), "250 OK\r\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReply_Render_MultiLine(t *testing.T) {
	r := Reply{Code: CodeOK, Lines: []string{"first", "second", "third"}}
	got := r.Render()
	want := "250-first\r\n250-second\r\n250 third\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReply_Render_Enhanced(t *testing.T) {
	r := NewEnhancedReply(CodeAuthSuccess, ESCAuthSuccess, "Authentication successful")
	if got, want := r.Render(), "235 2.7.0 Authentication successful\r\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReply_IsError(t *testing.T) {
	if NewReply(CodeOK, "OK").IsError() {
		t.Fatal("250 should not be an error")
	}
	if !NewReply(CodeMailboxNotFound, "nope").IsError() {
		t.Fatal("550 should be an error")
	}
}

func TestReply_EnhancedOnlyOnFirstLine(t *testing.T) {
	r := Reply{Code: CodeOK, Enhanced: ESCSuccess, Lines: []string{"greets you", "AUTH PLAIN"}}
	got := r.Render()
	if !strings.HasPrefix(got, "250-2.0.0 greets you\r\n") {
		t.Fatalf("expected enhanced code only on first line, got %q", got)
	}
	if strings.Contains(got, "2.0.0 AUTH PLAIN") {
		t.Fatalf("enhanced code leaked onto a later line: %q", got)
	}
}
