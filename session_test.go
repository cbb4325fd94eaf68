package smtp4j

import (
	"bufio"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/synqronlabs/smtp4j/firewall"
)

// sessionHarness wires a Session to one end of a net.Pipe and exposes the
// other end through buffered helpers a test can drive like a real client.
type sessionHarness struct {
	t       *testing.T
	client  net.Conn
	reader  *bufio.Reader
	done    chan struct{}
	mu      sync.Mutex
	msgs    []*Message
}

func newSessionHarness(t *testing.T, cfg *Config) *sessionHarness {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	h := &sessionHarness{t: t, client: clientConn, reader: bufio.NewReader(clientConn), done: make(chan struct{})}

	sess := newSession("test-session", serverConn, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), false, func(msg *Message) {
		h.mu.Lock()
		h.msgs = append(h.msgs, msg)
		h.mu.Unlock()
	})

	go func() {
		sess.Run(context.Background())
		close(h.done)
	}()

	return h
}

func (h *sessionHarness) send(line string) {
	h.t.Helper()
	if _, err := h.client.Write([]byte(line + "\r\n")); err != nil {
		h.t.Fatalf("write %q: %v", line, err)
	}
}

// readReply reads one full (possibly multi-line) reply and returns its
// joined text, stripping the code and dash/space separators.
func (h *sessionHarness) readReply() string {
	h.t.Helper()
	var lines []string
	for {
		raw, err := h.reader.ReadString('\n')
		if err != nil {
			h.t.Fatalf("reading reply: %v", err)
		}
		raw = strings.TrimRight(raw, "\r\n")
		lines = append(lines, raw)
		if len(raw) >= 4 && raw[3] == ' ' {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func (h *sessionHarness) code(reply string) int {
	h.t.Helper()
	firstLine := strings.SplitN(reply, "\n", 2)[0]
	code, err := strconv.Atoi(firstLine[:3])
	if err != nil {
		h.t.Fatalf("reply %q has no numeric code", reply)
	}
	return code
}

func (h *sessionHarness) close() {
	_ = h.client.Close()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		h.t.Fatal("session did not exit after connection close")
	}
}

func baseConfig() *Config {
	cfg := DefaultConfig("mail.test")
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.MessageHandler = MessageHandlerFunc(func(*Message) error { return nil })
	return &cfg
}

func TestSession_FullTransaction(t *testing.T) {
	cfg := baseConfig()
	h := newSessionHarness(t, cfg)
	defer h.close()

	if got := h.code(h.readReply()); got != 220 {
		t.Fatalf("expected 220 banner, got %d", got)
	}

	h.send("EHLO mail.example.com")
	if got := h.code(h.readReply()); got != 250 {
		t.Fatalf("expected 250 to EHLO, got %d", got)
	}

	h.send("MAIL FROM:<alice@example.com>")
	if got := h.code(h.readReply()); got != 250 {
		t.Fatalf("expected 250 to MAIL FROM, got %d", got)
	}

	h.send("RCPT TO:<bob@example.com>")
	if got := h.code(h.readReply()); got != 250 {
		t.Fatalf("expected 250 to RCPT TO, got %d", got)
	}

	h.send("DATA")
	if got := h.code(h.readReply()); got != 354 {
		t.Fatalf("expected 354 to DATA, got %d", got)
	}

	h.send("Subject: hi")
	h.send("")
	h.send("hello there")
	h.send(".")
	if got := h.code(h.readReply()); got != 250 {
		t.Fatalf("expected 250 after DATA terminator, got %d", got)
	}

	h.send("QUIT")
	if got := h.code(h.readReply()); got != 221 {
		t.Fatalf("expected 221 to QUIT, got %d", got)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.msgs) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(h.msgs))
	}
	msg := h.msgs[0]
	if msg.Envelope.From.Mailbox.String() != "alice@example.com" {
		t.Fatalf("got from %q", msg.Envelope.From.Mailbox.String())
	}
	if len(msg.Envelope.To) != 1 || msg.Envelope.To[0].Address.Mailbox.String() != "bob@example.com" {
		t.Fatalf("got recipients %+v", msg.Envelope.To)
	}
	if !strings.Contains(string(msg.Raw), "hello there") {
		t.Fatalf("got raw body %q", msg.Raw)
	}
}

func TestSession_DotUnstuffing(t *testing.T) {
	cfg := baseConfig()
	h := newSessionHarness(t, cfg)
	defer h.close()

	h.readReply() // banner
	h.send("EHLO mail.example.com")
	h.readReply()
	h.send("MAIL FROM:<a@b.com>")
	h.readReply()
	h.send("RCPT TO:<c@d.com>")
	h.readReply()
	h.send("DATA")
	h.readReply()

	h.send("..leading dot should be unstuffed")
	h.send(".")
	h.readReply()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(h.msgs))
	}
	if !strings.Contains(string(h.msgs[0].Raw), ".leading dot should be unstuffed") {
		t.Fatalf("dot-unstuffing failed, got %q", h.msgs[0].Raw)
	}
}

func TestSession_BadSequence(t *testing.T) {
	cfg := baseConfig()
	h := newSessionHarness(t, cfg)
	defer h.close()

	h.readReply() // banner
	h.send("MAIL FROM:<a@b.com>")
	if got := h.code(h.readReply()); got != 503 {
		t.Fatalf("expected 503 before EHLO, got %d", got)
	}
}

// rejectingFirewall refuses every sender, latching the session forbidden.
type rejectingFirewall struct{ firewall.AllowAll }

func (rejectingFirewall) AllowedFrom(string) bool { return false }

func TestSession_FirewallRejectionLatchesForbidden(t *testing.T) {
	cfg := baseConfig()
	cfg.Firewall = rejectingFirewall{}
	h := newSessionHarness(t, cfg)
	defer h.close()

	h.readReply()
	h.send("EHLO mail.example.com")
	h.readReply()

	h.send("MAIL FROM:<a@b.com>")
	if got := h.code(h.readReply()); got != 550 {
		t.Fatalf("expected 550, got %d", got)
	}

	h.send("NOOP")
	if got := h.code(h.readReply()); got != 554 {
		t.Fatalf("expected 554 once forbidden, got %d", got)
	}

	h.send("QUIT")
	if got := h.code(h.readReply()); got != 221 {
		t.Fatalf("expected QUIT to still succeed once forbidden, got %d", got)
	}
}

func TestSession_AuthPlainSuccess(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth = StaticAuth{Users: map[string]string{"alice": "wonderland"}}
	h := newSessionHarness(t, cfg)
	defer h.close()

	h.readReply()
	h.send("EHLO mail.example.com")
	h.readReply()

	h.send("AUTH PLAIN " + plainInitialResponse("", "alice", "wonderland"))
	if got := h.code(h.readReply()); got != 235 {
		t.Fatalf("expected 235, got %d", got)
	}
}

func TestSession_AuthPlainWrongPassword(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth = StaticAuth{Users: map[string]string{"alice": "wonderland"}}
	h := newSessionHarness(t, cfg)
	defer h.close()

	h.readReply()
	h.send("EHLO mail.example.com")
	h.readReply()

	h.send("AUTH PLAIN " + plainInitialResponse("", "alice", "wrong"))
	if got := h.code(h.readReply()); got != 535 {
		t.Fatalf("expected 535, got %d", got)
	}
}

func TestSession_RequireAuthBlocksMailUntilAuthenticated(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth = StaticAuth{Users: map[string]string{"alice": "wonderland"}}
	h := newSessionHarness(t, cfg)
	defer h.close()

	h.readReply()
	h.send("EHLO mail.example.com")
	h.readReply()

	h.send("MAIL FROM:<a@b.com>")
	if got := h.code(h.readReply()); got != 530 {
		t.Fatalf("expected 530 before auth, got %d", got)
	}
}

func TestSession_MaxMessageSizeRejectsOversizedBody(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxMessageSize = 16
	h := newSessionHarness(t, cfg)
	defer func() { _ = h.client.Close() }()

	h.readReply()
	h.send("EHLO mail.example.com")
	h.readReply()
	h.send("MAIL FROM:<a@b.com>")
	h.readReply()
	h.send("RCPT TO:<c@d.com>")
	h.readReply()
	h.send("DATA")
	h.readReply()

	h.send("this line alone is already longer than sixteen bytes")
	if got := h.code(h.readReply()); got != 552 {
		t.Fatalf("expected 552, got %d", got)
	}

	// exceeding the size ceiling closes the connection outright; no further
	// command gets a reply.
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("session did not close after size-exceeded")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.msgs) != 0 {
		t.Fatalf("expected no delivered message, got %d", len(h.msgs))
	}
}

func plainInitialResponse(authzid, authcid, password string) string {
	raw := authzid + "\x00" + authcid + "\x00" + password
	return base64.StdEncoding.EncodeToString([]byte(raw))
}
