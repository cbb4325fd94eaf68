package smtp4j

import (
	"testing"
	"time"
)

func buildTestMessage() *Message {
	from, _ := ParseAddress("sender@example.com")
	to1, _ := ParseAddress("recipient1@example.com")
	to2, _ := ParseAddress("recipient2@example.com")

	return &Message{
		ID:     "01HQZX3K2J0000000000000000",
		Secure: true,
		Envelope: Envelope{
			From: Path{Mailbox: from},
			To: []Recipient{
				{Address: Path{Mailbox: to1}},
				{Address: Path{Mailbox: to2}},
			},
			Size: 42,
		},
		Raw:        []byte("Subject: hi\r\n\r\nhello\r\n"),
		ReceivedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMessage_MessageID(t *testing.T) {
	m := buildTestMessage()
	if m.MessageID() != m.ID {
		t.Fatalf("got %q, want %q", m.MessageID(), m.ID)
	}
}

func TestMessage_Parsed_PlainText(t *testing.T) {
	m := buildTestMessage()
	part, err := m.Parsed()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(part.Body) != "hello\r\n" {
		t.Fatalf("got body %q", part.Body)
	}
	if part.ContentType != "text/plain" {
		t.Fatalf("got content type %q", part.ContentType)
	}
}

func TestMessage_MessagePackRoundTrip(t *testing.T) {
	m := buildTestMessage()

	data, err := m.ToMessagePack()
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	decoded, err := FromMessagePack(data)
	if err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if decoded.ID != m.ID {
		t.Fatalf("ID: got %q, want %q", decoded.ID, m.ID)
	}
	if decoded.Secure != m.Secure {
		t.Fatalf("Secure: got %v, want %v", decoded.Secure, m.Secure)
	}
	if !decoded.ReceivedAt.Equal(m.ReceivedAt) {
		t.Fatalf("ReceivedAt: got %v, want %v", decoded.ReceivedAt, m.ReceivedAt)
	}
	if string(decoded.Raw) != string(m.Raw) {
		t.Fatalf("Raw: got %q, want %q", decoded.Raw, m.Raw)
	}
	if decoded.Envelope.From.Mailbox.String() != m.Envelope.From.Mailbox.String() {
		t.Fatalf("From: got %q, want %q", decoded.Envelope.From.Mailbox.String(), m.Envelope.From.Mailbox.String())
	}
	if len(decoded.Envelope.To) != len(m.Envelope.To) {
		t.Fatalf("To: got %d recipients, want %d", len(decoded.Envelope.To), len(m.Envelope.To))
	}
	if decoded.Envelope.Size != m.Envelope.Size {
		t.Fatalf("Size: got %d, want %d", decoded.Envelope.Size, m.Envelope.Size)
	}
}
