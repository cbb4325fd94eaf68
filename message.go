package smtp4j

import (
	"bytes"
	"io"
	"net/mail"
	"time"

	"github.com/synqronlabs/smtp4j/mime"
)

// Recipient is a single RCPT TO target. BCC recipients are represented the
// same way as To/Cc ones here — the envelope layer has no concept of BCC,
// only the headers a sending client chose to write into the message body
// do, and a well-formed client simply never writes a Bcc header, which is
// why a BCC recipient is absent from Raw and from Message.Parsed() even
// though this slice contains every accepted RCPT TO address.
type Recipient struct {
	Address Path
}

// Envelope is the SMTP envelope: the reverse-path and forward-paths
// established by MAIL FROM/RCPT TO, independent of whatever headers the
// message body itself carries.
type Envelope struct {
	From     Path
	To       []Recipient
	Size     int64
	SMTPUTF8 bool
}

// Message is a fully received mail transaction: the envelope, the raw
// bytes exactly as they arrived (post dot-unstuffing), and the transcript
// of the session that produced it.
type Message struct {
	ID         string
	Secure     bool
	Envelope   Envelope
	Raw        []byte
	Exchanges  []Exchange
	ReceivedAt time.Time
}

// MessageID satisfies mailbox.Message.
func (m *Message) MessageID() string { return m.ID }

// Parsed runs the raw message bytes through the mime collaborator package,
// separating RFC 5322 headers from the body and, for multipart bodies,
// walking each section. The MIME collaborator is a separate package
// precisely so a caller can swap it (or bypass it and work with Raw
// directly) without touching the protocol engine.
func (m *Message) Parsed() (*mime.Part, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(m.Raw))
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, err
	}
	return mime.Parse(headerGetter(msg.Header), body)
}

type headerGetter mail.Header

func (h headerGetter) Get(name string) string { return mail.Header(h).Get(name) }
