// Package firewall defines the admission-control seam the session state
// machine consults before accepting a connection, a sender, a recipient, or
// a message body.
package firewall

import (
	"io"
	"net"
)

// Firewall decides what a session is allowed to do. Every method returns
// true to allow, false to refuse; the session machine is responsible for
// turning a refusal into the right SMTP reply and, where the protocol calls
// for it, latching the session into its forbidden state.
//
// Grounded on the original implementation's SmtpFirewall interface and on
// the teacher's Callbacks struct, which expresses the same five admission
// points as optional error-returning hooks instead of boolean predicates;
// this module keeps the original's boolean shape since none of these
// checks need to carry a reason back to the caller beyond accept/refuse.
type Firewall interface {
	// Accept is consulted once, right after the TCP accept, before any
	// protocol bytes are read.
	Accept(remote net.Addr) bool
	// AllowedFrom is consulted against the address given in MAIL FROM.
	AllowedFrom(from string) bool
	// AllowedRecipient is consulted against each address given in RCPT TO.
	AllowedRecipient(to string) bool
	// AllowedMessage is consulted against the fully assembled message body,
	// after dot-unstuffing, before it is handed to the delivery sink.
	AllowedMessage(body []byte) bool
	// WrapInputStream optionally wraps the raw connection's input stream,
	// e.g. to rate-limit or fingerprint bytes before the line reader ever
	// sees them. Implementations that don't need this should return r
	// unchanged.
	WrapInputStream(r io.Reader) io.Reader
}

// AllowAll admits every connection, sender, recipient, and message. It is
// the default used when a Config leaves Firewall nil.
type AllowAll struct{}

func (AllowAll) Accept(net.Addr) bool               { return true }
func (AllowAll) AllowedFrom(string) bool            { return true }
func (AllowAll) AllowedRecipient(string) bool       { return true }
func (AllowAll) AllowedMessage([]byte) bool         { return true }
func (AllowAll) WrapInputStream(r io.Reader) io.Reader { return r }
