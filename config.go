package smtp4j

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/synqronlabs/smtp4j/firewall"
)

// AuthProvider resolves SASL credentials and bounds how many authentication
// attempts a single connection gets before the session latches into its
// forbidden state, grounded on the original implementation's SmtpAuth
// interface (getPasswordForUser, getMaxTries).
type AuthProvider interface {
	// PasswordFor returns the plaintext password for user, and whether the
	// user is known at all. AUTH PLAIN and CRAM-MD5 both need the plaintext
	// password: PLAIN to compare it directly, CRAM-MD5 to key an HMAC with it.
	PasswordFor(user string) (password string, ok bool)
	// MaxTries is the number of AUTH attempts (every AUTH command counts,
	// successful or not) allowed before the session is latched forbidden.
	// Zero means use the package default of 3.
	MaxTries() int
}

// StaticAuth is a trivial AuthProvider backed by a fixed user/password map,
// useful for tests.
type StaticAuth struct {
	Users map[string]string
	Tries int
}

func (a StaticAuth) PasswordFor(user string) (string, bool) {
	p, ok := a.Users[user]
	return p, ok
}

func (a StaticAuth) MaxTries() int {
	if a.Tries <= 0 {
		return 3
	}
	return a.Tries
}

// MessageHandler receives each fully accepted message. Returning a non-nil
// error aborts the transaction with a 554 (or the code/enhanced carried by
// a *DeliveryError), matching the original implementation's
// SmtpMessageHandler.receiveMessage contract: a thrown exception there
// fails the transaction without tearing down the connection.
type MessageHandler interface {
	HandleMessage(msg *Message) error
}

// MessageHandlerFunc adapts a function to a MessageHandler.
type MessageHandlerFunc func(msg *Message) error

func (f MessageHandlerFunc) HandleMessage(msg *Message) error { return f(msg) }

// Config holds everything NewServer needs. Only LocalHostname is required; every
// other field has a usable zero value or is defaulted by DefaultConfig.
type Config struct {
	// LocalHostname is used in the greeting banner and EHLO response.
	LocalHostname string

	// Port to listen on. Zero means "pick one": try 25 first, then scan
	// upward from 1024, per the original implementation's start() algorithm.
	// A positive value binds that exact port and surfaces a bind failure
	// immediately instead of scanning past it.
	Port int

	// MaxMessageSize bounds DATA content in bytes. Zero means unlimited and
	// the SIZE extension is not advertised.
	MaxMessageSize int64

	// SocketTimeout bounds how long a read may block. Zero means no
	// deadline is set.
	SocketTimeout time.Duration

	// Firewall gates connections, senders, recipients, and messages.
	// Defaults to firewall.AllowAll.
	Firewall firewall.Firewall

	// Auth resolves SASL credentials. Nil disables the AUTH extension
	// entirely (EHLO won't advertise it, and AUTH is rejected with 502).
	Auth AuthProvider

	// TLS enables STARTTLS (and REQUIRETLS advertisement) when set. Nil
	// means the server never offers STARTTLS.
	TLS *tls.Config

	// RequireTLS refuses AUTH and MAIL until STARTTLS has completed. Only
	// meaningful when TLS is set.
	RequireTLS bool

	// MessageHandler receives completed messages. Defaults to one that
	// appends to Server.Mailbox().
	MessageHandler MessageHandler

	// Logger receives structured session/server logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sane defaults for the given hostname,
// suitable for a throwaway test server: dynamic port, no TLS, no auth, the
// permissive AllowAll firewall.
func DefaultConfig(hostname string) Config {
	return Config{
		LocalHostname: hostname,
		Firewall:      firewall.AllowAll{},
		Logger:        slog.Default(),
	}
}
