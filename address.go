package smtp4j

import (
	"strings"

	"golang.org/x/net/idna"
)

// MailboxAddress is an RFC 5321 §4.1.2 mailbox: local-part@domain.
type MailboxAddress struct {
	LocalPart string
	Domain    string
}

// String renders the address in local-part@domain form.
func (m MailboxAddress) String() string {
	if m.LocalPart == "" && m.Domain == "" {
		return ""
	}
	return m.LocalPart + "@" + m.Domain
}

// Path is an SMTP reverse-path (MAIL FROM) or forward-path (RCPT TO).
type Path struct {
	Mailbox MailboxAddress
}

// IsNull reports whether this is the null reverse-path ("<>"), used on
// bounce messages per RFC 5321 §4.5.5.
func (p Path) IsNull() bool {
	return p.Mailbox.LocalPart == "" && p.Mailbox.Domain == ""
}

func (p Path) String() string {
	if p.IsNull() {
		return "<>"
	}
	return "<" + p.Mailbox.String() + ">"
}

// ParseAddress splits "local@domain" into a MailboxAddress. The domain is
// normalized through IDNA (RFC 5891) so callers matching SMTPUTF8 domains
// against an ASCII-only allowlist, or logging them, see a consistent
// A-label form rather than whatever casing/unicode form the client sent.
func ParseAddress(s string) (MailboxAddress, bool) {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		if s == "" {
			return MailboxAddress{}, true // null path
		}
		return MailboxAddress{}, false
	}
	local, domain := s[:at], s[at+1:]
	if domain != "" {
		if normalized, err := idna.Lookup.ToASCII(domain); err == nil {
			domain = normalized
		}
		// A domain idna rejects (e.g. it contains malformed punycode or
		// characters idna.Lookup disallows) is kept verbatim;
		// this server doesn't reject on IDNA violations, it just doesn't
		// get to normalize them.
	}
	return MailboxAddress{LocalPart: local, Domain: domain}, true
}
