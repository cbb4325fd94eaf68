// Package client provides a thin convenience wrapper over net/smtp for
// tests that want to send a message into a running server without hand
// rolling the MAIL FROM/RCPT TO/DATA sequence themselves.
package client

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
)

// DialConfig is everything Dial needs to reach a server, the analogue of
// the original implementation's session-properties builder
// (getSessionProperties/createSession): point a client at a specific
// running instance, optionally trusting its certificate without
// installing it system-wide.
type DialConfig struct {
	Addr          string
	LocalHostname string

	// TLSConfig is used for STARTTLS if non-nil. TrustEveryone overrides its
	// InsecureSkipVerify, for tests dialing a server using a self-signed cert.
	TLSConfig     *tls.Config
	TrustEveryone bool

	Auth smtp.Auth
}

// Message is a minimal envelope + body a test can hand to Send: From, To,
// and a fully formed RFC 5322 body (headers plus blank line plus content).
// Building anything richer (multipart, attachments) is the mime package's
// job, not this one's.
type Message struct {
	From string
	To   []string
	Body []byte
}

// Dial opens a connection to cfg.Addr, issues EHLO, upgrades to TLS if
// cfg.TLSConfig is set and the server advertises STARTTLS, and then
// authenticates if cfg.Auth is set and the server advertises AUTH.
func Dial(cfg DialConfig) (*smtp.Client, error) {
	c, err := smtp.Dial(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", cfg.Addr, err)
	}

	host := cfg.LocalHostname
	if host == "" {
		host = "localhost"
	}
	if err := c.Hello(host); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("client: EHLO: %w", err)
	}

	if cfg.TLSConfig != nil {
		if ok, _ := c.Extension("STARTTLS"); ok {
			tlsCfg := cfg.TLSConfig.Clone()
			if cfg.TrustEveryone {
				tlsCfg.InsecureSkipVerify = true
			}
			if err := c.StartTLS(tlsCfg); err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("client: STARTTLS: %w", err)
			}
		}
	}

	if cfg.Auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(cfg.Auth); err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("client: AUTH: %w", err)
			}
		}
	}

	return c, nil
}

// Send dials cfg, transmits msg in full (MAIL FROM, RCPT TO for every
// recipient, DATA), and closes the connection with QUIT.
func Send(cfg DialConfig, msg Message) error {
	c, err := Dial(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("client: MAIL FROM: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("client: RCPT TO %s: %w", rcpt, err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("client: DATA: %w", err)
	}
	if _, err := wc.Write(msg.Body); err != nil {
		_ = wc.Close()
		return fmt.Errorf("client: writing body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("client: closing DATA: %w", err)
	}

	return c.Quit()
}

// Builder accumulates headers and a text body into a Message, for tests
// that want readable construction rather than hand-joining CRLF strings.
type Builder struct {
	from    string
	to      []string
	headers []string
	body    string
}

func NewBuilder(from string, to ...string) *Builder {
	return &Builder{from: from, to: append([]string(nil), to...)}
}

// Header appends a header line; call order is preserved on the wire.
func (b *Builder) Header(name, value string) *Builder {
	b.headers = append(b.headers, name+": "+value)
	return b
}

// Text sets the plain-text body.
func (b *Builder) Text(body string) *Builder {
	b.body = body
	return b
}

// Build renders the accumulated headers and body into a Message.
func (b *Builder) Build() Message {
	var sb strings.Builder
	for _, h := range b.headers {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	sb.WriteString(b.body)
	return Message{From: b.from, To: b.to, Body: []byte(sb.String())}
}
