// Package smtp4j embeds a small SMTP server meant for tests and local
// development: point a mail-sending code path at it, capture what arrives,
// assert on it.
//
// # Quick start
//
//	srv, err := smtp4j.NewServer(smtp4j.DefaultConfig("mail.test"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//
//	msgs := srv.Mailbox().Drain(context.Background())
//
// # Scope
//
// smtp4j speaks enough SMTP (RFC 5321) and ESMTP (8BITMIME, AUTH PLAIN and
// CRAM-MD5, STARTTLS, SIZE) to exercise a real client. It does not relay,
// queue, retry, generate bounces, or implement DKIM/SPF/DMARC. Those are
// mail-transfer-agent concerns; this is a test double.
//
// # Collaborators
//
// Three seams are deliberately pluggable: firewall.Firewall decides whether
// to admit a connection, sender, recipient, or message body; a
// MessageHandler receives completed messages (the default appends them to a
// mailbox.Mailbox); and Message.Parsed hands raw message bytes to the mime
// package for header/MIME extraction. Replace any of them to change policy
// without touching the protocol engine.
package smtp4j
