package smtp4j

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/synqronlabs/smtp4j/internal/lineio"
	"github.com/synqronlabs/smtp4j/sasl"
)

// phase is the session's tagged state variant, checked explicitly by every
// command handler, so the EHLO/MAIL/RCPT/DATA sequencing rules read as
// direct phase comparisons instead of being re-derived from ad-hoc
// nil-pointer checks scattered across the handlers.
type phase int

const (
	phaseConnected phase = iota // TCP accepted, no EHLO/HELO yet
	phaseGreeted                // EHLO/HELO done, no transaction in progress
	phaseMailFrom               // MAIL FROM accepted, awaiting RCPT TO
	phaseRcptTo                 // at least one RCPT TO accepted, awaiting DATA
	phaseClosed                 // QUIT received or connection torn down
)

// Session runs the per-connection protocol engine: line reading, command
// dispatch, the state machine guarding command sequencing, auth, STARTTLS,
// and DATA framing. One Session exists per accepted connection and never
// outlives it.
type Session struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	config *Config
	logger *slog.Logger

	secure      bool
	phase       phase
	forbidden   bool
	authed      bool
	authTries   int
	mailFrom    *Path
	recipients  []Recipient

	transcript transcriptRecorder
	connectedAt time.Time

	onMessage func(*Message)
}

func newSession(id string, conn net.Conn, config *Config, logger *slog.Logger, secure bool, onMessage func(*Message)) *Session {
	return &Session{
		id:          id,
		conn:        conn,
		reader:      bufio.NewReader(conn),
		writer:      bufio.NewWriter(conn),
		config:      config,
		logger:      logger,
		secure:      secure,
		connectedAt: time.Now(),
		onMessage:   onMessage,
	}
}

// Run drives the session to completion: it sends the greeting (unless this
// is a post-STARTTLS leg, where the banner is suppressed), then dispatches
// commands until QUIT or the connection drops.
func (s *Session) Run(ctx context.Context) {
	if !s.secure {
		s.reply(NewReply(CodeServiceReady, fmt.Sprintf("%s smtp4j ready", s.config.LocalHostname)))
	}

	for {
		if s.config.SocketTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.config.SocketTimeout))
		}

		cmd, args, err := s.nextCommand()
		if err != nil {
			return
		}

		if s.phase == phaseConnected {
			switch cmd {
			case CmdEhlo, CmdHelo:
				s.handleHello(cmd, args)
			case CmdQuit:
				s.handleQuit()
				return
			default:
				s.badSequence("Send HELO/EHLO first")
			}
			continue
		}

		if s.requiresTLSFirst(cmd) {
			s.reply(NewEnhancedReply(CodeAuthRequired, ESCSecurityError, "Must issue STARTTLS first"))
			continue
		}
		if s.requiresAuthFirst(cmd) {
			s.reply(NewEnhancedReply(CodeAuthRequired, ESCSecurityError, "Authentication required"))
			continue
		}

		switch cmd {
		case CmdEhlo, CmdHelo:
			s.resetTransaction()
			s.handleHello(cmd, args)
		case CmdAuth:
			s.handleAuth(args)
		case CmdStartTLS:
			s.handleStartTLS()
		case CmdMailFrom:
			s.handleMailFrom(args)
		case CmdRcptTo:
			s.handleRcptTo(args)
		case CmdData:
			s.handleData()
			if s.phase == phaseClosed {
				return
			}
		case CmdQuit:
			s.handleQuit()
			return
		default:
			s.reply(NewReply(CodeCommandUnrecog, "Command not recognized"))
		}
	}
}

// requiresTLSFirst reports whether cmd must be refused because RequireTLS
// is set, TLS is configured, and the session has not yet upgraded.
func (s *Session) requiresTLSFirst(cmd Command) bool {
	if s.config.TLS == nil || !s.config.RequireTLS || s.secure {
		return false
	}
	switch cmd {
	case CmdStartTLS, CmdQuit:
		return false
	default:
		return true
	}
}

// requiresAuthFirst mirrors the original implementation's rule that
// configuring an AuthProvider at all makes authentication mandatory before
// anything but EHLO/HELO/AUTH/STARTTLS/QUIT.
func (s *Session) requiresAuthFirst(cmd Command) bool {
	if s.config.Auth == nil || s.authed {
		return false
	}
	switch cmd {
	case CmdEhlo, CmdHelo, CmdAuth, CmdStartTLS, CmdQuit:
		return false
	default:
		return true
	}
}

// nextCommand reads lines until it has a "real" command to hand back to
// Run's dispatch. NOOP/VRFY/EXPN/HELP/RSET are answered here directly,
// matching the original implementation's nextCommand, which never surfaces
// these to the transaction state machine. The forbidden latch is checked
// first, ahead of even the transparent commands, so every command but QUIT
// is refused once it's set — the one place this module departs from the
// original's literal control flow, which checked the latch after these
// transparent replies; the session design explicitly calls for QUIT to
// remain usable after forbidden is latched, so the check is hoisted above
// everything else.
func (s *Session) nextCommand() (Command, string, error) {
	for {
		raw, err := s.readLine()
		if err != nil {
			return CmdUnknown, "", err
		}

		cmd, args := ParseCommand(string(raw))

		if s.forbidden && cmd != CmdQuit {
			s.logger.Debug("command rejected", slog.Any("error", ErrForbidden))
			s.reply(NewReply(CodeTransactionFailed, "Subsequent commands forbidden"))
			continue
		}

		switch cmd {
		case CmdNoop:
			s.reply(NewReply(CodeOK, "OK"))
		case CmdVrfy:
			s.reply(NewReply(CodeCannotVRFY, "Cannot VRFY user, but will accept message and attempt delivery"))
		case CmdExpn:
			s.reply(NewReply(CodeCommandNotImpl, "EXPN not supported"))
		case CmdHelp:
			s.reply(NewReply(CodeHelp, "See RFC 5321"))
		case CmdRset:
			s.resetTransaction()
			s.reply(NewReply(CodeOK, "OK"))
		default:
			return cmd, args, nil
		}
	}
}

// readLine reads one protocol line and records it into the transcript.
func (s *Session) readLine() ([]byte, error) {
	raw, err := lineio.ReadLine(s.reader, 8192)
	if err != nil {
		if errors.Is(err, lineio.ErrLineTooLong) {
			s.reply(NewReply(CodeSyntaxError, "Line too long"))
			return s.readLine()
		}
		return nil, err
	}
	s.transcript.recordLine(raw)
	return raw, nil
}

// reply sends r and folds it into the transcript as the close of the
// current exchange.
func (s *Session) reply(r Reply) {
	wire := r.Render()
	if s.config.SocketTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.SocketTimeout))
	}
	if _, err := s.writer.WriteString(wire); err != nil {
		return
	}
	_ = s.writer.Flush()
	s.transcript.recordReply(wire)
}

// badSequence replies 503 for a command received out of order, logging the
// violation so a transcript of the connection's history is recoverable from
// logs alone.
func (s *Session) badSequence(msg string) {
	s.logger.Debug("command out of sequence", slog.Any("error", ErrBadSequence))
	s.reply(NewReply(CodeBadSequence, msg))
}

func (s *Session) resetTransaction() {
	s.mailFrom = nil
	s.recipients = nil
	if s.phase != phaseConnected {
		s.phase = phaseGreeted
	}
}

func (s *Session) handleHello(cmd Command, args string) {
	greeting := args
	if greeting == "" {
		greeting = "you"
	}

	if cmd == CmdHelo {
		// Permissive choice: HELO is treated as EHLO minus the extension
		// list, so naive clients that only know HELO still get a usable
		// session instead of being shut out of AUTH/STARTTLS entirely.
		s.phase = phaseGreeted
		s.reply(NewReply(CodeOK, fmt.Sprintf("%s greets %s", s.config.LocalHostname, greeting)))
		return
	}

	lines := []string{fmt.Sprintf("%s greets %s", s.config.LocalHostname, greeting), "8BITMIME"}
	if s.config.Auth != nil {
		lines = append(lines, "AUTH PLAIN CRAM-MD5")
	}
	if s.config.TLS != nil && !s.secure {
		lines = append(lines, "STARTTLS")
		lines = append(lines, "REQUIRETLS")
	}
	if s.config.MaxMessageSize > 0 {
		lines = append(lines, fmt.Sprintf("SIZE %d", s.config.MaxMessageSize))
	}

	s.phase = phaseGreeted
	s.reply(Reply{Code: CodeOK, Lines: lines})
}

func (s *Session) handleAuth(args string) {
	mechanism, initial, _ := cutToken(args)

	if s.config.Auth == nil {
		s.logger.Debug("AUTH refused", slog.Any("error", ErrAuthNotConfigured))
		s.reply(NewReply(CodeCommandNotImpl, "Authentication not supported"))
		return
	}

	s.authTries++
	maxTries := s.config.Auth.MaxTries()
	if maxTries <= 0 {
		maxTries = 3
	}
	if s.authTries > maxTries {
		s.forbidden = true
		s.reply(NewReply(CodeTransactionFailed, "Too many authentication attempts"))
		return
	}

	var mech sasl.Mechanism
	switch mechanism {
	case "PLAIN":
		mech = sasl.NewPlain()
	case "CRAM-MD5":
		mech = sasl.NewCramMD5(s.config.LocalHostname, s.config.Auth.PasswordFor)
	default:
		s.reply(NewReply(CodeParamNotImpl, "Invalid parameters"))
		return
	}

	challenge, done, err := mech.Start(initial)
	for {
		if err != nil {
			s.reply(NewReply(CodeSyntaxError, "Invalid parameters"))
			return
		}
		if done {
			break
		}
		s.reply(NewReply(CodeAuthContinue, challenge))
		line, readErr := s.readLine()
		if readErr != nil {
			return
		}
		if string(line) == "*" {
			s.reply(NewReply(CodeSyntaxError, "Authentication cancelled"))
			return
		}
		challenge, done, err = mech.Next(string(line))
	}

	creds := mech.Credentials()
	if creds == nil {
		s.reply(NewReply(CodeAuthInvalid, "Authentication credentials invalid"))
		return
	}

	password, ok := s.config.Auth.PasswordFor(creds.AuthenticationID)
	if mechanism == "PLAIN" {
		// CRAM-MD5 already verified the HMAC against the stored password in
		// sasl.CramMD5.Next; PLAIN hands back the cleartext password it was
		// given and still needs comparing here.
		if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(creds.Password)) != 1 {
			s.reply(NewEnhancedReply(CodeAuthInvalid, ESCAuthInvalid, "Authentication credentials invalid"))
			return
		}
	}

	s.authed = true
	s.reply(NewEnhancedReply(CodeAuthSuccess, ESCAuthSuccess, "Authentication successful"))
}

func cutToken(s string) (first, rest string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func (s *Session) handleStartTLS() {
	if s.config.TLS == nil {
		s.logger.Debug("STARTTLS refused", slog.Any("error", ErrTLSNotConfigured))
		s.reply(NewReply(CodeCommandNotImpl, "STARTTLS not supported"))
		return
	}
	if s.secure {
		s.badSequence("Already using TLS")
		return
	}

	s.reply(NewReply(CodeServiceReady, "Ready to start TLS"))

	tlsConn := tls.Server(s.conn, s.config.TLS)
	if err := tlsConn.Handshake(); err != nil {
		s.logger.Warn("TLS handshake failed", slog.String("conn_id", s.id), slog.Any("error", err))
		_ = s.conn.Close()
		s.phase = phaseClosed
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.secure = true

	// RFC 3207: discard prior transaction state and require a fresh
	// EHLO/HELO; the banner is not resent on the upgraded leg.
	s.phase = phaseConnected
	s.resetTransaction()
}

func (s *Session) handleMailFrom(args string) {
	if s.phase != phaseGreeted {
		s.badSequence("Sender already specified")
		return
	}

	addr, paramStr, ok := SplitMailParam(args, "FROM:")
	if !ok {
		s.reply(NewReply(CodeSyntaxError, "Syntax error in MAIL FROM"))
		return
	}

	params, perr := ParseParams(paramStr)
	if perr != nil {
		var aerr *AdmissionError
		if errors.As(perr, &aerr) {
			s.reply(NewEnhancedReply(aerr.Code, aerr.Enhanced, aerr.Reason))
		} else {
			s.reply(NewReply(CodeSyntaxError, "Syntax error in MAIL FROM parameters"))
		}
		return
	}

	if s.config.MaxMessageSize > 0 {
		if declared, serr := sizeParam(params); serr == nil && declared > s.config.MaxMessageSize {
			s.reply(NewEnhancedReply(CodeExceededStorage, ESCSizeExceeded, "Message exceeds maximum allowed size"))
			return
		}
	}

	if !s.config.Firewall.AllowedFrom(addr) {
		s.forbidden = true
		s.reply(NewReply(CodeMailboxNotFound, "Sender rejected"))
		return
	}

	mbx, _ := ParseAddress(addr)
	s.mailFrom = &Path{Mailbox: mbx}
	s.phase = phaseMailFrom
	s.reply(NewReply(CodeOK, "Sender OK"))
}

func sizeParam(params map[string]string) (int64, error) {
	v, ok := params["SIZE"]
	if !ok {
		return 0, errors.New("no SIZE parameter")
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *Session) handleRcptTo(args string) {
	if s.phase != phaseMailFrom && s.phase != phaseRcptTo {
		s.badSequence("Send MAIL FROM first")
		return
	}

	addr, _, ok := SplitMailParam(args, "TO:")
	if !ok {
		s.reply(NewReply(CodeSyntaxError, "Syntax error in RCPT TO"))
		return
	}

	if !s.config.Firewall.AllowedRecipient(addr) {
		s.forbidden = true
		s.reply(NewReply(CodeMailboxNotFound, "Recipient rejected"))
		return
	}

	mbx, _ := ParseAddress(addr)
	s.recipients = append(s.recipients, Recipient{Address: Path{Mailbox: mbx}})
	s.phase = phaseRcptTo
	s.reply(NewReply(CodeOK, "Recipient OK"))
}

func (s *Session) handleData() {
	if s.phase != phaseRcptTo {
		s.badSequence("Send RCPT TO first")
		return
	}

	s.reply(NewReply(CodeStartMailInput, "Start mail input; end with <CRLF>.<CRLF>"))

	var body bytes.Buffer
	for {
		raw, err := s.readRawDataLine()
		if err != nil {
			return
		}
		if string(raw) == "." {
			break
		}
		line := raw
		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}
		body.Write(line)
		body.WriteString("\r\n")

		if s.config.MaxMessageSize > 0 && int64(body.Len()) > s.config.MaxMessageSize {
			s.logger.Warn("closing connection", slog.String("conn_id", s.id), slog.Any("error", ErrMessageTooLarge))
			s.reply(NewEnhancedReply(CodeExceededStorage, ESCSizeExceeded, "Message exceeds maximum allowed size"))
			s.phase = phaseClosed
			_ = s.conn.Close()
			return
		}
	}

	if !s.config.Firewall.AllowedMessage(body.Bytes()) {
		s.forbidden = true
		s.reply(NewReply(CodeTransactionFailed, "Message rejected"))
		s.resetTransaction()
		return
	}

	msg := &Message{
		ID:     newID(),
		Secure: s.secure,
		Envelope: Envelope{
			From:     *s.mailFrom,
			To:       s.recipients,
			Size:     int64(body.Len()),
			SMTPUTF8: false,
		},
		Raw:        body.Bytes(),
		Exchanges:  s.transcript.snapshot(),
		ReceivedAt: time.Now(),
	}

	if err := s.config.MessageHandler.HandleMessage(msg); err != nil {
		var derr *DeliveryError
		if errors.As(err, &derr) && derr.Code != 0 {
			s.reply(NewEnhancedReply(derr.Code, derr.Enhanced, derr.Reason))
		} else {
			s.reply(NewReply(CodeTransactionFailed, err.Error()))
		}
		s.resetTransaction()
		return
	}

	if s.onMessage != nil {
		s.onMessage(msg)
	}

	s.resetTransaction()
	s.reply(NewReply(CodeOK, "OK"))
}

// readRawDataLine reads one DATA-phase line without routing it through the
// transparent-command handling nextCommand applies to ordinary protocol
// lines; DATA content is not SMTP commands.
func (s *Session) readRawDataLine() ([]byte, error) {
	raw, err := lineio.ReadLine(s.reader, int(max64(s.config.MaxMessageSize, 8192)))
	if err != nil {
		return nil, err
	}
	s.transcript.recordLine(raw)
	return raw, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (s *Session) handleQuit() {
	s.reply(NewReply(CodeServiceClosing, fmt.Sprintf("%s closing connection", s.config.LocalHostname)))
	s.phase = phaseClosed
}

// Close tears down the underlying connection. Safe to call more than once.
func (s *Session) Close() error {
	_ = s.writer.Flush()
	return s.conn.Close()
}
