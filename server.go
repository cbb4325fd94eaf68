package smtp4j

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/synqronlabs/smtp4j/client"
	"github.com/synqronlabs/smtp4j/firewall"
	"github.com/synqronlabs/smtp4j/mailbox"
)

// ServerListener receives lifecycle notifications from a Server, grounded on
// the original implementation's SmtpServerListener (started/stopped/
// messageReceived callbacks fired in addition to, and after, the
// MessageHandler itself).
type ServerListener interface {
	NotifyStart(addr net.Addr)
	NotifyClose()
	NotifyMessage(msg *Message)
}

// Server accepts SMTP connections, one goroutine per connection, and runs
// each through a Session. Zero value is not usable; construct with
// NewServer.
type Server struct {
	config Config
	logger *slog.Logger

	mailbox *mailbox.Mailbox

	mu        sync.Mutex
	listener  net.Listener
	conns     map[net.Conn]struct{}
	listeners []ServerListener
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// NewServer validates cfg, applying the defaults DefaultConfig would, and
// returns a Server ready for Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.LocalHostname == "" {
		return nil, errors.New("smtp4j: Config.LocalHostname is required")
	}
	if cfg.Firewall == nil {
		cfg.Firewall = firewall.AllowAll{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	box := mailbox.New()
	if cfg.MessageHandler == nil {
		cfg.MessageHandler = MessageHandlerFunc(func(msg *Message) error {
			box.Add(msg)
			return nil
		})
	}

	return &Server{
		config:  cfg,
		logger:  cfg.Logger,
		mailbox: box,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Mailbox returns the server's default in-memory sink. Messages only land
// here when Config.MessageHandler was left nil; a custom handler is
// responsible for its own storage.
func (s *Server) Mailbox() *mailbox.Mailbox { return s.mailbox }

// AddListener registers l to receive start/close/message notifications.
func (s *Server) AddListener(l ServerListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// RemoveListener unregisters a previously added listener.
func (s *Server) RemoveListener(l ServerListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Start binds a listening socket and begins accepting connections in the
// background. If Config.Port is zero it tries 25 first, then scans upward
// from 1024 until a free port is found, per the original implementation's
// start() algorithm; a positive Port binds that exact port and any bind
// failure is returned immediately instead of being scanned past.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.bind()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("smtp4j listening", slog.String("addr", ln.Addr().String()))
	s.notifyStart(ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)

	return nil
}

func (s *Server) bind() (net.Listener, error) {
	if s.config.Port > 0 {
		return net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	}

	if ln, err := net.Listen("tcp", ":25"); err == nil {
		return ln, nil
	}

	for port := 1024; port <= 65535; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, nil
		}
	}

	return nil, ErrNoFreePort
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				s.logger.Debug("accept loop stopping", slog.Any("error", ErrServerClosed))
				return
			}
			s.logger.Warn("accept failed", slog.Any("error", err))
			return
		}

		if !s.config.Firewall.Accept(conn.RemoteAddr()) {
			s.logger.Debug("connection refused by firewall", slog.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		s.trackConn(conn)
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)

	id := newID()
	host := reverseDNS(ctx, conn.RemoteAddr())
	logger := s.logger.With(slog.String("conn_id", id), slog.String("remote", conn.RemoteAddr().String()))
	if host != "" {
		logger = logger.With(slog.String("remote_host", host))
	}
	logger.Info("connection accepted")

	in := s.config.Firewall.WrapInputStream(conn)
	wrapped := wrappedConn{Conn: conn, in: in}

	cfg := s.config
	sess := newSession(id, wrapped, &cfg, logger, false, func(msg *Message) {
		s.notifyMessage(msg)
	})
	sess.Run(ctx)
	// sess.conn may no longer be wrapped (STARTTLS replaces it with the TLS
	// conn), so closing through the session rather than the original conn
	// flushes whichever writer is live and closes the right layer.
	_ = sess.Close()
	logger.Info("connection closed")
}

// wrappedConn substitutes Firewall.WrapInputStream's reader for Read while
// keeping the rest of net.Conn (Write, deadlines, Close) pointed at the real
// socket.
type wrappedConn struct {
	net.Conn
	in io.Reader
}

func (w wrappedConn) Read(p []byte) (int, error) { return w.in.Read(p) }

func (s *Server) notifyStart(addr net.Addr) {
	s.mu.Lock()
	listeners := append([]ServerListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l.NotifyStart(addr)
	}
}

func (s *Server) notifyClose() {
	s.mu.Lock()
	listeners := append([]ServerListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l.NotifyClose()
	}
}

// notifyMessage fires after the MessageHandler has already accepted the
// message (session.go only calls this on a nil HandleMessage error),
// matching the original implementation's rule that external listeners see a
// message strictly after the primary handler, never instead of it.
func (s *Server) notifyMessage(msg *Message) {
	s.mu.Lock()
	listeners := append([]ServerListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l.NotifyMessage(msg)
	}
}

// Close stops accepting new connections, closes every connection currently
// tracked, and waits for their goroutines to exit. Idempotent.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}

	s.wg.Wait()
	s.mailbox.Close()
	s.notifyClose()
	return err
}

// Addr returns the address the server is listening on, or nil if Start
// hasn't been called yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// DialConfig returns a client.DialConfig pointed at this server's listening
// address, the analogue of the original implementation's
// getSessionProperties/createSession convenience: a test can hand the
// result straight to client.Dial or client.Send instead of hand-assembling
// an address and TLS trust policy. trustEveryone sets
// client.DialConfig.TrustEveryone, letting a test dial a server configured
// with a self-signed certificate without installing it anywhere.
func (s *Server) DialConfig(trustEveryone bool) *client.DialConfig {
	addr := s.Addr()
	if addr == nil {
		return nil
	}
	// addr is the listener's bind address, typically a wildcard
	// ("[::]:2525"); a client dialing the server back on the same host
	// should connect to localhost on that port rather than the wildcard
	// itself.
	_, port, err := net.SplitHostPort(addr.String())
	dialAddr := addr.String()
	if err == nil {
		dialAddr = net.JoinHostPort("localhost", port)
	}
	return &client.DialConfig{
		Addr:          dialAddr,
		LocalHostname: s.config.LocalHostname,
		TLSConfig:     s.config.TLS,
		TrustEveryone: trustEveryone,
	}
}
