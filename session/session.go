package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds dialing and every read or write when Config.Timeout
// is zero.
const DefaultTimeout = 5 * time.Second

const crlf = "\r\n"

// Scheme selects the transport used to reach the relay.
type Scheme string

const (
	// SchemeTCP is a plaintext TCP connection.
	SchemeTCP Scheme = "tcp"
	// SchemeTLS is TLS from the first byte (e.g. port 465). STARTTLS is not
	// supported.
	SchemeTLS Scheme = "tls"
)

// Config contains everything needed to open a Session. The zero values of
// Scheme, Timeout and HeloName are replaced with defaults.
type Config struct {
	Host    string
	Port    int
	Scheme  Scheme
	Timeout time.Duration
	// TLSConfig is used when Scheme is SchemeTLS. ServerName defaults to
	// Host.
	TLSConfig *tls.Config
	// HeloName is the argument to HELO. Defaults to Host.
	HeloName string
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.Scheme == "" {
		c.Scheme = SchemeTCP
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HeloName == "" {
		c.HeloName = c.Host
	}
	return c
}

// Session is one SMTP conversation with a relay. It owns the underlying
// connection and closes it on QUIT, on Close, and on any failure. A Session
// carries a single mail transaction and must not be shared between
// goroutines.
type Session struct {
	cfg  Config
	addr string
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	state     State
	dataEnded bool

	sent     []string
	received []string

	identity string
	boundary string

	// lastCmd is what ProtocolErrors report as the command a reply
	// answered. Credentials are masked.
	lastCmd string
	masking bool
}

// Dial connects to the relay described by cfg, reads the 220 greeting and
// sends HELO. A failure to reach the relay is a *ConnectionError; an
// unexpected reply is a *ProtocolError. In both cases the connection has
// already been closed.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("must supply a relay host and port")
	}
	addr := cfg.Addr()
	d := &net.Dialer{Timeout: cfg.Timeout}

	var conn net.Conn
	var err error
	switch cfg.Scheme {
	case SchemeTCP:
		conn, err = d.DialContext(ctx, "tcp", addr)
	case SchemeTLS:
		tc := &tls.Config{}
		if cfg.TLSConfig != nil {
			tc = cfg.TLSConfig.Clone()
		}
		if tc.ServerName == "" {
			tc.ServerName = cfg.Host
		}
		td := &tls.Dialer{NetDialer: d, Config: tc}
		conn, err = td.DialContext(ctx, "tcp", addr)
	default:
		return nil, fmt.Errorf("unsupported transport scheme %q", cfg.Scheme)
	}
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}

	log.Debug().
		Str("addr", addr).
		Str("scheme", string(cfg.Scheme)).
		Msg("connected to the relay")

	return NewSession(conn, cfg)
}

// NewSession runs the greeting and HELO over a stream the caller has
// already opened. The Session takes ownership of conn.
func NewSession(conn net.Conn, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:   cfg,
		addr:  conn.RemoteAddr().String(),
		conn:  conn,
		r:     bufio.NewReader(conn),
		w:     bufio.NewWriter(conn),
		state: Unconnected,
	}

	if _, err := s.ReadLine(ReplyServiceReady); err != nil {
		return nil, err
	}
	if _, err := s.WriteLine("HELO "+cfg.HeloName, ReplyOK); err != nil {
		return nil, err
	}
	s.state = Connected
	return s, nil
}

// Authenticate performs AUTH LOGIN. It also fixes the MIME boundary for the
// message sent over this session and records user as the identity that the
// envelope sender defaults to.
func (s *Session) Authenticate(user, password string) error {
	if s.state != Connected {
		return fmt.Errorf("%w: can't authenticate a %v session", ErrInvalidState, s.state)
	}

	s.boundary = NewBoundary(user, now())
	s.identity = user

	if _, err := s.WriteLine("AUTH LOGIN", ReplyAuthContinue); err != nil {
		return err
	}
	if err := s.writeCredential(user, ReplyAuthContinue); err != nil {
		return err
	}
	if err := s.writeCredential(password, ReplyAuthOK); err != nil {
		return err
	}

	s.state = Authenticated
	log.Debug().Str("user", user).Msg("authenticated with the relay")
	return nil
}

func (s *Session) writeCredential(v string, expect ReplyCode) error {
	s.masking = true
	defer func() { s.masking = false }()
	_, err := s.WriteLine(base64.StdEncoding.EncodeToString([]byte(v)), expect)
	return err
}

// Mail opens the mail transaction with MAIL FROM.
func (s *Session) Mail(from string) error {
	if s.state != Connected && s.state != Authenticated {
		return fmt.Errorf("%w: can't start a transaction from a %v session", ErrInvalidState, s.state)
	}
	if _, err := s.WriteLine("MAIL FROM: <"+from+">", ReplyOK); err != nil {
		return err
	}
	s.state = InTransaction
	return nil
}

// Rcpt adds one envelope recipient.
func (s *Session) Rcpt(to string) error {
	if s.state != InTransaction {
		return fmt.Errorf("%w: can't add a recipient to a %v session", ErrInvalidState, s.state)
	}
	_, err := s.WriteLine("RCPT TO: <"+to+">", ReplyOK)
	return err
}

// Data sends DATA. The caller then writes the message with WriteLine and
// finishes with EndData.
func (s *Session) Data() error {
	if s.state != InTransaction {
		return fmt.Errorf("%w: can't send DATA from a %v session", ErrInvalidState, s.state)
	}
	if _, err := s.WriteLine("DATA", ReplyStartMailInput); err != nil {
		return err
	}
	s.state = DataPhase
	return nil
}

// EndData sends the lone dot that ends the message and waits for the relay
// to accept it.
func (s *Session) EndData() error {
	if s.state != DataPhase || s.dataEnded {
		return fmt.Errorf("%w: can't end data in a %v session", ErrInvalidState, s.state)
	}
	if _, err := s.WriteLine(".", ReplyOK); err != nil {
		return err
	}
	s.dataEnded = true
	return nil
}

// Quit sends QUIT and closes the connection once the relay says goodbye.
func (s *Session) Quit() error {
	if !s.state.open() || (s.state == DataPhase && !s.dataEnded) {
		return fmt.Errorf("%w: can't quit a %v session", ErrInvalidState, s.state)
	}
	if _, err := s.WriteLine("QUIT", ReplyServiceClosing); err != nil {
		return err
	}
	s.state = Closed
	if err := s.conn.Close(); err != nil {
		log.Debug().Err(err).Str("addr", s.addr).Msg("problem closing the connection after QUIT")
	}
	return nil
}

// Close tears down the connection without sending QUIT. It's safe to call
// more than once and after Quit, so you should defer it.
func (s *Session) Close() error {
	if s.conn == nil || s.state == Closed || s.state == Failed {
		return nil
	}
	s.state = Closed
	return s.conn.Close()
}

// WriteLine writes text and the CRLF terminator. If expect is nonzero it
// then reads the reply and checks its code. It returns the number of bytes
// written for the line.
func (s *Session) WriteLine(text string, expect ReplyCode) (int, error) {
	if !s.usable() {
		return 0, fmt.Errorf("%w: can't write to a %v session", ErrInvalidState, s.state)
	}

	shown := text
	if s.masking {
		shown = "<credential>"
	}
	s.sent = append(s.sent, text)
	log.Debug().Str("addr", s.addr).Str("line", shown).Msg("sent a line to the relay")

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return 0, s.fail(&ConnectionError{Op: "write", Addr: s.addr, Err: err})
	}
	n, err := s.w.WriteString(text + crlf)
	if err != nil {
		return n, s.fail(&ConnectionError{Op: "write", Addr: s.addr, Err: err})
	}
	if expect == 0 {
		return n, nil
	}

	s.lastCmd = shown
	_, err = s.ReadLine(expect)
	return n, err
}

// ReadLine reads a reply and checks its code against expect. Continuation
// lines ("250-...") are recorded and skipped; the code of the final line is
// the one checked. An expect of zero accepts any well-formed reply.
func (s *Session) ReadLine(expect ReplyCode) (Reply, error) {
	if !s.usable() {
		return Reply{}, fmt.Errorf("%w: can't read from a %v session", ErrInvalidState, s.state)
	}
	if s.w.Buffered() > 0 {
		if err := s.w.Flush(); err != nil {
			return Reply{}, s.fail(&ConnectionError{Op: "write", Addr: s.addr, Err: err})
		}
	}

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
			return Reply{}, s.fail(&ConnectionError{Op: "read", Addr: s.addr, Err: err})
		}
		line, err := s.r.ReadString('\n')
		if err != nil {
			return Reply{}, s.fail(&ConnectionError{Op: "read", Addr: s.addr, Err: err})
		}
		line = strings.TrimRight(line, " \t\r\n")
		s.received = append(s.received, line)
		log.Debug().Str("addr", s.addr).Str("line", line).Msg("received a line from the relay")

		code, sep, text, err := parseReplyLine(line)
		if err != nil {
			return Reply{}, s.fail(&ProtocolError{
				Command:  s.lastCmd,
				Expected: expect,
				Reply:    line,
				Err:      err,
			})
		}
		if sep == '-' {
			continue
		}
		if expect != 0 && code != expect {
			return Reply{}, s.fail(&ProtocolError{
				Command:  s.lastCmd,
				Expected: expect,
				Actual:   code,
				Reply:    line,
			})
		}
		return Reply{Code: code, Text: text}, nil
	}
}

// fail closes the connection and parks the session in Failed. It returns
// err so callers can write "return s.fail(err)".
func (s *Session) fail(err error) error {
	s.state = Failed
	if cerr := s.conn.Close(); cerr != nil {
		log.Debug().Err(cerr).Str("addr", s.addr).Msg("problem closing a failed connection")
	}
	log.Debug().Err(err).Str("addr", s.addr).Msg("aborted the SMTP session")
	return err
}

func (s *Session) usable() bool {
	return s.conn != nil && s.state != Closed && s.state != Failed
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// Identity is the authenticated user, or "" if Authenticate was never
// called.
func (s *Session) Identity() string {
	return s.identity
}

// Boundary is the MIME boundary bound to this session, or "" if none has
// been set yet.
func (s *Session) Boundary() string {
	return s.boundary
}

// SetBoundary binds a boundary to a session that doesn't have one yet.
// Boundaries can't be replaced once set.
func (s *Session) SetBoundary(b string) error {
	if s.boundary != "" {
		return errors.New("the session already has a MIME boundary")
	}
	s.boundary = b
	return nil
}

// Sent returns every line written so far, in order, without terminators.
func (s *Session) Sent() []string {
	return append([]string(nil), s.sent...)
}

// Received returns every reply line read so far, in order.
func (s *Session) Received() []string {
	return append([]string(nil), s.received...)
}
