package smtptest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// maxEmailSize caps what the test relay accepts. Doubtful we'll get an email
// this big, but we need a limit.
const maxEmailSize int64 = 100 * units.MiB

// Message is one email received by the test relay, envelope included.
type Message struct {
	created time.Time
	From    string
	To      []string
	Body    string
}

// Backend implements smtp.Backend. It's a thin authentication wrapper
// for an InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
	username string
	password string
}

// Login implements smtp.Backend. Credentials must match the ones the
// server was created with.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	if username == "" || password == "" {
		return nil, errors.New("no username or password provided")
	}
	if username != be.username || password != be.password {
		return nil, errors.New("invalid username or password")
	}
	return &envelope{store: be.InMemoryEmailStore}, nil
}

// AnonymousLogin implements smtp.Backend. Not supported since we want to
// enforce AUTH.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return nil, smtp.ErrAuthRequired
}

// envelope implements smtp.Session for a single connection, remembering the
// envelope so tests can check MAIL FROM and RCPT TO.
type envelope struct {
	store *InMemoryEmailStore
	from  string
	to    []string
}

// Reset implements smtp.Session.
func (e *envelope) Reset() {
	e.from = ""
	e.to = nil
}

// Logout implements smtp.Session. No-op here.
func (e *envelope) Logout() error { return nil }

// Mail implements smtp.Session.
func (e *envelope) Mail(from string, _ smtp.MailOptions) error {
	e.from = from
	return nil
}

// Rcpt implements smtp.Session.
func (e *envelope) Rcpt(to string) error {
	e.to = append(e.to, to)
	return nil
}

// Data implements smtp.Session. Stores the email data in memory for retrieval
// at the end of the test.
func (e *envelope) Data(r io.Reader) error {
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	str := &strings.Builder{}
	if _, err := str.Write(buf); err != nil {
		return err
	}
	e.store.saveEmail(Message{
		From: e.from,
		To:   append([]string(nil), e.to...),
		Body: str.String(),
	})
	return nil
}

// InMemoryEmailStore retains emails in memory for comparison against
// a test's expected output. Designed to be goroutine safe since we don't
// know how many goroutines will be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []Message
}

// ServerConfig configures an InProcessServer.
type ServerConfig struct {
	// Username and Password are the only credentials AUTH accepts.
	Username string
	Password string
	// KeyPath and CertPath enable implicit TLS (the client must speak TLS
	// from the first byte). Leave them empty for a plaintext relay.
	KeyPath  string
	CertPath string
}

// InProcessServer is an SMTP relay that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer
type InProcessServer struct {
	*smtp.Server
	*InMemoryEmailStore
	ln net.Listener
}

// NewInProcessServer creates an InProcessServer listening on a random
// loopback port, including configuring its SMTP server to store incoming
// messages in memory and to accept AUTH LOGIN.
func NewInProcessServer(c ServerConfig) (*InProcessServer, error) {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []Message{},
	}
	be := &Backend{
		InMemoryEmailStore: is,
		username:           c.Username,
		password:           c.Password,
	}

	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.MaxMessageBytes = int(maxEmailSize)
	srv.AuthDisabled = false // need AUTH here
	// Strict enforces <address> syntax in MAIL and RCPT:
	// https://github.com/emersion/go-smtp/blob/f92bf7f1a25777bcdaa28a142b1cd1a54b74c8f4/conn.go#L321-L325
	srv.Strict = true
	srv.EnableAuth(sasl.Login, func(conn *smtp.Conn) sasl.Server {
		return sasl.NewLoginServer(func(username, password string) error {
			state := conn.State()
			session, err := be.Login(&state, username, password)
			if err != nil {
				return err
			}
			conn.SetSession(session)
			return nil
		})
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("can't listen for the test relay: %v", err)
	}

	if c.CertPath != "" || c.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("can't load the test relay's key pair: %v", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
		ln = tls.NewListener(ln, srv.TLSConfig)
	} else {
		// The client never upgrades plaintext connections, so AUTH has to
		// be allowed without TLS.
		srv.AllowInsecureAuth = true
	}

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		ln:                 ln,
	}, nil
}

// saveEmail stores the message along with a timestamp created just prior to
// saving
func (es *InMemoryEmailStore) saveEmail(m Message) {
	es.mu.Lock()
	defer es.mu.Unlock()

	m.created = time.Now()
	es.messages = append(es.messages, m)
}

// Start starts the test server. Blocking.
func (is *InProcessServer) Start() error {
	return is.Server.Serve(is.ln)
}

// Close shuts down the test server. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// received after epoch nanoseconds t
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	ms := es.RetrieveMessages(t)
	r := make([]string, 0, len(ms))
	for _, m := range ms {
		r = append(r, m.Body)
	}
	return r, nil
}

// RetrieveMessages is RetrieveEmails with the envelope of each message.
func (es *InMemoryEmailStore) RetrieveMessages(t int64) []Message {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]Message, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m)
		}
	}
	return r
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.ln.Addr().String()
}
