package smtptest

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// Step is one exchange in a ScriptedServer conversation: the server reads
// a line from the client, checks it, and answers with Reply.
type Step struct {
	// Expect, if set, must be a prefix of the line the client sends.
	Expect string
	// UntilDot makes the step consume lines up to and including a lone
	// "." (the end of DATA) before replying.
	UntilDot bool
	// Reply is written after the line is read, with CRLF appended. Use
	// "\r\n" inside Reply for multi-line replies. Empty means no reply.
	Reply string
}

// ScriptedServer is a fake relay that plays back canned replies to a single
// connection and records every line the client sends. Unlike
// InProcessServer it can answer with any code at any point, which is what
// failure-path tests need.
type ScriptedServer struct {
	ln       net.Listener
	greeting string
	steps    []Step

	mu       sync.Mutex
	lines    []string
	mismatch error
	done     chan struct{}
}

// NewScriptedServer starts a ScriptedServer on a random loopback port. It
// writes greeting (unless empty) as soon as a client connects, then plays
// steps in order. Once the script runs out it keeps recording lines until
// the client hangs up. The listener is closed when the test ends.
func NewScriptedServer(t *testing.T, greeting string, steps ...Step) *ScriptedServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("can't listen for the scripted relay: %v", err)
	}
	ss := &ScriptedServer{
		ln:       ln,
		greeting: greeting,
		steps:    steps,
		done:     make(chan struct{}),
	}
	go ss.serve()
	t.Cleanup(func() { ln.Close() })
	return ss
}

func (ss *ScriptedServer) serve() {
	defer close(ss.done)
	conn, err := ss.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	if ss.greeting != "" {
		if _, err := conn.Write([]byte(ss.greeting + "\r\n")); err != nil {
			return
		}
	}

	for _, st := range ss.steps {
		line, err := ss.readLine(r)
		if err != nil {
			return
		}
		if st.Expect != "" && !strings.HasPrefix(line, st.Expect) {
			ss.mu.Lock()
			ss.mismatch = fmt.Errorf("expected a line starting with %q but got %q", st.Expect, line)
			ss.mu.Unlock()
			return
		}
		for st.UntilDot && line != "." {
			if line, err = ss.readLine(r); err != nil {
				return
			}
		}
		if st.Reply != "" {
			if _, err := conn.Write([]byte(st.Reply + "\r\n")); err != nil {
				return
			}
		}
	}

	// Anything after the script is recorded so tests can assert that the
	// client stopped talking.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, err := ss.readLine(r); err != nil {
			return
		}
	}
}

func (ss *ScriptedServer) readLine(r *bufio.Reader) (string, error) {
	l, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	l = strings.TrimRight(l, "\r\n")
	ss.mu.Lock()
	ss.lines = append(ss.lines, l)
	ss.mu.Unlock()
	return l, nil
}

// Wait blocks until the client disconnects (or two seconds pass after the
// script ends) and returns every line the client sent.
func (ss *ScriptedServer) Wait() []string {
	<-ss.done
	return ss.Lines()
}

// Lines returns the lines received so far.
func (ss *ScriptedServer) Lines() []string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return append([]string(nil), ss.lines...)
}

// Err reports a line that didn't match its step's Expect.
func (ss *ScriptedServer) Err() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.mismatch
}

// Address returns the host:port of the scripted relay.
func (ss *ScriptedServer) Address() string {
	return ss.ln.Addr().String()
}

// HostPort splits Address for callers that configure host and port
// separately.
func (ss *ScriptedServer) HostPort() (string, int) {
	addr := ss.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}
