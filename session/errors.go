package session

import (
	"errors"
	"fmt"
)

// ErrMalformedReply means a reply line could not be parsed into a
// three-digit code. It is always wrapped in a *ProtocolError.
var ErrMalformedReply = errors.New("malformed reply")

// ErrInvalidState is returned when an operation is called out of order,
// e.g. RCPT before MAIL or any command on a closed session.
var ErrInvalidState = errors.New("invalid session state")

// ConnectionError is a transport-level failure: the relay refused the
// connection, a dial or I/O deadline expired, or the stream broke.
type ConnectionError struct {
	Op   string // "dial", "read" or "write"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("smtp %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when the relay answers with a reply code other
// than the one the client expected, or with a line that isn't a reply at
// all (in which case Err is ErrMalformedReply and Actual is 0).
type ProtocolError struct {
	// Command is the line the reply answered. Empty for the greeting.
	Command  string
	Expected ReplyCode
	Actual   ReplyCode
	// Reply is the raw, trimmed reply line.
	Reply string
	Err   error
}

func (e *ProtocolError) Error() string {
	cmd := e.Command
	if cmd == "" {
		cmd = "greeting"
	}
	if e.Err != nil {
		return fmt.Sprintf("smtp %s: expected code %d: %v", cmd, e.Expected, e.Err)
	}
	return fmt.Sprintf("smtp %s: expected code %d, but got %d (%q)", cmd, e.Expected, e.Actual, e.Reply)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
