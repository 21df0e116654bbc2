package smtptest

// Server contains state information for an SMTP relay that a test sends mail
// through. The relay should be able to return the payloads of messages sent
// to it during the test. The server is meant to start during a test (or test
// suite) and stop right after.
type Server interface {
	// Start begins accepting connections and blocks until the server is
	// closed. Callers normally run it in its own goroutine.
	Start() error

	// Close stops the server. It doesn't return an error so it's easier to
	// use with defer.
	Close()

	// RetrieveEmails returns the payloads of all email messages received
	// at or after time t in Unix epoch nanoseconds.
	RetrieveEmails(t int64) ([]string, error)

	// Address returns the host:port of the server.
	Address() string
}
