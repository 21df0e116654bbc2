package session

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ptgott/relaymail/smtptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func dialScripted(t *testing.T, ss *smtptest.ScriptedServer) (*Session, error) {
	t.Helper()
	host, port := ss.HostPort()
	return Dial(context.Background(), Config{
		Host:    host,
		Port:    port,
		Timeout: time.Second,
	})
}

func TestDialThenQuit(t *testing.T) {
	ss := smtptest.NewScriptedServer(t, "220 relay.example.com ESMTP",
		smtptest.Step{Expect: "HELO 127.0.0.1", Reply: "250 relay.example.com"},
		smtptest.Step{Expect: "QUIT", Reply: "221 bye"},
	)

	s, err := dialScripted(t, ss)
	require.NoError(t, err)
	assert.Equal(t, Connected, s.State())

	require.NoError(t, s.Quit())
	assert.Equal(t, Closed, s.State())
	assert.NoError(t, s.Close(), "Close after Quit should be a no-op")

	assert.Equal(t, []string{"HELO 127.0.0.1", "QUIT"}, s.Sent())
	assert.Equal(t, []string{"220 relay.example.com ESMTP", "250 relay.example.com", "221 bye"}, s.Received())
	assert.Equal(t, []string{"HELO 127.0.0.1", "QUIT"}, ss.Wait())
	assert.NoError(t, ss.Err())
}

func TestHeloName(t *testing.T) {
	ss := smtptest.NewScriptedServer(t, "220 ready",
		smtptest.Step{Expect: "HELO client.example.org", Reply: "250 ok"},
	)
	host, port := ss.HostPort()
	s, err := Dial(context.Background(), Config{
		Host:     host,
		Port:     port,
		HeloName: "client.example.org",
	})
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, ss.Err())
}

func TestMultilineGreeting(t *testing.T) {
	ss := smtptest.NewScriptedServer(t, "220-relay.example.com\r\n220-no spam please\r\n220 ready",
		smtptest.Step{Expect: "HELO", Reply: "250 ok"},
	)
	s, err := dialScripted(t, ss)
	require.NoError(t, err)
	defer s.Close()

	assert.Len(t, s.Received(), 4)
}

func TestAuthenticate(t *testing.T) {
	ss := smtptest.NewScriptedServer(t, "220 ready",
		smtptest.Step{Expect: "HELO", Reply: "250 ok"},
		smtptest.Step{Expect: "AUTH LOGIN", Reply: "334 VXNlcm5hbWU6"},
		smtptest.Step{Expect: b64("a@x.com"), Reply: "334 UGFzc3dvcmQ6"},
		smtptest.Step{Expect: b64("secret"), Reply: "235 2.7.0 Authentication successful"},
		smtptest.Step{Expect: "QUIT", Reply: "221 bye"},
	)

	s, err := dialScripted(t, ss)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Authenticate("a@x.com", "secret"))
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, "a@x.com", s.Identity())
	assert.True(t, strings.HasPrefix(s.Boundary(), BoundaryPrefix))

	assert.Error(t, s.SetBoundary("other"), "the boundary is fixed by Authenticate")

	err = s.Authenticate("a@x.com", "secret")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, s.Quit())
	assert.Equal(t,
		[]string{"HELO 127.0.0.1", "AUTH LOGIN", b64("a@x.com"), b64("secret"), "QUIT"},
		ss.Wait(),
	)
}

// Any unexpected code must abort the session right away: no further
// commands, a *ProtocolError carrying both codes, and a closed stream.
func TestUnexpectedReplyAbortsSession(t *testing.T) {
	testCases := []struct {
		description string
		greeting    string
		steps       []smtptest.Step
		run         func(s *Session) error
		expected    ReplyCode
		actual      ReplyCode
		lines       []string
	}{
		{
			description: "greeting refused",
			greeting:    "554 no service",
			expected:    ReplyServiceReady,
			actual:      ReplyTransactionFailed,
			lines:       nil,
		},
		{
			description: "HELO rejected",
			greeting:    "220 ready",
			steps: []smtptest.Step{
				{Expect: "HELO", Reply: "500 what"},
			},
			expected: ReplyOK,
			actual:   ReplySyntaxError,
			lines:    []string{"HELO 127.0.0.1"},
		},
		{
			description: "bad password",
			greeting:    "220 ready",
			steps: []smtptest.Step{
				{Expect: "HELO", Reply: "250 ok"},
				{Expect: "AUTH LOGIN", Reply: "334 VXNlcm5hbWU6"},
				{Expect: b64("a@x.com"), Reply: "334 UGFzc3dvcmQ6"},
				{Expect: b64("wrong"), Reply: "535 5.7.8 Authentication failed"},
			},
			run: func(s *Session) error {
				return s.Authenticate("a@x.com", "wrong")
			},
			expected: ReplyAuthOK,
			actual:   ReplyAuthFailed,
			lines:    []string{"HELO 127.0.0.1", "AUTH LOGIN", b64("a@x.com"), b64("wrong")},
		},
		{
			description: "recipient rejected",
			greeting:    "220 ready",
			steps: []smtptest.Step{
				{Expect: "HELO", Reply: "250 ok"},
				{Expect: "MAIL FROM: <a@x.com>", Reply: "250 ok"},
				{Expect: "RCPT TO: <nobody@y.com>", Reply: "550 5.1.1 no such user"},
			},
			run: func(s *Session) error {
				if err := s.Mail("a@x.com"); err != nil {
					return err
				}
				if err := s.Rcpt("nobody@y.com"); err != nil {
					return err
				}
				return s.Rcpt("b@y.com")
			},
			expected: ReplyOK,
			actual:   ReplyMailboxNotFound,
			lines:    []string{"HELO 127.0.0.1", "MAIL FROM: <a@x.com>", "RCPT TO: <nobody@y.com>"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			ss := smtptest.NewScriptedServer(t, tc.greeting, tc.steps...)
			s, err := dialScripted(t, ss)
			if tc.run != nil {
				require.NoError(t, err)
				err = tc.run(s)
				assert.Equal(t, Failed, s.State())
				_, werr := s.WriteLine("NOOP", ReplyOK)
				assert.ErrorIs(t, werr, ErrInvalidState)
			} else {
				assert.Nil(t, s)
			}

			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.expected, pe.Expected)
			assert.Equal(t, tc.actual, pe.Actual)
			assert.Contains(t, err.Error(), strconv.Itoa(int(tc.expected)))
			assert.Contains(t, err.Error(), strconv.Itoa(int(tc.actual)))
			assert.NotContains(t, pe.Command, "wrong", "credentials must not leak into errors")

			assert.Equal(t, tc.lines, ss.Wait())
		})
	}
}

func TestMalformedReply(t *testing.T) {
	ss := smtptest.NewScriptedServer(t, "hello there")
	_, err := dialScripted(t, ss)

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrMalformedReply)
	assert.Equal(t, ReplyCode(0), pe.Actual)
	assert.Equal(t, "hello there", pe.Reply)
}

func TestDialRefused(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), Config{Host: "127.0.0.1", Port: port, Timeout: time.Second})

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "dial", ce.Op)
	var pe *ProtocolError
	assert.False(t, errors.As(err, &pe))
}

func TestReadTimeout(t *testing.T) {
	// The relay reads HELO and never answers.
	ss := smtptest.NewScriptedServer(t, "220 ready",
		smtptest.Step{Expect: "HELO"},
	)
	host, port := ss.HostPort()
	_, err := Dial(context.Background(), Config{Host: host, Port: port, Timeout: 200 * time.Millisecond})

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "read", ce.Op)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestCommandOrder(t *testing.T) {
	ss := smtptest.NewScriptedServer(t, "220 ready",
		smtptest.Step{Expect: "HELO", Reply: "250 ok"},
		smtptest.Step{Expect: "MAIL FROM: <a@x.com>", Reply: "250 ok"},
		smtptest.Step{Expect: "RCPT TO: <b@y.com>", Reply: "250 ok"},
		smtptest.Step{Expect: "DATA", Reply: "354 go ahead"},
		smtptest.Step{Expect: "Subject: hi", UntilDot: true, Reply: "250 queued"},
		smtptest.Step{Expect: "QUIT", Reply: "221 bye"},
	)
	s, err := dialScripted(t, ss)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Rcpt("b@y.com"), ErrInvalidState)
	assert.ErrorIs(t, s.Data(), ErrInvalidState)
	assert.ErrorIs(t, s.EndData(), ErrInvalidState)

	require.NoError(t, s.Mail("a@x.com"))
	assert.Equal(t, InTransaction, s.State())
	assert.ErrorIs(t, s.Mail("a@x.com"), ErrInvalidState)
	assert.ErrorIs(t, s.Authenticate("a@x.com", "secret"), ErrInvalidState)
	require.NoError(t, s.Rcpt("b@y.com"))
	require.NoError(t, s.Data())
	assert.Equal(t, DataPhase, s.State())
	assert.ErrorIs(t, s.Quit(), ErrInvalidState, "can't quit in the middle of DATA")

	n, err := s.WriteLine("Subject: hi", 0)
	require.NoError(t, err)
	assert.Equal(t, len("Subject: hi\r\n"), n)
	_, err = s.WriteLine("", 0)
	require.NoError(t, err)
	require.NoError(t, s.EndData())
	require.NoError(t, s.Quit())

	assert.NoError(t, ss.Err())
	assert.Equal(t,
		[]string{"HELO 127.0.0.1", "MAIL FROM: <a@x.com>", "RCPT TO: <b@y.com>", "DATA", "Subject: hi", "", ".", "QUIT"},
		ss.Wait(),
	)
}

func TestImplicitTLS(t *testing.T) {
	k, c, err := smtptest.GenerateTLSFiles(t)
	require.NoError(t, err)
	srv, err := smtptest.NewInProcessServer(smtptest.ServerConfig{
		Username: "a@x.com",
		Password: "secret",
		KeyPath:  k,
		CertPath: c,
	})
	require.NoError(t, err)
	go srv.Start()
	defer srv.Close()

	tc, err := smtptest.ClientTLSConfig(c)
	require.NoError(t, err)
	_, ps, err := net.SplitHostPort(srv.Address())
	require.NoError(t, err)
	port, err := strconv.Atoi(ps)
	require.NoError(t, err)

	s, err := Dial(context.Background(), Config{
		Host:      smtptest.TLSHost,
		Port:      port,
		Scheme:    SchemeTLS,
		TLSConfig: tc,
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Authenticate("a@x.com", "secret"))
	require.NoError(t, s.Quit())
}
