package email

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ptgott/relaymail/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Version is reported in the X-Mailer header.
const Version = "1.0.0"

// DefaultCharset is the charset of new messages.
const DefaultCharset = "UTF-8"

// now is swapped out in tests.
var now = time.Now

var (
	// ErrNoSender means neither the message nor the session names a sender.
	ErrNoSender = errors.New("message has no sender")
	// ErrNoRecipients means To, Cc and Bcc are all empty.
	ErrNoRecipients = errors.New("message has no recipients")
	// ErrHeaderInjection means an address or attachment name contains a
	// line break, which would let it smuggle in extra headers.
	ErrHeaderInjection = errors.New("header value contains a line break")
)

// Message accumulates everything needed to send one email. Build it with
// the setters, then call Send once. A Message isn't meant to be reused after
// a send.
type Message struct {
	from    string
	replyTo string
	to      []string
	cc      []string
	bcc     []string
	subject string
	body    string

	attachments []Attachment
	maxAttach   int64

	charset string
	// enc is nil for UTF-8, which needs no transcoding.
	enc encoding.Encoding
}

// NewMessage returns an empty UTF-8 message.
func NewMessage() *Message {
	return &Message{charset: DefaultCharset}
}

// SetFrom sets the sender. If it's never called, Send uses the session's
// authenticated identity.
func (m *Message) SetFrom(from string) *Message {
	m.from = from
	return m
}

// SetReplyTo sets the Reply-To header.
func (m *Message) SetReplyTo(addr string) *Message {
	m.replyTo = addr
	return m
}

// AddTo appends To recipients. Duplicates are kept.
func (m *Message) AddTo(addrs ...string) *Message {
	m.to = append(m.to, addrs...)
	return m
}

// AddCc appends Cc recipients.
func (m *Message) AddCc(addrs ...string) *Message {
	m.cc = append(m.cc, addrs...)
	return m
}

// AddBcc appends Bcc recipients. They get a Bcc header as well as an
// envelope recipient.
func (m *Message) AddBcc(addrs ...string) *Message {
	m.bcc = append(m.bcc, addrs...)
	return m
}

// SetSubject sets the subject. It's always sent as an RFC 2047
// encoded-word.
func (m *Message) SetSubject(s string) *Message {
	m.subject = s
	return m
}

// SetBody sets the HTML body.
func (m *Message) SetBody(b string) *Message {
	m.body = b
	return m
}

// SetCharset sets the charset the subject and body are sent in. The label
// is uppercased and must be one the WHATWG encoding standard knows, e.g.
// "iso-8859-1" or "Shift_JIS".
func (m *Message) SetCharset(cs string) error {
	label := strings.ToUpper(strings.TrimSpace(cs))
	e, err := htmlindex.Get(label)
	if err != nil {
		return fmt.Errorf("unsupported charset %q: %w", cs, err)
	}
	name, err := htmlindex.Name(e)
	if err != nil {
		return fmt.Errorf("unsupported charset %q: %w", cs, err)
	}

	m.charset = label
	m.enc = e
	if name == "utf-8" {
		m.enc = nil
	}
	return nil
}

// Charset returns the uppercased charset label.
func (m *Message) Charset() string {
	return m.charset
}

// Recipients is every envelope recipient: To, then Cc, then Bcc, in the
// order they were added.
func (m *Message) Recipients() []string {
	r := make([]string, 0, len(m.to)+len(m.cc)+len(m.bcc))
	r = append(r, m.to...)
	r = append(r, m.cc...)
	return append(r, m.bcc...)
}

// Send runs the mail transaction on s: MAIL FROM, one RCPT TO per
// recipient, DATA, the message itself and QUIT. The message is checked
// before anything goes over the wire, so an invalid message leaves s
// untouched. Any rejected command aborts the send and leaves s Failed.
func (m *Message) Send(s *session.Session) error {
	from := m.from
	if from == "" {
		from = s.Identity()
	}
	p, err := m.prepare(from)
	if err != nil {
		return err
	}

	boundary := s.Boundary()
	if boundary == "" {
		boundary = session.NewBoundary(from, now())
		if err := s.SetBoundary(boundary); err != nil {
			return err
		}
	}

	if err := s.Mail(from); err != nil {
		return err
	}
	for _, r := range m.Recipients() {
		if err := s.Rcpt(r); err != nil {
			return err
		}
	}
	if err := s.Data(); err != nil {
		return err
	}
	if err := m.emit(&sessionLines{s: s}, p, boundary); err != nil {
		return err
	}
	if err := s.EndData(); err != nil {
		return err
	}

	log.Info().
		Str("from", from).
		Int("recipients", len(m.Recipients())).
		Int("attachments", len(m.attachments)).
		Msg("the relay accepted the message")

	return s.Quit()
}

// WriteTo writes the message as it would appear between DATA and the
// terminating dot, minus dot-stuffing. The sender must be set with SetFrom.
// A fresh boundary is generated on each call.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	p, err := m.prepare(m.from)
	if err != nil {
		return 0, err
	}
	sw := &streamLines{w: w}
	err = m.emit(sw, p, session.NewBoundary(m.from, now()))
	return sw.n, err
}

// prepared holds what emit needs once the message has been validated.
type prepared struct {
	from    string
	subject []byte
	body    []byte
}

func (m *Message) prepare(from string) (prepared, error) {
	if from == "" {
		return prepared{}, ErrNoSender
	}
	if len(m.to)+len(m.cc)+len(m.bcc) == 0 {
		return prepared{}, ErrNoRecipients
	}

	hv := append([]string{from, m.replyTo}, m.Recipients()...)
	for _, a := range m.attachments {
		hv = append(hv, a.Name)
	}
	for _, v := range hv {
		if strings.ContainsAny(v, "\r\n") {
			return prepared{}, fmt.Errorf("%w: %q", ErrHeaderInjection, v)
		}
	}

	subj, err := m.transcode(m.subject)
	if err != nil {
		return prepared{}, fmt.Errorf("can't encode the subject as %v: %w", m.charset, err)
	}
	body, err := m.transcode(m.body)
	if err != nil {
		return prepared{}, fmt.Errorf("can't encode the body as %v: %w", m.charset, err)
	}

	return prepared{from: from, subject: subj, body: body}, nil
}

func (m *Message) transcode(s string) ([]byte, error) {
	if m.enc == nil {
		return []byte(s), nil
	}
	return m.enc.NewEncoder().Bytes([]byte(s))
}
