package email

import (
	"encoding/base64"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/ptgott/relaymail/session"
)

// base64LineLen is the longest encoded line RFC 2045 allows.
const base64LineLen = 76

const crlf = "\r\n"

// lineWriter takes one line of DATA content at a time, without its
// terminator.
type lineWriter interface {
	WriteLine(line string) error
}

// sessionLines writes DATA lines to a session, dot-stuffing them on the
// way (RFC 5321 §4.5.2).
type sessionLines struct {
	s *session.Session
}

func (sl *sessionLines) WriteLine(line string) error {
	if strings.HasPrefix(line, ".") {
		line = "." + line
	}
	_, err := sl.s.WriteLine(line, 0)
	return err
}

// streamLines writes CRLF-terminated lines to an io.Writer and counts the
// bytes.
type streamLines struct {
	w io.Writer
	n int64
}

func (sl *streamLines) WriteLine(line string) error {
	n, err := io.WriteString(sl.w, line+crlf)
	sl.n += int64(n)
	return err
}

// wrapWriter cuts a byte stream into base64LineLen lines and hands each one
// to a lineWriter. Close writes whatever is left.
type wrapWriter struct {
	lw  lineWriter
	buf []byte
}

func (w *wrapWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		k := base64LineLen - len(w.buf)
		if k > len(p) {
			k = len(p)
		}
		w.buf = append(w.buf, p[:k]...)
		p = p[k:]
		written += k
		if len(w.buf) == base64LineLen {
			if err := w.lw.WriteLine(string(w.buf)); err != nil {
				return written, err
			}
			w.buf = w.buf[:0]
		}
	}
	return written, nil
}

func (w *wrapWriter) Close() error {
	if len(w.buf) == 0 {
		return nil
	}
	err := w.lw.WriteLine(string(w.buf))
	w.buf = w.buf[:0]
	return err
}

// writeBase64 streams data through a base64 encoder straight into lw, one
// wrapped line at a time.
func writeBase64(lw lineWriter, data []byte) error {
	ww := &wrapWriter{lw: lw, buf: make([]byte, 0, base64LineLen)}
	enc := base64.NewEncoder(base64.StdEncoding, ww)
	if _, err := enc.Write(data); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return ww.Close()
}

// encodedWord returns s as a single RFC 2047 "B" encoded-word.
func encodedWord(charset string, s []byte) string {
	return "=?" + charset + "?B?" + base64.StdEncoding.EncodeToString(s) + "?="
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// messageID builds a Message-ID in the sender's domain.
func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}

// headerLines returns the top-level header block, without the blank line
// that ends it.
func (m *Message) headerLines(p prepared, boundary string) []string {
	h := []string{
		"From: " + p.from,
		"To: " + strings.Join(m.to, ","),
	}
	if m.replyTo != "" {
		h = append(h, "Reply-To: "+m.replyTo)
	}
	if len(m.cc) > 0 {
		h = append(h, "Cc: "+strings.Join(m.cc, ","))
	}
	if len(m.bcc) > 0 {
		h = append(h, "Bcc: "+strings.Join(m.bcc, ","))
	}
	return append(h,
		"Date: "+now().UTC().Format("Mon, 02 Jan 2006 15:04:05 -0700"),
		"Message-ID: "+messageID(p.from),
		"X-Mailer: relaymail v"+Version,
		"Subject: "+encodedWord(m.charset, p.subject),
		"Content-Type: multipart/mixed;",
		"\tboundary=\""+boundary+"\"",
		"MIME-Version: 1.0",
	)
}

// emit writes the whole multipart/mixed document to lw.
func (m *Message) emit(lw lineWriter, p prepared, boundary string) error {
	delim := "--" + boundary

	lines := m.headerLines(p, boundary)
	lines = append(lines,
		"",
		delim,
		"Content-Type: text/html;charset="+m.charset,
		"Content-Transfer-Encoding: base64",
		"",
	)
	if err := writeLines(lw, lines); err != nil {
		return err
	}
	if err := writeBase64(lw, p.body); err != nil {
		return err
	}

	for _, a := range m.attachments {
		name := quoteEscaper.Replace(a.Name)
		err := writeLines(lw, []string{
			delim,
			"Content-Type: application/octet-stream; name=\"" + name + "\"",
			"Content-Transfer-Encoding: base64",
			"Content-Disposition: attachment; filename=\"" + name + "\"",
			"",
		})
		if err != nil {
			return err
		}
		if err := writeBase64(lw, a.Content); err != nil {
			return err
		}
	}

	return writeLines(lw, []string{delim + "--", ""})
}

func writeLines(lw lineWriter, lines []string) error {
	for _, l := range lines {
		if err := lw.WriteLine(l); err != nil {
			return err
		}
	}
	return nil
}
