package smtptest

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
)

// Part is one decoded part of a multipart message.
type Part struct {
	Header textproto.MIMEHeader
	// Content is the part body after undoing its transfer encoding.
	Content []byte
}

// ParseMultipart reads a raw multipart message as a mail client would and
// returns its top-level header and decoded parts. Tests use it to check
// that what went over the wire round-trips.
func ParseMultipart(raw string) (mail.Header, []Part, error) {
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("can't read the message headers: %v", err)
	}

	mt, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, fmt.Errorf("can't parse the Content-Type header: %v", err)
	}
	if !strings.HasPrefix(mt, "multipart/") {
		return nil, nil, fmt.Errorf("expected a multipart message but got %v", mt)
	}

	var parts []Part
	rdr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		p, err := rdr.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("can't read a MIME part: %v", err)
		}
		var body io.Reader = p
		if strings.EqualFold(p.Header.Get("Content-Transfer-Encoding"), "base64") {
			body = base64.NewDecoder(base64.StdEncoding, p)
		}
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, nil, fmt.Errorf("can't decode a MIME part: %v", err)
		}
		parts = append(parts, Part{Header: p.Header, Content: b})
	}
	return msg.Header, parts, nil
}
