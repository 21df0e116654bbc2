package session

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplyCode is a three-digit SMTP reply code (RFC 5321 §4.2).
type ReplyCode int

// Reply codes the client expects or is likely to see from a relay.
const (
	ReplyServiceReady   ReplyCode = 220
	ReplyServiceClosing ReplyCode = 221
	ReplyAuthOK         ReplyCode = 235
	ReplyOK             ReplyCode = 250
	ReplyAuthContinue   ReplyCode = 334
	ReplyStartMailInput ReplyCode = 354

	ReplyServiceNotAvailable ReplyCode = 421
	ReplyMailboxBusy         ReplyCode = 450
	ReplySyntaxError         ReplyCode = 500
	ReplyBadSequence         ReplyCode = 503
	ReplyAuthRequired        ReplyCode = 530
	ReplyAuthFailed          ReplyCode = 535
	ReplyMailboxNotFound     ReplyCode = 550
	ReplyTransactionFailed   ReplyCode = 554
)

// Transient reports whether c is a 4xx code.
func (c ReplyCode) Transient() bool {
	return c/100 == 4
}

// Reply is a single reply from the relay. Text holds the final reply line
// with the code and separator stripped.
type Reply struct {
	Code ReplyCode
	Text string
}

// parseReplyLine splits a raw reply line into its code, the separator
// byte (' ' or '-') and the remaining text. A line of exactly three digits
// is treated as a final line with no text.
func parseReplyLine(line string) (ReplyCode, byte, string, error) {
	if len(line) < 3 {
		return 0, 0, "", fmt.Errorf("%w: %q is shorter than a reply code", ErrMalformedReply, line)
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || strings.ContainsAny(line[:3], "+-") {
		return 0, 0, "", fmt.Errorf("%w: %q does not start with a numeric code", ErrMalformedReply, line)
	}
	if len(line) == 3 {
		return ReplyCode(code), ' ', "", nil
	}
	sep := line[3]
	if sep != ' ' && sep != '-' {
		return 0, 0, "", fmt.Errorf("%w: unexpected separator %q in %q", ErrMalformedReply, sep, line)
	}
	return ReplyCode(code), sep, line[4:], nil
}
