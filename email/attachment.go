package email

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/rs/zerolog/log"
)

// ErrAttachmentTooLarge is wrapped by an AttachmentError when an attachment
// exceeds the limit set with SetMaxAttachmentSize.
var ErrAttachmentTooLarge = errors.New("attachment exceeds the size limit")

// Attachment is a file sent as an application/octet-stream part.
type Attachment struct {
	Name    string
	Content []byte
}

// AttachmentError means an attachment couldn't be read. It's returned when
// the attachment is added, well before any network activity.
type AttachmentError struct {
	// Path is the file path, or the name given to AddAttachmentReader.
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("can't attach %v: %v", e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

// SetMaxAttachmentSize caps the size of each attachment in bytes. Zero, the
// default, means no limit.
func (m *Message) SetMaxAttachmentSize(n int64) *Message {
	m.maxAttach = n
	return m
}

// AddAttachment reads the file at path into memory and attaches it under
// its base name.
func (m *Message) AddAttachment(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &AttachmentError{Path: path, Err: err}
	}
	if fi.IsDir() {
		return &AttachmentError{Path: path, Err: errors.New("is a directory")}
	}
	if m.maxAttach > 0 && fi.Size() > m.maxAttach {
		return &AttachmentError{Path: path, Err: m.tooLarge(fi.Size())}
	}

	f, err := os.Open(path)
	if err != nil {
		return &AttachmentError{Path: path, Err: err}
	}
	defer f.Close()

	return m.attach(filepath.Base(path), path, f)
}

// AddAttachmentReader reads r to the end and attaches the result as name.
// The caller keeps ownership of r.
func (m *Message) AddAttachmentReader(name string, r io.Reader) error {
	if name == "" {
		return &AttachmentError{Path: name, Err: errors.New("attachment name is empty")}
	}
	return m.attach(name, name, r)
}

func (m *Message) attach(name, path string, r io.Reader) error {
	if m.maxAttach > 0 {
		// One byte past the limit is enough to tell it was exceeded.
		r = io.LimitReader(r, m.maxAttach+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return &AttachmentError{Path: path, Err: err}
	}
	if m.maxAttach > 0 && int64(len(b)) > m.maxAttach {
		return &AttachmentError{Path: path, Err: m.tooLarge(int64(len(b)))}
	}

	m.attachments = append(m.attachments, Attachment{Name: name, Content: b})
	log.Debug().
		Str("name", name).
		Str("size", units.HumanSize(float64(len(b)))).
		Msg("added an attachment")
	return nil
}

func (m *Message) tooLarge(n int64) error {
	return fmt.Errorf(
		"%w: %v is over %v",
		ErrAttachmentTooLarge,
		units.BytesSize(float64(n)),
		units.BytesSize(float64(m.maxAttach)),
	)
}

// Attachments returns the attachments in the order they were added.
func (m *Message) Attachments() []Attachment {
	return append([]Attachment(nil), m.attachments...)
}
