package userconfig

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/units"
	"github.com/ptgott/relaymail/email"
	"github.com/ptgott/relaymail/storage"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	Relay   email.UserConfig `yaml:"relay"`
	Message Message          `yaml:"message"`
	Storage storage.KVConfig `yaml:"storage"`
	// Print the serialized message to stdout and exit instead of sending
	// it. Set from the -dryrun flag, not the config file.
	DryRun bool `yaml:"-"`
}

// Message contains the content of the email to send and who gets it
type Message struct {
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo string
	Subject string
	// Exactly one of Body and BodyTemplate is set. BodyTemplate is a path
	// to an html/template file executed with TemplateData.
	Body         string
	BodyTemplate string
	TemplateData map[string]interface{}
	Charset      string
	// Attachments are file paths
	Attachments []string
	// MaxAttachmentSize is in bytes. Zero means no limit.
	MaxAttachmentSize int64
}

// messageYAML mirrors the keys of the "message" section.
type messageYAML struct {
	To                []string               `yaml:"to"`
	Cc                []string               `yaml:"cc"`
	Bcc               []string               `yaml:"bcc"`
	ReplyTo           string                 `yaml:"replyTo"`
	Subject           string                 `yaml:"subject"`
	Body              string                 `yaml:"body"`
	BodyTemplate      string                 `yaml:"bodyTemplate"`
	TemplateData      map[string]interface{} `yaml:"templateData"`
	Charset           string                 `yaml:"charset"`
	Attachments       []string               `yaml:"attachments"`
	MaxAttachmentSize string                 `yaml:"maxAttachmentSize"`
}

var messageKeys = map[string]struct{}{
	"to":                {},
	"cc":                {},
	"bcc":               {},
	"replyTo":           {},
	"subject":           {},
	"body":              {},
	"bodyTemplate":      {},
	"templateData":      {},
	"charset":           {},
	"attachments":       {},
	"maxAttachmentSize": {},
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (m *Message) UnmarshalYAML(unmarshal func(interface{}) error) error {
	keys := make(map[string]interface{})
	if err := unmarshal(&keys); err != nil {
		return fmt.Errorf("can't parse the message config: %v", err)
	}
	for k := range keys {
		if _, ok := messageKeys[k]; !ok {
			return fmt.Errorf("unknown message config key %q", k)
		}
	}

	var v messageYAML
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the message config: %v", err)
	}

	m.To = v.To
	m.Cc = v.Cc
	m.Bcc = v.Bcc
	m.ReplyTo = v.ReplyTo
	m.Subject = v.Subject
	m.Body = v.Body
	m.BodyTemplate = v.BodyTemplate
	m.TemplateData = v.TemplateData
	m.Charset = v.Charset
	m.Attachments = v.Attachments

	if v.MaxAttachmentSize != "" {
		// Accepts sizes like "25MB" or "512KiB", always in powers of two.
		b, err := units.ParseBase2Bytes(v.MaxAttachmentSize)
		if err != nil {
			return fmt.Errorf("can't parse maxAttachmentSize as a size: %v", err)
		}
		m.MaxAttachmentSize = int64(b)
	}

	return nil
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Message) CheckAndSetDefaults() (Message, error) {
	c := *m

	if len(c.To)+len(c.Cc)+len(c.Bcc) == 0 {
		return Message{}, errors.New("the message needs at least one recipient in to, cc or bcc")
	}
	if c.Body != "" && c.BodyTemplate != "" {
		return Message{}, errors.New("the message can include a body or a bodyTemplate, but not both")
	}
	if c.BodyTemplate == "" && len(c.TemplateData) > 0 {
		return Message{}, errors.New("templateData requires a bodyTemplate")
	}
	if c.MaxAttachmentSize < 0 {
		return Message{}, errors.New("maxAttachmentSize can't be negative")
	}
	if strings.TrimSpace(c.Charset) == "" {
		c.Charset = email.DefaultCharset
	}

	return c, nil
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{DryRun: m.DryRun}

	r, err := m.Relay.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Relay = r

	msg, err := m.Message.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Message = msg

	s, err := m.Storage.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Storage = s

	// Since this is a dry run, set the data directory to an empty string to
	// disable database operations.
	if c.DryRun && c.Storage.Enabled() {
		c.Storage.StorageDirPath = ""
		log.Debug().Msg(
			"disabling database operations for a dry run",
		)
	}

	return c, nil
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing. The Reader r can be either
// JSON or YAML. Call CheckAndSetDefaults on the result before using it.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)
	err := dec.Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	if m.Relay == (email.UserConfig{}) {
		return &Meta{}, errors.New("must include a \"relay\" section")
	}

	if len(m.Message.To)+len(m.Message.Cc)+len(m.Message.Bcc) == 0 {
		return &Meta{}, errors.New("must include a \"message\" section with at least one recipient")
	}

	return &m, nil

}
