package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ptgott/relaymail/email"
	"github.com/ptgott/relaymail/html"
	"github.com/ptgott/relaymail/session"
	"github.com/ptgott/relaymail/storage"
	"github.com/ptgott/relaymail/userconfig"
	"github.com/rs/zerolog/log"
)

// BuildMessage assembles the message described by config, reading
// attachments and rendering the body template. Any problem surfaces here,
// before a connection is opened.
func BuildMessage(config *userconfig.Meta) (*email.Message, error) {
	mc := config.Message
	m := email.NewMessage().
		SetFrom(config.Relay.FromAddress).
		SetReplyTo(mc.ReplyTo).
		AddTo(mc.To...).
		AddCc(mc.Cc...).
		AddBcc(mc.Bcc...).
		SetSubject(mc.Subject).
		SetMaxAttachmentSize(mc.MaxAttachmentSize)

	if err := m.SetCharset(mc.Charset); err != nil {
		return nil, err
	}

	body := mc.Body
	if mc.BodyTemplate != "" {
		var err error
		body, err = html.RenderFile(mc.BodyTemplate, html.EmailData{
			Subject: mc.Subject,
			Data:    mc.TemplateData,
		})
		if err != nil {
			return nil, err
		}
	}
	m.SetBody(body)

	for _, p := range mc.Attachments {
		if err := m.AddAttachment(p); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Run conducts a single send cycle and returns the first error
// encountered. In a dry run it writes the serialized message to outwr
// instead of contacting the relay. Otherwise it dials the relay,
// authenticates if credentials are configured, sends the message and
// archives the transcript when storage is enabled.
func Run(ctx context.Context, outwr io.Writer, config *userconfig.Meta) error {
	m, err := BuildMessage(config)
	if err != nil {
		return err
	}

	if config.DryRun {
		if outwr == nil {
			return errors.New("a writer is unavailable for receiving the output message")
		}
		if _, err := m.WriteTo(outwr); err != nil {
			return fmt.Errorf("cannot write the message output: %w", err)
		}
		return nil
	}

	var db storage.KeyValue
	if config.Storage.Enabled() {
		db, err = storage.NewBadgerDB(&config.Storage)
		if err != nil {
			return err
		}
		log.Info().Msg("set up the database connection successfully")
	} else {
		db = &storage.NoOpDB{}
	}
	defer func() {
		// Get rid of old keys just before we close. Closing also makes
		// BadgerDB flush the transcript to disk.
		// https://pkg.go.dev/github.com/dgraph-io/badger#readme-i-don-t-see-any-disk-writes-why
		if err := db.Cleanup(); err != nil {
			log.Error().Err(err).Msg("error cleaning up the database")
		}
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("error closing the database")
		}
	}()

	sc := config.Relay.SessionConfig()
	log.Info().
		Str("relay", sc.Addr()).
		Str("scheme", string(sc.Scheme)).
		Msg("connecting to the relay")

	s, err := session.Dial(ctx, sc)
	if err != nil {
		return err
	}
	defer s.Close()

	sendErr := send(s, m, config)

	t := Transcript{
		Relay:      sc.Addr(),
		SentAt:     time.Now(),
		Recipients: m.Recipients(),
		Sent:       maskCredentials(s.Sent()),
		Received:   s.Received(),
	}
	if sendErr != nil {
		t.Error = sendErr.Error()
	}
	archive(db, t)

	if sendErr != nil {
		return sendErr
	}
	log.Info().
		Int("recipients", len(t.Recipients)).
		Msg("sent the email")
	return nil
}

func send(s *session.Session, m *email.Message, config *userconfig.Meta) error {
	if config.Relay.Username != "" {
		if err := s.Authenticate(config.Relay.Username, config.Relay.Password); err != nil {
			return err
		}
		log.Info().Str("user", config.Relay.Username).Msg("authenticated with the relay")
	}
	return m.Send(s)
}

func archive(db storage.KeyValue, t Transcript) {
	e, err := t.NewKVEntry()
	if err != nil {
		log.Error().Err(err).Msg("error preparing the transcript")
		return
	}
	err = db.Put(e)
	switch {
	case errors.Is(err, storage.ErrNoOp):
		log.Debug().Msg("storage is disabled, so the transcript wasn't archived")
	case err != nil:
		log.Error().Err(err).Msg("error saving the transcript")
	default:
		log.Info().Str("key", string(e.Key)).Msg("archived the transcript")
	}
}
