package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ptgott/relaymail/storage"
)

// TranscriptPrefix starts the key of every archived transcript.
const TranscriptPrefix = "transcript/"

const maskedCredential = "<credential>"

// Transcript is the archived record of one SMTP conversation.
type Transcript struct {
	Relay      string    `json:"relay"`
	SentAt     time.Time `json:"sentAt"`
	Recipients []string  `json:"recipients"`
	Sent       []string  `json:"sent"`
	Received   []string  `json:"received"`
	// Error is empty when the relay accepted the message.
	Error string `json:"error,omitempty"`
}

// NewKVEntry serializes t under a key that sorts by send time.
func (t Transcript) NewKVEntry() (storage.KVEntry, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return storage.KVEntry{}, fmt.Errorf("can't serialize the transcript: %v", err)
	}
	k := TranscriptPrefix + t.SentAt.UTC().Format("20060102T150405Z") + "/" + uuid.NewString()
	return storage.KVEntry{Key: []byte(k), Value: b}, nil
}

// ReadTranscripts returns every archived transcript, oldest first.
func ReadTranscripts(db storage.KeyValue) ([]Transcript, error) {
	es, err := db.List([]byte(TranscriptPrefix))
	if err != nil {
		return nil, err
	}
	ts := make([]Transcript, 0, len(es))
	for _, e := range es {
		var t Transcript
		if err := json.Unmarshal(e.Value, &t); err != nil {
			return nil, fmt.Errorf("can't read the transcript at %s: %v", e.Key, err)
		}
		ts = append(ts, t)
	}
	return ts, nil
}

// maskCredentials replaces the two AUTH LOGIN payload lines with a
// placeholder so passwords never reach the disk.
func maskCredentials(sent []string) []string {
	out := make([]string, len(sent))
	copy(out, sent)
	for i, l := range out {
		if strings.EqualFold(l, "AUTH LOGIN") {
			for j := i + 1; j < len(out) && j <= i+2; j++ {
				out[j] = maskedCredential
			}
		}
	}
	return out
}
