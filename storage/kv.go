package storage

import (
	"errors"
	"fmt"
	"time"
)

// DefaultKeyTTL is how long a transcript is kept when keyTTL isn't set.
const DefaultKeyTTL = 7 * 24 * time.Hour

// KVConfig contains settings specific to BadgerDB connections
type KVConfig struct {
	StorageDirPath string        `yaml:"storageDir" json:"storageDir"`
	KeyTTLDuration time.Duration `yaml:"keyTTL" json:"keyTTL"`
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (kc *KVConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the storage config: %v", err)
	}

	for k := range v {
		if k != "storageDir" && k != "keyTTL" {
			return fmt.Errorf("unknown storage config key %q", k)
		}
	}

	sp, ok := v["storageDir"]
	if !ok || sp == "" {
		return errors.New("the storage config must include a storageDir")
	}
	kc.StorageDirPath = sp

	if d, ok := v["keyTTL"]; ok {
		pd, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("can't parse the key TTL as a duration: %v", err)
		}
		kc.KeyTTLDuration = pd
	}

	return nil
}

// CheckAndSetDefaults validates kc and either returns a copy of kc with
// default settings applied or returns an error due to an invalid
// configuration. A config without a storage path is valid and disables the
// archive.
func (kc *KVConfig) CheckAndSetDefaults() (KVConfig, error) {
	c := *kc
	if c.KeyTTLDuration < 0 {
		return KVConfig{}, errors.New("the key TTL can't be negative")
	}
	if c.StorageDirPath != "" && c.KeyTTLDuration == 0 {
		c.KeyTTLDuration = DefaultKeyTTL
	}
	return c, nil
}

// Enabled reports whether a storage path was configured.
func (kc KVConfig) Enabled() bool {
	return kc.StorageDirPath != ""
}

// KeyValue exposes a common interface for performing CRUD operations on an
// underlying storage layer. Assumes some kind of persistent KV store for
// SMTP transcripts.
//
// Implentations need to include connection logic in code to initialize
// a Store.
type KeyValue interface {
	// Replace the value of an entry or create a new one if it doesn't exist
	Put(KVEntry) error
	// Return an entry given its key
	Read(key []byte) (KVEntry, error)
	// Return every entry whose key begins with prefix, in key order
	List(prefix []byte) ([]KVEntry, error)
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to KV pairs and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store
type KVEntry struct {
	Key   []byte
	Value []byte
}
