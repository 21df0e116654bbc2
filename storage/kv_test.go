package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestKVConfig_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr bool
		want    KVConfig
	}{
		{
			name: "valid/canonical case",
			config: `storageDir: ./tempTestDir3012705204
keyTTL: "168h"`,
			want: KVConfig{
				StorageDirPath: "./tempTestDir3012705204",
				KeyTTLDuration: 168 * time.Hour,
			},
		},
		{
			name:   "no key TTL",
			config: `storageDir: ./tempTestDir3012705204`,
			want: KVConfig{
				StorageDirPath: "./tempTestDir3012705204",
			},
		},
		{
			name: "key TTL not a duration",
			config: `storageDir: ./tempTestDir3012705204
keyTTL: "168"`,
			wantErr: true,
		},
		{
			name:    "no storage path",
			config:  `keyTTL: "168h"`,
			wantErr: true,
		},
		{
			name: "unknown key",
			config: `storageDir: ./tempTestDir3012705204
cleanupInterval: "10m"`,
			wantErr: true,
		},
		{
			name:    "not a JSON object",
			config:  `[]`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.NewBuffer([]byte(tt.config))
			dec := yaml.NewDecoder(buf)
			var c KVConfig
			err := dec.Decode(&c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr = %v but got %v with err %v", tt.wantErr, err != nil, err)
			}
			if !tt.wantErr {
				assert.Equal(t, tt.want, c)
			}
		})
	}
}

func TestKVConfig_CheckAndSetDefaults(t *testing.T) {
	c, err := (&KVConfig{StorageDirPath: "./x"}).CheckAndSetDefaults()
	require.NoError(t, err)
	assert.Equal(t, DefaultKeyTTL, c.KeyTTLDuration)
	assert.True(t, c.Enabled())

	c, err = (&KVConfig{}).CheckAndSetDefaults()
	require.NoError(t, err)
	assert.False(t, c.Enabled())
	assert.Zero(t, c.KeyTTLDuration)

	_, err = (&KVConfig{StorageDirPath: "./x", KeyTTLDuration: -time.Second}).CheckAndSetDefaults()
	assert.Error(t, err)
}
