package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptgott/relaymail/smtptest"
	"github.com/ptgott/relaymail/userconfig"
)

const (
	testUsername = "myuser123@example.com"
	testPassword = "myuser123"
)

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment. While they
// may not vary between tests, they shouldn't be buried inside
// functions.
type testEnvironmentConfig struct {
	// Serve implicit TLS (smtps://) instead of plain SMTP
	tls bool
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment.
type testEnvironment struct {
	SMTPServer  smtptest.Server
	scheme      string
	tempDirPath string // must be populated programmatically
}

// startTestEnvironment spins up dependencies. Callers should defer a call to
// tearDown.
//
// Note that if startTestEnvironment fails, it will return an error along with
// whatever shreds of a test environment we've set up so far so you can tear
// it down (i.e., it won't just be the zero value)
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) (*testEnvironment, error) {
	te := &testEnvironment{
		tempDirPath: t.TempDir(),
		scheme:      "smtp",
	}

	sc := smtptest.ServerConfig{
		Username: testUsername,
		Password: testPassword,
	}
	if c.tls {
		key, cert, err := smtptest.GenerateTLSFiles(t)
		if err != nil {
			return te, err
		}
		sc.KeyPath = key
		sc.CertPath = cert
		te.scheme = "smtps"
	}

	ts, err := smtptest.NewInProcessServer(sc)
	if err != nil {
		return te, err
	}
	te.SMTPServer = ts

	go ts.Start()

	return te, nil
}

// relayAddress is the URL to put in the relay config.
func (te *testEnvironment) relayAddress() string {
	return te.scheme + "://" + te.SMTPServer.Address()
}

// loadConfig writes a config file from opts, then parses and validates it
// the way the relaymail command does.
func (te *testEnvironment) loadConfig(opts appConfigOptions, dryRun bool) (*userconfig.Meta, error) {
	if opts.RelayAddress == "" {
		opts.RelayAddress = te.relayAddress()
	}
	if opts.Password == "" {
		opts.Password = testPassword
	}

	p := filepath.Join(te.tempDirPath, "config.yaml")
	if err := createAppConfig(p, opts); err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("can't open the config file: %v", err)
	}
	defer f.Close()

	m, err := userconfig.Parse(f)
	if err != nil {
		return nil, err
	}
	m.DryRun = dryRun
	c, err := m.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// tearDown returns the testEnvironment to its state prior to start. Designed
// to call with defer
func (te *testEnvironment) tearDown() {
	if te.SMTPServer != nil {
		te.SMTPServer.Close()
	}
}
