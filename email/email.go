package email

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ptgott/relaymail/session"
)

const (
	smtpScheme  string = "smtp"
	smtpsScheme string = "smtps"
)

// UserConfig represents the relay options provided by the user. Not meant
// to be used for dialing without first calling CheckAndSetDefaults.
type UserConfig struct {
	RelayHost   string
	RelayPort   int
	RelayScheme session.Scheme
	Username    string
	Password    string
	// FromAddress defaults to Username
	FromAddress string
	Timeout     time.Duration
	HeloName    string
	// SkipCertVerification is for relays with self-signed certificates,
	// e.g., in tests.
	SkipCertVerification bool
}

var relayKeys = map[string]struct{}{
	"relayAddress":         {},
	"username":             {},
	"password":             {},
	"fromAddress":          {},
	"timeout":              {},
	"heloName":             {},
	"skipCertVerification": {},
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors. Unknown keys are an error so typos don't go unnoticed.
func (uc *UserConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the relay config: %v", err)
	}

	for k := range v {
		if _, ok := relayKeys[k]; !ok {
			return fmt.Errorf("unknown relay config key %q", k)
		}
	}

	if ra, ok := v["relayAddress"]; ok {
		h, p, s, err := parseRelayAddress(ra)
		if err != nil {
			return err
		}
		uc.RelayHost = h
		uc.RelayPort = p
		uc.RelayScheme = s
	}

	uc.Username = v["username"]
	uc.Password = v["password"]
	uc.FromAddress = v["fromAddress"]
	uc.HeloName = v["heloName"]

	if d, ok := v["timeout"]; ok {
		pd, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("can't parse the relay timeout as a duration: %v", err)
		}
		uc.Timeout = pd
	}

	if sv, ok := v["skipCertVerification"]; ok {
		b, err := strconv.ParseBool(sv)
		if err != nil {
			return fmt.Errorf("skipCertVerification must be true or false: %v", err)
		}
		uc.SkipCertVerification = b
	}

	return nil
}

// parseRelayAddress splits a relay URL into host, port and transport.
// smtp:// is plain TCP and smtps:// is implicit TLS. We don't require the
// user to include a scheme, since smtp:// is self evident.
func parseRelayAddress(ra string) (string, int, session.Scheme, error) {
	if !strings.Contains(ra, "://") {
		ra = smtpScheme + "://" + ra
	}

	u, err := url.Parse(ra)
	if err != nil {
		return "", 0, "", fmt.Errorf("can't parse the relay address: %v", err)
	}

	var s session.Scheme
	switch u.Scheme {
	case smtpScheme:
		s = session.SchemeTCP
	case smtpsScheme:
		s = session.SchemeTLS
	default:
		return "", 0, "", fmt.Errorf("the relay address must begin with %v:// or %v://", smtpScheme, smtpsScheme)
	}

	if u.Hostname() == "" {
		return "", 0, "", errors.New("the relay address must include a host")
	}

	p, err := strconv.Atoi(u.Port())
	if err != nil {
		return "", 0, "", fmt.Errorf("the relay address must include a port: %v", err)
	}

	return u.Hostname(), p, s, nil
}

// CheckAndSetDefaults validates uc and either returns a copy of uc with
// default settings applied or returns an error due to an invalid
// configuration
func (uc *UserConfig) CheckAndSetDefaults() (UserConfig, error) {
	c := *uc

	if c.RelayHost == "" || c.RelayPort == 0 {
		return UserConfig{}, errors.New("must supply a relay address")
	}

	// Relays that don't require AUTH are fine, but half a credential is
	// a mistake.
	if (c.Username == "") != (c.Password == "") {
		return UserConfig{}, errors.New("must supply both a username and a password, or neither")
	}

	if c.FromAddress == "" {
		c.FromAddress = c.Username
	}
	if c.FromAddress == "" {
		return UserConfig{}, errors.New("must supply a \"from\" address when not authenticating")
	}

	if c.RelayScheme == "" {
		c.RelayScheme = session.SchemeTCP
	}
	if c.Timeout == 0 {
		c.Timeout = session.DefaultTimeout
	}
	if c.Timeout < 0 {
		return UserConfig{}, errors.New("the relay timeout can't be negative")
	}

	return c, nil
}

// SessionConfig translates uc into what session.Dial needs.
func (uc UserConfig) SessionConfig() session.Config {
	sc := session.Config{
		Host:     uc.RelayHost,
		Port:     uc.RelayPort,
		Scheme:   uc.RelayScheme,
		Timeout:  uc.Timeout,
		HeloName: uc.HeloName,
	}
	if uc.RelayScheme == session.SchemeTLS {
		sc.TLSConfig = &tls.Config{
			ServerName:         uc.RelayHost,
			InsecureSkipVerify: uc.SkipCertVerification,
		}
	}
	return sc
}
