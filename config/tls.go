package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"

	"github.com/pkg/errors"
)

var tlsVersions = map[string]uint16{
	"tlsv1":   tls.VersionTLS10,
	"tlsv11":  tls.VersionTLS11,
	"tlsv12":  tls.VersionTLS12,
	"tlsv13":  tls.VersionTLS13,
	"tls":     0,
	"":        0,
	"sslv23":  0,
	"tls_any": 0,
}

// TLS holds the broker TLS parameters. CACerts is mandatory once the section
// is present.
type TLS struct {
	CACerts       string `toml:"ca_certs" yaml:"ca_certs"`
	CertFile      string `toml:"certfile" yaml:"certfile"`
	KeyFile       string `toml:"keyfile" yaml:"keyfile"`
	CertsRequired string `toml:"certs_required" yaml:"certs_required"`
	TLSVersion    string `toml:"tls_version" yaml:"tls_version"`
	Ciphers       string `toml:"ciphers" yaml:"ciphers"`
}

func (t *TLS) Build() (*tls.Config, error) {
	if t.CACerts == "" {
		return nil, errors.New("config: tls requires ca_certs")
	}

	pem, err := os.ReadFile(t.CACerts)
	if err != nil {
		return nil, errors.Errorf("config: unable to read ca_certs %s: %s", t.CACerts, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("config: no certificates found in ca_certs %s", t.CACerts)
	}

	cfg := &tls.Config{RootCAs: pool}

	switch strings.ToLower(t.CertsRequired) {
	case "", "required", "optional":
	case "none":
		// #nosec G402
		// peer verification is disabled only when configured explicitly
		cfg.InsecureSkipVerify = true
	default:
		return nil, errors.Errorf("config: invalid tls certs_required %q", t.CertsRequired)
	}

	v, ok := tlsVersions[strings.ToLower(t.TLSVersion)]
	if !ok {
		return nil, errors.Errorf("config: invalid tls tls_version %q", t.TLSVersion)
	}
	if v != 0 {
		cfg.MinVersion = v
		cfg.MaxVersion = v
	}

	if t.Ciphers != "" {
		suites, err := cipherSuites(t.Ciphers)
		if err != nil {
			return nil, err
		}
		cfg.CipherSuites = suites
	}

	if t.CertFile != "" || t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, errors.Errorf("config: unable to load tls client certificate: %s", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func cipherSuites(list string) ([]uint16, error) {
	known := map[string]uint16{}
	for _, cs := range append(tls.CipherSuites(), tls.InsecureCipherSuites()...) {
		known[cs.Name] = cs.ID
	}

	var ids []uint16
	for _, name := range strings.FieldsFunc(list, func(r rune) bool { return r == ':' || r == ',' }) {
		id, ok := known[strings.TrimSpace(name)]
		if !ok {
			return nil, errors.Errorf("config: unknown tls cipher %q", name)
		}
		ids = append(ids, id)
	}

	return ids, nil
}
