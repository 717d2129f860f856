package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig names the PEM files of a server certificate and an optional
// client CA.
type TLSConfig struct {
	CertFile          string
	KeyFile           string
	CAFile            string
	RequireClientAuth bool
}

// Enabled reports whether a certificate was configured.
func (c TLSConfig) Enabled() bool { return c.CertFile != "" && c.KeyFile != "" }

// LoadServerTLSConfig loads the server certificate and, when CAFile is set,
// the pool used to verify client certificates.
func LoadServerTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if err := VerifyTLSFiles(cfg); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate and key: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		ClientAuth:   tls.NoClientCert,
	}

	if cfg.CAFile != "" {
		caData, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	if cfg.RequireClientAuth {
		if tlsCfg.ClientCAs == nil {
			return nil, errors.New("client authentication requires a CA file")
		}
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsCfg, nil
}

// VerifyTLSFiles checks that the configured files exist. CAFile may be empty.
func VerifyTLSFiles(cfg TLSConfig) error {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return errors.New("TLS certificate and key paths must not be empty")
	}
	for _, file := range []string{cfg.CertFile, cfg.KeyFile, cfg.CAFile} {
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			return fmt.Errorf("TLS file not found: %s - %w", file, err)
		}
	}
	return nil
}
