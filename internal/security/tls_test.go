package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func generateSelfSignedCert(t *testing.T, commonName string) (certFile, keyFile string) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	tmpDir := t.TempDir()
	certFile = filepath.Join(tmpDir, "test.crt")
	keyFile = filepath.Join(tmpDir, "test.key")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certFile, certPEM, 0600); err != nil {
		t.Fatalf("Failed to write certificate: %v", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("Failed to marshal private key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}

	return certFile, keyFile
}

func TestLoadServerTLSConfig(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t, "ledger")

	cfg, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("LoadServerTLSConfig failed: %v", err)
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Errorf("expected no client auth without a CA, got %v", cfg.ClientAuth)
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("expected TLS 1.3 minimum")
	}
}

func TestLoadServerTLSConfigWithClientCA(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t, "ledger")

	cfg, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: certFile, RequireClientAuth: true})
	if err != nil {
		t.Fatalf("LoadServerTLSConfig failed: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("expected client certificates to be required, got %v", cfg.ClientAuth)
	}
	if cfg.ClientCAs == nil {
		t.Error("expected client CA pool")
	}
}

func TestLoadServerTLSConfigRequireClientAuthNeedsCA(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t, "ledger")

	if _, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile, RequireClientAuth: true}); err == nil {
		t.Error("expected an error without a CA file")
	}
}

func TestVerifyTLSFilesMissing(t *testing.T) {
	err := VerifyTLSFiles(TLSConfig{CertFile: "/nonexistent/cert.crt", KeyFile: "/nonexistent/key.key"})
	if err == nil {
		t.Error("VerifyTLSFiles should fail with missing files")
	}
}

func TestVerifyTLSFilesEmpty(t *testing.T) {
	if err := VerifyTLSFiles(TLSConfig{}); err == nil {
		t.Error("VerifyTLSFiles should fail with empty paths")
	}
	if (TLSConfig{}).Enabled() {
		t.Error("empty TLS config should not be enabled")
	}
}
