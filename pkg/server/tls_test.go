package server

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeDevCert(t *testing.T, hosts ...string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := GenerateSelfSignedCert(certFile, keyFile, hosts...); err != nil {
		t.Fatalf("Failed to generate certificate: %v", err)
	}
	return certFile, keyFile
}

func parseDevCert(t *testing.T, certFile, keyFile string) *x509.Certificate {
	t.Helper()
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("Failed to load generated key pair: %v", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func TestGenerateSelfSignedCert(t *testing.T) {
	certFile, keyFile := writeDevCert(t)
	cert := parseDevCert(t, certFile, keyFile)

	if cert.Subject.CommonName != "localhost" {
		t.Errorf("Expected CommonName localhost, got %q", cert.Subject.CommonName)
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		t.Error("Certificate is not currently valid")
	}
	if err := cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("Expected localhost to verify: %v", err)
	}
	if err := cert.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("Expected 127.0.0.1 to verify as an IP SAN: %v", err)
	}

	info, err := os.Stat(keyFile)
	if err != nil {
		t.Fatalf("Key file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("Key file should be private, got %v", perm)
	}
}

func TestGenerateSelfSignedCertHosts(t *testing.T) {
	certFile, keyFile := writeDevCert(t, "db.example.com", "10.0.0.5")
	cert := parseDevCert(t, certFile, keyFile)

	if cert.Subject.CommonName != "db.example.com" {
		t.Errorf("Expected first host as CommonName, got %q", cert.Subject.CommonName)
	}
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "db.example.com" {
		t.Errorf("Unexpected DNS names %v", cert.DNSNames)
	}
	if len(cert.IPAddresses) != 1 || !cert.IPAddresses[0].Equal(net.ParseIP("10.0.0.5")) {
		t.Errorf("Unexpected IP addresses %v", cert.IPAddresses)
	}
}

func TestServerTLSConfiguration(t *testing.T) {
	certFile, keyFile := writeDevCert(t)
	missing := filepath.Join(t.TempDir(), "missing.pem")

	tests := []struct {
		name     string
		certFile string
		keyFile  string
		errPart  string
	}{
		{"no files", "", "", "TLSCertFile"},
		{"missing certificate", missing, keyFile, "certificate file not found"},
		{"missing key", certFile, missing, "key file not found"},
		{"swapped files", keyFile, certFile, "failed to load TLS key pair"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.EnableLogging = false
			config.EnableTLS = true
			config.TLSCertFile = tt.certFile
			config.TLSKeyFile = tt.keyFile

			_, err := New(config)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("Expected error containing %q, got %v", tt.errPart, err)
			}
		})
	}

	config := DefaultConfig()
	config.EnableLogging = false
	config.EnableTLS = true
	config.TLSCertFile = certFile
	config.TLSKeyFile = keyFile

	srv, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create server with TLS: %v", err)
	}
	defer srv.closeResources()

	tlsConfig := srv.httpSrv.TLSConfig
	if tlsConfig == nil || len(tlsConfig.Certificates) != 1 {
		t.Fatal("Expected the key pair on the HTTP server")
	}
	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("Expected TLS 1.2 minimum, got %x", tlsConfig.MinVersion)
	}
}

func TestServerTLSConnection(t *testing.T) {
	certFile, keyFile := writeDevCert(t)

	config := DefaultConfig()
	config.EnableLogging = false
	config.EnableTLS = true
	config.TLSCertFile = certFile
	config.TLSKeyFile = keyFile
	srv, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer srv.closeResources()

	ts := httptest.NewUnstartedServer(srv.Handler())
	ts.TLS = srv.httpSrv.TLSConfig
	ts.StartTLS()
	defer ts.Close()

	roots := x509.NewCertPool()
	roots.AddCert(parseDevCert(t, certFile, keyFile))
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: roots}},
		Timeout:   5 * time.Second,
	}

	resp, err := client.Get(ts.URL + "/_health")
	if err != nil {
		t.Fatalf("Failed to connect to HTTPS server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	var health struct {
		OK     bool `json:"ok"`
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !health.OK || health.Result.Status != "healthy" {
		t.Errorf("Unexpected health response %+v", health)
	}
}
