package proxy

import (
	"crypto/tls"
	"testing"

	"tlsgate/internal/config"
	"tlsgate/internal/testcert"
)

func TestTLSVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"", 0, false},
		{"1.0", tls.VersionTLS10, false},
		{"1.1", tls.VersionTLS11, false},
		{"1.2", tls.VersionTLS12, false},
		{"1.3", tls.VersionTLS13, false},
		{"1.4", 0, true},
		{"tls1.2", 0, true},
	}
	for _, tt := range tests {
		got, err := tlsVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("tlsVersion(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("tlsVersion(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestBuildTLSConfig(t *testing.T) {
	certFile, keyFile, err := testcert.WriteKeyPair(t.TempDir())
	if err != nil {
		t.Fatalf("testcert: %v", err)
	}

	tc, err := buildTLSConfig(config.TLSConfig{
		CertFile:          certFile,
		KeyFile:           keyFile,
		MinVersion:        "1.2",
		MaxVersion:        "1.3",
		RequireClientCert: true,
	})
	if err != nil {
		t.Fatalf("buildTLSConfig: %v", err)
	}
	if len(tc.Certificates) != 1 {
		t.Errorf("certificates = %d, want 1", len(tc.Certificates))
	}
	if tc.MinVersion != tls.VersionTLS12 || tc.MaxVersion != tls.VersionTLS13 {
		t.Errorf("versions = %#x..%#x, want %#x..%#x", tc.MinVersion, tc.MaxVersion, tls.VersionTLS12, tls.VersionTLS13)
	}
	if tc.ClientAuth != tls.RequireAnyClientCert {
		t.Errorf("ClientAuth = %v, want RequireAnyClientCert", tc.ClientAuth)
	}
}

func TestBuildTLSConfigErrors(t *testing.T) {
	certFile, keyFile, err := testcert.WriteKeyPair(t.TempDir())
	if err != nil {
		t.Fatalf("testcert: %v", err)
	}

	if _, err := buildTLSConfig(config.TLSConfig{CertFile: "missing.pem", KeyFile: "missing.pem"}); err == nil {
		t.Error("expected error for missing key pair")
	}
	if _, err := buildTLSConfig(config.TLSConfig{CertFile: certFile, KeyFile: keyFile, MinVersion: "ssl3"}); err == nil {
		t.Error("expected error for unknown tls version")
	}
}
