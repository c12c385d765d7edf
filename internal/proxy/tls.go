package proxy

import (
	"crypto/tls"
	"fmt"

	"tlsgate/internal/config"
)

// buildTLSConfig loads the server key pair and maps the configured
// handshake policy onto a tls.Config shared read-only by all connections.
func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}

	tc := &tls.Config{Certificates: []tls.Certificate{cert}}

	if tc.MinVersion, err = tlsVersion(cfg.MinVersion); err != nil {
		return nil, err
	}
	if tc.MaxVersion, err = tlsVersion(cfg.MaxVersion); err != nil {
		return nil, err
	}
	if cfg.RequireClientCert {
		tc.ClientAuth = tls.RequireAnyClientCert
	}
	return tc, nil
}

// tlsVersion maps a config version string to the tls package constant.
// Empty means "no bound" (zero value).
func tlsVersion(s string) (uint16, error) {
	switch s {
	case "":
		return 0, nil
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unknown tls version %q", s)
}
