package api

import (
	"crypto/tls"
	"fmt"

	"github.com/AaronLay10/soundstage/internal/config"
)

// TLSEnabled reports whether both certificate and key are configured.
func TLSEnabled(cfg config.APIConfig) bool {
	return cfg.TLSCert != "" && cfg.TLSKey != ""
}

// LoadTLSConfig loads a tls.Config from the configured cert and key files.
// It returns nil, nil when TLS is not configured.
func LoadTLSConfig(cfg config.APIConfig) (*tls.Config, error) {
	if !TLSEnabled(cfg) {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
