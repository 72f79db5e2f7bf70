package api

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// ErrClientCertKeyWithoutCert is returned when a client key is configured
// without its certificate.
var ErrClientCertKeyWithoutCert = errors.New("client certificate key given without a client certificate")

// TLSConfig is the TLS policy for outgoing requests.
type TLSConfig struct {
	// Insecure disables certificate verification.
	Insecure bool
	// CertBundle is a PEM file of trusted roots used instead of the system
	// pool.
	CertBundle string
	// ClientCert is a PEM client certificate. When ClientCertKey is empty
	// the file must hold the private key as well.
	ClientCert    string
	ClientCertKey string
}

// Build returns the crypto/tls configuration for the policy.
func (c TLSConfig) Build() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.Insecure {
		cfg.InsecureSkipVerify = true
	} else if c.CertBundle != "" {
		pem, err := os.ReadFile(c.CertBundle)
		if err != nil {
			return nil, fmt.Errorf("read cert bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("cert bundle %q holds no PEM certificates", c.CertBundle)
		}
		cfg.RootCAs = pool
	}

	switch {
	case c.ClientCert != "":
		keyFile := c.ClientCertKey
		if keyFile == "" {
			keyFile = c.ClientCert
		}
		cert, err := tls.LoadX509KeyPair(c.ClientCert, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case c.ClientCertKey != "":
		return nil, ErrClientCertKeyWithoutCert
	}

	return cfg, nil
}

func newHTTPClient(tlsConfig TLSConfig, timeout time.Duration) (*http.Client, error) {
	cfg, err := tlsConfig.Build()
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = cfg
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
