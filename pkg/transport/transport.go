// Package transport is the shared mutual-TLS listener/dialer used by the
// sensor-facing admission endpoint and the dispatcher's directive send
// path (§6): both sides present a certificate, both sides verify it
// against the trust store's root CA, plain HTTP is never accepted.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"github.com/ransomeye/core/pkg/rerrors"
)

// ServerConfig configures a mutual-TLS listener.
type ServerConfig struct {
	Addr         string
	Handler      http.Handler
	RootCA       *x509.Certificate
	ServerCert   tls.Certificate
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer builds an *http.Server requiring and verifying client
// certificates against RootCA. Defaults mirror the teacher's console
// server timeouts when unset.
func NewServer(cfg ServerConfig) *http.Server {
	pool := x509.NewCertPool()
	pool.AddCert(cfg.RootCA)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cfg.ServerCert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      cfg.Handler,
		TLSConfig:    tlsConfig,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// DialerConfig configures a mutual-TLS client used to reach another
// component (e.g. dispatcher → enforcement agent).
type DialerConfig struct {
	RootCA     *x509.Certificate
	ClientCert tls.Certificate
	Timeout    time.Duration
}

// NewClient returns an *http.Client presenting ClientCert and trusting
// only RootCA — no system root pool fallback, per the trust store's
// boot-time-immutable, directory-scoped trust model.
func NewClient(cfg DialerConfig) *http.Client {
	pool := x509.NewCertPool()
	pool.AddCert(cfg.RootCA)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cfg.ClientCert},
				RootCAs:      pool,
				MinVersion:   tls.VersionTLS12,
			},
		},
	}
}

// VerifyPeerCommonName checks that an already-TLS-authenticated peer
// certificate's subject matches the expected component name, for
// callers that need an identity beyond "signed by our root CA" (the
// admission endpoint maps this to a producer_id).
func VerifyPeerCommonName(cert *x509.Certificate, expected string) error {
	if cert.Subject.CommonName != expected {
		return rerrors.New("transport.VerifyPeerCommonName", rerrors.AuthenticationFailed,
			fmt.Errorf("peer certificate CN %q does not match expected %q", cert.Subject.CommonName, expected))
	}
	return nil
}
