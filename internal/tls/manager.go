package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

var ErrNoCertificate = errors.New("no certificate source configured")

// Manager picks the serving certificate: ACME first, then the configured key
// pair, then (outside production) a self-signed development certificate.
type Manager struct {
	server     config.ServerConfig
	production bool
	autoCert   *autocert.Manager

	mu      sync.Mutex
	devCert *tls.Certificate
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{server: cfg.Server, production: cfg.IsProduction()}
	if cfg.Server.EnableTLS && cfg.Server.AutoCert {
		m.setupAutoCert()
	}
	return m
}

func (m *Manager) setupAutoCert() {
	if err := os.MkdirAll(m.server.AutoCertDir, 0o700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.server.Domain),
		Cache:      autocert.DirCache(m.server.AutoCertDir),
		Email:      m.server.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.server.Domain),
		zap.String("cache_dir", m.server.AutoCertDir))
}

func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert lookup failed", zap.String("server_name", hello.ServerName), zap.Error(err))
	}

	if m.server.CertFile != "" && m.server.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
		if err == nil {
			return &cert, nil
		}
		util.Warn("Failed to load certificate files", zap.Error(err))
	}

	if m.production {
		return nil, ErrNoCertificate
	}
	return m.selfSigned()
}

func (m *Manager) selfSigned() (*tls.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.devCert != nil {
		return m.devCert, nil
	}

	hosts := []string{m.server.Domain, "localhost", "127.0.0.1", "::1"}
	cert, err := LoadOrCreateDevCert(m.server.AutoCertDir, hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	m.devCert = &cert
	return m.devCert, nil
}

// Config is the server side TLS configuration.
func (m *Manager) Config() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// HTTPHandler answers ACME http-01 challenges and passes everything else to
// fallback. Without AutoCert it returns fallback unchanged.
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.autoCert == nil {
		return fallback
	}
	return m.autoCert.HTTPHandler(fallback)
}
