// Package certs loads the server's TLS key pair and tracks its expiry.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	ErrExpired   = errors.New("certificate expired")
	ErrNoCertPEM = errors.New("no CERTIFICATE block in PEM data")
)

// CertManager serves a key pair from disk. Reload swaps it in place, so a
// tls.Config using GetCertificate picks up renewed files without a restart.
type CertManager struct {
	certFile string
	keyFile  string
	now      func() time.Time

	mu   sync.RWMutex
	cert *tls.Certificate
	leaf *x509.Certificate
}

func NewCertManager(certFile, keyFile string) *CertManager {
	return &CertManager{certFile: certFile, keyFile: keyFile, now: time.Now}
}

// Reload reads the key pair again. An expired leaf is rejected and the
// previous pair, if any, stays active.
func (cm *CertManager) Reload() error {
	pair, err := tls.LoadX509KeyPair(cm.certFile, cm.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return fmt.Errorf("parse leaf certificate: %w", err)
	}
	if cm.IsExpired(leaf) {
		return fmt.Errorf("%s: %w on %s", cm.certFile, ErrExpired, leaf.NotAfter.Format(time.RFC3339))
	}
	pair.Leaf = leaf

	cm.mu.Lock()
	cm.cert, cm.leaf = &pair, leaf
	cm.mu.Unlock()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (cm *CertManager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.cert == nil {
		return nil, errors.New("no certificate loaded")
	}
	return cm.cert, nil
}

func (cm *CertManager) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: cm.GetCertificate,
	}
}

// NotAfter is the expiry of the active leaf, zero before the first Reload.
func (cm *CertManager) NotAfter() time.Time {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.leaf == nil {
		return time.Time{}
	}
	return cm.leaf.NotAfter
}

// ExpiresWithin reports whether the active leaf expires in less than d.
func (cm *CertManager) ExpiresWithin(d time.Duration) bool {
	na := cm.NotAfter()
	return !na.IsZero() && na.Before(cm.now().Add(d))
}

func (cm *CertManager) IsExpired(cert *x509.Certificate) bool {
	return cert.NotAfter.Before(cm.now())
}

// LoadCertificates parses every CERTIFICATE block in a PEM file.
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertPEM
	}
	return certs, nil
}
