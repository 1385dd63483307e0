// Package tls manages the gateway's serving certificate.
package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"grimm.is/vpnadmin/internal/brand"
	"grimm.is/vpnadmin/internal/clock"
	"grimm.is/vpnadmin/internal/logging"
)

// Keypair serves a certificate loaded from disk and swaps it when the files
// are rotated.
type Keypair struct {
	certFile string
	keyFile  string

	mu   sync.RWMutex
	cert *tls.Certificate
}

// NewKeypair loads certFile and keyFile.
func NewKeypair(certFile, keyFile string) (*Keypair, error) {
	kp := &Keypair{certFile: certFile, keyFile: keyFile}
	if err := kp.Reload(); err != nil {
		return nil, err
	}
	return kp, nil
}

// Reload re-reads the files. The previous certificate stays active on error.
func (kp *Keypair) Reload() error {
	cert, err := LoadCertificate(kp.certFile, kp.keyFile)
	if err != nil {
		return err
	}
	kp.mu.Lock()
	kp.cert = cert
	kp.mu.Unlock()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (kp *Keypair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	if kp.cert == nil {
		return nil, errors.New("no certificate available")
	}
	return kp.cert, nil
}

// Fingerprint returns the SHA-256 hex digest of the active leaf certificate.
func (kp *Keypair) Fingerprint() string {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	if kp.cert == nil || len(kp.cert.Certificate) == 0 {
		return ""
	}
	return fingerprint(kp.cert.Certificate[0])
}

// ServerConfig returns a tls.Config that serves the keypair.
func (kp *Keypair) ServerConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: kp.GetCertificate,
	}
}

// Watch reloads the keypair when either file changes, until ctx is done.
func (kp *Keypair) Watch(ctx context.Context, logger *logging.Logger) error {
	logger = logger.WithComponent("tls")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := map[string]bool{}
	for _, f := range []string{kp.certFile, kp.keyFile} {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		watched[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] || event.Has(fsnotify.Remove) || event.Has(fsnotify.Chmod) {
				continue
			}
			// A rotation touches both files; the first event may see a
			// mismatched pair and fail, the second one lands.
			if err := kp.Reload(); err != nil {
				logger.Debug("certificate reload deferred", "error", err)
				continue
			}
			logger.Info("certificate reloaded", "fingerprint", kp.Fingerprint())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("certificate watcher error", "error", err)
		}
	}
}

// GenerateSelfSigned writes a P-256 self-signed certificate valid for hosts
// (DNS names or IPs) and returns its fingerprint.
func GenerateSelfSigned(certFile, keyFile string, hosts []string, validDays int) (string, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return "", fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := clock.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{brand.Name},
			CommonName:   brand.Name,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(time.Duration(validDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to create certificate: %w", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(certFile, "CERTIFICATE", derBytes, 0o644); err != nil {
		return "", err
	}
	if err := writePEM(keyFile, "EC PRIVATE KEY", privBytes, 0o600); err != nil {
		return "", err
	}
	return fingerprint(derBytes), nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// LoadCertificate loads a certificate from files.
func LoadCertificate(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return &cert, nil
}

func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}
