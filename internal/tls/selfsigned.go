// Package tls provisions the development certificate for HTTPS serving.
package tls

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// EnsureCertificate leaves an existing cert/key pair alone and otherwise
// writes a self-signed one for hosts. created reports whether it wrote.
func EnsureCertificate(fs afero.Fs, certPath, keyPath string, hosts []string) (created bool, err error) {
	if certPath == "" || keyPath == "" {
		return false, errors.New("tls enabled but cert/key file not provided")
	}
	certExists, err := afero.Exists(fs, certPath)
	if err != nil {
		return false, err
	}
	keyExists, err := afero.Exists(fs, keyPath)
	if err != nil {
		return false, err
	}
	if certExists && keyExists {
		return false, nil
	}
	if len(hosts) == 0 {
		return false, fmt.Errorf("certificate %s is missing and no hostnames are configured", certPath)
	}
	certPEM, keyPEM, err := GenerateSelfSignedCert(hosts, time.Now())
	if err != nil {
		return false, err
	}
	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(fs, certPath, certPEM, 0o644); err != nil {
		return false, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := afero.WriteFile(fs, keyPath, keyPEM, 0o600); err != nil {
		return false, fmt.Errorf("failed to write key: %w", err)
	}
	return true, nil
}

// GenerateSelfSignedCert generates a new ECDSA certificate and corresponding
// private key suitable for use with a development TLS server, valid for a
// year from now for the provided hostnames and IPs, both PEM encoded.
func GenerateSelfSignedCert(hosts []string, now time.Time) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, err
	}

	tmpl := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Financial Advisor Dev"},
		},
		NotBefore: now.Add(-time.Minute),
		NotAfter:  now.Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}
	b, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}

	var certBuf, keyBuf bytes.Buffer
	if err := pem.Encode(&certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, err
	}
	if err := pem.Encode(&keyBuf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: b}); err != nil {
		return nil, nil, err
	}
	return certBuf.Bytes(), keyBuf.Bytes(), nil
}
