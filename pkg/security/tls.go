package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

const (
	serverKeySize        = 2048
	serverCertValidity   = 90 * 24 * time.Hour
	certRotationThreshold = 30 * 24 * time.Hour
)

// GenerateServerIdentity issues a self-signed server certificate for the
// admin gRPC listener. There is no cluster of peers to form a CA for here —
// one process serves its own admin surface — so the certificate is its own
// root rather than signed by a separate authority.
func GenerateServerIdentity(commonName string, dnsNames []string, ipAddresses []net.IP) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, serverKeySize)
	if err != nil {
		return nil, fmt.Errorf("security: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("security: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"Flux"}, CommonName: commonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(serverCertValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
		IPAddresses:  ipAddresses,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("security: create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("security: parse certificate: %w", err)
	}

	return &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// NeedsRotation reports whether cert is close enough to expiry that a
// replacement should be issued.
func NeedsRotation(cert *tls.Certificate) bool {
	if cert.Leaf == nil {
		return true
	}
	return time.Until(cert.Leaf.NotAfter) < certRotationThreshold
}
