package feed

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/mr-tron/base58"
)

// certValidity is how long an identity certificate stays valid.
const certValidity = 365 * 24 * time.Hour

// identityCertificate wraps an ed25519 key in a self-signed certificate
// whose common name is the base58 public key.
func identityCertificate(key ed25519.PrivateKey) (tls.Certificate, error) {
	pub := key.Public().(ed25519.PublicKey)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial number:\n%w", err)
	}

	now := time.Now()

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: base58.Encode(pub), Organization: []string{"tally"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate:\n%w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate:\n%w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// tlsConfig returns the TLS configuration shared by the server and subscribers.
// Peers are identified by the ed25519 key in their certificate, not by a CA.
func tlsConfig(key ed25519.PrivateKey) (*tls.Config, error) {
	cert, err := identityCertificate(key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
	}, nil
}

// peerKey returns the ed25519 key a peer presented. The certificate must be
// self-signed by that key and name it.
func peerKey(state tls.ConnectionState) (ed25519.PublicKey, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificate")
	}

	cert := state.PeerCertificates[0]

	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("peer certificate does not contain ed25519 key")
	}

	if cert.Subject.CommonName != base58.Encode(pub) {
		return nil, fmt.Errorf("peer certificate names %q, not its key", cert.Subject.CommonName)
	}

	if err := cert.CheckSignatureFrom(cert); err != nil {
		return nil, fmt.Errorf("peer certificate is not self-signed:\n%w", err)
	}

	return bytes.Clone(pub), nil
}
