// Package tlsconf derives TLS configuration for hub connections from a
// shared passphrase.
//
// The private key is derived deterministically via HKDF so both sides produce
// the same key from the same passphrase. The certificate itself is random;
// clients verify the server's public key rather than pinning the cert.
//
// Same passphrase → public keys match → connection succeeds, traffic encrypted.
// Different passphrases → public keys differ → connection fails immediately.
//
// Key derivation:
//
//	HKDF-SHA256(ikm=passphrase, salt="suffuse-tls-v1", info="private-key")
//	→ 64 bytes → reduced mod curve order → deterministic ECDSA P-256 key
package tlsconf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"golang.org/x/crypto/hkdf"
)

// DefaultPassphrase is used when the hub runs without a token.
const DefaultPassphrase = "suffuse"

// serverName is the fixed SNI both sides agree on; the hub's cert names it.
const serverName = "suffuse"

// ErrKeyMismatch is returned by the client verifier when the server's key
// was derived from a different passphrase.
var ErrKeyMismatch = errors.New("tlsconf: server public key does not match passphrase")

// ServerConfig returns a *tls.Config presenting a fresh self-signed
// certificate over the passphrase key.
func ServerConfig(passphrase string) (*tls.Config, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	der, err := selfSignedCert(key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: cert: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig returns a *tls.Config that accepts exactly the server whose
// key derives from passphrase.
func ClientConfig(passphrase string) (*tls.Config, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	want, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal pubkey: %w", err)
	}
	return &tls.Config{
		// Chain verification is replaced by the public key check below.
		InsecureSkipVerify: true, //nolint:gosec
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyKey(rawCerts, want)
		},
	}, nil
}

func verifyKey(rawCerts [][]byte, want []byte) error {
	if len(rawCerts) == 0 {
		return errors.New("tlsconf: server presented no certificate")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("tlsconf: parse server cert: %w", err)
	}
	got, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("tlsconf: marshal server pubkey: %w", err)
	}
	if !bytes.Equal(got, want) {
		return ErrKeyMismatch
	}
	return nil
}

// deriveKey derives a deterministic ECDSA P-256 private key from passphrase.
func deriveKey(passphrase string) (*ecdsa.PrivateKey, error) {
	r := hkdf.New(sha256.New, []byte(passphrase), []byte("suffuse-tls-v1"), []byte("private-key"))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("hkdf read: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, new(big.Int).Sub(n, big.NewInt(1)))
	k.Add(k, big.NewInt(1)) // k ∈ [1, N-1]

	key := new(ecdsa.PrivateKey)
	key.PublicKey.Curve = curve
	key.D = k
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(k.Bytes())
	return key, nil
}

func selfSignedCert(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: serverName},
		DNSNames:              []string{serverName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(100 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
}
