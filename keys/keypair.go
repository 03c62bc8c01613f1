package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"

	"virtius.io/virtius/errs"
)

// Algorithm is the only signing algorithm this package issues.
const Algorithm = "Ed25519"

const (
	pemPrivateKey = "PRIVATE KEY"
	pemPublicKey  = "PUBLIC KEY"
)

// KeyPair is a PEM-encoded Ed25519 signing identity.
type KeyPair struct {
	PrivatePEM string
	PublicPEM  string
	Algorithm  string
}

// GenerateKeyPair creates a fresh Ed25519 key pair, reading the seed from r.
// A nil r uses crypto/rand. A failing randomness source is reported as
// errs.KindCryptoUnavailable.
func GenerateKeyPair(r io.Reader) (KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return KeyPair{}, errs.Wrap(errs.KindCryptoUnavailable, "keygen", "read key seed", err)
	}
	return KeyPairFromSeed(seed)
}

// KeyPairFromSeed derives the key pair for a 32-byte Ed25519 seed.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if l := len(seed); l != ed25519.SeedSize {
		return KeyPair{}, errs.New(errs.KindInvalidKey, "keygen", fmt.Sprintf("seed must be %d bytes, got %d", ed25519.SeedSize, l))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPair{}, errs.Wrap(errs.KindCryptoUnavailable, "keygen", "encode private key", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return KeyPair{}, errs.Wrap(errs.KindCryptoUnavailable, "keygen", "encode public key", err)
	}
	return KeyPair{
		PrivatePEM: string(pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: privDER})),
		PublicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: pubDER})),
		Algorithm:  Algorithm,
	}, nil
}

// ParsePrivateKey decodes a PKCS#8 PEM Ed25519 private key.
func ParsePrivateKey(privatePEM string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil || block.Type != pemPrivateKey {
		return nil, errs.New(errs.KindInvalidKey, "parse-private-key", "missing PRIVATE KEY PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidKey, "parse-private-key", "invalid PKCS#8 data", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errs.New(errs.KindInvalidKey, "parse-private-key", fmt.Sprintf("unsupported key type %T", key))
	}
	return priv, nil
}

// ParsePublicKey decodes an SPKI PEM Ed25519 public key.
func ParsePublicKey(publicPEM string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil || block.Type != pemPublicKey {
		return nil, errs.New(errs.KindInvalidKey, "parse-public-key", "missing PUBLIC KEY PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidKey, "parse-public-key", "invalid SPKI data", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errs.New(errs.KindInvalidKey, "parse-public-key", fmt.Sprintf("unsupported key type %T", key))
	}
	return pub, nil
}

// Fingerprint returns the SHA-256 hex digest of the public key's SPKI DER
// bytes. It identifies a signer in logs and records without the full PEM.
func Fingerprint(publicPEM string) (string, error) {
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", errs.Wrap(errs.KindInvalidKey, "fingerprint", "encode public key", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}
