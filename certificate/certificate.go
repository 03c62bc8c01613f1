// Package certificate assembles, renders and re-checks the portable proof
// document that binds a content digest to a signature and public key.
package certificate

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"virtius.io/virtius/cidutil"
	"virtius.io/virtius/keys"
)

const (
	Version   = "1.0"
	Algorithm = "Ed25519-SHA256"
)

// ErrMalformed is returned by Parse for documents that do not have the
// certificate shape.
var ErrMalformed = errors.New("certificate: malformed document")

// Certificate is immutable once issued. Field order matches the rendered JSON.
type Certificate struct {
	Version     string `json:"version"`
	Algorithm   string `json:"algorithm"`
	ContentHash string `json:"content_hash"`
	Signature   string `json:"signature"`
	PublicKey   string `json:"public_key"`
	Verified    bool   `json:"verified"`
}

// Issue assembles a certificate for a signature that was just produced.
// Verified records that fact; it is not an independent re-check (see Check).
func Issue(signature, digestHex, publicPEM string) Certificate {
	return Certificate{
		Version:     Version,
		Algorithm:   Algorithm,
		ContentHash: digestHex,
		Signature:   signature,
		PublicKey:   publicPEM,
		Verified:    true,
	}
}

// JSON renders the certificate with two-space indentation.
func (c Certificate) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Check independently re-verifies the signature against the content hash.
func (c Certificate) Check() bool {
	return keys.Verify(c.ContentHash, c.Signature, c.PublicKey)
}

// Parse decodes a rendered certificate. Unknown fields, other versions or
// algorithms, and missing values are rejected with ErrMalformed.
func Parse(b []byte) (Certificate, error) {
	var c Certificate
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Certificate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Version != Version {
		return Certificate{}, fmt.Errorf("%w: unsupported version %q", ErrMalformed, c.Version)
	}
	if c.Algorithm != Algorithm {
		return Certificate{}, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformed, c.Algorithm)
	}
	if raw, err := hex.DecodeString(c.ContentHash); err != nil || len(raw) != 32 {
		return Certificate{}, fmt.Errorf("%w: content_hash must be 64 hex characters", ErrMalformed)
	}
	if c.Signature == "" {
		return Certificate{}, fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	if c.PublicKey == "" {
		return Certificate{}, fmt.Errorf("%w: missing public_key", ErrMalformed)
	}
	return c, nil
}

// Document is a rendered certificate plus the CID of its bytes, so it can be
// archived in a CAS and referenced like any other artifact.
type Document struct {
	Certificate Certificate
	Bytes       []byte
	CID         string
}

// NewDocument renders c and computes the CID of the rendered bytes.
func NewDocument(c Certificate) (*Document, error) {
	b, err := c.JSON()
	if err != nil {
		return nil, err
	}
	return &Document{Certificate: c, Bytes: b, CID: cidutil.CIDv1RawSHA256(b)}, nil
}
