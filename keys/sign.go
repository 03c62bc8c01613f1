package keys

import (
	"crypto/ed25519"
	"encoding/base64"

	"virtius.io/virtius/errs"
)

// Sign returns a base64 Ed25519 signature over the ASCII bytes of digestHex.
//
// Ed25519 signatures are deterministic, so the same (digestHex, key) always
// yields the same signature.
func Sign(digestHex, privatePEM string) (string, error) {
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return "", errs.Wrap(errs.KindInvalidKey, "sign", "load signing key", err)
	}
	return SignWithKey(digestHex, priv), nil
}

// SignWithKey signs digestHex with an already parsed key.
func SignWithKey(digestHex string, priv ed25519.PrivateKey) string {
	sig := ed25519.Sign(priv, []byte(digestHex))
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify reports whether signatureB64 (standard padded base64) is a valid
// signature of digestHex under publicPEM. Malformed keys, malformed signatures
// and mismatches all report false; verification failure is an outcome, not an
// error.
func Verify(digestHex, signatureB64, publicPEM string) bool {
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, []byte(digestHex), sig)
}
