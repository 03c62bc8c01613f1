// Package keys provides the Ed25519 signing identity of a protection request.
//
// Keys travel as PEM text: private keys as unencrypted PKCS#8, public keys as
// SubjectPublicKeyInfo. Signatures are made over the ASCII bytes of a hex
// content digest (not the raw digest bytes) and are exchanged as standard
// base64. That encoding is part of the certificate format; changing it
// breaks verification of certificates already issued.
//
// Key pairs are ephemeral: the package never stores keys.
package keys
