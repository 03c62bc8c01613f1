// Package cidutil maps image bytes and their SHA-256 content hashes onto
// CIDv1 (raw codec, sha2-256 multihash) identifiers used by storage.
package cidutil

import (
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	id, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// FromSHA256Hex builds the CID for content whose SHA-256 hex digest is
// already known, without rehashing the content.
func FromSHA256Hex(digestHex string) (cid.Cid, error) {
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidutil: invalid hex digest: %w", err)
	}
	if len(digest) != 32 {
		return cid.Undef, fmt.Errorf("cidutil: sha256 digest must be 32 bytes, got %d", len(digest))
	}
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// SHA256Hex recovers the hex content digest from a raw sha2-256 CID.
func SHA256Hex(id cid.Cid) (string, error) {
	if !id.Defined() {
		return "", fmt.Errorf("cidutil: undefined cid")
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return "", err
	}
	if dec.Code != multihash.SHA2_256 {
		return "", fmt.Errorf("cidutil: unsupported multihash code 0x%x", dec.Code)
	}
	return hex.EncodeToString(dec.Digest), nil
}
