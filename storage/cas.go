// Package storage keeps the artifacts of a protection run (original image,
// protected image, certificate) as immutable, content-addressed blobs.
//
// Every blob is keyed by a CIDv1 (raw codec, sha2-256) of its exact bytes, so
// the protected-image CID and the pipeline's protected hash name the same
// digest. Named blobs are referenced by a Locator.
package storage

import "github.com/ipfs/go-cid"

// CAS is the blob store contract shared by every backend.
//
// Put is idempotent and returns the CID of the bytes it was given. A stored
// blob never changes. Get returns ErrNotFound for an absent CID and
// ErrCIDMismatch if the stored bytes no longer hash to it.
type CAS interface {
	Put(data []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}
