// Package testkit holds the behaviour every storage.CAS backend must share.
package testkit

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"virtius.io/virtius/cidutil"
	"virtius.io/virtius/hasher"
	"virtius.io/virtius/storage"
)

// NewCAS returns a fresh, empty store isolated from other tests.
type NewCAS func(t *testing.T) storage.CAS

// RunCASConformance exercises a backend through the storage.CAS contract
// and the named-blob helpers built on it.
func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		want := []byte("protected image payload")

		id, err := cas.Put(want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := cidutil.CIDv1RawSHA256CID(want)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}
		if id != wantID {
			t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
		}
		got, err := cas.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("CIDMatchesContentHash", func(t *testing.T) {
		cas := newCAS(t)
		data := []byte("certificate bytes")
		id, err := cas.Put(data)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		digest, err := cidutil.SHA256Hex(id)
		if err != nil {
			t.Fatalf("SHA256Hex failed: %v", err)
		}
		if digest != hasher.SumBytes(data) {
			t.Fatalf("CID digest %s does not match content hash", digest)
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("same bytes")
		id1, err := cas.Put(b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := cas.Put(b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("missing")
		id, err := cidutil.CIDv1RawSHA256CID(b)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}
		if cas.Has(id) {
			t.Fatalf("Has returned true for missing CID")
		}
		if _, err := cas.Get(id); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if _, err := cas.Put(b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !cas.Has(id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t)
		var undef cid.Cid
		if cas.Has(undef) {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := cas.Get(undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
	})

	t.Run("NamedRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		data := []byte("named blob")
		loc, err := storage.PutNamed(cas, "img_protected.png", data)
		if err != nil {
			t.Fatalf("PutNamed failed: %v", err)
		}
		parsed, err := storage.ParseLocator(loc.String())
		if err != nil {
			t.Fatalf("ParseLocator(%s) failed: %v", loc, err)
		}
		got, err := storage.GetNamed(cas, parsed)
		if err != nil {
			t.Fatalf("GetNamed failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("GetNamed bytes mismatch")
		}
		if _, err := storage.PutNamed(cas, "../escape", data); !errors.Is(err, storage.ErrInvalidLocator) {
			t.Fatalf("PutNamed with path separator: got %v want ErrInvalidLocator", err)
		}
	})
}
