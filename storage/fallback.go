package storage

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"virtius.io/virtius/cidutil"
)

// NamedCAS pairs a backend with the name it was configured under.
type NamedCAS struct {
	Name string
	CAS  CAS
}

// MultiCAS writes to its first adapter and reads through all of them in
// slice order, so a protected image archived on a slow remote store can still
// be served from a local cache placed ahead of it.
type MultiCAS struct {
	Adapters []CAS
}

var _ CAS = MultiCAS{}

func (m MultiCAS) Put(data []byte) (cid.Cid, error) {
	if len(m.Adapters) == 0 {
		return cid.Undef, errors.New("storage: MultiCAS has no adapters")
	}
	return m.Adapters[0].Put(data)
}

func (m MultiCAS) Get(id cid.Cid) ([]byte, error) {
	return firstHit(id, m.Adapters)
}

func (m MultiCAS) Has(id cid.Cid) bool {
	return anyHas(id, m.Adapters)
}

// ReplicatingCAS writes every blob to all backends and fails unless they all
// agree on its CID. Reads fall back in order.
type ReplicatingCAS struct {
	Backends []NamedCAS
}

var _ CAS = ReplicatingCAS{}

// PutAll writes data to every backend and reports what each one returned.
// The first disagreeing backend stops the write with ErrCIDMismatch.
func (r ReplicatingCAS) PutAll(data []byte) (cid.Cid, map[string]cid.Cid, error) {
	if len(r.Backends) == 0 {
		return cid.Undef, nil, errors.New("storage: ReplicatingCAS has no backends")
	}
	want, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, nil, err
	}

	got := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, got, fmt.Errorf("storage: backend %q is not open", b.Name)
		}
		id, err := b.CAS.Put(data)
		if err != nil {
			return cid.Undef, got, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		got[b.Name] = id
		if id != want {
			return cid.Undef, got, ErrCIDMismatch
		}
	}
	return want, got, nil
}

func (r ReplicatingCAS) Put(data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(data)
	return id, err
}

func (r ReplicatingCAS) Get(id cid.Cid) ([]byte, error) {
	return firstHit(id, r.adapters())
}

func (r ReplicatingCAS) Has(id cid.Cid) bool {
	return anyHas(id, r.adapters())
}

func (r ReplicatingCAS) adapters() []CAS {
	out := make([]CAS, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS != nil {
			out = append(out, b.CAS)
		}
	}
	return out
}

// firstHit returns the first successful read. A miss moves on to the next
// backend; any other error stops the search.
func firstHit(id cid.Cid, backends []CAS) ([]byte, error) {
	for _, c := range backends {
		b, err := c.Get(id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func anyHas(id cid.Cid, backends []CAS) bool {
	for _, c := range backends {
		if c.Has(id) {
			return true
		}
	}
	return false
}
