package storage

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ipfs/go-cid"

	"virtius.io/virtius/cidutil"
)

// LocatorScheme prefixes the string form of a Locator.
const LocatorScheme = "cas://"

// Locator names a blob stored in a CAS. The CID is authoritative; Name is
// the caller-facing file name (for example "3f2a_protected.png").
type Locator struct {
	Name string
	CID  cid.Cid
}

// String renders cas://<cid>/<name>.
func (l Locator) String() string {
	return LocatorScheme + l.CID.String() + "/" + l.Name
}

// ParseLocator is the inverse of Locator.String.
func ParseLocator(s string) (Locator, error) {
	rest, ok := strings.CutPrefix(s, LocatorScheme)
	if !ok {
		return Locator{}, fmt.Errorf("%w: missing %s prefix", ErrInvalidLocator, LocatorScheme)
	}
	idStr, name, ok := strings.Cut(rest, "/")
	if !ok {
		return Locator{}, fmt.Errorf("%w: missing name", ErrInvalidLocator)
	}
	id, err := cid.Decode(idStr)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	if err := validName(name); err != nil {
		return Locator{}, err
	}
	return Locator{Name: name, CID: id}, nil
}

// PutNamed stores data under its CID and returns a locator carrying name.
func PutNamed(cas CAS, name string, data []byte) (Locator, error) {
	if err := validName(name); err != nil {
		return Locator{}, Wrap("put", err)
	}
	want, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return Locator{}, Wrap("put", err)
	}
	got, err := cas.Put(data)
	if err != nil {
		return Locator{}, Wrap("put", err)
	}
	if got != want {
		return Locator{}, Wrap("put", ErrCIDMismatch)
	}
	return Locator{Name: name, CID: got}, nil
}

// GetNamed fetches the blob a locator points at.
func GetNamed(cas CAS, loc Locator) ([]byte, error) {
	if !loc.CID.Defined() {
		return nil, Wrap("get", ErrInvalidCID)
	}
	b, err := cas.Get(loc.CID)
	if err != nil {
		return nil, Wrap("get", err)
	}
	return b, nil
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: name %q", ErrInvalidLocator, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: name %q contains a path separator", ErrInvalidLocator, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidLocator)
		}
	}
	return nil
}
