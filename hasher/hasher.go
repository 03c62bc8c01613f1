// Package hasher computes content digests over arbitrary-size byte sources.
//
// Input is consumed in fixed-size chunks so memory use does not depend on the
// size of the source. The chunk size never changes the digest.
package hasher

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// DefaultChunkSize is the read size used when none is configured (4 MiB).
const DefaultChunkSize = 4 << 20

// Algorithm names a digest function.
type Algorithm string

const (
	// SHA256 is the content-hash algorithm of the protection pipeline.
	SHA256   Algorithm = "sha256"
	SHA512   Algorithm = "sha512"
	SHA3_256 Algorithm = "sha3-256"
	BLAKE3   Algorithm = "blake3"
)

// Algorithms returns the supported algorithms in a fixed order.
func Algorithms() []Algorithm {
	return []Algorithm{SHA256, SHA512, SHA3_256, BLAKE3}
}

// ParseAlgorithm maps a name to a supported Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range Algorithms() {
		if string(a) == name {
			return a, nil
		}
	}
	return "", fmt.Errorf("hasher: unsupported algorithm %q", name)
}

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case SHA256, "":
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("hasher: unsupported algorithm %q", alg)
	}
}

// Hasher streams a byte source through a digest function.
// The zero value is not usable; construct with New.
type Hasher struct {
	alg       Algorithm
	chunkSize int
}

type Option func(*Hasher)

// WithChunkSize sets the read size. Values <= 0 are ignored.
func WithChunkSize(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.chunkSize = n
		}
	}
}

// WithAlgorithm selects the digest function (default SHA256).
func WithAlgorithm(alg Algorithm) Option {
	return func(h *Hasher) { h.alg = alg }
}

func New(opts ...Option) *Hasher {
	h := &Hasher{alg: SHA256, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Algorithm reports the configured digest function.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Sum reads r to EOF and returns the lowercase hex digest.
func (h *Hasher) Sum(r io.Reader) (string, error) {
	d, err := newHash(h.alg)
	if err != nil {
		return "", err
	}
	buf := make([]byte, h.chunkSize)
	// The wrapper hides any WriterTo on r so reads stay chunk-sized.
	if _, err := io.CopyBuffer(d, &progressReader{r: r}, buf); err != nil {
		return "", fmt.Errorf("hasher: read: %w", err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

// progressReader fails with io.ErrNoProgress when the source keeps returning
// no data and no error.
type progressReader struct {
	r     io.Reader
	empty int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 || err != nil {
		p.empty = 0
		return n, err
	}
	p.empty++
	if p.empty >= maxEmptyReads {
		return 0, io.ErrNoProgress
	}
	return 0, nil
}

// SumFile hashes the file at path.
func (h *Hasher) SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.Sum(f)
}

var std = New()

// Sum returns the SHA-256 hex digest of r using DefaultChunkSize reads.
func Sum(r io.Reader) (string, error) { return std.Sum(r) }

// SumFile returns the SHA-256 hex digest of the file at path.
func SumFile(path string) (string, error) { return std.SumFile(path) }

// SumBytes returns the SHA-256 hex digest of b.
func SumBytes(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}
