// Package perturb applies the fixed byte-zeroing and randomised blue-channel
// XOR to an RGB buffer, and scores how far a protected image drifted from
// its original.
package perturb

import (
	crand "crypto/rand"
	"math/rand/v2"

	"virtius.io/virtius/errs"
	"virtius.io/virtius/imagebuf"
)

// ZeroStride is the spacing of zeroed bytes in the flattened RGB buffer.
const ZeroStride = 8

// NewSource returns a deterministic source for reproducible perturbation.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// SecureSource returns a ChaCha8 source seeded from crypto/rand.
func SecureSource() (rand.Source, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, errs.Wrap(errs.KindCryptoUnavailable, "perturb", "seed random source", err)
	}
	return rand.NewChaCha8(seed), nil
}

// Perturb returns a new buffer with every ZeroStride-th byte of the flattened
// pixel data set to zero and one random bit XORed into each blue value.
// buf is not modified. A nil src uses the runtime's global generator.
func Perturb(buf *imagebuf.Buffer, src rand.Source) *imagebuf.Buffer {
	out := buf.Clone()
	for i := 0; i < len(out.Pix); i += ZeroStride {
		out.Pix[i] = 0
	}

	next := rand.Uint64
	if src != nil {
		next = src.Uint64
	}
	var bits uint64
	n := 0
	for i := 2; i < len(out.Pix); i += out.Channels {
		if n == 0 {
			bits, n = next(), 64
		}
		out.Pix[i] ^= uint8(bits & 1)
		bits >>= 1
		n--
	}
	return out
}

// PerturbBytes decodes data, perturbs it and re-encodes it in the source format.
func PerturbBytes(data []byte, src rand.Source) ([]byte, error) {
	buf, err := imagebuf.Decode(data)
	if err != nil {
		return nil, err
	}
	return imagebuf.Encode(Perturb(buf, src))
}

// ManipulationScore is the mean squared pixel difference across all channels,
// scaled by 10 and clamped to [0, 100]. Differences and squares are taken in
// 8-bit arithmetic and wrap. Any decode failure or shape mismatch scores 0.
func ManipulationScore(original, protected []byte) float64 {
	a, err := imagebuf.Decode(original)
	if err != nil {
		return 0
	}
	b, err := imagebuf.Decode(protected)
	if err != nil {
		return 0
	}
	return ManipulationScoreBuffers(a, b)
}

// ManipulationScoreBuffers is ManipulationScore over already-decoded buffers.
func ManipulationScoreBuffers(a, b *imagebuf.Buffer) float64 {
	if !imagebuf.SameShape(a, b) || len(a.Pix) == 0 || len(a.Pix) != len(b.Pix) {
		return 0
	}
	var sum uint64
	for i := range a.Pix {
		d := a.Pix[i] - b.Pix[i]
		sum += uint64(d * d)
	}
	mse := float64(sum) / float64(len(a.Pix))
	return clamp(mse * 10)
}

// ValidateIntegrity reports whether protected still decodes as an image.
func ValidateIntegrity(protected []byte) bool {
	_, err := imagebuf.Decode(protected)
	return err == nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
