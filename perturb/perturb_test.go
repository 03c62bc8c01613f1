package perturb

import (
	"bytes"
	"image/color"
	"testing"

	"virtius.io/virtius/imagebuf"
	"virtius.io/virtius/internal/imagetest"
)

type constSource uint64

func (c constSource) Uint64() uint64 { return uint64(c) }

func TestPerturb_ZeroesEveryEighthByte(t *testing.T) {
	buf := imagebuf.New(5, 4, imagebuf.Meta{Format: imagebuf.PNG})
	for i := range buf.Pix {
		buf.Pix[i] = 0xf0
	}
	out := Perturb(buf, constSource(0))
	for i, v := range out.Pix {
		want := uint8(0xf0)
		if i%ZeroStride == 0 {
			want = 0
		}
		if v != want {
			t.Fatalf("byte %d: got %#x want %#x", i, v, want)
		}
	}
	if buf.Pix[0] != 0xf0 {
		t.Fatalf("input buffer was modified")
	}
}

func TestPerturb_XORsOnlyBlue(t *testing.T) {
	buf := imagebuf.New(7, 3, imagebuf.Meta{Format: imagebuf.PNG})
	for i := range buf.Pix {
		buf.Pix[i] = 0x80
	}
	out := Perturb(buf, constSource(^uint64(0)))
	for i, v := range out.Pix {
		want := uint8(0x80)
		if i%ZeroStride == 0 {
			want = 0
		}
		if i%imagebuf.Channels == 2 {
			want ^= 1
		}
		if v != want {
			t.Fatalf("byte %d: got %#x want %#x", i, v, want)
		}
	}
}

func TestPerturb_PreservesShapeAndDecodes(t *testing.T) {
	data := imagetest.Gradient(t, 33, 21)
	out, err := PerturbBytes(data, NewSource(1))
	if err != nil {
		t.Fatalf("PerturbBytes: %v", err)
	}
	if !ValidateIntegrity(out) {
		t.Fatalf("perturbed image does not decode")
	}
	a, _ := imagebuf.Decode(data)
	b, err := imagebuf.Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !imagebuf.SameShape(a, b) {
		t.Fatalf("shape changed: %dx%d -> %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	if b.Meta.Format != imagebuf.PNG {
		t.Fatalf("format changed to %q", b.Meta.Format)
	}
}

func TestPerturb_SeededIsDeterministic(t *testing.T) {
	data := imagetest.Gradient(t, 40, 40)
	a, err := PerturbBytes(data, NewSource(42))
	if err != nil {
		t.Fatalf("PerturbBytes: %v", err)
	}
	b, err := PerturbBytes(data, NewSource(42))
	if err != nil {
		t.Fatalf("PerturbBytes: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("same seed produced different output")
	}
	c, err := PerturbBytes(data, NewSource(43))
	if err != nil {
		t.Fatalf("PerturbBytes: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("different seeds produced identical output")
	}
}

func TestPerturb_UnseededVaries(t *testing.T) {
	data := imagetest.Gradient(t, 64, 64)
	src, err := SecureSource()
	if err != nil {
		t.Fatalf("SecureSource: %v", err)
	}
	a, err := PerturbBytes(data, src)
	if err != nil {
		t.Fatalf("PerturbBytes: %v", err)
	}
	b, err := PerturbBytes(data, nil)
	if err != nil {
		t.Fatalf("PerturbBytes: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("independent random sources produced identical output")
	}
}

func TestPerturbBytes_RejectsGarbage(t *testing.T) {
	if _, err := PerturbBytes([]byte("nope"), NewSource(1)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestManipulationScore_Bounds(t *testing.T) {
	data := imagetest.Gradient(t, 50, 50)
	out, err := PerturbBytes(data, NewSource(9))
	if err != nil {
		t.Fatalf("PerturbBytes: %v", err)
	}
	s := ManipulationScore(data, out)
	if s <= 0 || s > 100 {
		t.Fatalf("score out of range: %v", s)
	}
	if got := ManipulationScore(data, data); got != 0 {
		t.Fatalf("identical images must score 0, got %v", got)
	}
}

func TestManipulationScore_ZeroOnFailure(t *testing.T) {
	a := imagetest.Solid(t, 10, 10, color.NRGBA{R: 9})
	b := imagetest.Solid(t, 10, 11, color.NRGBA{R: 200})
	if got := ManipulationScore(a, b); got != 0 {
		t.Fatalf("shape mismatch must score 0, got %v", got)
	}
	if got := ManipulationScore(a, []byte("garbage")); got != 0 {
		t.Fatalf("decode failure must score 0, got %v", got)
	}
	if got := ManipulationScore(nil, a); got != 0 {
		t.Fatalf("empty original must score 0, got %v", got)
	}
}

func TestManipulationScoreBuffers_WrapsLikeUint8(t *testing.T) {
	a := imagebuf.New(1, 1, imagebuf.Meta{})
	b := imagebuf.New(1, 1, imagebuf.Meta{})
	// 1-0 = 1, 0-1 wraps to 255 (255*255 wraps to 1), 16-0 = 16 (256 wraps to 0).
	a.Pix = []uint8{1, 0, 16}
	b.Pix = []uint8{0, 1, 0}
	want := float64(1+1+0) / 3 * 10
	if got := ManipulationScoreBuffers(a, b); got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
