package imagebuf

import (
	"bytes"
	"testing"

	"virtius.io/virtius/internal/imagetest"
)

func TestMetadata_JPEGExifSurvivesReencode(t *testing.T) {
	icc := []byte("ICC_PROFILE\x00\x01\x01fake-profile")
	src := imagetest.GradientJPEG(t, 16, 16)
	src = imagetest.WithJPEGSegment(t, src, jpegAPP2, icc)
	src = imagetest.WithJPEGSegment(t, src, jpegAPP1, imagetest.ExifPayload)

	b, err := Decode(src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(b.Meta.Blocks) != 2 || b.Meta.Blocks[0].Name != "APP1" || b.Meta.Blocks[1].Name != "APP2" {
		t.Fatalf("unexpected blocks: %+v", b.Meta.Blocks)
	}

	out, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !imagetest.HasJPEGSegment(out, jpegAPP1, imagetest.ExifPayload) {
		t.Fatalf("Exif APP1 not carried over")
	}
	if !imagetest.HasJPEGSegment(out, jpegAPP2, icc) {
		t.Fatalf("ICC APP2 not carried over")
	}
	again, err := Decode(out)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if !SameShape(b, again) || len(again.Meta.Blocks) != 2 {
		t.Fatalf("re-decoded image lost shape or blocks: %+v", again.Meta)
	}
}

func TestMetadata_PNGChunksSurviveReencode(t *testing.T) {
	text := []byte("Comment\x00made by hand")
	phys := []byte{0, 0, 0x0b, 0x13, 0, 0, 0x0b, 0x13, 1}
	src := gradientPNG(t, 8, 8)
	src = imagetest.WithPNGChunk(t, src, "pHYs", phys)
	src = imagetest.WithPNGChunk(t, src, "tEXt", text)

	b, err := Decode(src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(b.Meta.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %+v", b.Meta.Blocks)
	}

	out, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, want := range [][]byte{imagetest.PNGChunk("tEXt", text), imagetest.PNGChunk("pHYs", phys)} {
		if !bytes.Contains(out, want) {
			t.Fatalf("chunk %q missing from output", want[4:8])
		}
	}
	again, err := Decode(out)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if !bytes.Equal(again.Pix, b.Pix) {
		t.Fatalf("pixels changed across lossless round trip")
	}
}

func TestMetadata_NotCarriedAcrossFormats(t *testing.T) {
	src := imagetest.WithPNGChunk(t, gradientPNG(t, 4, 4), "tEXt", []byte("k\x00v"))
	b, err := Decode(src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b.Meta.Format = JPEG
	out, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Contains(out, []byte("tEXt")) {
		t.Fatalf("PNG chunk spliced into JPEG")
	}
}

func TestMetadata_PlainImagesHaveNoBlocks(t *testing.T) {
	b, err := Decode(gradientPNG(t, 4, 4))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(b.Meta.Blocks) != 0 {
		t.Fatalf("unexpected blocks: %+v", b.Meta.Blocks)
	}
}

func TestMetadata_TruncatedSegmentStopsScan(t *testing.T) {
	data := []byte{0xff, 0xd8, 0xff, jpegAPP1, 0x00, 0x40, 'E', 'x'}
	if got := jpegBlocks(data); len(got) != 0 {
		t.Fatalf("expected no blocks from truncated segment, got %d", len(got))
	}
	if got := pngBlocks(append(append([]byte{}, pngSignature...), 0, 0, 0, 9, 't', 'E')); len(got) != 0 {
		t.Fatalf("expected no blocks from truncated chunk, got %d", len(got))
	}
}
