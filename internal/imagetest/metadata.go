package imagetest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
)

// ExifPayload is a minimal APP1 body that readers recognise as Exif.
var ExifPayload = []byte("Exif\x00\x00MM\x00\x2a\x00\x00\x00\x08\x00\x00")

// WithJPEGSegment inserts an application segment right after SOI.
func WithJPEGSegment(t testing.TB, jpg []byte, marker byte, payload []byte) []byte {
	t.Helper()
	if len(jpg) < 2 || jpg[0] != 0xff || jpg[1] != 0xd8 {
		t.Fatalf("not a JPEG")
	}
	seg := []byte{0xff, marker, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	seg = append(seg, payload...)

	out := append([]byte{}, jpg[:2]...)
	out = append(out, seg...)
	return append(out, jpg[2:]...)
}

// WithPNGChunk inserts a chunk right after IHDR.
func WithPNGChunk(t testing.TB, pngData []byte, typ string, payload []byte) []byte {
	t.Helper()
	if len(pngData) < 33 || string(pngData[12:16]) != "IHDR" {
		t.Fatalf("not a PNG")
	}
	chunk := PNGChunk(typ, payload)
	out := append([]byte{}, pngData[:33]...)
	out = append(out, chunk...)
	return append(out, pngData[33:]...)
}

// PNGChunk renders one PNG chunk with its CRC.
func PNGChunk(typ string, payload []byte) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.BigEndian, uint32(len(payload)))
	b.WriteString(typ)
	b.Write(payload)
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(payload)
	_ = binary.Write(&b, binary.BigEndian, crc.Sum32())
	return b.Bytes()
}

// HasJPEGSegment reports whether the segment marker+payload appears in jpg.
func HasJPEGSegment(jpg []byte, marker byte, payload []byte) bool {
	seg := []byte{0xff, marker, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return bytes.Contains(jpg, append(seg, payload...))
}
