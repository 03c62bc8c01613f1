package imagebuf

import (
	"bytes"
	"encoding/binary"
)

// Block is a raw container segment carried from decode to encode. Raw holds
// the segment exactly as it appeared in the source: marker and length for
// JPEG, length, type and CRC for PNG.
type Block struct {
	Name string
	Raw  []byte
}

const (
	jpegAPP1 = 0xe1 // Exif, XMP
	jpegAPP2 = 0xe2 // ICC profile
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngCarried lists the ancillary PNG chunks kept across re-encoding. All of
// them may legally precede IDAT, which is where Encode puts them.
var pngCarried = map[string]bool{
	"tEXt": true,
	"zTXt": true,
	"iTXt": true,
	"iCCP": true,
	"pHYs": true,
}

// extractBlocks collects the metadata segments of data. Only JPEG and PNG
// carry blocks; a malformed container yields whatever was read before the
// damage.
func extractBlocks(format Format, data []byte) []Block {
	switch format {
	case JPEG:
		return jpegBlocks(data)
	case PNG:
		return pngBlocks(data)
	}
	return nil
}

func jpegBlocks(data []byte) []Block {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return nil
	}
	var out []Block
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xff {
			return out
		}
		marker := data[pos+1]
		switch {
		case marker == 0xff:
			pos++ // fill byte
			continue
		case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			pos += 2
			continue
		case marker == 0xda || marker == 0xd9:
			return out
		}
		n := int(binary.BigEndian.Uint16(data[pos+2:]))
		end := pos + 2 + n
		if n < 2 || end > len(data) {
			return out
		}
		if marker == jpegAPP1 || marker == jpegAPP2 {
			name := "APP1"
			if marker == jpegAPP2 {
				name = "APP2"
			}
			out = append(out, Block{Name: name, Raw: bytes.Clone(data[pos:end])})
		}
		pos = end
	}
	return out
}

func pngBlocks(data []byte) []Block {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil
	}
	var out []Block
	pos := len(pngSignature)
	for pos+12 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[pos:]))
		typ := string(data[pos+4 : pos+8])
		end := pos + 12 + n
		if n < 0 || end > len(data) {
			return out
		}
		if typ == "IDAT" || typ == "IEND" {
			return out
		}
		if pngCarried[typ] {
			out = append(out, Block{Name: typ, Raw: bytes.Clone(data[pos:end])})
		}
		pos = end
	}
	return out
}

// insertBlocks splices blocks into freshly encoded data: right after SOI for
// JPEG, right after IHDR for PNG. Other formats are returned unchanged.
func insertBlocks(format Format, data []byte, blocks []Block) []byte {
	if len(blocks) == 0 {
		return data
	}
	var at int
	switch format {
	case JPEG:
		if len(data) < 2 || data[0] != 0xff || data[1] != 0xd8 {
			return data
		}
		at = 2
	case PNG:
		sig := len(pngSignature)
		if len(data) < sig+12 || string(data[sig+4:sig+8]) != "IHDR" {
			return data
		}
		at = sig + 12 + int(binary.BigEndian.Uint32(data[sig:]))
	default:
		return data
	}

	var spliced []byte
	for _, b := range blocks {
		if belongsTo(format, b) {
			spliced = append(spliced, b.Raw...)
		}
	}
	if len(spliced) == 0 {
		return data
	}
	out := make([]byte, 0, len(data)+len(spliced))
	out = append(out, data[:at]...)
	out = append(out, spliced...)
	return append(out, data[at:]...)
}

// belongsTo reports whether b came from a container of the given format, so
// a buffer re-targeted to another format does not receive foreign segments.
func belongsTo(format Format, b Block) bool {
	switch format {
	case JPEG:
		return b.Name == "APP1" || b.Name == "APP2"
	case PNG:
		return pngCarried[b.Name]
	}
	return false
}
