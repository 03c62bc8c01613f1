// Package imagebuf holds a decoded image as a flat, 3-channel pixel buffer.
//
// A Buffer is owned by exactly one pipeline stage at a time. Stages produce a
// new Buffer (see Clone) rather than sharing Pix with their input. Width,
// Height and Channels never change across stages; only byte values do.
//
// Decoding needs the whole pixel grid in memory: Width*Height*3 bytes plus the
// decoder's own copy. DefaultMaxPixels bounds that footprint.
package imagebuf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"virtius.io/virtius/errs"
)

// Channels is the channel count of every Buffer (RGB, no alpha).
const Channels = 3

// DefaultMaxPixels caps decoded images at 100 megapixels (~300 MB of RGB).
const DefaultMaxPixels = 100_000_000

// JPEGQuality is used when re-encoding JPEG sources.
const JPEGQuality = 95

type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
)

// Meta is the container information carried from decode to encode.
type Meta struct {
	Format Format
	// SourceModel names the decoded color model before RGB conversion.
	SourceModel string
	// HadAlpha reports whether the source carried an alpha channel that
	// was dropped by the RGB conversion.
	HadAlpha bool
	// Blocks are the source's metadata segments (JPEG APP1/APP2, PNG
	// text, iCCP and pHYs chunks). Encode writes them back unchanged.
	Blocks []Block
}

// Buffer is a row-major, channel-interleaved RGB pixel grid.
type Buffer struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
	Meta     Meta
}

// New allocates a zeroed buffer.
func New(width, height int, meta Meta) *Buffer {
	return &Buffer{
		Width:    width,
		Height:   height,
		Channels: Channels,
		Pix:      make([]uint8, width*height*Channels),
		Meta:     meta,
	}
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := *b
	out.Pix = append([]uint8(nil), b.Pix...)
	return &out
}

// Offset returns the index of channel c of pixel (x, y) in Pix.
func (b *Buffer) Offset(x, y, c int) int {
	return (y*b.Width+x)*b.Channels + c
}

// Validate checks that Pix matches the declared dimensions.
func (b *Buffer) Validate() error {
	if b == nil {
		return errs.New(errs.KindInternal, "validate", "nil buffer")
	}
	if b.Channels != Channels {
		return errs.New(errs.KindDimensionMismatch, "validate", fmt.Sprintf("expected %d channels, got %d", Channels, b.Channels))
	}
	if want := b.Width * b.Height * b.Channels; len(b.Pix) != want {
		return errs.New(errs.KindDimensionMismatch, "validate", fmt.Sprintf("pixel buffer holds %d bytes, want %d", len(b.Pix), want))
	}
	return nil
}

// SameShape reports whether a and b have identical width, height and channel count.
func SameShape(a, b *Buffer) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Width == b.Width && a.Height == b.Height && a.Channels == b.Channels
}

// Decode parses image bytes and converts them to RGB.
func Decode(data []byte) (*Buffer, error) {
	return DecodeWithLimit(data, DefaultMaxPixels)
}

// DecodeWithLimit is Decode with an explicit pixel ceiling. maxPixels <= 0
// disables the check.
func DecodeWithLimit(data []byte, maxPixels int) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errs.New(errs.KindDecode, "decode", "empty input")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.KindDecode, "decode", "unrecognised image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errs.New(errs.KindDecode, "decode", "image has no pixels")
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, errs.New(errs.KindDecode, "decode", fmt.Sprintf("image of %dx%d exceeds %d pixel limit", cfg.Width, cfg.Height, maxPixels))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.KindDecode, "decode", "invalid image data", err)
	}
	buf := FromImage(img, Format(format))
	buf.Meta.Blocks = extractBlocks(buf.Meta.Format, data)
	return buf, nil
}

// FromImage converts any image.Image to an RGB Buffer. Alpha is dropped
// without compositing; color channels keep their straight (non-premultiplied) values.
func FromImage(img image.Image, format Format) *Buffer {
	bounds := img.Bounds()
	meta := Meta{Format: format, SourceModel: modelName(img.ColorModel()), HadAlpha: hasAlpha(img)}
	buf := New(bounds.Dx(), bounds.Dy(), meta)

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < buf.Height; y++ {
			row := src.Pix[(y+bounds.Min.Y-src.Rect.Min.Y)*src.Stride:]
			for x := 0; x < buf.Width; x++ {
				si := (x + bounds.Min.X - src.Rect.Min.X) * 4
				di := buf.Offset(x, y, 0)
				buf.Pix[di], buf.Pix[di+1], buf.Pix[di+2] = row[si], row[si+1], row[si+2]
			}
		}
		return buf
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			buf.Pix[i], buf.Pix[i+1], buf.Pix[i+2] = c.R, c.G, c.B
			i += Channels
		}
	}
	return buf
}

// Image returns an opaque *image.NRGBA view of b (a copy).
func (b *Buffer) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for p, q := 0, 0; p < len(b.Pix); p, q = p+Channels, q+4 {
		img.Pix[q], img.Pix[q+1], img.Pix[q+2], img.Pix[q+3] = b.Pix[p], b.Pix[p+1], b.Pix[p+2], 0xff
	}
	return img
}

// Encode writes b in its source container format, with the source's
// metadata blocks where the format carries them. Unknown formats fall back
// to PNG.
func Encode(b *Buffer) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	img := b.Image()
	var out bytes.Buffer
	var err error
	switch b.Meta.Format {
	case JPEG:
		err = jpeg.Encode(&out, img, &jpeg.Options{Quality: JPEGQuality})
	case GIF:
		err = gif.Encode(&out, img, nil)
	case BMP:
		err = bmp.Encode(&out, img)
	case TIFF:
		err = tiff.Encode(&out, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(&out, img)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "encode", fmt.Sprintf("encode %s", b.Meta.Format), err)
	}
	return insertBlocks(b.Meta.Format, out.Bytes(), b.Meta.Blocks), nil
}

// Lossless reports whether Encode round-trips pixel values exactly.
func (m Meta) Lossless() bool {
	switch m.Format {
	case JPEG, GIF:
		return false
	default:
		return true
	}
}

func modelName(m color.Model) string {
	switch m {
	case color.RGBAModel:
		return "RGBA"
	case color.NRGBAModel:
		return "NRGBA"
	case color.GrayModel:
		return "Gray"
	case color.Gray16Model:
		return "Gray16"
	case color.YCbCrModel:
		return "YCbCr"
	case color.CMYKModel:
		return "CMYK"
	case color.RGBA64Model:
		return "RGBA64"
	case color.NRGBA64Model:
		return "NRGBA64"
	}
	if _, ok := m.(color.Palette); ok {
		return "Paletted"
	}
	return "Other"
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}
