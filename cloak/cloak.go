// Package cloak adds a deterministic, per-channel phase-shifted sinusoidal
// noise pattern to an RGB buffer.
//
// The effectiveness score measures injected noise magnitude only. It says
// nothing about resistance to any recognition model.
package cloak

import (
	"fmt"
	"math"

	"virtius.io/virtius/imagebuf"
)

type Level string

const (
	LevelMin  Level = "min"
	LevelLow  Level = "low"
	LevelMid  Level = "mid"
	LevelHigh Level = "high"
)

// DefaultLevel is used by the pipeline when none is configured.
const DefaultLevel = LevelHigh

var intensities = map[Level]float64{
	LevelMin:  2,
	LevelLow:  4,
	LevelMid:  8,
	LevelHigh: 16,
}

// Levels lists the known levels from weakest to strongest.
func Levels() []Level {
	return []Level{LevelMin, LevelLow, LevelMid, LevelHigh}
}

// ParseLevel accepts only the known level names.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := intensities[l]; !ok {
		return "", fmt.Errorf("cloak: unknown level %q (want min, low, mid or high)", s)
	}
	return l, nil
}

// Intensity is the pattern amplitude for l. Unknown levels get the high intensity.
func Intensity(l Level) float64 {
	if v, ok := intensities[l]; ok {
		return v
	}
	return intensities[LevelHigh]
}

// Cloak returns a new buffer with sin(x/2+c)*cos(y/2+c)*intensity added to
// channel c of every pixel, clipped to [0, 255] and truncated. buf is not
// modified.
func Cloak(buf *imagebuf.Buffer, l Level) *imagebuf.Buffer {
	out := buf.Clone()
	amp := Intensity(l)
	ch := out.Channels

	sx := make([]float64, out.Width*ch)
	for x := 0; x < out.Width; x++ {
		for c := 0; c < ch; c++ {
			sx[x*ch+c] = math.Sin(float64(x)/2 + float64(c))
		}
	}
	cy := make([]float64, ch)
	for y := 0; y < out.Height; y++ {
		for c := 0; c < ch; c++ {
			cy[c] = math.Cos(float64(y)/2+float64(c)) * amp
		}
		row := out.Pix[y*out.Width*ch : (y+1)*out.Width*ch]
		for i := range row {
			v := float64(row[i]) + sx[i]*cy[i%ch]
			row[i] = uint8(math.Min(255, math.Max(0, v)))
		}
	}
	return out
}

// CloakBytes decodes data, cloaks it and re-encodes it in the source format.
func CloakBytes(data []byte, l Level) ([]byte, error) {
	buf, err := imagebuf.Decode(data)
	if err != nil {
		return nil, err
	}
	return imagebuf.Encode(Cloak(buf, l))
}

// EffectivenessScore is the mean absolute pixel difference across all
// channels, divided by 5, scaled to a percentage and clamped to [0, 100].
// Any decode failure or shape mismatch scores 0.
func EffectivenessScore(original, protected []byte) float64 {
	a, err := imagebuf.Decode(original)
	if err != nil {
		return 0
	}
	b, err := imagebuf.Decode(protected)
	if err != nil {
		return 0
	}
	return EffectivenessScoreBuffers(a, b)
}

// EffectivenessScoreBuffers is EffectivenessScore over decoded buffers.
func EffectivenessScoreBuffers(a, b *imagebuf.Buffer) float64 {
	if !imagebuf.SameShape(a, b) || len(a.Pix) == 0 || len(a.Pix) != len(b.Pix) {
		return 0
	}
	var sum uint64
	for i := range a.Pix {
		if a.Pix[i] > b.Pix[i] {
			sum += uint64(a.Pix[i] - b.Pix[i])
		} else {
			sum += uint64(b.Pix[i] - a.Pix[i])
		}
	}
	avg := float64(sum) / float64(len(a.Pix))
	return math.Min(100, math.Max(0, avg/5*100))
}

// RecommendLevel suggests a level from the pixel count: under 500×500 is
// low, under 1000×1000 is mid, anything larger is high. Cloak never calls it.
func RecommendLevel(width, height int) Level {
	switch px := width * height; {
	case px < 500*500:
		return LevelLow
	case px < 1000*1000:
		return LevelMid
	default:
		return LevelHigh
	}
}
