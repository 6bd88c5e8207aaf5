package imaging

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
)

// maxBackgroundSamples caps the number of pixels inspected when estimating
// the background so large captures stay cheap.
const maxBackgroundSamples = 250_000

// Background describes the dominant color of a capture.
type Background struct {
	// Hex is the quantized dominant color as "#RRGGBB".
	Hex string `json:"hex"`

	// Lightness is the CIE L* of the dominant color, scaled to 0-1.
	Lightness float64 `json:"lightness"`

	// Coverage is the fraction of sampled pixels with the dominant color (0-1).
	Coverage float64 `json:"coverage"`

	// Dark is true for light-on-dark content such as terminals and dark themes.
	Dark bool `json:"dark"`
}

type colorCount struct {
	key   uint32
	count int
}

// EstimateBackground finds the dominant color of img and classifies it as a light
// or dark background.
//
// # Color Quantization
//
// To group similar colors (antialiasing, JPEG noise), each RGB component is
// quantized by dividing by 16 and rounding down:
//
//	quantized = (original / 16) * 16
//
// # Sampling
//
// Images with more than maxBackgroundSamples pixels are sampled on a regular
// grid. The grid depends only on the image size, so the estimate is stable for
// identical inputs. Ties between equally common colors resolve to the lower
// packed RGB value.
func EstimateBackground(img image.Image) Background {
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return Background{Hex: "#FFFFFF", Lightness: 1}
	}

	step := 1
	for total/(step*step) > maxBackgroundSamples {
		step++
	}

	counts := make(map[uint32]int)
	sampled := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, _ := img.At(x, y).RGBA()
			r8 := uint32((r >> 8) / 16 * 16)
			g8 := uint32((g >> 8) / 16 * 16)
			b8 := uint32((b >> 8) / 16 * 16)
			counts[r8<<16|g8<<8|b8]++
			sampled++
		}
	}

	freq := make([]colorCount, 0, len(counts))
	for k, c := range counts {
		freq = append(freq, colorCount{key: k, count: c})
	}
	sort.Slice(freq, func(i, j int) bool {
		if freq[i].count != freq[j].count {
			return freq[i].count > freq[j].count
		}
		return freq[i].key < freq[j].key
	})

	top := freq[0]
	rgb := color.RGBA{R: uint8(top.key >> 16), G: uint8(top.key >> 8), B: uint8(top.key), A: 255}
	l := Lightness(rgb)

	return Background{
		Hex:       fmt.Sprintf("#%02X%02X%02X", rgb.R, rgb.G, rgb.B),
		Lightness: l,
		Coverage:  float64(top.count) / float64(sampled),
		Dark:      l < 0.5,
	}
}

// Lightness returns the perceptual lightness (CIE L*, 0-1) of c.
func Lightness(c color.Color) float64 {
	cf, _ := colorful.MakeColor(c)
	l, _, _ := cf.Lab()
	return l
}
