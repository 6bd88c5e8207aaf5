package imaging

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/disintegration/imaging"
)

// DefaultContrast is the contrast boost applied before binarization. It
// corresponds to a 1.5x stretch around mid-gray.
const DefaultContrast = 0.5

// stretchPercentile is the fraction of darkest and lightest pixels clipped
// when stretching the histogram.
const stretchPercentile = 0.01

// Normalize converts img to dark-on-light grayscale with normalized contrast.
//
// Steps:
//  1. Estimate the background; light-on-dark captures are inverted so ink is
//     always darker than paper.
//  2. Convert to grayscale.
//  3. Boost contrast by contrast (bild adjust.Contrast, range -1 to 1).
//  4. Stretch the histogram so the 1st and 99th percentiles map to 0 and 255.
//
// The second return value reports whether the capture was inverted.
func Normalize(img image.Image, contrast float64) (*image.Gray, bool) {
	bg := EstimateBackground(img)

	gray := imaging.Grayscale(img)
	if bg.Dark {
		gray = imaging.Invert(gray)
	}

	boosted := adjust.Contrast(gray, contrast)
	stretched := stretchHistogram(boosted)

	return ToGray(stretched), bg.Dark
}

// stretchHistogram linearly maps the [lo, hi] luminance percentile range onto
// [0, 255]. Images with almost no tonal range are returned unchanged.
func stretchHistogram(img image.Image) *image.NRGBA {
	var hist [256]int
	bounds := img.Bounds()
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			hist[r>>8]++
			total++
		}
	}

	clip := int(float64(total) * stretchPercentile)
	lo, hi := 0, 255
	for acc := 0; lo < 255; lo++ {
		acc += hist[lo]
		if acc > clip {
			break
		}
	}
	for acc := 0; hi > 0; hi-- {
		acc += hist[hi]
		if acc > clip {
			break
		}
	}

	if hi-lo < 8 {
		return imaging.Clone(img)
	}

	scale := 255.0 / float64(hi-lo)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := uint8(clamp(int(float64(int(c.R)-lo)*scale+0.5), 0, 255))
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

// Rotate rotates img counter-clockwise by angle degrees onto a white canvas
// large enough to hold the result.
func Rotate(img *image.Gray, angle float64) *image.Gray {
	if angle == 0 {
		return img
	}
	return ToGray(imaging.Rotate(img, angle, color.White))
}

// ToGray converts img to *image.Gray, returning it unchanged if it already is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// clamp constrains an integer value to the range [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
