package imaging

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// MaxUpscale bounds how much a small segment is enlarged for the OCR engine.
const MaxUpscale = 4.0

// Crop extracts rect from img, grown by pad pixels on each side and clipped to
// the image. If the result is shorter than minHeight it is upscaled with Lanczos
// resampling (aspect ratio preserved, at most MaxUpscale) because tesseract
// accuracy drops sharply below roughly 20px x-height.
func Crop(img image.Image, rect image.Rectangle, pad, minHeight int) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if rect.Empty() {
		return nil, fmt.Errorf("invalid crop region %v: empty", rect)
	}

	r := image.Rect(rect.Min.X-pad, rect.Min.Y-pad, rect.Max.X+pad, rect.Max.Y+pad).Intersect(bounds)
	if r.Empty() {
		return nil, fmt.Errorf("crop region %v outside image bounds %v", rect, bounds)
	}

	cropped := imaging.Crop(img, r)

	h := cropped.Bounds().Dy()
	if minHeight > 0 && h < minHeight {
		scale := float64(minHeight) / float64(h)
		if scale > MaxUpscale {
			scale = MaxUpscale
		}
		newWidth := int(float64(cropped.Bounds().Dx()) * scale)
		newHeight := int(float64(h) * scale)
		cropped = imaging.Resize(cropped, newWidth, newHeight, imaging.Lanczos)
	}

	return cropped, nil
}
