//go:build !cgo

package ocr

import (
	"context"
	"image"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

const noCgoReason = "tesseract OCR requires a cgo build"

// Recognize always fails: tesseract cannot be linked without cgo.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image, hints Hints) (string, error) {
	return "", failure.New(failure.RecognitionError, noCgoReason)
}

// Info reports tesseract as unavailable.
func (t *Tesseract) Info() Info {
	return Info{
		Backend:   "none",
		Error:     noCgoReason,
		Languages: t.opts.Languages,
	}
}
