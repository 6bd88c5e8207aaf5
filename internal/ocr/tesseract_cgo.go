//go:build cgo

package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/otiai10/gosseract/v2"

	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/imaging"
)

// Recognize runs tesseract over img and returns the raw text.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image, hints Hints) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", failure.Wrap(failure.Cancelled, "ocr", err)
	}

	data, err := imaging.EncodePNG(img)
	if err != nil {
		return "", failure.Wrap(failure.RecognitionError, "encode segment", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.opts.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.opts.TessdataPrefix); err != nil {
			return "", failure.Wrap(failure.RecognitionError, "set tessdata path", err)
		}
	}
	if err := client.SetLanguage(t.languages(hints)...); err != nil {
		return "", failure.Wrap(failure.RecognitionError, "set language", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(t.pageSegMode(hints))); err != nil {
		return "", failure.Wrap(failure.RecognitionError, "set page segmentation mode", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", failure.Wrap(failure.RecognitionError, "set image", err)
	}

	// gosseract does not observe ctx; the check below discards the result of
	// a call that outlived its run.
	text, err := client.Text()
	if err != nil {
		return "", failure.Wrap(failure.RecognitionError, "tesseract", err)
	}
	if err := ctx.Err(); err != nil {
		return "", failure.Wrap(failure.Cancelled, "ocr", err)
	}
	return text, nil
}

// Info reports the linked tesseract version.
func (t *Tesseract) Info() Info {
	info := Info{
		Backend:   "gosseract",
		Languages: t.opts.Languages,
	}

	client := gosseract.NewClient()
	defer client.Close()
	if t.opts.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.opts.TessdataPrefix); err != nil {
			info.Error = fmt.Sprintf("set tessdata path: %v", err)
			return info
		}
	}
	info.Version = client.Version()
	info.Available = info.Version != ""
	if !info.Available {
		info.Error = "tesseract library did not report a version"
	}
	return info
}
