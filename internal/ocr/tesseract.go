package ocr

import "strings"

// DefaultPageSegMode treats a segment as a single uniform block of text.
const DefaultPageSegMode = 6

// singleLinePageSegMode is tesseract's PSM_SINGLE_LINE.
const singleLinePageSegMode = 7

// TesseractOptions configures the Tesseract backend.
type TesseractOptions struct {
	// Languages are tesseract language codes such as "eng" or "chi_sim".
	Languages []string
	// TessdataPrefix overrides the directory holding *.traineddata files.
	TessdataPrefix string
	// PageSegMode is the tesseract page segmentation mode (0-13).
	PageSegMode int
}

// Tesseract recognizes text with the Tesseract engine. A fresh client is
// created per call, so a Tesseract is safe for concurrent use.
type Tesseract struct {
	opts TesseractOptions
}

// NewTesseract creates a Tesseract backend.
func NewTesseract(opts TesseractOptions) *Tesseract {
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	if opts.PageSegMode == 0 {
		opts.PageSegMode = DefaultPageSegMode
	}
	return &Tesseract{opts: opts}
}

func (t *Tesseract) languages(h Hints) []string {
	if len(h.Languages) > 0 {
		return h.Languages
	}
	return t.opts.Languages
}

func (t *Tesseract) pageSegMode(h Hints) int {
	if h.SingleLine {
		return singleLinePageSegMode
	}
	return t.opts.PageSegMode
}

// LanguageSpec joins languages the way the tesseract CLI accepts them.
func LanguageSpec(langs []string) string {
	return strings.Join(langs, "+")
}
