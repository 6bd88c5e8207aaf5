package ocr

import (
	"context"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

// Hints steer a single extraction.
type Hints struct {
	// Languages overrides the backend's configured languages when non-empty.
	Languages []string
	// SingleLine asks the engine to treat the image as one line of text, as
	// for table cells.
	SingleLine bool
}

// Backend turns segment images into text.
type Backend interface {
	// ExtractText returns cleaned plain text.
	ExtractText(ctx context.Context, img image.Image, hints Hints) (string, error)
	// ExtractStructured returns formula markup wrapped in $ or $$ delimiters.
	ExtractStructured(ctx context.Context, img image.Image) (string, error)
}

// TextRecognizer returns raw engine text for an image. Tesseract implements it.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image, hints Hints) (string, error)
	Info() Info
}

// FormulaExtractor returns raw LaTeX for an image of a formula.
type FormulaExtractor interface {
	ExtractFormula(ctx context.Context, img image.Image) (string, error)
}

// Info describes the OCR subsystem for status reporting.
type Info struct {
	Available bool     `json:"available"`
	Version   string   `json:"version,omitempty"`
	Error     string   `json:"error,omitempty"`
	Backend   string   `json:"backend"`
	Languages []string `json:"languages"`
	Formulas  string   `json:"formulas"`
}

// Engine is the Backend used by the recognizer: Tesseract for text and,
// when configured, a FormulaExtractor for formulas. Without an extractor
// formulas are read by Tesseract and wrapped as inline or block markup.
type Engine struct {
	text     TextRecognizer
	formulas FormulaExtractor
	logger   *zap.Logger
}

// NewEngine combines text and formula backends. formulas may be nil.
func NewEngine(text TextRecognizer, formulas FormulaExtractor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{text: text, formulas: formulas, logger: logger.Named("ocr")}
}

// ExtractText implements Backend.
func (e *Engine) ExtractText(ctx context.Context, img image.Image, hints Hints) (string, error) {
	raw, err := e.text.Recognize(ctx, img, hints)
	if err != nil {
		return "", err
	}
	if hints.SingleLine {
		return strings.Join(strings.Fields(raw), " "), nil
	}
	return Clean(raw), nil
}

// ExtractStructured implements Backend.
func (e *Engine) ExtractStructured(ctx context.Context, img image.Image) (string, error) {
	if e.formulas != nil {
		latex, err := e.formulas.ExtractFormula(ctx, img)
		switch {
		case err == nil && strings.TrimSpace(latex) != "":
			return WrapFormula(latex), nil
		case ctx.Err() != nil:
			return "", failure.Wrap(failure.Cancelled, "ocr", ctx.Err())
		case err != nil:
			e.logger.Warn("formula extractor failed, falling back to tesseract", zap.Error(err))
		}
	}
	raw, err := e.text.Recognize(ctx, img, Hints{})
	if err != nil {
		return "", err
	}
	text := Clean(raw)
	if text == "" {
		return "", nil
	}
	return WrapFormula(text), nil
}

// Info reports backend availability.
func (e *Engine) Info() Info {
	info := e.text.Info()
	info.Formulas = "tesseract"
	if e.formulas != nil {
		info.Formulas = "mathpix"
	}
	return info
}
