package ocr

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

type fakeRecognizer struct {
	text  string
	err   error
	hints []Hints
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img image.Image, hints Hints) (string, error) {
	f.hints = append(f.hints, hints)
	return f.text, f.err
}

func (f *fakeRecognizer) Info() Info {
	return Info{Available: true, Backend: "fake", Version: "1.0"}
}

type fakeFormulas struct {
	latex string
	err   error
	calls int
}

func (f *fakeFormulas) ExtractFormula(ctx context.Context, img image.Image) (string, error) {
	f.calls++
	return f.latex, f.err
}

var blank = image.NewGray(image.Rect(0, 0, 10, 10))

func TestEngine_ExtractTextCleans(t *testing.T) {
	e := NewEngine(&fakeRecognizer{text: "exam-\nple of\nwrapped text\n"}, nil, nil)

	got, err := e.ExtractText(context.Background(), blank, Hints{})
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if got != "example of wrapped text" {
		t.Errorf("got %q", got)
	}
}

func TestEngine_ExtractTextSingleLine(t *testing.T) {
	rec := &fakeRecognizer{text: " apple \n\n 3 "}
	e := NewEngine(rec, nil, nil)

	got, err := e.ExtractText(context.Background(), blank, Hints{SingleLine: true})
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if got != "apple 3" {
		t.Errorf("got %q", got)
	}
	if len(rec.hints) != 1 || !rec.hints[0].SingleLine {
		t.Errorf("hints not forwarded: %+v", rec.hints)
	}
}

func TestEngine_ExtractTextError(t *testing.T) {
	e := NewEngine(&fakeRecognizer{err: failure.New(failure.RecognitionError, "boom")}, nil, nil)

	_, err := e.ExtractText(context.Background(), blank, Hints{})
	if !failure.Is(err, failure.RecognitionError) {
		t.Errorf("expected RecognitionError, got %v", err)
	}
}

func TestEngine_StructuredUsesExtractor(t *testing.T) {
	rec := &fakeRecognizer{text: "unused"}
	fx := &fakeFormulas{latex: `\frac{a+b}{2}`}
	e := NewEngine(rec, fx, nil)

	got, err := e.ExtractStructured(context.Background(), blank)
	if err != nil {
		t.Fatalf("ExtractStructured failed: %v", err)
	}
	if got != `$\frac{a+b}{2}$` {
		t.Errorf("got %q", got)
	}
	if len(rec.hints) != 0 {
		t.Error("tesseract should not run when the extractor succeeds")
	}
}

func TestEngine_StructuredFallsBack(t *testing.T) {
	rec := &fakeRecognizer{text: "a + b = c"}
	fx := &fakeFormulas{err: errors.New("quota")}
	e := NewEngine(rec, fx, nil)

	got, err := e.ExtractStructured(context.Background(), blank)
	if err != nil {
		t.Fatalf("ExtractStructured failed: %v", err)
	}
	if got != "$a + b = c$" {
		t.Errorf("got %q", got)
	}
	if fx.calls != 1 {
		t.Errorf("extractor calls: got %d, want 1", fx.calls)
	}
}

func TestEngine_StructuredEmpty(t *testing.T) {
	e := NewEngine(&fakeRecognizer{text: "  \n"}, nil, nil)

	got, err := e.ExtractStructured(context.Background(), blank)
	if err != nil {
		t.Fatalf("ExtractStructured failed: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty markup, got %q", got)
	}
}

func TestEngine_StructuredCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEngine(&fakeRecognizer{text: "x"}, &fakeFormulas{err: context.Canceled}, nil)

	_, err := e.ExtractStructured(ctx, blank)
	if !failure.Is(err, failure.Cancelled) {
		t.Errorf("expected Cancelled, got %v", err)
	}
}

func TestEngine_Info(t *testing.T) {
	info := NewEngine(&fakeRecognizer{}, &fakeFormulas{}, nil).Info()
	if !info.Available || info.Formulas != "mathpix" {
		t.Errorf("unexpected info: %+v", info)
	}
	info = NewEngine(&fakeRecognizer{}, nil, nil).Info()
	if info.Formulas != "tesseract" {
		t.Errorf("formulas: got %q, want tesseract", info.Formulas)
	}
}
