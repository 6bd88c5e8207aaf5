// Package recognize runs OCR over preprocessed segments and reassembles the
// results into a Document in reading order.
package recognize

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/detection"
	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/imaging"
	"github.com/ironsheep/capture-assistant/internal/ocr"
	"github.com/ironsheep/capture-assistant/internal/preprocess"
)

// minOCRHeight is the height small segments are upscaled to before OCR.
const minOCRHeight = 32

// Options configures a Recognizer.
type Options struct {
	// Workers bounds concurrent segment recognition. Zero means runtime.NumCPU.
	Workers   int
	Languages []string
}

// Recognizer dispatches segments to an OCR backend.
type Recognizer struct {
	backend ocr.Backend
	opts    Options
	logger  *zap.Logger
}

// New creates a Recognizer.
func New(backend ocr.Backend, opts Options, logger *zap.Logger) *Recognizer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{backend: backend, opts: opts, logger: logger.Named("recognize")}
}

// Recognize recognizes segments concurrently. A failing segment is kept with
// an UnrecognizedSegment annotation and placeholder text; when every segment
// fails the document is marked FullyUnrecognized. The only error returned is
// cancellation of ctx.
func (r *Recognizer) Recognize(ctx context.Context, ev capture.Event, segments []preprocess.Segment) (*Document, error) {
	results := make([]SegmentResult, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i := range segments {
		g.Go(func() error {
			seg := segments[i]
			text, err := r.recognizeSegment(gctx, seg)
			if err != nil {
				if gctx.Err() != nil {
					return failure.Wrap(failure.Cancelled, "recognize", gctx.Err())
				}
				r.logger.Warn("segment unrecognized",
					zap.String("event_id", ev.ID()),
					zap.Int("segment", seg.Index),
					zap.Stringer("class", seg.Class),
					zap.Error(err),
				)
				results[i] = SegmentResult{
					Segment: seg,
					Text:    placeholder(seg),
					Annotation: Annotation{
						Unrecognized: true,
						Kind:         failure.UnrecognizedSegment,
						Reason:       err.Error(),
					},
				}
				return nil
			}
			results[i] = SegmentResult{Segment: seg, Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := &Document{Segments: results, Source: &ev}
	doc.FullyUnrecognized = len(results) > 0 && doc.Unrecognized() == len(results)

	r.logger.Debug("capture recognized",
		zap.String("event_id", ev.ID()),
		zap.Int("segments", len(results)),
		zap.Int("unrecognized", doc.Unrecognized()),
	)
	return doc, nil
}

func placeholder(seg preprocess.Segment) string {
	return fmt.Sprintf("[unrecognized %s]", strings.ReplaceAll(seg.Class.String(), "_", " "))
}

func (r *Recognizer) recognizeSegment(ctx context.Context, seg preprocess.Segment) (string, error) {
	if seg.Image == nil {
		return seg.Text, nil
	}

	switch seg.Class {
	case detection.Formula:
		text, err := r.backend.ExtractStructured(ctx, seg.Image)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", failure.New(failure.UnrecognizedSegment, "no formula recognized")
		}
		return text, nil
	case detection.Table:
		if seg.Grid != nil && seg.Grid.Rows > 0 && seg.Grid.Cols > 0 {
			return r.recognizeTable(ctx, seg.Image, seg.Grid)
		}
	}

	img, err := imaging.Crop(seg.Image, seg.Image.Bounds(), 0, minOCRHeight)
	if err != nil {
		return "", failure.Wrap(failure.RecognitionError, "prepare segment", err)
	}
	text, err := r.backend.ExtractText(ctx, img, ocr.Hints{Languages: r.opts.Languages})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", failure.New(failure.UnrecognizedSegment, "no text recognized")
	}
	return text, nil
}

// recognizeTable reads each grid cell as a single line and renders a Markdown
// table. The first grid row becomes the header.
func (r *Recognizer) recognizeTable(ctx context.Context, img image.Image, grid *detection.Grid) (string, error) {
	origin := img.Bounds().Min
	rows := make([][]string, len(grid.Cells))
	found := false
	for i, row := range grid.Cells {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			if cell.Width() <= 0 || cell.Height() <= 0 {
				continue
			}
			crop, err := imaging.Crop(img, cell.Rect().Add(origin), 0, minOCRHeight)
			if err != nil {
				return "", failure.Wrapf(failure.RecognitionError, err, "crop cell %d,%d", i, j)
			}
			text, err := r.backend.ExtractText(ctx, crop, ocr.Hints{Languages: r.opts.Languages, SingleLine: true})
			if err != nil {
				return "", err
			}
			rows[i][j] = text
			found = found || text != ""
		}
	}
	if !found {
		return "", failure.New(failure.UnrecognizedSegment, "no table text recognized")
	}
	return MarkdownTable(rows), nil
}

// MarkdownTable renders rows as a GitHub-flavored Markdown table with the
// first row as the header. Pipes inside cells are escaped.
func MarkdownTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for j := 0; j < cols; j++ {
			cell := ""
			if j < len(cells) {
				cell = strings.ReplaceAll(strings.TrimSpace(cells[j]), "|", `\|`)
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	b.WriteString("|")
	for j := 0; j < cols; j++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return strings.TrimRight(b.String(), "\n")
}
