// Package preprocess turns a capture event into an ordered list of classified
// segments ready for recognition.
package preprocess

import (
	"context"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/detection"
	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/imaging"
)

// Segment is one classified region of a capture. Text captures produce a
// single PlainText segment carrying Text and no Image.
type Segment struct {
	// Index is the segment's position in reading order.
	Index  int              `json:"index"`
	Bounds detection.Bounds `json:"bounds"`
	Class  detection.Class  `json:"class"`
	// Image is the normalized, deskewed grayscale crop of Bounds.
	Image image.Image `json:"-"`
	// Grid holds table cell bounds relative to Image. Nil unless Class is Table.
	Grid *detection.Grid `json:"grid,omitempty"`
	Text string          `json:"text,omitempty"`
}

// Options tunes preprocessing. Zero values take defaults.
type Options struct {
	// Contrast is passed to imaging.Normalize (range -1 to 1).
	Contrast float64
	// MaxSkew and SkewStep bound the rotation search in degrees.
	MaxSkew  float64
	SkewStep float64
	InkLevel uint8
	Regions  detection.Options
	// DebugDir, when set, receives an annotated PNG per image capture.
	DebugDir string
}

func (o Options) withDefaults() Options {
	if o.Contrast == 0 {
		o.Contrast = imaging.DefaultContrast
	}
	if o.MaxSkew == 0 {
		o.MaxSkew = 15
	}
	if o.SkewStep == 0 {
		o.SkewStep = 0.5
	}
	if o.InkLevel == 0 {
		o.InkLevel = detection.DefaultInkLevel
	}
	return o
}

// Preprocessor implements the image path: normalize, deskew, segment, classify.
type Preprocessor struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Preprocessor.
func New(opts Options, logger *zap.Logger) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preprocessor{opts: opts.withDefaults(), logger: logger.Named("preprocess")}
}

// Process segments ev.
//
// Text events pass through as one PlainText segment; blank text yields no
// segments. Image events are decoded, normalized, deskewed and segmented; an
// image with no ink yields no segments. An unreadable payload fails with
// PreprocessingError. The result depends only on the payload bytes.
func (p *Preprocessor) Process(ctx context.Context, ev capture.Event) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.Wrap(failure.Cancelled, "preprocess", err)
	}

	if ev.Kind() == capture.KindText {
		if strings.TrimSpace(ev.Text()) == "" {
			return nil, nil
		}
		return []Segment{{Index: 0, Class: detection.PlainText, Text: ev.Text()}}, nil
	}

	img, info, err := imaging.Decode(ev.Raster())
	if err != nil {
		return nil, failure.Wrap(failure.PreprocessingError, "decode capture", err)
	}

	gray, inverted := imaging.Normalize(img, p.opts.Contrast)
	mask := detection.InkMask(gray, p.opts.InkLevel)

	if err := ctx.Err(); err != nil {
		return nil, failure.Wrap(failure.Cancelled, "preprocess", err)
	}

	skew := detection.EstimateSkew(mask, p.opts.MaxSkew, p.opts.SkewStep)
	if skew != 0 {
		gray = imaging.Rotate(gray, skew)
		mask = detection.InkMask(gray, p.opts.InkLevel)
	}

	regions := detection.FindRegions(mask, p.opts.Regions)
	segments := make([]Segment, 0, len(regions))
	for i, r := range regions {
		if err := ctx.Err(); err != nil {
			return nil, failure.Wrap(failure.Cancelled, "preprocess", err)
		}
		class, grid := detection.Classify(mask, r.Bounds)
		crop, err := imaging.Crop(gray, r.Bounds.Rect(), 0, 0)
		if err != nil {
			return nil, failure.Wrapf(failure.Internal, err, "crop segment %d", i)
		}
		segments = append(segments, Segment{
			Index:  i,
			Bounds: r.Bounds,
			Class:  class,
			Image:  crop,
			Grid:   localGrid(grid, r.Bounds),
		})
	}

	p.logger.Debug("capture segmented",
		zap.String("event_id", ev.ID()),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.String("format", info.Format),
		zap.Bool("inverted", inverted),
		zap.Float64("skew_degrees", skew),
		zap.Int("segments", len(segments)),
	)

	if p.opts.DebugDir != "" {
		p.writeDebug(ev, gray, segments)
	}

	return segments, nil
}

// localGrid translates cell bounds into the segment's own coordinates.
func localGrid(g *detection.Grid, origin detection.Bounds) *detection.Grid {
	if g == nil {
		return nil
	}
	out := &detection.Grid{Rows: g.Rows, Cols: g.Cols, Cells: make([][]detection.Bounds, len(g.Cells))}
	for i, row := range g.Cells {
		out.Cells[i] = make([]detection.Bounds, len(row))
		for j, c := range row {
			out.Cells[i][j] = detection.Bounds{
				X1: c.X1 - origin.X1, Y1: c.Y1 - origin.Y1,
				X2: c.X2 - origin.X1, Y2: c.Y2 - origin.Y1,
			}
		}
	}
	return out
}

var classColors = map[detection.Class]string{
	detection.PlainText: "#1E88E5",
	detection.Table:     "#43A047",
	detection.Formula:   "#E53935",
	detection.Mixed:     "#FB8C00",
}

var classLetters = map[detection.Class]string{
	detection.PlainText: "P",
	detection.Table:     "T",
	detection.Formula:   "F",
	detection.Mixed:     "M",
}

func (p *Preprocessor) writeDebug(ev capture.Event, gray *image.Gray, segments []Segment) {
	boxes := make([]imaging.Box, len(segments))
	for i, s := range segments {
		boxes[i] = imaging.Box{
			Rect:  s.Bounds.Rect(),
			Label: fmt.Sprintf("%d%s", s.Index, classLetters[s.Class]),
			Color: classColors[s.Class],
		}
	}
	path, err := imaging.WriteDebugPNG(p.opts.DebugDir, ev.ID()+".png", imaging.DrawBoxes(gray, boxes))
	if err != nil {
		p.logger.Warn("write debug overlay", zap.Error(err))
		return
	}
	p.logger.Debug("debug overlay written", zap.String("path", path))
}
