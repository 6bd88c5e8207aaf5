package recognize

import (
	"strings"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/detection"
	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/preprocess"
)

// Annotation records how a segment was recognized.
type Annotation struct {
	Unrecognized bool         `json:"unrecognized,omitempty"`
	Kind         failure.Kind `json:"kind,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// SegmentResult is one recognized segment. Text is plain text, a Markdown
// table or formula markup depending on Segment.Class.
type SegmentResult struct {
	Segment    preprocess.Segment `json:"segment"`
	Text       string             `json:"text"`
	Annotation Annotation         `json:"annotation"`
}

// Document is the recognized content of one capture. Segments are in reading
// order. A Document is not modified after Recognize returns.
type Document struct {
	Segments          []SegmentResult `json:"segments"`
	Source            *capture.Event  `json:"-"`
	FullyUnrecognized bool            `json:"fully_unrecognized"`
}

// NewTextDocument wraps plain text in a single-segment document.
func NewTextDocument(text string) *Document {
	return &Document{Segments: []SegmentResult{{
		Segment: preprocess.Segment{Class: detection.PlainText, Text: text},
		Text:    text,
	}}}
}

// Markup joins every segment in order, separated by blank lines.
func (d *Document) Markup() string {
	if d == nil {
		return ""
	}
	parts := make([]string, 0, len(d.Segments))
	for _, s := range d.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// PlainText joins only plain and mixed text segments that were recognized.
func (d *Document) PlainText() string {
	return d.join(func(s SegmentResult) bool {
		c := s.Segment.Class
		return c == detection.PlainText || c == detection.Mixed
	})
}

// Tables returns the Markdown rendering of each recognized table.
func (d *Document) Tables() []string {
	return d.collect(detection.Table)
}

// Formulas returns the markup of each recognized formula.
func (d *Document) Formulas() []string {
	return d.collect(detection.Formula)
}

// Unrecognized returns the number of segments that failed recognition.
func (d *Document) Unrecognized() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, s := range d.Segments {
		if s.Annotation.Unrecognized {
			n++
		}
	}
	return n
}

func (d *Document) join(keep func(SegmentResult) bool) string {
	if d == nil {
		return ""
	}
	var parts []string
	for _, s := range d.Segments {
		if s.Annotation.Unrecognized || !keep(s) {
			continue
		}
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (d *Document) collect(class detection.Class) []string {
	if d == nil {
		return nil
	}
	var out []string
	for _, s := range d.Segments {
		if s.Segment.Class == class && !s.Annotation.Unrecognized && s.Text != "" {
			out = append(out, s.Text)
		}
	}
	return out
}
