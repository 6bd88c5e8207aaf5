package detection

import (
	"fmt"
	"sort"
)

// Class is the structural classification of a region.
type Class int

const (
	PlainText Class = iota
	Table
	Formula
	Mixed
)

var classNames = [...]string{"plain_text", "table", "formula", "mixed"}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Grid is the cell layout of a Table region. Cells is row-major.
type Grid struct {
	Rows  int        `json:"rows"`
	Cols  int        `json:"cols"`
	Cells [][]Bounds `json:"cells"`
}

const (
	// tableRuleFrac is how much of a region a border must span.
	tableRuleFrac = 0.6
	// barFrac is the minimum fraction-bar length relative to the region width.
	barFrac = 0.25
	// minRuleLen is the shortest run treated as a rule or bar.
	minRuleLen = 10
	// barReach is how far above and below a bar to look for operands.
	barReach = 12
	// maxFormulaBands is the most text bands a standalone formula may span.
	maxFormulaBands = 3
)

// Classify labels the region b of mask.
//
//   - Table: at least two horizontal and two vertical rules spanning most of
//     the region; the returned Grid holds the cells between them.
//   - Formula: a fraction bar (a long horizontal run with ink directly above
//     and below) in a region of at most three text bands.
//   - Mixed: a fraction bar inside a longer passage, or text bands whose
//     heights differ by more than 2x (headings with body text, inline images).
//   - PlainText: everything else.
func Classify(mask *Mask, b Bounds) (Class, *Grid) {
	h, v := DetectRules(mask, b, tableRuleFrac, minRuleLen)
	if len(h) >= 2 && len(v) >= 2 {
		if grid := buildGrid(h, v); grid != nil {
			return Table, grid
		}
	}

	bands := textBands(mask, b)
	if hasFractionBar(mask, b) {
		if len(bands) <= maxFormulaBands {
			return Formula, nil
		}
		return Mixed, nil
	}

	if len(bands) >= 2 {
		heights := make([]int, len(bands))
		for i, band := range bands {
			heights[i] = band.Height()
		}
		sort.Ints(heights)
		median := heights[len(heights)/2]
		if median >= 3 && heights[len(heights)-1] > 2*median {
			return Mixed, nil
		}
	}

	return PlainText, nil
}

// buildGrid derives cells from the gaps between consecutive rules.
func buildGrid(h, v []Rule) *Grid {
	rows := spans(h)
	cols := spans(v)
	if len(rows) == 0 || len(cols) == 0 {
		return nil
	}

	cells := make([][]Bounds, len(rows))
	for i, r := range rows {
		cells[i] = make([]Bounds, len(cols))
		for j, c := range cols {
			cells[i][j] = Bounds{X1: c[0], Y1: r[0], X2: c[1], Y2: r[1]}
		}
	}
	return &Grid{Rows: len(rows), Cols: len(cols), Cells: cells}
}

// spans returns the open intervals between consecutive rules, skipping
// slivers of two pixels or less.
func spans(rules []Rule) [][2]int {
	out := make([][2]int, 0, len(rules))
	for i := 0; i+1 < len(rules); i++ {
		start := rules[i].Pos + rules[i].Thickness
		end := rules[i+1].Pos
		if end-start > 2 {
			out = append(out, [2]int{start, end})
		}
	}
	return out
}

// textBands splits b into horizontal bands of consecutive inked rows.
func textBands(mask *Mask, b Bounds) []Bounds {
	bands := make([]Bounds, 0)
	inBand := false
	var cur Bounds
	for y := b.Y1; y <= b.Y2; y++ {
		rowInk := y < b.Y2 && mask.Count(Bounds{X1: b.X1, Y1: y, X2: b.X2, Y2: y + 1}) > 0
		switch {
		case rowInk && !inBand:
			cur = Bounds{X1: b.X1, Y1: y, X2: b.X2, Y2: y + 1}
			inBand = true
		case rowInk:
			cur.Y2 = y + 1
		case inBand:
			bands = append(bands, cur)
			inBand = false
		}
	}
	return bands
}

// hasFractionBar reports whether b contains a horizontal run with ink both
// directly above and directly below its span.
func hasFractionBar(mask *Mask, b Bounds) bool {
	bars, _ := DetectRules(mask, b, barFrac, minRuleLen)
	for _, r := range bars {
		above := Bounds{X1: r.Start, Y1: maxInt(b.Y1, r.Pos-barReach), X2: r.End, Y2: r.Pos}
		below := Bounds{X1: r.Start, Y1: r.Pos + r.Thickness, X2: r.End, Y2: minInt(b.Y2, r.Pos+r.Thickness+barReach)}
		if mask.Count(above) > 0 && mask.Count(below) > 0 {
			return true
		}
	}
	return false
}
