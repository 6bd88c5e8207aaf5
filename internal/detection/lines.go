package detection

// Orientation of a ruled line.
type Orientation int

const (
	Horizontal Orientation = iota
	Vertical
)

// Rule is a long straight run of ink such as a table border or fraction bar.
type Rule struct {
	Orientation Orientation `json:"orientation"`
	// Pos is the first row (horizontal) or column (vertical) of the rule.
	Pos int `json:"pos"`
	// Thickness is the number of adjacent rows or columns merged into the rule.
	Thickness int `json:"thickness"`
	// Start and End delimit the run along the rule's axis (End exclusive).
	Start int `json:"start"`
	End   int `json:"end"`
}

// Length returns End - Start.
func (r Rule) Length() int { return r.End - r.Start }

// DetectRules finds horizontal and vertical rules inside b whose longest
// continuous ink run is at least minFrac of b's width (horizontal) or height
// (vertical), and never shorter than minLen pixels. Adjacent qualifying rows or
// columns are merged into one thicker rule.
func DetectRules(mask *Mask, b Bounds, minFrac float64, minLen int) (horizontal, vertical []Rule) {
	hMin := maxInt(int(float64(b.Width())*minFrac), minLen)
	for y := b.Y1; y < b.Y2; y++ {
		start, end := longestRun(b.Width(), func(i int) bool { return mask.At(b.X1+i, y) })
		if end-start < hMin {
			continue
		}
		horizontal = appendRule(horizontal, Rule{
			Orientation: Horizontal, Pos: y, Thickness: 1,
			Start: b.X1 + start, End: b.X1 + end,
		})
	}

	vMin := maxInt(int(float64(b.Height())*minFrac), minLen)
	for x := b.X1; x < b.X2; x++ {
		start, end := longestRun(b.Height(), func(i int) bool { return mask.At(x, b.Y1+i) })
		if end-start < vMin {
			continue
		}
		vertical = appendRule(vertical, Rule{
			Orientation: Vertical, Pos: x, Thickness: 1,
			Start: b.Y1 + start, End: b.Y1 + end,
		})
	}

	return horizontal, vertical
}

// appendRule merges r into the last rule when they are adjacent.
func appendRule(rules []Rule, r Rule) []Rule {
	if n := len(rules); n > 0 {
		last := &rules[n-1]
		if last.Pos+last.Thickness == r.Pos {
			last.Thickness++
			last.Start = minInt(last.Start, r.Start)
			last.End = maxInt(last.End, r.End)
			return rules
		}
	}
	return append(rules, r)
}

// longestRun returns the [start, end) of the longest run of true values of
// ink over 0..n-1. The earliest run wins ties.
func longestRun(n int, ink func(i int) bool) (int, int) {
	bestStart, bestEnd := 0, 0
	runStart := -1
	for i := 0; i <= n; i++ {
		if i < n && ink(i) {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			if i-runStart > bestEnd-bestStart {
				bestStart, bestEnd = runStart, i
			}
			runStart = -1
		}
	}
	return bestStart, bestEnd
}
