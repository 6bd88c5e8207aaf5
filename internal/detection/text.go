package detection

import (
	"sort"
)

// Options tunes region finding. Zero fields take DefaultOptions values.
type Options struct {
	// HorizontalGap is the widest background run filled along rows, joining
	// glyphs into words and words into lines.
	HorizontalGap int
	// VerticalGap is the widest background run filled along columns, joining
	// lines into paragraphs.
	VerticalGap int
	// MinInk drops components with fewer ink pixels (specks, cursor blink).
	MinInk int
	// MinHeight drops components shorter than this many pixels.
	MinHeight int
}

// DefaultOptions suits screen text rendered at 10-20px.
var DefaultOptions = Options{
	HorizontalGap: 18,
	VerticalGap:   8,
	MinInk:        6,
	MinHeight:     3,
}

func (o Options) withDefaults() Options {
	if o.HorizontalGap <= 0 {
		o.HorizontalGap = DefaultOptions.HorizontalGap
	}
	if o.VerticalGap <= 0 {
		o.VerticalGap = DefaultOptions.VerticalGap
	}
	if o.MinInk <= 0 {
		o.MinInk = DefaultOptions.MinInk
	}
	if o.MinHeight <= 0 {
		o.MinHeight = DefaultOptions.MinHeight
	}
	return o
}

// Region is a block of related ink found by FindRegions.
type Region struct {
	Bounds    Bounds `json:"bounds"`
	InkPixels int    `json:"ink_pixels"`
}

// FindRegions segments mask into blocks of ink and returns them in reading
// order. A mask without ink yields an empty slice.
func FindRegions(mask *Mask, opts Options) []Region {
	opts = opts.withDefaults()

	smeared := smear(mask, opts.HorizontalGap, opts.VerticalGap)

	candidates := make([]Region, 0)
	for _, b := range findComponents(smeared) {
		ink := mask.Count(b)
		if ink < opts.MinInk || b.Height() < opts.MinHeight {
			continue
		}
		candidates = append(candidates, Region{Bounds: b, InkPixels: ink})
	}

	merged := mergeOverlappingRegions(candidates)
	for i := range merged {
		merged[i].InkPixels = mask.Count(merged[i].Bounds)
	}

	return sortReadingOrder(merged)
}

// smear applies run-length smoothing: background runs no longer than hGap
// that lie between two ink pixels on the same row are filled, then the same is
// done on columns of the result with vGap.
func smear(mask *Mask, hGap, vGap int) *Mask {
	out := NewMask(mask.Width, mask.Height)
	copy(out.Bits, mask.Bits)

	for y := 0; y < out.Height; y++ {
		last := -1
		for x := 0; x < out.Width; x++ {
			if !out.Bits[y*out.Width+x] {
				continue
			}
			if last >= 0 && x-last-1 <= hGap {
				for fx := last + 1; fx < x; fx++ {
					out.Bits[y*out.Width+fx] = true
				}
			}
			last = x
		}
	}

	for x := 0; x < out.Width; x++ {
		last := -1
		for y := 0; y < out.Height; y++ {
			if !out.Bits[y*out.Width+x] {
				continue
			}
			if last >= 0 && y-last-1 <= vGap {
				for fy := last + 1; fy < y; fy++ {
					out.Bits[fy*out.Width+x] = true
				}
			}
			last = y
		}
	}

	return out
}

// mergeOverlappingRegions combines overlapping regions until no two overlap.
func mergeOverlappingRegions(regions []Region) []Region {
	if len(regions) == 0 {
		return regions
	}

	merged := append([]Region(nil), regions...)
	for changed := true; changed; {
		changed = false
		out := make([]Region, 0, len(merged))
		for _, r := range merged {
			foundMerge := false
			for i := range out {
				if regionsOverlap(r.Bounds, out[i].Bounds) {
					out[i].Bounds = mergeBounds(r.Bounds, out[i].Bounds)
					foundMerge = true
					changed = true
					break
				}
			}
			if !foundMerge {
				out = append(out, r)
			}
		}
		merged = out
	}

	return merged
}

// sortReadingOrder orders regions top-to-bottom, then left-to-right within a
// visual row. A region joins the current row when it overlaps the row's
// vertical span by at least half of the smaller height.
func sortReadingOrder(regions []Region) []Region {
	sort.SliceStable(regions, func(i, j int) bool {
		a, b := regions[i].Bounds, regions[j].Bounds
		if a.Y1 != b.Y1 {
			return a.Y1 < b.Y1
		}
		return a.X1 < b.X1
	})

	ordered := make([]Region, 0, len(regions))
	for start := 0; start < len(regions); {
		rowTop, rowBottom := regions[start].Bounds.Y1, regions[start].Bounds.Y2
		end := start + 1
		for end < len(regions) {
			b := regions[end].Bounds
			overlap := minInt(rowBottom, b.Y2) - maxInt(rowTop, b.Y1)
			if overlap*2 < minInt(rowBottom-rowTop, b.Height()) {
				break
			}
			rowBottom = maxInt(rowBottom, b.Y2)
			end++
		}

		row := append([]Region(nil), regions[start:end]...)
		sort.SliceStable(row, func(i, j int) bool {
			return row[i].Bounds.X1 < row[j].Bounds.X1
		})
		ordered = append(ordered, row...)
		start = end
	}

	return ordered
}

// regionsOverlap checks if two bounds overlap
func regionsOverlap(a, b Bounds) bool {
	return a.X1 < b.X2 && a.X2 > b.X1 && a.Y1 < b.Y2 && a.Y2 > b.Y1
}

// mergeBounds combines two bounds into their union
func mergeBounds(a, b Bounds) Bounds {
	return Bounds{
		X1: minInt(a.X1, b.X1),
		Y1: minInt(a.Y1, b.Y1),
		X2: maxInt(a.X2, b.X2),
		Y2: maxInt(a.Y2, b.Y2),
	}
}
