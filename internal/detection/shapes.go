package detection

import (
	"image"

	"github.com/anthonynsimon/bild/segment"
)

// Bounds represents a rectangular bounding box in pixel coordinates.
//
// The coordinate convention follows standard image bounds:
//   - (X1, Y1) is the top-left corner (inclusive)
//   - (X2, Y2) is the bottom-right corner (exclusive)
type Bounds struct {
	X1 int `json:"x1"` // Left edge (inclusive)
	Y1 int `json:"y1"` // Top edge (inclusive)
	X2 int `json:"x2"` // Right edge (exclusive)
	Y2 int `json:"y2"` // Bottom edge (exclusive)
}

// Width returns X2 - X1.
func (b Bounds) Width() int { return b.X2 - b.X1 }

// Height returns Y2 - Y1.
func (b Bounds) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area in pixels.
func (b Bounds) Area() int { return b.Width() * b.Height() }

// Rect converts b to an image.Rectangle.
func (b Bounds) Rect() image.Rectangle { return image.Rect(b.X1, b.Y1, b.X2, b.Y2) }

// Point represents a 2D coordinate in pixel space.
type Point struct {
	X int `json:"x"` // Horizontal position (0 = leftmost)
	Y int `json:"y"` // Vertical position (0 = topmost)
}

// DefaultInkLevel is the gray level below which a normalized pixel counts as ink.
const DefaultInkLevel = 128

// Mask is a binary ink image. Bits is row-major, true for ink.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// NewMask allocates an empty mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

// InkMask binarizes img: pixels darker than level are ink.
func InkMask(img image.Image, level uint8) *Mask {
	bw := segment.Threshold(img, level)
	b := bw.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		row := bw.Pix[y*bw.Stride : y*bw.Stride+m.Width]
		for x, v := range row {
			m.Bits[y*m.Width+x] = v == 0
		}
	}
	return m
}

// At reports whether (x, y) is ink. Out-of-range coordinates are background.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

// Set marks (x, y) as ink.
func (m *Mask) Set(x, y int) {
	m.Bits[y*m.Width+x] = true
}

// Count returns the number of ink pixels inside b.
func (m *Mask) Count(b Bounds) int {
	n := 0
	for y := maxInt(b.Y1, 0); y < minInt(b.Y2, m.Height); y++ {
		for x := maxInt(b.X1, 0); x < minInt(b.X2, m.Width); x++ {
			if m.Bits[y*m.Width+x] {
				n++
			}
		}
	}
	return n
}

// Full returns the bounds of the whole mask.
func (m *Mask) Full() Bounds {
	return Bounds{X1: 0, Y1: 0, X2: m.Width, Y2: m.Height}
}

// findComponents finds 8-connected components of mask and returns their
// bounding boxes in scan order (first pixel top-to-bottom, left-to-right).
func findComponents(mask *Mask) []Bounds {
	visited := make([]bool, len(mask.Bits))
	comps := make([]Bounds, 0)

	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			i := y*mask.Width + x
			if mask.Bits[i] && !visited[i] {
				comps = append(comps, floodFill(mask, visited, x, y))
			}
		}
	}

	return comps
}

// floodFill performs iterative flood-fill from a starting point and returns
// the bounding box of the filled component.
//
// Uses a stack-based approach (not recursive) to avoid stack overflow
// on large components. Uses 8-connectivity (includes diagonal neighbors).
func floodFill(mask *Mask, visited []bool, startX, startY int) Bounds {
	b := Bounds{X1: startX, Y1: startY, X2: startX + 1, Y2: startY + 1}
	stack := []Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= mask.Width || p.Y < 0 || p.Y >= mask.Height {
			continue
		}
		i := p.Y*mask.Width + p.X
		if visited[i] || !mask.Bits[i] {
			continue
		}

		visited[i] = true
		b.X1 = minInt(b.X1, p.X)
		b.Y1 = minInt(b.Y1, p.Y)
		b.X2 = maxInt(b.X2, p.X+1)
		b.Y2 = maxInt(b.Y2, p.Y+1)

		// 8-connected neighbors
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				stack = append(stack, Point{X: p.X + dx, Y: p.Y + dy})
			}
		}
	}

	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
