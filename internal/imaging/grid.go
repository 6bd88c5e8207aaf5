package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strconv"
)

// Box is a labeled rectangle drawn by DrawBoxes.
type Box struct {
	Rect  image.Rectangle
	Label string
	// Color is "#RRGGBB" or "#RRGGBBAA". Invalid or empty colors fall back to
	// semi-opaque red.
	Color string
}

// DrawBoxes renders box outlines and labels over a copy of img. It is used to
// produce segmentation debug images; img is not modified.
//
// Labels support digits, comma and the uppercase letters used for segment
// classes (P, T, F, M). Unsupported characters are rendered as blanks.
func DrawBoxes(img image.Image, boxes []Box) *image.RGBA {
	bounds := img.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, img, bounds.Min, draw.Src)

	labelColor := color.RGBA{255, 255, 255, 255}
	for _, b := range boxes {
		boxColor, err := parseHexColor(b.Color)
		if err != nil {
			boxColor = color.RGBA{255, 0, 0, 200}
		}
		r := b.Rect.Intersect(bounds)
		if r.Empty() {
			continue
		}
		for x := r.Min.X; x < r.Max.X; x++ {
			result.Set(x, r.Min.Y, boxColor)
			result.Set(x, r.Max.Y-1, boxColor)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			result.Set(r.Min.X, y, boxColor)
			result.Set(r.Max.X-1, y, boxColor)
		}
		if b.Label != "" {
			drawLabel(result, r.Min.X+2, r.Min.Y+2, b.Label, labelColor, boxColor)
		}
	}
	return result
}

// WriteDebugPNG encodes img as PNG into dir/name, creating dir if needed, and
// returns the written path.
func WriteDebugPNG(dir, name string, img image.Image) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create debug directory: %w", err)
	}
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write debug image: %w", err)
	}
	return path, nil
}

// parseHexColor parses "#RRGGBB" or "#RRGGBBAA" (leading # optional).
func parseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}

	var r, g, b, a uint8 = 0, 0, 0, 255

	switch len(hex) {
	case 6:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 16)
		g = uint8(val >> 8)
		b = uint8(val)
	case 8:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 24)
		g = uint8(val >> 16)
		b = uint8(val >> 8)
		a = uint8(val)
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}

	return color.RGBA{R: r, G: g, B: b, A: a}, nil
}

// glyphs is a 3x5 pixel font.
var glyphs = map[rune][]string{
	'0': {"111", "101", "101", "101", "111"},
	'1': {"010", "110", "010", "010", "111"},
	'2': {"111", "001", "111", "100", "111"},
	'3': {"111", "001", "111", "001", "111"},
	'4': {"101", "101", "111", "001", "001"},
	'5': {"111", "100", "111", "001", "111"},
	'6': {"111", "100", "111", "101", "111"},
	'7': {"111", "001", "001", "001", "001"},
	'8': {"111", "101", "111", "101", "111"},
	'9': {"111", "101", "111", "001", "111"},
	',': {"000", "000", "000", "010", "010"},
	'P': {"110", "101", "110", "100", "100"},
	'T': {"111", "010", "010", "010", "010"},
	'F': {"111", "100", "110", "100", "100"},
	'M': {"101", "111", "111", "101", "101"},
}

func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	bounds := img.Bounds()
	charWidth := 4
	labelWidth := len(text) * charWidth
	labelHeight := 7

	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			px, py := x+dx, y+dy
			if image.Pt(px, py).In(bounds) {
				img.Set(px, py, bg)
			}
		}
	}

	cx := x
	for _, ch := range text {
		glyph, ok := glyphs[ch]
		if !ok {
			cx += charWidth
			continue
		}
		for row, line := range glyph {
			for col, pixel := range line {
				if pixel == '1' {
					px, py := cx+col, y+row
					if image.Pt(px, py).In(bounds) {
						img.Set(px, py, fg)
					}
				}
			}
		}
		cx += charWidth
	}
}
