package detection

import "math"

// maxSkewSamples caps the ink pixels used for skew scoring.
const maxSkewSamples = 40000

// EstimateSkew returns the angle in degrees that, applied as a
// counter-clockwise rotation, makes text lines in mask horizontal. Candidates
// range over [-maxAngle, maxAngle] in increments of step.
//
// Each candidate is scored by the sum of squared bin counts of the
// horizontal projection profile after rotation. Straight text lines
// concentrate ink into few rows, which maximizes the score. Ties keep the
// candidate closest to zero, so unskewed or inkless masks return 0.
func EstimateSkew(mask *Mask, maxAngle, step float64) float64 {
	if step <= 0 || maxAngle <= 0 {
		return 0
	}

	points := inkPoints(mask)
	if len(points) < 2 {
		return 0
	}

	cx, cy := float64(mask.Width)/2, float64(mask.Height)/2
	diag := int(math.Hypot(float64(mask.Width), float64(mask.Height))) + 2
	bins := make([]int, 2*diag)

	score := func(angle float64) float64 {
		for i := range bins {
			bins[i] = 0
		}
		sin, cos := math.Sincos(angle * math.Pi / 180)
		for _, p := range points {
			x, y := float64(p.X)-cx, float64(p.Y)-cy
			row := int(math.Floor(-x*sin+y*cos)) + diag
			if row >= 0 && row < len(bins) {
				bins[row]++
			}
		}
		var s float64
		for _, n := range bins {
			s += float64(n) * float64(n)
		}
		return s
	}

	best := 0.0
	bestScore := score(0)
	// Visit 0, +step, -step, +2*step, ... so only a strictly better score moves
	// the estimate further from zero.
	for k := 1; float64(k)*step <= maxAngle+1e-9; k++ {
		for _, a := range []float64{float64(k) * step, -float64(k) * step} {
			if s := score(a); s > bestScore {
				best, bestScore = a, s
			}
		}
	}
	return best
}

// inkPoints collects ink coordinates, striding over rows when the mask has
// more ink than maxSkewSamples.
func inkPoints(mask *Mask) []Point {
	total := mask.Count(mask.Full())
	stride := 1
	for total/stride > maxSkewSamples {
		stride++
	}

	points := make([]Point, 0, total/stride+1)
	n := 0
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if !mask.Bits[y*mask.Width+x] {
				continue
			}
			if n%stride == 0 {
				points = append(points, Point{X: x, Y: y})
			}
			n++
		}
	}
	return points
}
