package features

import "image"

// FAST-9 segment test on the 16-pixel Bresenham circle of radius 3.
// Rosten & Drummond, "Machine learning for high-speed corner detection", 2006.

// circleOffsets lists the ring pixels clockwise starting at 12 o'clock.
var circleOffsets = [16]image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

const fastArc = 9

// fastScores returns the FAST corner score of every pixel of g; zero means
// "not a corner". The score is the sum of absolute differences above the
// threshold over the qualifying ring pixels.
func fastScores(g *image.Gray, threshold int) []float32 {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	score := make([]float32, w*h)
	if w < 7 || h < 7 {
		return score
	}

	var ring [16]int
	for y := 3; y < h-3; y++ {
		for x := 3; x < w-3; x++ {
			p := int(g.Pix[y*g.Stride+x])
			hi, lo := p+threshold, p-threshold

			// Any arc of 9 covers at least two of the compass points.
			var nb, nd int
			for i := 0; i < 16; i += 4 {
				v := int(g.Pix[(y+circleOffsets[i].Y)*g.Stride+x+circleOffsets[i].X])
				if v > hi {
					nb++
				} else if v < lo {
					nd++
				}
			}
			if nb < 2 && nd < 2 {
				continue
			}

			for i, off := range circleOffsets {
				ring[i] = int(g.Pix[(y+off.Y)*g.Stride+x+off.X])
			}
			var s int
			if nb >= 2 && hasArc(&ring, func(v int) bool { return v > hi }) {
				s = max(s, sumBeyond(&ring, hi, 1))
			}
			if nd >= 2 && hasArc(&ring, func(v int) bool { return v < lo }) {
				s = max(s, sumBeyond(&ring, lo, -1))
			}
			score[y*w+x] = float32(s)
		}
	}
	return score
}

// hasArc reports whether at least fastArc contiguous ring pixels satisfy pass,
// wrapping around the circle.
func hasArc(ring *[16]int, pass func(int) bool) bool {
	run := 0
	for i := 0; i < 16+fastArc-1; i++ {
		if pass(ring[i%16]) {
			run++
			if run >= fastArc {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// sumBeyond sums how far ring pixels exceed the bound in direction sign.
func sumBeyond(ring *[16]int, bound, sign int) int {
	var s int
	for _, v := range ring {
		if d := (v - bound) * sign; d > 0 {
			s += d
		}
	}
	return s
}
