package features

import (
	"cmp"
	"slices"
)

// candidate is a keypoint location on one pyramid level before description.
type candidate struct {
	x, y  int
	level int
	score float32
}

// retainBest keeps the n strongest candidates. The sort is stable, so among
// equal scores the candidate found first survives.
func retainBest(c []candidate, n int) []candidate {
	slices.SortStableFunc(c, func(a, b candidate) int {
		return cmp.Compare(b.score, a.score)
	})
	if n > 0 && len(c) > n {
		c = c[:n]
	}
	return c
}

// localMaxima returns the positions whose score is positive and not beaten by
// any of their 8 neighbours. On a plateau the first pixel in raster order
// wins. Pixels closer than border to the edge are ignored.
func localMaxima(score []float32, w, h, border, level int) []candidate {
	var out []candidate
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			s := score[y*w+x]
			if s <= 0 {
				continue
			}
			if isLocalMax(score, w, h, x, y, s) {
				out = append(out, candidate{x: x, y: y, level: level, score: s})
			}
		}
	}
	return out
}

func isLocalMax(score []float32, w, h, x, y int, s float32) bool {
	for dy := -1; dy <= 1; dy++ {
		ny := y + dy
		if ny < 0 || ny >= h {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			nx := x + dx
			if (dx == 0 && dy == 0) || nx < 0 || nx >= w {
				continue
			}
			n := score[ny*w+nx]
			earlier := dy < 0 || (dy == 0 && dx < 0)
			if n > s || (earlier && n == s) {
				return false
			}
		}
	}
	return true
}
