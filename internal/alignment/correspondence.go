package alignment

import (
	"feature-align/internal/features"
	"feature-align/internal/matching"
	"feature-align/pkg/geometry"
)

// Correspondence pairs a point of image A with its match in image B.
type Correspondence struct {
	A, B geometry.Point2D
}

// correspondences converts matches into point pairs, preserving their order.
func correspondences(matches []matching.Match, a, b []features.Keypoint) []Correspondence {
	out := make([]Correspondence, len(matches))
	for i, m := range matches {
		out[i] = Correspondence{A: a[m.QueryIdx].Point(), B: b[m.TrainIdx].Point()}
	}
	return out
}

func pointsA(c []Correspondence) []geometry.Point2D {
	out := make([]geometry.Point2D, len(c))
	for i := range c {
		out[i] = c[i].A
	}
	return out
}

func pointsB(c []Correspondence) []geometry.Point2D {
	out := make([]geometry.Point2D, len(c))
	for i := range c {
		out[i] = c[i].B
	}
	return out
}
