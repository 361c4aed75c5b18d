package geometry

import "math"

// Collinear reports whether c lies on the line through a and b, including
// coincident points. Twice the triangle area is compared against eps times
// the squared longest side, so the test is independent of coordinate scale;
// eps is roughly the sine of the smallest angle that still counts as a turn.
func Collinear(a, b, c Point2D, eps float64) bool {
	longest := max(b.Sub(a).Norm2(), c.Sub(a).Norm2(), c.Sub(b).Norm2())
	return math.Abs(crossProduct(a, b, c)) <= eps*longest
}

// AnyThreeCollinear reports whether any three of the points are collinear.
func AnyThreeCollinear(points []Point2D, eps float64) bool {
	n := len(points)
	for i := 0; i < n-2; i++ {
		for j := i + 1; j < n-1; j++ {
			for k := j + 1; k < n; k++ {
				if Collinear(points[i], points[j], points[k], eps) {
					return true
				}
			}
		}
	}
	return false
}

// crossProduct returns the z-component of (b-a) x (c-a).
func crossProduct(a, b, c Point2D) float64 {
	u, v := b.Sub(a), c.Sub(a)
	return u.X*v.Y - u.Y*v.X
}
