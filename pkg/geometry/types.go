// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	return math.Sqrt(p.Sub(other).Norm2())
}

// Add returns p + other.
func (p Point2D) Add(other Point2D) Point2D {
	return Point2D{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns the vector from other to p.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

// Scale multiplies both coordinates by factor.
func (p Point2D) Scale(factor float64) Point2D {
	return Point2D{X: p.X * factor, Y: p.Y * factor}
}

// Norm2 returns the squared length of p taken as a vector.
func (p Point2D) Norm2() float64 {
	return p.X*p.X + p.Y*p.Y
}

// AffineTransform represents a 2x3 affine transformation matrix.
// [a b tx]
// [c d ty]
type AffineTransform struct {
	A, B, TX float64
	C, D, TY float64
}

// Translation returns a translation transform.
func Translation(tx, ty float64) AffineTransform {
	return AffineTransform{A: 1, D: 1, TX: tx, TY: ty}
}

// Similarity returns a rotation by radians and uniform scale about center,
// followed by a translation of (tx, ty).
func Similarity(center Point2D, radians, scale, tx, ty float64) AffineTransform {
	cos := math.Cos(radians) * scale
	sin := math.Sin(radians) * scale
	return AffineTransform{
		A: cos, B: -sin, TX: center.X - cos*center.X + sin*center.Y + tx,
		C: sin, D: cos, TY: center.Y - sin*center.X - cos*center.Y + ty,
	}
}

// Apply applies the transform to a point.
func (t AffineTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.A*p.X + t.B*p.Y + t.TX,
		Y: t.C*p.X + t.D*p.Y + t.TY,
	}
}

// Homography converts the affine transform into its 3x3 projective form.
func (t AffineTransform) Homography() Homography {
	return Homography{
		t.A, t.B, t.TX,
		t.C, t.D, t.TY,
		0, 0, 1,
	}
}

// Centroid returns the mean position of points, or the origin for none.
func Centroid(points []Point2D) Point2D {
	if len(points) == 0 {
		return Point2D{}
	}
	var sum Point2D
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Scale(1 / float64(len(points)))
}
