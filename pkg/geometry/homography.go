package geometry

import "math"

// Homography is a 3x3 projective transform stored row-major.
// [h0 h1 h2]
// [h3 h4 h5]
// [h6 h7 h8]
type Homography [9]float64

// degenerateEps bounds the homogeneous scale and determinant below which a
// transform is treated as degenerate.
const degenerateEps = 1e-12

// IdentityHomography returns the identity transform.
func IdentityHomography() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// At returns the element at row r, column c.
func (h Homography) At(r, c int) float64 {
	return h[r*3+c]
}

// Apply maps p through the transform with homogeneous division.
// ok is false when the projected point lies at infinity.
func (h Homography) Apply(p Point2D) (Point2D, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < degenerateEps {
		return Point2D{}, false
	}
	return Point2D{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// Normalize scales the transform so the bottom-right element is 1.
// ok is false when that element is zero, which makes the model degenerate.
func (h Homography) Normalize() (Homography, bool) {
	if math.Abs(h[8]) < degenerateEps || !h.finite() {
		return Homography{}, false
	}
	inv := 1 / h[8]
	var out Homography
	for i := range h {
		out[i] = h[i] * inv
	}
	out[8] = 1
	return out, true
}

// Compose returns h * other, i.e. other is applied first.
func (h Homography) Compose(other Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += h[r*3+k] * other[k*3+c]
			}
			out[r*3+c] = sum
		}
	}
	return out
}

// Det returns the determinant.
func (h Homography) Det() float64 {
	return h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
}

// Inverse returns the normalized inverse transform, if it exists.
// The singularity test is relative to the magnitude of the entries so that
// scaling h does not change the outcome.
func (h Homography) Inverse() (Homography, bool) {
	if !h.finite() {
		return Homography{}, false
	}
	var maxAbs float64
	for _, v := range h {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	if maxAbs == 0 {
		return Homography{}, false
	}
	det := h.Det()
	if math.Abs(det) < degenerateEps*maxAbs*maxAbs*maxAbs {
		return Homography{}, false
	}

	invDet := 1 / det
	adj := Homography{
		h[4]*h[8] - h[5]*h[7], h[2]*h[7] - h[1]*h[8], h[1]*h[5] - h[2]*h[4],
		h[5]*h[6] - h[3]*h[8], h[0]*h[8] - h[2]*h[6], h[2]*h[3] - h[0]*h[5],
		h[3]*h[7] - h[4]*h[6], h[1]*h[6] - h[0]*h[7], h[0]*h[4] - h[1]*h[3],
	}
	for i := range adj {
		adj[i] *= invDet
	}
	if n, ok := adj.Normalize(); ok {
		return n, true
	}
	// A valid inverse can still map the origin to infinity.
	return adj, true
}

// ToMatrix returns the transform as a [3][3]float64 array.
func (h Homography) ToMatrix() [3][3]float64 {
	var m [3][3]float64
	for r := range m {
		for c := range m[r] {
			m[r][c] = h.At(r, c)
		}
	}
	return m
}

func (h Homography) finite() bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
