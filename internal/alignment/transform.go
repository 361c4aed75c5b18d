package alignment

import (
	"fmt"
	"math"

	"feature-align/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// fitMinimal solves the projective transform through exactly four point
// pairs with h22 fixed to 1.
func fitMinimal(src, dst []geometry.Point2D) (geometry.Homography, error) {
	if len(src) != 4 || len(dst) != 4 {
		return geometry.Homography{}, fmt.Errorf("need exactly 4 points, got %d/%d", len(src), len(dst))
	}

	// u = (h0 x + h1 y + h2) / (h6 x + h7 y + 1), likewise v.
	A := mat.NewDense(8, 8, nil)
	B := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y

		A.SetRow(i*2, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		B.SetVec(i*2, u)

		A.SetRow(i*2+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		B.SetVec(i*2+1, v)
	}

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return geometry.Homography{}, err
	}

	var h geometry.Homography
	for i := 0; i < 8; i++ {
		h[i] = params.AtVec(i)
	}
	h[8] = 1
	if _, ok := h.Normalize(); !ok {
		return geometry.Homography{}, ErrDegenerateModel
	}
	return h, nil
}

// fitDLT computes the least-squares projective transform over all pairs with
// the normalized direct linear transform: both point sets are shifted to
// their centroid and scaled to a mean distance of sqrt(2) before the SVD.
func fitDLT(src, dst []geometry.Point2D) (geometry.Homography, error) {
	n := len(src)
	if n < 4 || len(dst) != n {
		return geometry.Homography{}, fmt.Errorf("need at least 4 point pairs, got %d/%d", n, len(dst))
	}

	ts, ok := normalizer(src)
	if !ok {
		return geometry.Homography{}, ErrDegenerateModel
	}
	td, ok := normalizer(dst)
	if !ok {
		return geometry.Homography{}, ErrDegenerateModel
	}

	A := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := ts.apply(src[i])
		u, v := td.apply(dst[i])
		A.SetRow(i*2, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		A.SetRow(i*2+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	// The solution is the right singular vector of the smallest singular
	// value. SVDFull keeps V square for the minimal 8x9 case.
	var svd mat.SVD
	if !svd.Factorize(A, mat.SVDFull) {
		return geometry.Homography{}, fmt.Errorf("dlt: SVD failed to converge")
	}
	var V mat.Dense
	svd.VTo(&V)

	var hn geometry.Homography
	for i := 0; i < 9; i++ {
		hn[i] = V.At(i, 8)
	}

	// Undo the normalization: H = Td^-1 * Hn * Ts.
	h := td.inverse().Compose(hn).Compose(ts.matrix())
	out, ok := h.Normalize()
	if !ok {
		return geometry.Homography{}, ErrDegenerateModel
	}
	return out, nil
}

// similarity is the isotropic normalization x' = s*(x - cx).
type similarity struct {
	s, cx, cy float64
}

func normalizer(points []geometry.Point2D) (similarity, bool) {
	c := geometry.Centroid(points)
	var mean float64
	for _, p := range points {
		mean += p.Distance(c)
	}
	mean /= float64(len(points))
	if mean < 1e-12 || math.IsNaN(mean) {
		return similarity{}, false
	}
	return similarity{s: math.Sqrt2 / mean, cx: c.X, cy: c.Y}, true
}

func (t similarity) apply(p geometry.Point2D) (float64, float64) {
	return t.s * (p.X - t.cx), t.s * (p.Y - t.cy)
}

func (t similarity) matrix() geometry.Homography {
	return geometry.Homography{
		t.s, 0, -t.s * t.cx,
		0, t.s, -t.s * t.cy,
		0, 0, 1,
	}
}

func (t similarity) inverse() geometry.Homography {
	return geometry.Homography{
		1 / t.s, 0, t.cx,
		0, 1 / t.s, t.cy,
		0, 0, 1,
	}
}
