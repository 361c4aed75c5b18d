package alignment

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"feature-align/pkg/geometry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownH = geometry.Homography{
	1.05, 0.02, 12,
	-0.03, 0.98, -7,
	1e-4, -5e-5, 1,
}

// synthetic returns inliers correspondences under h followed by outliers
// random pairs, all inside a 400x400 frame.
func synthetic(seed uint64, h geometry.Homography, inliers, outliers int) []Correspondence {
	rng := rand.New(rand.NewPCG(seed, 99))
	pt := func() geometry.Point2D {
		return geometry.Point2D{X: rng.Float64() * 400, Y: rng.Float64() * 400}
	}
	var out []Correspondence
	for i := 0; i < inliers; i++ {
		a := pt()
		b, _ := h.Apply(a)
		out = append(out, Correspondence{A: a, B: b})
	}
	for i := 0; i < outliers; i++ {
		out = append(out, Correspondence{A: pt(), B: pt()})
	}
	return out
}

func TestEstimateRecoversHomography(t *testing.T) {
	corr := synthetic(1, knownH, 50, 10)
	model, err := Estimate(context.Background(), corr, RANSACParams{Seed: 1})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		assert.InDelta(t, knownH[i], model.H[i], 1e-4, "h[%d]", i)
	}
	assert.InDelta(t, knownH[6], model.H[6], 1e-7)
	assert.InDelta(t, knownH[7], model.H[7], 1e-7)
	assert.Equal(t, 1.0, model.H[8])

	trueInliers := 0
	for i := 0; i < 50; i++ {
		if model.Inliers[i] {
			trueInliers++
		}
	}
	assert.GreaterOrEqual(t, trueInliers, 40)
	assert.Len(t, model.Inliers, len(corr))
	assert.Less(t, model.MeanError, 1e-3)
	assert.Positive(t, model.Trials)
}

func TestEstimateUnitSquareCoordinates(t *testing.T) {
	// knownH conjugated by a 1/400 scaling, so the same correspondences
	// expressed in [0,1]^2 map through it.
	const s = 400.0
	unitH := geometry.Homography{
		knownH[0], knownH[1], knownH[2] / s,
		knownH[3], knownH[4], knownH[5] / s,
		knownH[6] * s, knownH[7] * s, knownH[8],
	}
	corr := synthetic(1, knownH, 50, 10)
	for i := range corr {
		corr[i].A = corr[i].A.Scale(1 / s)
		corr[i].B = corr[i].B.Scale(1 / s)
	}

	model, err := Estimate(context.Background(), corr, RANSACParams{Seed: 1, Threshold: 3.0 / s})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		assert.InDelta(t, unitH[i], model.H[i], 1e-4, "h[%d]", i)
	}
	assert.InDelta(t, unitH[6], model.H[6], 1e-4)
	assert.InDelta(t, unitH[7], model.H[7], 1e-4)
	assert.GreaterOrEqual(t, model.InlierCount, 40)
}

func TestEstimateIdempotent(t *testing.T) {
	corr := synthetic(2, knownH, 40, 25)
	first, err := Estimate(context.Background(), corr, RANSACParams{Seed: 7, Workers: 1})
	require.NoError(t, err)
	second, err := Estimate(context.Background(), corr, RANSACParams{Seed: 7, Workers: 8})
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("estimation differs between runs (-first +second):\n%s", diff)
	}
}

func TestEstimateInjectedSource(t *testing.T) {
	corr := synthetic(3, knownH, 30, 30)
	params := func() RANSACParams {
		return RANSACParams{Source: rand.NewPCG(11, 12), Confidence: 0}
	}
	first, err := Estimate(context.Background(), corr, params())
	require.NoError(t, err)
	second, err := Estimate(context.Background(), corr, params())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, DefaultRANSACParams().MaxTrials, first.Trials)
}

func TestEstimateTooFewCorrespondences(t *testing.T) {
	corr := synthetic(4, knownH, 3, 0)
	_, err := Estimate(context.Background(), corr, RANSACParams{})
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)

	_, err = Estimate(context.Background(), nil, RANSACParams{})
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)
}

func TestEstimateCollinear(t *testing.T) {
	var corr []Correspondence
	for i := 0; i < 10; i++ {
		p := geometry.Point2D{X: float64(i * 10), Y: float64(i * 10)}
		corr = append(corr, Correspondence{A: p, B: p})
	}
	_, err := Estimate(context.Background(), corr, RANSACParams{MaxTrials: 50})
	assert.ErrorIs(t, err, ErrDegenerateModel)
}

func TestEstimateBelowMinInliers(t *testing.T) {
	corr := synthetic(5, knownH, 0, 12)
	_, err := Estimate(context.Background(), corr, RANSACParams{MinInliers: 10, Seed: 5})
	assert.ErrorIs(t, err, ErrDegenerateModel)
}

func TestEstimateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Estimate(ctx, synthetic(6, knownH, 20, 0), RANSACParams{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitMinimalExact(t *testing.T) {
	src := []geometry.Point2D{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 80}, {X: 10, Y: 90}}
	dst := make([]geometry.Point2D, 4)
	for i, p := range src {
		dst[i], _ = knownH.Apply(p)
	}
	h, err := fitMinimal(src, dst)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		assert.InDelta(t, knownH[i], h[i], 1e-6, "h[%d]", i)
	}
	assert.InDelta(t, knownH[6], h[6], 1e-9)
	assert.InDelta(t, knownH[7], h[7], 1e-9)
	assert.Equal(t, 1.0, h[8])
}

func TestFitDLTExact(t *testing.T) {
	corr := synthetic(8, knownH, 30, 0)
	h, err := fitDLT(pointsA(corr), pointsB(corr))
	require.NoError(t, err)
	for _, c := range corr {
		p, ok := h.Apply(c.A)
		require.True(t, ok)
		assert.InDelta(t, 0, p.Distance(c.B), 1e-6)
	}
}

func TestFitDLTCoincident(t *testing.T) {
	p := []geometry.Point2D{{X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}}
	_, err := fitDLT(p, p)
	assert.ErrorIs(t, err, ErrDegenerateModel)
}

func TestAccumulatorTieBreaks(t *testing.T) {
	var acc accumulator
	acc.offer(trial{index: 0})
	assert.False(t, acc.best.ok)

	acc.offer(trial{index: 1, inliers: 10, meanErr: 1, ok: true})
	acc.offer(trial{index: 2, inliers: 10, meanErr: 1, ok: true})
	assert.Equal(t, 1, acc.best.index, "equal score keeps the earlier trial")

	acc.offer(trial{index: 3, inliers: 10, meanErr: 0.5, ok: true})
	assert.Equal(t, 3, acc.best.index, "lower error wins on equal count")

	acc.offer(trial{index: 4, inliers: 11, meanErr: 2, ok: true})
	assert.Equal(t, 4, acc.best.index)
}

func TestAdaptiveTrials(t *testing.T) {
	assert.Equal(t, 1, adaptiveTrials(10, 10, 0.995))
	want := int(math.Ceil(math.Log(0.005) / math.Log(1-0.0625)))
	assert.Equal(t, want, adaptiveTrials(5, 10, 0.995))
	assert.Equal(t, math.MaxInt, adaptiveTrials(0, 10, 0.995))
}

func TestScoreSkipsPointsAtInfinity(t *testing.T) {
	// Maps the line x = 1 to infinity.
	h := geometry.Homography{1, 0, 0, 0, 1, 0, 1, 0, -1}
	src := []geometry.Point2D{{X: 1, Y: 3}, {X: 0, Y: 0}}
	dst := []geometry.Point2D{{X: 0, Y: 0}, {X: 0, Y: 0}}
	count, _ := score(h, src, dst, 3)
	assert.Equal(t, 1, count)
}
