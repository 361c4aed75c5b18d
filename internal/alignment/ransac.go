package alignment

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"feature-align/pkg/geometry"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// RANSACParams configures robust homography estimation.
type RANSACParams struct {
	Threshold  float64 // max reprojection distance of an inlier, pixels
	MinInliers int     // floor of 4
	MaxTrials  int
	Confidence float64 // adaptive early stop; 0 runs all trials
	Workers    int     // 0 means runtime.NumCPU()
	Seed       uint64

	// Source overrides Seed when set. Per-trial streams are drawn from it
	// before each batch runs, so results do not depend on Workers.
	Source rand.Source
}

// DefaultRANSACParams returns the defaults used by the alignment pipeline.
func DefaultRANSACParams() RANSACParams {
	return RANSACParams{
		Threshold:  3.0,
		MinInliers: 6,
		MaxTrials:  2000,
		Confidence: 0.995,
	}
}

// Model is an estimated homography with its inlier partition.
type Model struct {
	H           geometry.Homography
	Inliers     []bool // parallel to the correspondences
	InlierCount int
	MeanError   float64 // mean reprojection error over the inliers
	Trials      int
}

const (
	sampleSize   = 4
	trialBatch   = 64
	maxRedraws   = 100
	collinearEps = 0.01
	ransacStream = 0x72616e736163
)

// trial is the outcome of one hypothesis.
type trial struct {
	index   int
	h       geometry.Homography
	inliers int
	meanErr float64
	ok      bool
}

// accumulator keeps the best trial seen. Trials must be offered in index
// order for the result to be reproducible.
type accumulator struct {
	best trial
}

func (a *accumulator) offer(t trial) {
	if !t.ok {
		return
	}
	b := a.best
	switch {
	case !b.ok,
		t.inliers > b.inliers,
		t.inliers == b.inliers && t.meanErr < b.meanErr,
		t.inliers == b.inliers && t.meanErr == b.meanErr && t.index < b.index:
		a.best = t
	}
}

func (p RANSACParams) withDefaults() RANSACParams {
	def := DefaultRANSACParams()
	if p.Threshold <= 0 {
		p.Threshold = def.Threshold
	}
	if p.MinInliers <= 0 {
		p.MinInliers = def.MinInliers
	}
	p.MinInliers = max(p.MinInliers, sampleSize)
	if p.MaxTrials <= 0 {
		p.MaxTrials = def.MaxTrials
	}
	if p.Confidence < 0 || p.Confidence >= 1 {
		p.Confidence = def.Confidence
	}
	if p.Workers <= 0 {
		p.Workers = runtime.NumCPU()
	}
	return p
}

// Estimate fits a homography mapping A points onto B points that is robust to
// outlier correspondences.
func Estimate(ctx context.Context, corr []Correspondence, params RANSACParams) (Model, error) {
	n := len(corr)
	if n < sampleSize {
		return Model{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCorrespondences, n, sampleSize)
	}
	p := params.withDefaults()
	src, dst := pointsA(corr), pointsB(corr)

	source := p.Source
	if source == nil {
		source = rand.NewPCG(p.Seed, ransacStream)
	}
	master := rand.New(source)

	var acc accumulator
	required := p.MaxTrials
	done := 0
	for done < required {
		if err := ctx.Err(); err != nil {
			return Model{}, err
		}
		batch := min(trialBatch, required-done)
		seeds := make([][2]uint64, batch)
		for i := range seeds {
			seeds[i] = [2]uint64{master.Uint64(), master.Uint64()}
		}

		results := make([]trial, batch)
		var g errgroup.Group
		g.SetLimit(p.Workers)
		for i := range results {
			g.Go(func() error {
				results[i] = runTrial(done+i, seeds[i], src, dst, p.Threshold)
				return nil
			})
		}
		_ = g.Wait()

		for _, t := range results {
			acc.offer(t)
		}
		done += batch

		if p.Confidence > 0 && acc.best.ok {
			required = min(required, adaptiveTrials(acc.best.inliers, n, p.Confidence))
		}
	}

	if !acc.best.ok {
		return Model{}, fmt.Errorf("%w: no non-degenerate sample in %d trials", ErrDegenerateModel, done)
	}

	h := acc.best.h
	mask, _ := inlierMask(h, src, dst, p.Threshold)
	if refit, err := fitDLT(selectPoints(src, mask), selectPoints(dst, mask)); err == nil {
		if count, _ := score(refit, src, dst, p.Threshold); count >= acc.best.inliers {
			h = refit
		}
	}

	mask, residuals := inlierMask(h, src, dst, p.Threshold)
	model := Model{H: h, Inliers: mask, InlierCount: len(residuals), Trials: done}
	if model.InlierCount < p.MinInliers {
		return Model{}, fmt.Errorf("%w: %d inliers, need %d", ErrDegenerateModel, model.InlierCount, p.MinInliers)
	}
	model.MeanError = stat.Mean(residuals, nil)
	return model, nil
}

// runTrial draws a non-degenerate minimal sample from its own stream, fits it
// and scores the hypothesis.
func runTrial(index int, seed [2]uint64, src, dst []geometry.Point2D, threshold float64) trial {
	rng := rand.New(rand.NewPCG(seed[0], seed[1]))
	n := len(src)
	var idx [sampleSize]int
	sa := make([]geometry.Point2D, sampleSize)
	sb := make([]geometry.Point2D, sampleSize)

	for attempt := 0; attempt < maxRedraws; attempt++ {
		for k := 0; k < sampleSize; {
			c := rng.IntN(n)
			if slices.Contains(idx[:k], c) {
				continue
			}
			idx[k] = c
			k++
		}
		for k, i := range idx {
			sa[k], sb[k] = src[i], dst[i]
		}
		if geometry.AnyThreeCollinear(sa, collinearEps) || geometry.AnyThreeCollinear(sb, collinearEps) {
			continue
		}
		h, err := fitMinimal(sa, sb)
		if err != nil {
			continue
		}
		count, mean := score(h, src, dst, threshold)
		return trial{index: index, h: h, inliers: count, meanErr: mean, ok: true}
	}
	return trial{index: index}
}

// reproject returns the distance between h(a) and b. ok is false when a maps
// to infinity.
func reproject(h geometry.Homography, a, b geometry.Point2D) (float64, bool) {
	p, ok := h.Apply(a)
	if !ok {
		return 0, false
	}
	d := p.Distance(b)
	return d, !math.IsNaN(d)
}

// score counts the inliers of h and their mean reprojection error.
func score(h geometry.Homography, src, dst []geometry.Point2D, threshold float64) (int, float64) {
	var count int
	var sum float64
	for i := range src {
		d, ok := reproject(h, src[i], dst[i])
		if ok && d <= threshold {
			count++
			sum += d
		}
	}
	if count == 0 {
		return 0, math.Inf(1)
	}
	return count, sum / float64(count)
}

// inlierMask classifies every pair under h and returns the inlier residuals.
func inlierMask(h geometry.Homography, src, dst []geometry.Point2D, threshold float64) ([]bool, []float64) {
	mask := make([]bool, len(src))
	var residuals []float64
	for i := range src {
		d, ok := reproject(h, src[i], dst[i])
		if ok && d <= threshold {
			mask[i] = true
			residuals = append(residuals, d)
		}
	}
	return mask, residuals
}

func selectPoints(points []geometry.Point2D, mask []bool) []geometry.Point2D {
	var out []geometry.Point2D
	for i, keep := range mask {
		if keep {
			out = append(out, points[i])
		}
	}
	return out
}

// adaptiveTrials returns the number of trials that find an all-inlier sample
// with the given confidence at the observed inlier ratio.
func adaptiveTrials(inliers, total int, confidence float64) int {
	w := float64(inliers) / float64(total)
	pAll := math.Pow(w, sampleSize)
	if pAll >= 1 {
		return 1
	}
	if pAll <= 0 {
		return math.MaxInt
	}
	k := math.Log(1-confidence) / math.Log(1-pAll)
	if k >= math.MaxInt32 {
		return math.MaxInt32
	}
	return max(1, int(math.Ceil(k)))
}
