// Package alignment registers one image onto another: it detects and matches
// features, estimates a homography robust to outliers and resamples the image
// into the reference frame.
package alignment

import (
	"cmp"
	"context"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"time"

	"feature-align/internal/features"
	"feature-align/internal/matching"
	"feature-align/internal/raster"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Family selects the descriptor family.
type Family string

const (
	FamilyBinary Family = "binary" // ORB, Hamming distance
	FamilyFloat  Family = "float"  // gradient histograms, Euclidean distance
)

// Strategy selects the nearest-neighbour search.
type Strategy string

const (
	StrategyExact       Strategy = "exact"       // brute force
	StrategyApproximate Strategy = "approximate" // LSH or kd-forest, by family
)

// Backend selects the detector implementation.
type Backend string

const (
	BackendNative Backend = "native"
	BackendOpenCV Backend = "opencv"
)

// minMatches is the smallest match count worth estimating from.
const minMatches = 4

// Options configures an Aligner.
type Options struct {
	Family   Family
	Strategy Strategy
	Backend  Backend

	ORB      features.ORBParams
	Gradient features.GradientParams
	KDForest matching.KDForestParams
	LSH      matching.LSHParams

	Ratio        float64 // nearest / second-nearest bound
	KeepFraction float64 // share of ratio-test survivors kept, best first
	MinKeep      int     // keep at least this many regardless of KeepFraction
	Preprocess   bool    // detect on Otsu-binarized, inverted images

	RANSAC  RANSACParams
	Workers int // 0 means runtime.NumCPU()
	Logger  *slog.Logger
}

// DefaultOptions returns options for ORB with brute-force matching.
func DefaultOptions() Options {
	return Options{
		Family:       FamilyBinary,
		Strategy:     StrategyExact,
		Backend:      BackendNative,
		ORB:          features.DefaultORBParams(),
		Gradient:     features.DefaultGradientParams(),
		KDForest:     matching.DefaultKDForestParams(),
		LSH:          matching.DefaultLSHParams(),
		Ratio:        matching.DefaultRatio,
		KeepFraction: 1.0,
		MinKeep:      8,
		RANSAC:       DefaultRANSACParams(),
	}
}

// Aligner registers an image onto a reference.
type Aligner interface {
	Align(ctx context.Context, img, ref image.Image) (*Result, error)
	Method() string
}

// New builds the Aligner selected by opts.
func New(opts Options) (Aligner, error) {
	if opts.Workers > 0 {
		opts.RANSAC.Workers = opts.Workers
		opts.KDForest.Workers = opts.Workers
		opts.LSH.Workers = opts.Workers
	}
	if opts.RANSAC.Seed != 0 {
		opts.KDForest.Seed = opts.RANSAC.Seed
		opts.LSH.Seed = opts.RANSAC.Seed
	}

	switch opts.Family {
	case FamilyBinary:
		var det features.Detector[features.Binary]
		switch opts.Backend {
		case BackendNative, "":
			det = features.NewORB(opts.ORB)
		case BackendOpenCV:
			cv, err := features.NewCVORB(opts.ORB)
			if err != nil {
				return nil, err
			}
			det = cv
		default:
			return nil, fmt.Errorf("unknown backend %q", opts.Backend)
		}
		var m matching.Matcher[features.Binary]
		switch opts.Strategy {
		case StrategyExact, "":
			m = matching.NewBruteForce[features.Binary](opts.Workers)
		case StrategyApproximate:
			m = matching.NewLSH(opts.LSH)
		default:
			return nil, fmt.Errorf("unknown strategy %q", opts.Strategy)
		}
		return NewPipeline(det, m, opts), nil

	case FamilyFloat:
		var det features.Detector[features.Float]
		switch opts.Backend {
		case BackendNative, "":
			det = features.NewGradient(opts.Gradient)
		case BackendOpenCV:
			cv, err := features.NewCVSIFT(opts.Gradient.MaxFeatures)
			if err != nil {
				return nil, err
			}
			det = cv
		default:
			return nil, fmt.Errorf("unknown backend %q", opts.Backend)
		}
		var m matching.Matcher[features.Float]
		switch opts.Strategy {
		case StrategyExact, "":
			m = matching.NewBruteForce[features.Float](opts.Workers)
		case StrategyApproximate:
			m = matching.NewKDForest(opts.KDForest)
		default:
			return nil, fmt.Errorf("unknown strategy %q", opts.Strategy)
		}
		return NewPipeline(det, m, opts), nil
	}
	return nil, fmt.Errorf("unknown descriptor family %q", opts.Family)
}

// Pipeline runs detection, matching, estimation and warping for one
// descriptor family. It holds no per-call state and is safe for concurrent
// use.
type Pipeline[D features.Descriptor[D]] struct {
	detector features.Detector[D]
	matcher  matching.Matcher[D]
	opts     Options
	method   string
	log      *slog.Logger
}

// NewPipeline combines a detector and a matcher of the same family.
func NewPipeline[D features.Descriptor[D]](det features.Detector[D], m matching.Matcher[D], opts Options) *Pipeline[D] {
	if opts.Ratio <= 0 {
		opts.Ratio = matching.DefaultRatio
	}
	if opts.KeepFraction <= 0 || opts.KeepFraction > 1 {
		opts.KeepFraction = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	method := det.Name() + "+" + m.Name()
	return &Pipeline[D]{
		detector: det,
		matcher:  m,
		opts:     opts,
		method:   method,
		log:      log.With("method", method),
	}
}

// Method returns the label of the detector and matcher, e.g. "ORB+BF".
func (p *Pipeline[D]) Method() string { return p.method }

// Align registers img onto ref. On failure the error is a *StageError.
func (p *Pipeline[D]) Align(ctx context.Context, img, ref image.Image) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := p.log.With("run", runID)

	if img == nil || ref == nil {
		return nil, stageErr(StageDetecting, fmt.Errorf("%w: missing input image", ErrInsufficientFeatures))
	}

	// Detecting
	setA, setB, err := p.detect(ctx, img, ref)
	if err != nil {
		return nil, stageErr(StageDetecting, err)
	}
	if setA.Len() == 0 || setB.Len() == 0 {
		return nil, stageErr(StageDetecting, fmt.Errorf("%w: image=%d reference=%d keypoints",
			ErrInsufficientFeatures, setA.Len(), setB.Len()))
	}
	log.Debug("detected", "keypoints_a", setA.Len(), "keypoints_b", setB.Len(), "elapsed", time.Since(start))

	// Matching
	if err := ctx.Err(); err != nil {
		return nil, stageErr(StageMatching, err)
	}
	matches, err := p.matcher.Match(ctx, setA.Descriptors, setB.Descriptors, p.opts.Ratio)
	if err != nil {
		return nil, stageErr(StageMatching, err)
	}
	survivors := len(matches)
	matches = keepBest(matches, p.opts.KeepFraction, p.opts.MinKeep)
	if len(matches) < minMatches {
		return nil, stageErr(StageMatching, fmt.Errorf("%w: %d matches, need %d",
			ErrInsufficientMatches, len(matches), minMatches))
	}
	log.Debug("matched", "survivors", survivors, "kept", len(matches), "elapsed", time.Since(start))

	// Estimating
	if err := ctx.Err(); err != nil {
		return nil, stageErr(StageEstimating, err)
	}
	corr := correspondences(matches, setA.Keypoints, setB.Keypoints)
	model, err := Estimate(ctx, corr, p.opts.RANSAC)
	if err != nil {
		return nil, stageErr(StageEstimating, err)
	}
	log.Debug("estimated", "inliers", model.InlierCount, "trials", model.Trials,
		"mean_error", model.MeanError, "elapsed", time.Since(start))

	// Warping
	if err := ctx.Err(); err != nil {
		return nil, stageErr(StageWarping, err)
	}
	warped, err := Warp(img, model.H, ref.Bounds().Size())
	if err != nil {
		return nil, stageErr(StageWarping, err)
	}

	res := &Result{
		RunID:           runID,
		Method:          p.method,
		KeypointsA:      setA.Len(),
		KeypointsB:      setB.Len(),
		Matches:         len(matches),
		Inliers:         model.InlierCount,
		MeanError:       model.MeanError,
		Trials:          model.Trials,
		Homography:      model.H,
		Correspondences: corr,
		InlierMask:      model.Inliers,
		Warped:          warped,
		Elapsed:         time.Since(start),
	}
	log.Debug("aligned", "stage", StageDone, "elapsed", res.Elapsed)
	return res, nil
}

// detect runs the detector on both images concurrently.
func (p *Pipeline[D]) detect(ctx context.Context, img, ref image.Image) (features.Set[D], features.Set[D], error) {
	prepare := func(src image.Image) *image.Gray {
		g := raster.ToGray(src)
		if p.opts.Preprocess {
			g = raster.BinarizeOtsu(g)
		}
		return g
	}

	var setA, setB features.Set[D]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		setA, err = p.detector.Detect(gctx, prepare(img))
		return err
	})
	g.Go(func() error {
		var err error
		setB, err = p.detector.Detect(gctx, prepare(ref))
		return err
	})
	err := g.Wait()
	return setA, setB, err
}

// keepBest orders matches by ascending distance and keeps
// max(minKeep, fraction*n) of them. The sort is stable.
func keepBest(matches []matching.Match, fraction float64, minKeep int) []matching.Match {
	out := slices.Clone(matches)
	slices.SortStableFunc(out, func(a, b matching.Match) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	keep := min(len(out), max(minKeep, int(fraction*float64(len(out)))))
	return out[:keep]
}
