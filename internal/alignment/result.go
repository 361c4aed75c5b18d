package alignment

import (
	"fmt"
	"image"
	"time"

	"feature-align/pkg/geometry"
)

// Result describes one completed alignment. It is not modified after Align
// returns it.
type Result struct {
	RunID      string
	Method     string
	KeypointsA int
	KeypointsB int
	Matches    int // after the ratio test and keep selection
	Inliers    int
	MeanError  float64
	Trials     int
	Elapsed    time.Duration

	// Homography maps image coordinates onto reference coordinates.
	Homography      geometry.Homography
	Correspondences []Correspondence
	InlierMask      []bool

	// Warped is the image resampled into the reference frame.
	Warped *image.NRGBA
}

// Outliers returns the number of rejected correspondences.
func (r *Result) Outliers() int {
	return len(r.Correspondences) - r.Inliers
}

// Partition splits the correspondences by the inlier mask.
func (r *Result) Partition() (inliers, outliers []Correspondence) {
	for i, c := range r.Correspondences {
		if r.InlierMask[i] {
			inliers = append(inliers, c)
		} else {
			outliers = append(outliers, c)
		}
	}
	return inliers, outliers
}

// VisualizationSet returns every inlier followed by at most extra outliers,
// in correspondence order.
func (r *Result) VisualizationSet(extra int) []Correspondence {
	inliers, outliers := r.Partition()
	if extra < 0 {
		extra = 0
	}
	return append(inliers, outliers[:min(extra, len(outliers))]...)
}

// Summary returns the scalar fields for structured output.
func (r *Result) Summary() map[string]any {
	return map[string]any{
		"run_id":      r.RunID,
		"method":      r.Method,
		"keypoints_a": r.KeypointsA,
		"keypoints_b": r.KeypointsB,
		"matches":     r.Matches,
		"inliers":     r.Inliers,
		"outliers":    r.Outliers(),
		"mean_error":  r.MeanError,
		"trials":      r.Trials,
		"elapsed_ms":  float64(r.Elapsed.Microseconds()) / 1000,
		"homography":  r.Homography.ToMatrix(),
	}
}

func (r *Result) String() string {
	return fmt.Sprintf("%s: keypoints %d/%d, matches %d, inliers %d (%.1f%%), mean error %.3fpx, %v",
		r.Method, r.KeypointsA, r.KeypointsB, r.Matches, r.Inliers,
		100*float64(r.Inliers)/float64(max(1, r.Matches)), r.MeanError, r.Elapsed.Round(time.Millisecond))
}
