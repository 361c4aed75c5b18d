// Package features detects keypoints and computes their descriptors.
//
// Two descriptor families exist: Binary (bit strings compared by Hamming
// distance) and Float (real vectors compared by Euclidean distance). The
// metric is a method of the descriptor type, so code that is generic over a
// family can never compare descriptors with the wrong metric.
package features

import (
	"context"
	"errors"
	"image"
	"math"
	"math/bits"

	"feature-align/pkg/geometry"
)

// ErrBackendUnavailable is returned by the OpenCV constructors when the
// binary was built without the opencv tag.
var ErrBackendUnavailable = errors.New("opencv backend not compiled in (build with -tags opencv)")

// Keypoint is a detected salient location in level-0 image coordinates.
type Keypoint struct {
	X, Y     float64
	Angle    float64 // orientation in radians
	Size     float64 // diameter of the described patch, level-0 pixels
	Response float64
	Octave   int // pyramid level the keypoint was found on
}

// Point returns the keypoint location.
func (k Keypoint) Point() geometry.Point2D {
	return geometry.Point2D{X: k.X, Y: k.Y}
}

// Descriptor is the constraint shared by the descriptor families.
type Descriptor[D any] interface {
	Distance(other D) float64
	Len() int
}

// Binary is a bit-packed descriptor.
type Binary []uint64

// Distance returns the Hamming distance.
func (b Binary) Distance(other Binary) float64 {
	n := min(len(b), len(other))
	var d int
	for i := 0; i < n; i++ {
		d += bits.OnesCount64(b[i] ^ other[i])
	}
	return float64(d)
}

// Len returns the number of 64-bit words.
func (b Binary) Len() int { return len(b) }

// Float is a real-valued descriptor.
type Float []float32

// Distance returns the Euclidean distance.
func (f Float) Distance(other Float) float64 {
	return math.Sqrt(f.SquaredDistance(other))
}

// SquaredDistance returns the squared Euclidean distance.
func (f Float) SquaredDistance(other Float) float64 {
	n := min(len(f), len(other))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(f[i]) - float64(other[i])
		sum += d * d
	}
	return sum
}

// Len returns the vector dimension.
func (f Float) Len() int { return len(f) }

// Set holds keypoints and their descriptors at matching indices.
type Set[D Descriptor[D]] struct {
	Keypoints   []Keypoint
	Descriptors []D
}

// Len returns the number of features.
func (s Set[D]) Len() int { return len(s.Keypoints) }

// Detector turns a grayscale image into a feature set.
// Implementations return an empty set, not an error, for images that are too
// small or too uniform to contain features.
type Detector[D Descriptor[D]] interface {
	Detect(ctx context.Context, img *image.Gray) (Set[D], error)
	Name() string
}
