package features

import (
	"context"
	"image"
	"math"
	"math/rand/v2"

	"feature-align/internal/raster"
)

// ORBParams configures the binary detector.
type ORBParams struct {
	MaxFeatures   int     `json:"max_features"`
	Levels        int     `json:"levels"`
	ScaleFactor   float64 `json:"scale_factor"`
	FastThreshold int     `json:"fast_threshold"`
	PatchSize     int     `json:"patch_size"` // odd, side of the BRIEF patch
}

// DefaultORBParams returns the defaults used by the alignment pipeline.
func DefaultORBParams() ORBParams {
	return ORBParams{
		MaxFeatures:   1000,
		Levels:        4,
		ScaleFactor:   1.2,
		FastThreshold: 20,
		PatchSize:     31,
	}
}

const (
	briefBits    = 256
	briefSigma   = 2.0
	patternSeed1 = 0x0a11ce5
	patternSeed2 = 0xb0b5eed
)

type samplePair struct {
	x1, y1, x2, y2 float64
}

// ORB detects FAST corners over an image pyramid, orients them by intensity
// centroid and describes them with steered BRIEF. It is safe for concurrent
// use.
type ORB struct {
	params  ORBParams
	pattern []samplePair
	radius  int // half patch
	border  int
}

// NewORB creates a binary detector. Zero-valued fields take their defaults.
func NewORB(p ORBParams) *ORB {
	def := DefaultORBParams()
	if p.MaxFeatures <= 0 {
		p.MaxFeatures = def.MaxFeatures
	}
	if p.Levels <= 0 {
		p.Levels = def.Levels
	}
	if p.ScaleFactor <= 1 {
		p.ScaleFactor = def.ScaleFactor
	}
	if p.FastThreshold <= 0 {
		p.FastThreshold = def.FastThreshold
	}
	if p.PatchSize < 7 {
		p.PatchSize = def.PatchSize
	}
	radius := p.PatchSize / 2
	return &ORB{
		params:  p,
		pattern: briefPattern(radius),
		radius:  radius,
		// Rotated sample points reach radius*sqrt(2) from the centre.
		border: int(math.Ceil(float64(radius)*math.Sqrt2)) + 1,
	}
}

// Name implements Detector.
func (d *ORB) Name() string { return "ORB" }

// Params returns the effective configuration.
func (d *ORB) Params() ORBParams { return d.params }

// briefPattern draws the fixed sampling pattern from a seeded Gaussian, so
// descriptors are comparable across runs and processes.
func briefPattern(radius int) []samplePair {
	rng := rand.New(rand.NewPCG(patternSeed1, patternSeed2))
	sigma := float64(2*radius+1) / 5
	clamp := func(v float64) float64 {
		return math.Max(-float64(radius), math.Min(float64(radius), math.Round(v)))
	}
	pattern := make([]samplePair, briefBits)
	for i := range pattern {
		pattern[i] = samplePair{
			x1: clamp(rng.NormFloat64() * sigma),
			y1: clamp(rng.NormFloat64() * sigma),
			x2: clamp(rng.NormFloat64() * sigma),
			y2: clamp(rng.NormFloat64() * sigma),
		}
	}
	return pattern
}

// Detect implements Detector.
func (d *ORB) Detect(ctx context.Context, img *image.Gray) (Set[Binary], error) {
	var set Set[Binary]
	if img == nil {
		return set, nil
	}
	levels := raster.Pyramid(raster.ToGray(img), d.params.Levels, d.params.ScaleFactor, 2*d.border+1)

	var cands []candidate
	for li, lvl := range levels {
		if err := ctx.Err(); err != nil {
			return set, err
		}
		w, h := lvl.Image.Bounds().Dx(), lvl.Image.Bounds().Dy()
		scores := fastScores(lvl.Image, d.params.FastThreshold)
		cands = append(cands, localMaxima(scores, w, h, d.border, li)...)
	}
	cands = retainBest(cands, d.params.MaxFeatures)
	if len(cands) == 0 {
		return set, nil
	}

	smoothed := make([]*image.Gray, len(levels))
	for i, lvl := range levels {
		smoothed[i] = raster.Smooth(lvl.Image, briefSigma)
	}

	set.Keypoints = make([]Keypoint, len(cands))
	set.Descriptors = make([]Binary, len(cands))
	for i, c := range cands {
		lvl := levels[c.level]
		angle := d.orientation(lvl.Image, c.x, c.y)
		set.Keypoints[i] = Keypoint{
			X:        (float64(c.x)+0.5)*lvl.Scale - 0.5,
			Y:        (float64(c.y)+0.5)*lvl.Scale - 0.5,
			Angle:    angle,
			Size:     float64(d.params.PatchSize) * lvl.Scale,
			Response: float64(c.score),
			Octave:   c.level,
		}
		set.Descriptors[i] = d.describe(smoothed[c.level], c.x, c.y, angle)
	}
	return set, nil
}

// orientation returns the angle from the patch centre to its intensity
// centroid over a disc of the patch radius.
func (d *ORB) orientation(g *image.Gray, cx, cy int) float64 {
	r := d.radius
	var m01, m10 int
	for dy := -r; dy <= r; dy++ {
		row := g.Pix[(cy+dy)*g.Stride:]
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			v := int(row[cx+dx])
			m10 += dx * v
			m01 += dy * v
		}
	}
	return math.Atan2(float64(m01), float64(m10))
}

// describe evaluates the steered BRIEF pattern at (cx, cy).
func (d *ORB) describe(g *image.Gray, cx, cy int, angle float64) Binary {
	cos, sin := math.Cos(angle), math.Sin(angle)
	at := func(x, y float64) uint8 {
		rx := cx + int(math.Round(cos*x-sin*y))
		ry := cy + int(math.Round(sin*x+cos*y))
		return g.Pix[ry*g.Stride+rx]
	}
	desc := make(Binary, briefBits/64)
	for i, p := range d.pattern {
		if at(p.x1, p.y1) < at(p.x2, p.y2) {
			desc[i/64] |= 1 << (i % 64)
		}
	}
	return desc
}
