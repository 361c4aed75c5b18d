package features

import (
	"context"
	"image"
	"math"

	"feature-align/internal/raster"
)

// GradientParams configures the floating-point detector.
type GradientParams struct {
	MaxFeatures int     `json:"max_features"`
	Levels      int     `json:"levels"`
	ScaleFactor float64 `json:"scale_factor"`
	HarrisK     float64 `json:"harris_k"`
	Window      int     `json:"window"`  // Harris window radius
	Quality     float64 `json:"quality"` // fraction of the level's max response
	Sigma       float64 `json:"sigma"`   // pre-smoothing
}

// DefaultGradientParams returns the defaults used by the alignment pipeline.
func DefaultGradientParams() GradientParams {
	return GradientParams{
		MaxFeatures: 1000,
		Levels:      3,
		ScaleFactor: math.Sqrt2,
		HarrisK:     0.04,
		Window:      2,
		Quality:     0.01,
		Sigma:       1.0,
	}
}

const (
	descWidth     = 16 // samples per side of the descriptor window
	descCells     = 4
	descBins      = 8
	descDim       = descCells * descCells * descBins
	descClamp     = 0.2
	orientBins    = 36
	orientRadius  = 8
	gradientLabel = "GRAD"
)

// Gradient detects Harris corners over an image pyramid and describes each
// with a 128-dimensional histogram of oriented gradients, rotated to the
// keypoint's dominant orientation. It is safe for concurrent use.
type Gradient struct {
	params GradientParams
	border int
}

// NewGradient creates a floating-point detector. Zero-valued fields take
// their defaults.
func NewGradient(p GradientParams) *Gradient {
	def := DefaultGradientParams()
	if p.MaxFeatures <= 0 {
		p.MaxFeatures = def.MaxFeatures
	}
	if p.Levels <= 0 {
		p.Levels = def.Levels
	}
	if p.ScaleFactor <= 1 {
		p.ScaleFactor = def.ScaleFactor
	}
	if p.HarrisK <= 0 {
		p.HarrisK = def.HarrisK
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.Quality <= 0 {
		p.Quality = def.Quality
	}
	if p.Sigma <= 0 {
		p.Sigma = def.Sigma
	}
	half := float64(descWidth) / 2
	return &Gradient{
		params: p,
		border: int(math.Ceil(half*math.Sqrt2)) + 2,
	}
}

// Name implements Detector.
func (d *Gradient) Name() string { return gradientLabel }

// Params returns the effective configuration.
func (d *Gradient) Params() GradientParams { return d.params }

type gradientField struct {
	w, h   int
	gx, gy []float32
}

func (f *gradientField) at(x, y int) (float64, float64) {
	i := y*f.w + x
	return float64(f.gx[i]), float64(f.gy[i])
}

// Detect implements Detector.
func (d *Gradient) Detect(ctx context.Context, img *image.Gray) (Set[Float], error) {
	var set Set[Float]
	if img == nil {
		return set, nil
	}
	levels := raster.Pyramid(raster.ToGray(img), d.params.Levels, d.params.ScaleFactor, 2*d.border+1)

	fields := make([]*gradientField, len(levels))
	var cands []candidate
	for li, lvl := range levels {
		if err := ctx.Err(); err != nil {
			return set, err
		}
		f := sobel(raster.Smooth(lvl.Image, d.params.Sigma))
		fields[li] = f
		resp := d.harris(f)
		cands = append(cands, localMaxima(resp, f.w, f.h, d.border, li)...)
	}
	cands = retainBest(cands, d.params.MaxFeatures)
	if len(cands) == 0 {
		return set, nil
	}

	set.Keypoints = make([]Keypoint, len(cands))
	set.Descriptors = make([]Float, len(cands))
	for i, c := range cands {
		f := fields[c.level]
		scale := levels[c.level].Scale
		angle := dominantOrientation(f, c.x, c.y)
		set.Keypoints[i] = Keypoint{
			X:        (float64(c.x)+0.5)*scale - 0.5,
			Y:        (float64(c.y)+0.5)*scale - 0.5,
			Angle:    angle,
			Size:     descWidth * scale,
			Response: float64(c.score),
			Octave:   c.level,
		}
		set.Descriptors[i] = describeGradients(f, c.x, c.y, angle)
	}
	return set, nil
}

// sobel computes 3x3 Sobel derivatives; the one-pixel frame stays zero.
func sobel(g *image.Gray) *gradientField {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	f := &gradientField{w: w, h: h, gx: make([]float32, w*h), gy: make([]float32, w*h)}
	px := func(x, y int) float32 { return float32(g.Pix[y*g.Stride+x]) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			f.gx[y*w+x] = (px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)) / 8
			f.gy[y*w+x] = (px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)) / 8
		}
	}
	return f
}

// harris returns the corner response det(M) - k*trace(M)^2 with responses
// below the quality fraction of the maximum zeroed.
func (d *Gradient) harris(f *gradientField) []float32 {
	w, h := f.w, f.h
	n := w * h
	ixx := make([]float64, n)
	iyy := make([]float64, n)
	ixy := make([]float64, n)
	for i := 0; i < n; i++ {
		gx, gy := float64(f.gx[i]), float64(f.gy[i])
		ixx[i], iyy[i], ixy[i] = gx*gx, gy*gy, gx*gy
	}

	r := d.params.Window
	resp := make([]float32, n)
	var maxResp float32
	for y := r + 1; y < h-r-1; y++ {
		for x := r + 1; x < w-r-1; x++ {
			var sxx, syy, sxy float64
			for dy := -r; dy <= r; dy++ {
				row := (y + dy) * w
				for dx := -r; dx <= r; dx++ {
					sxx += ixx[row+x+dx]
					syy += iyy[row+x+dx]
					sxy += ixy[row+x+dx]
				}
			}
			tr := sxx + syy
			v := float32(sxx*syy - sxy*sxy - d.params.HarrisK*tr*tr)
			resp[y*w+x] = v
			maxResp = max(maxResp, v)
		}
	}

	if maxResp <= 0 {
		clear(resp)
		return resp
	}
	floor := float32(d.params.Quality) * maxResp
	for i, v := range resp {
		if v <= floor {
			resp[i] = 0
		}
	}
	return resp
}

// dominantOrientation returns the peak of a magnitude-weighted histogram of
// gradient directions around (cx, cy), refined by a parabola through the
// neighbouring bins.
func dominantOrientation(f *gradientField, cx, cy int) float64 {
	var hist [orientBins]float64
	sigma := float64(orientRadius) / 2
	for dy := -orientRadius; dy <= orientRadius; dy++ {
		for dx := -orientRadius; dx <= orientRadius; dx++ {
			r2 := dx*dx + dy*dy
			if r2 > orientRadius*orientRadius {
				continue
			}
			gx, gy := f.at(cx+dx, cy+dy)
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			weight := math.Exp(-float64(r2) / (2 * sigma * sigma))
			hist[angleBin(math.Atan2(gy, gx)+math.Pi, orientBins)] += mag * weight
		}
	}

	peak := 0
	for i := 1; i < orientBins; i++ {
		if hist[i] > hist[peak] {
			peak = i
		}
	}
	if hist[peak] == 0 {
		return 0
	}
	left := hist[(peak+orientBins-1)%orientBins]
	right := hist[(peak+1)%orientBins]
	offset := 0.0
	if denom := left - 2*hist[peak] + right; denom != 0 {
		offset = 0.5 * (left - right) / denom
	}
	return (float64(peak)+0.5+offset)/orientBins*2*math.Pi - math.Pi
}

// describeGradients builds the rotated 4x4x8 gradient histogram descriptor.
func describeGradients(f *gradientField, cx, cy int, angle float64) Float {
	cos, sin := math.Cos(angle), math.Sin(angle)
	desc := make(Float, descDim)
	half := float64(descWidth-1) / 2
	sigma := float64(descWidth) / 2
	cellSize := descWidth / descCells

	for i := 0; i < descWidth; i++ {
		v := float64(i) - half
		for j := 0; j < descWidth; j++ {
			u := float64(j) - half
			x := cx + int(math.Round(cos*u-sin*v))
			y := cy + int(math.Round(sin*u+cos*v))
			gx, gy := f.at(x, y)
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			rel := math.Atan2(gy, gx) - angle
			rel = math.Mod(rel+4*math.Pi, 2*math.Pi)
			weight := mag * math.Exp(-(u*u+v*v)/(2*sigma*sigma))
			cell := (i/cellSize)*descCells + j/cellSize
			desc[cell*descBins+angleBin(rel, descBins)] += float32(weight)
		}
	}

	normalize(desc)
	for k, v := range desc {
		if v > descClamp {
			desc[k] = descClamp
		}
	}
	normalize(desc)
	return desc
}

// angleBin maps an angle in [0, 2*pi) onto one of n bins.
func angleBin(a float64, n int) int {
	b := int(a / (2 * math.Pi) * float64(n))
	if b < 0 {
		b = 0
	}
	if b >= n {
		b = n - 1
	}
	return b
}

func normalize(v Float) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
