//go:build opencv

package features

import (
	"context"
	"image"
	"math"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// CVORB wraps the OpenCV ORB implementation.
type CVORB struct {
	params ORBParams
}

// NewCVORB returns an OpenCV-backed binary detector.
func NewCVORB(p ORBParams) (Detector[Binary], error) {
	return &CVORB{params: NewORB(p).Params()}, nil
}

// Name implements Detector.
func (d *CVORB) Name() string { return "CV-ORB" }

// Detect implements Detector.
func (d *CVORB) Detect(ctx context.Context, img *image.Gray) (Set[Binary], error) {
	var set Set[Binary]
	if err := ctx.Err(); err != nil {
		return set, err
	}
	mat := grayToMat(img)
	defer mat.Close()
	if mat.Empty() {
		return set, nil
	}

	p := d.params
	orb := gocv.NewORBWithParams(p.MaxFeatures, float32(p.ScaleFactor), p.Levels,
		p.PatchSize, 0, 2, gocv.ORBScoreTypeHarris, p.PatchSize, p.FastThreshold)
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	kps, desc := orb.DetectAndCompute(mat, mask)
	defer desc.Close()

	words := desc.Cols() / 8
	collectCV(&set, kps, p.MaxFeatures, func(row int) Binary {
		b := make(Binary, words)
		for c := 0; c < words*8; c++ {
			b[c/8] |= uint64(desc.GetUCharAt(row, c)) << (8 * (c % 8))
		}
		return b
	})
	return set, nil
}

// CVSIFT wraps the OpenCV SIFT implementation.
type CVSIFT struct {
	maxFeatures int
}

// NewCVSIFT returns an OpenCV-backed floating-point detector.
func NewCVSIFT(maxFeatures int) (Detector[Float], error) {
	if maxFeatures <= 0 {
		maxFeatures = DefaultGradientParams().MaxFeatures
	}
	return &CVSIFT{maxFeatures: maxFeatures}, nil
}

// Name implements Detector.
func (d *CVSIFT) Name() string { return "CV-SIFT" }

// Detect implements Detector.
func (d *CVSIFT) Detect(ctx context.Context, img *image.Gray) (Set[Float], error) {
	var set Set[Float]
	if err := ctx.Err(); err != nil {
		return set, err
	}
	mat := grayToMat(img)
	defer mat.Close()
	if mat.Empty() {
		return set, nil
	}

	sift := gocv.NewSIFT()
	defer sift.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	kps, desc := sift.DetectAndCompute(mat, mask)
	defer desc.Close()

	cols := desc.Cols()
	collectCV(&set, kps, d.maxFeatures, func(row int) Float {
		f := make(Float, cols)
		for c := range f {
			f[c] = desc.GetFloatAt(row, c)
		}
		return f
	})
	return set, nil
}

// collectCV converts OpenCV keypoints into set, keeping the n strongest.
func collectCV[D Descriptor[D]](set *Set[D], kps []gocv.KeyPoint, n int, row func(int) D) {
	cands := make([]candidate, len(kps))
	for i, kp := range kps {
		// x carries the row index through the ranking.
		cands[i] = candidate{x: i, score: float32(kp.Response)}
	}
	cands = retainBest(cands, n)

	set.Keypoints = make([]Keypoint, 0, len(cands))
	set.Descriptors = make([]D, 0, len(cands))
	for _, c := range cands {
		kp := kps[c.x]
		set.Keypoints = append(set.Keypoints, Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Angle:    kp.Angle * math.Pi / 180,
			Size:     kp.Size,
			Response: kp.Response,
			Octave:   kp.Octave,
		})
		set.Descriptors = append(set.Descriptors, row(c.x))
	}
}

// grayToMat copies img into a single-channel 8-bit Mat, one stripe of rows
// per CPU.
func grayToMat(img *image.Gray) gocv.Mat {
	if img == nil {
		return gocv.NewMat()
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat()
	}
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)

	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := min(startY+rowsPerWorker, height)
		if startY >= height {
			break
		}
		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				row := img.Pix[y*img.Stride:]
				for x := 0; x < width; x++ {
					mat.SetUCharAt(y, x, row[x])
				}
			}
		}(startY, endY)
	}
	wg.Wait()
	return mat
}
