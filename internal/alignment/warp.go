package alignment

import (
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"

	"feature-align/pkg/geometry"

	"github.com/disintegration/imaging"
)

// WarpGray resamples src into a size-sized frame through h, which maps src
// coordinates to destination coordinates. Pixels with no source are 0.
func WarpGray(src *image.Gray, h geometry.Homography, size image.Point) (*image.Gray, error) {
	inv, err := inverseFor(h)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, ht := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, size.X, size.Y))

	forEachStripe(size.Y, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < size.X; x++ {
				s, ok := inv.Apply(geometry.Point2D{X: float64(x), Y: float64(y)})
				if !ok {
					continue
				}
				x0, y0, fx, fy, ok := bilinearCell(s, w, ht)
				if !ok {
					continue
				}
				x1, y1 := min(x0+1, w-1), min(y0+1, ht-1)
				p00 := float64(src.Pix[y0*src.Stride+x0])
				p10 := float64(src.Pix[y0*src.Stride+x1])
				p01 := float64(src.Pix[y1*src.Stride+x0])
				p11 := float64(src.Pix[y1*src.Stride+x1])
				row[x] = uint8(math.Round(lerp2(p00, p10, p01, p11, fx, fy)))
			}
		}
	})
	return dst, nil
}

// Warp is WarpGray for any image; uncovered pixels are transparent black.
func Warp(src image.Image, h geometry.Homography, size image.Point) (*image.NRGBA, error) {
	inv, err := inverseFor(h)
	if err != nil {
		return nil, err
	}
	img := imaging.Clone(src)
	w, ht := img.Rect.Dx(), img.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))

	forEachStripe(size.Y, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < size.X; x++ {
				s, ok := inv.Apply(geometry.Point2D{X: float64(x), Y: float64(y)})
				if !ok {
					continue
				}
				x0, y0, fx, fy, ok := bilinearCell(s, w, ht)
				if !ok {
					continue
				}
				x1, y1 := min(x0+1, w-1), min(y0+1, ht-1)
				i00 := y0*img.Stride + x0*4
				i10 := y0*img.Stride + x1*4
				i01 := y1*img.Stride + x0*4
				i11 := y1*img.Stride + x1*4
				for c := 0; c < 4; c++ {
					v := lerp2(float64(img.Pix[i00+c]), float64(img.Pix[i10+c]),
						float64(img.Pix[i01+c]), float64(img.Pix[i11+c]), fx, fy)
					row[x*4+c] = uint8(math.Round(v))
				}
			}
		}
	})
	return dst, nil
}

func inverseFor(h geometry.Homography) (geometry.Homography, error) {
	inv, ok := h.Inverse()
	if !ok {
		return geometry.Homography{}, fmt.Errorf("%w: det=%g", ErrNonInvertibleTransform, h.Det())
	}
	return inv, nil
}

// bilinearCell locates s in a w x h grid whose pixel centres sit at integer
// coordinates. ok is false outside [0, w-1] x [0, h-1].
func bilinearCell(s geometry.Point2D, w, h int) (x0, y0 int, fx, fy float64, ok bool) {
	if !(s.X >= 0 && s.Y >= 0 && s.X <= float64(w-1) && s.Y <= float64(h-1)) {
		return 0, 0, 0, 0, false
	}
	x0, y0 = int(s.X), int(s.Y)
	return x0, y0, s.X - float64(x0), s.Y - float64(y0), true
}

func lerp2(p00, p10, p01, p11, fx, fy float64) float64 {
	top := p00 + (p10-p00)*fx
	bottom := p01 + (p11-p01)*fx
	return top + (bottom-top)*fy
}

// forEachStripe splits [0, height) into one row stripe per CPU.
func forEachStripe(height int, fn func(yStart, yEnd int)) {
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
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}
