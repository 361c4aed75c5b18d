// Package testutil builds deterministic synthetic images for tests.
package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand/v2"
)

// Uniform returns a w x h image filled with a single intensity.
func Uniform(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: v}}, image.Point{}, draw.Src)
	return img
}

// Blocks returns a textured image of n random axis-aligned rectangles with
// random intensities over a mid-gray background. The same seed always
// produces the same image.
func Blocks(w, h, n int, seed uint64) *image.Gray {
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	img := Uniform(w, h, 110)
	for i := 0; i < n; i++ {
		bw := 6 + rng.IntN(max(1, w/6))
		bh := 6 + rng.IntN(max(1, h/6))
		x := rng.IntN(max(1, w-bw))
		y := rng.IntN(max(1, h-bh))
		v := uint8(rng.IntN(256))
		draw.Draw(img, image.Rect(x, y, x+bw, y+bh), &image.Uniform{C: color.Gray{Y: v}}, image.Point{}, draw.Src)
	}
	return img
}

// Waves returns a smoothly varying image, suitable for interpolation checks.
func Waves(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 128 + 60*math.Sin(float64(x)/7)*math.Cos(float64(y)/9)
			img.Pix[y*img.Stride+x] = uint8(math.Round(v))
		}
	}
	return img
}

// Shift returns img translated by (dx, dy) whole pixels; uncovered pixels are
// filled with fill.
func Shift(img *image.Gray, dx, dy int, fill uint8) *image.Gray {
	b := img.Bounds()
	out := Uniform(b.Dx(), b.Dy(), fill)
	for y := 0; y < b.Dy(); y++ {
		sy := y - dy
		if sy < 0 || sy >= b.Dy() {
			continue
		}
		for x := 0; x < b.Dx(); x++ {
			sx := x - dx
			if sx < 0 || sx >= b.Dx() {
				continue
			}
			out.Pix[y*out.Stride+x] = img.Pix[sy*img.Stride+sx]
		}
	}
	return out
}
