package raster

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
)

// ToGray returns a single-channel intensity image anchored at the origin.
// Gray inputs already anchored at the origin are returned as-is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	// imaging.Grayscale uses ITU-R BT.601 luma weights.
	return redChannel(imaging.Grayscale(img))
}

// Smooth blurs g with a Gaussian of the given sigma (in pixels).
func Smooth(g *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return g
	}
	return redChannel(blur.Gaussian(g, sigma))
}

// Level is one octave of an image pyramid.
type Level struct {
	Image *image.Gray
	Scale float64 // level-0 pixels per level pixel
}

// Pyramid builds up to levels downscaled copies of g, each scaleFactor
// smaller than the last. Levels narrower or shorter than minSize are dropped.
func Pyramid(g *image.Gray, levels int, scaleFactor float64, minSize int) []Level {
	if levels < 1 {
		levels = 1
	}
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if w < minSize || h < minSize {
		return nil
	}
	out := []Level{{Image: g, Scale: 1}}
	for i := 1; i < levels; i++ {
		scale := math.Pow(scaleFactor, float64(i))
		lw := int(math.Round(float64(w) / scale))
		lh := int(math.Round(float64(h) / scale))
		if lw < minSize || lh < minSize {
			break
		}
		resized := redChannel(imaging.Resize(g, lw, lh, imaging.Linear))
		out = append(out, Level{Image: resized, Scale: scale})
	}
	return out
}

// redChannel copies the first channel of an 8-bit RGBA-family image into a
// Gray image anchored at the origin.
func redChannel(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	var pix []uint8
	var stride int
	switch src := img.(type) {
	case *image.NRGBA:
		pix, stride = src.Pix, src.Stride
	case *image.RGBA:
		pix, stride = src.Pix, src.Stride
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				out.Pix[y*out.Stride+x] = uint8(r >> 8)
			}
		}
		return out
	}

	for y := 0; y < b.Dy(); y++ {
		row := pix[y*stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = row[x*4]
		}
	}
	return out
}
