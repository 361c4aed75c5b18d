package raster

import "image"

// OtsuThreshold returns the threshold that maximizes the between-class
// variance of g's histogram.
func OtsuThreshold(g *image.Gray) uint8 {
	var hist [256]int
	b := g.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride:]
		for x := 0; x < b.Dx(); x++ {
			hist[row[x]]++
		}
	}

	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var sumBg float64
	var weightBg int
	var best float64
	var threshold uint8
	for t := 0; t < 256; t++ {
		weightBg += hist[t]
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += float64(t * hist[t])
		meanBg := sumBg / float64(weightBg)
		meanFg := (sumAll - sumBg) / float64(weightFg)
		between := float64(weightBg) * float64(weightFg) * (meanBg - meanFg) * (meanBg - meanFg)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

// Binarize maps pixels above threshold to 255 and the rest to 0.
// With invert set the mapping is reversed, so dark strokes become white.
func Binarize(g *image.Gray, threshold uint8, invert bool) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	on, off := uint8(255), uint8(0)
	if invert {
		on, off = off, on
	}
	for y := 0; y < b.Dy(); y++ {
		src := g.Pix[y*g.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if src[x] > threshold {
				dst[x] = on
			} else {
				dst[x] = off
			}
		}
	}
	return out
}

// BinarizeOtsu applies Otsu's threshold with inverted output.
func BinarizeOtsu(g *image.Gray) *image.Gray {
	return Binarize(g, OtsuThreshold(g), true)
}
