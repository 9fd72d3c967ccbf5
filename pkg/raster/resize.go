package raster

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ScalerFor picks the resampling kernel for a uniform scale factor.
// Downscaling uses CatmullRom, whose support widens with the reduction so it
// averages over the source area; upscaling uses BiLinear; an identity scale
// copies pixels with NearestNeighbor.
func ScalerFor(scale float64) draw.Scaler {
	switch {
	case scale < 1:
		return draw.CatmullRom
	case scale > 1:
		return draw.BiLinear
	default:
		return draw.NearestNeighbor
	}
}

// ScaledSize returns the dimensions of a width x height frame after scaling.
// Each side is at least one pixel.
func ScaledSize(width, height int, scale float64) (int, int) {
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(w, 1), max(h, 1)
}

// Resize scales img uniformly into a new NRGBA image. The source is not modified.
func Resize(img image.Image, scale float64) *image.NRGBA {
	b := img.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), scale)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))

	scaler := ScalerFor(scale)
	if w == b.Dx() && h == b.Dy() {
		scaler = draw.NearestNeighbor
	}
	scaler.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
