// Package raster provides the floating-point pixel buffers used between the
// stitching stages, plus conversion to and from image.Image, bilinear
// sampling and resizing.
package raster

import (
	"image"
	"image/color"
	"math"
)

// Raster is an RGB buffer with a parallel alpha plane.
// Pix is interleaved RGB in [0,1]; Alpha marks valid pixels in [0,1].
type Raster struct {
	Width  int
	Height int
	Pix    []float32
	Alpha  []float32
}

// New allocates a fully transparent raster.
func New(width, height int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*3),
		Alpha:  make([]float32, width*height),
	}
}

// Bounds returns the raster rectangle anchored at the origin.
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// At returns the colour and alpha of pixel (x, y).
func (r *Raster) At(x, y int) ([3]float32, float32) {
	i := y*r.Width + x
	p := r.Pix[i*3 : i*3+3 : i*3+3]
	return [3]float32{p[0], p[1], p[2]}, r.Alpha[i]
}

// Set stores the colour and alpha of pixel (x, y).
func (r *Raster) Set(x, y int, c [3]float32, a float32) {
	i := y*r.Width + x
	r.Pix[i*3] = c[0]
	r.Pix[i*3+1] = c[1]
	r.Pix[i*3+2] = c[2]
	r.Alpha[i] = a
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := &Raster{Width: r.Width, Height: r.Height}
	out.Pix = append([]float32(nil), r.Pix...)
	out.Alpha = append([]float32(nil), r.Alpha...)
	return out
}

// FromImage converts img into a raster. Colours are un-premultiplied.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	r := New(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < r.Height; y++ {
			row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+(b.Min.X-src.Rect.Min.X)*4:]
			for x := 0; x < r.Width; x++ {
				i := y*r.Width + x
				r.Pix[i*3] = float32(row[x*4]) / 255
				r.Pix[i*3+1] = float32(row[x*4+1]) / 255
				r.Pix[i*3+2] = float32(row[x*4+2]) / 255
				r.Alpha[i] = float32(row[x*4+3]) / 255
			}
		}
	case *image.Gray:
		for y := 0; y < r.Height; y++ {
			row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+(b.Min.X-src.Rect.Min.X):]
			for x := 0; x < r.Width; x++ {
				i := y*r.Width + x
				v := float32(row[x]) / 255
				r.Pix[i*3], r.Pix[i*3+1], r.Pix[i*3+2] = v, v, v
				r.Alpha[i] = 1
			}
		}
	default:
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				cr, cg, cb, ca := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				i := y*r.Width + x
				if ca == 0 {
					continue
				}
				a := float32(ca)
				r.Pix[i*3] = float32(cr) / a
				r.Pix[i*3+1] = float32(cg) / a
				r.Pix[i*3+2] = float32(cb) / a
				r.Alpha[i] = a / 0xffff
			}
		}
	}
	return r
}

// ToNRGBA converts the raster into an 8-bit image, keeping alpha.
func (r *Raster) ToNRGBA() *image.NRGBA {
	img := image.NewNRGBA(r.Bounds())
	for i := 0; i < r.Width*r.Height; i++ {
		img.Pix[i*4] = to8(r.Pix[i*3])
		img.Pix[i*4+1] = to8(r.Pix[i*3+1])
		img.Pix[i*4+2] = to8(r.Pix[i*3+2])
		img.Pix[i*4+3] = to8(r.Alpha[i])
	}
	return img
}

// Gray returns Rec. 601 luminance weighted by alpha, row-major.
func (r *Raster) Gray() []float64 {
	out := make([]float64, r.Width*r.Height)
	for i := range out {
		l := 0.299*float64(r.Pix[i*3]) + 0.587*float64(r.Pix[i*3+1]) + 0.114*float64(r.Pix[i*3+2])
		out[i] = l * float64(r.Alpha[i])
	}
	return out
}

// Bilinear samples the raster at pixel-index coordinates (x, y), where the
// centre of pixel (i, j) is (i, j). Samples further than half a pixel
// outside the buffer return zero alpha.
func (r *Raster) Bilinear(x, y float64) ([3]float32, float32) {
	var c [3]float32
	if x < -0.5 || y < -0.5 || x > float64(r.Width)-0.5 || y > float64(r.Height)-0.5 {
		return c, 0
	}
	x = clamp(x, 0, float64(r.Width-1))
	y = clamp(y, 0, float64(r.Height-1))

	x0 := int(x)
	y0 := int(y)
	x1 := min(x0+1, r.Width-1)
	y1 := min(y0+1, r.Height-1)
	fx := float32(x - float64(x0))
	fy := float32(y - float64(y0))

	w00 := (1 - fx) * (1 - fy)
	w10 := fx * (1 - fy)
	w01 := (1 - fx) * fy
	w11 := fx * fy

	i00 := y0*r.Width + x0
	i10 := y0*r.Width + x1
	i01 := y1*r.Width + x0
	i11 := y1*r.Width + x1

	for ch := 0; ch < 3; ch++ {
		c[ch] = w00*r.Pix[i00*3+ch] + w10*r.Pix[i10*3+ch] + w01*r.Pix[i01*3+ch] + w11*r.Pix[i11*3+ch]
	}
	a := w00*r.Alpha[i00] + w10*r.Alpha[i10] + w01*r.Alpha[i01] + w11*r.Alpha[i11]
	return c, a
}

// SampleGray bilinearly samples a row-major float plane, clamping at the border.
func SampleGray(data []float64, width, height int, x, y float64) float64 {
	x = clamp(x, 0, float64(width-1))
	y = clamp(y, 0, float64(height-1))
	x0 := int(x)
	y0 := int(y)
	x1 := min(x0+1, width-1)
	y1 := min(y0+1, height-1)
	fx := x - float64(x0)
	fy := y - float64(y0)
	top := data[y0*width+x0]*(1-fx) + data[y0*width+x1]*fx
	bot := data[y1*width+x0]*(1-fx) + data[y1*width+x1]*fx
	return top*(1-fy) + bot*fy
}

// GrayImage renders a row-major float plane in [0,1] as an 8-bit image.
func GrayImage(data []float64, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: to8(float32(data[y*width+x]))})
		}
	}
	return img
}

func to8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(float64(v) * 255))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
