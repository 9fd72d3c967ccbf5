package spectral

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Shift is the translation measured by PhaseCorrelate.
type Shift struct {
	// DX and DY are such that b(x, y) ~ a(x-DX, y-DY)
	DX, DY float64

	// Peak is the height of the correlation peak; 1 for identical content
	Peak float64
}

func (s Shift) String() string {
	return fmt.Sprintf("shift(%.2f, %.2f) peak %.3f", s.DX, s.DY, s.Peak)
}

// HannWindow returns a separable 2D Hann window, row-major.
func HannWindow(width, height int) []float64 {
	wx := hann(width)
	wy := hann(height)
	out := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out[y*width+x] = wx[x] * wy[y]
		}
	}
	return out
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// PhaseCorrelate measures the translation of b relative to a. Both planes
// are row-major with identical dimensions. The mean is removed and a Hann
// window applied before transforming.
func PhaseCorrelate(a, b []float64, width, height int) Shift {
	window := HannWindow(width, height)
	fa := FFT2D(prepare(a, window), width, height)
	fb := FFT2D(prepare(b, window), width, height)
	surface := IFFT2D(crossPower(fa, fb), width, height)

	best := 0
	for i := range surface {
		if real(surface[i]) > real(surface[best]) {
			best = i
		}
	}
	px := best % width
	py := best / width

	at := func(x, y int) float64 {
		x = (x%width + width) % width
		y = (y%height + height) % height
		return real(surface[y*width+x])
	}

	peak := at(px, py)
	dx := float64(px) + parabolicOffset(at(px-1, py), peak, at(px+1, py))
	dy := float64(py) + parabolicOffset(at(px, py-1), peak, at(px, py+1))

	if dx > float64(width)/2 {
		dx -= float64(width)
	}
	if dy > float64(height)/2 {
		dy -= float64(height)
	}
	return Shift{DX: dx, DY: dy, Peak: peak}
}

func prepare(data, window []float64) []complex128 {
	mean := stat.Mean(data, nil)
	out := make([]complex128, len(data))
	for i, v := range data {
		out[i] = complex((v-mean)*window[i], 0)
	}
	return out
}

// parabolicOffset fits a parabola through three samples and returns the
// vertex offset from the centre sample, clamped to half a pixel.
func parabolicOffset(left, centre, right float64) float64 {
	denom := left - 2*centre + right
	if math.Abs(denom) < 1e-12 {
		return 0
	}
	off := 0.5 * (left - right) / denom
	return math.Max(-0.5, math.Min(0.5, off))
}
