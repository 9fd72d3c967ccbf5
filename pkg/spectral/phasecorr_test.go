package spectral

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noisePlane(rng *rand.Rand, w, h int) []float64 {
	out := make([]float64, w*h)
	for i := range out {
		out[i] = rng.Float64()
	}
	return out
}

func circularShift(src []float64, w, h, dx, dy int) []float64 {
	out := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := ((x-dx)%w + w) % w
			sy := ((y-dy)%h + h) % h
			out[y*w+x] = src[sy*w+sx]
		}
	}
	return out
}

func TestFFTRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	w, h := 12, 7
	data := make([]complex128, w*h)
	for i := range data {
		data[i] = complex(rng.Float64(), 0)
	}
	back := IFFT2D(FFT2D(data, w, h), w, h)
	for i := range data {
		assert.InDelta(t, 0, cmplx.Abs(back[i]-data[i]), 1e-9)
	}
}

func TestFFTDCComponent(t *testing.T) {
	w, h := 8, 4
	data := make([]complex128, w*h)
	for i := range data {
		data[i] = 2
	}
	f := FFT2D(data, w, h)
	assert.InDelta(t, 2*float64(w*h), real(f[0]), 1e-9)
	for i := 1; i < len(f); i++ {
		assert.InDelta(t, 0, cmplx.Abs(f[i]), 1e-9)
	}
}

func TestPhaseCorrelate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w, h := 64, 48
	a := noisePlane(rng, w, h)

	tests := []struct {
		name   string
		dx, dy int
	}{
		{"zero", 0, 0},
		{"positive", 3, 2},
		{"negative", -5, 4},
		{"vertical only", 0, -6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := circularShift(a, w, h, tt.dx, tt.dy)
			s := PhaseCorrelate(a, b, w, h)
			assert.InDelta(t, float64(tt.dx), s.DX, 0.3)
			assert.InDelta(t, float64(tt.dy), s.DY, 0.3)
			assert.Greater(t, s.Peak, 0.1)
		})
	}
}

func TestPhaseCorrelateUnrelatedContent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	w, h := 64, 64
	a := noisePlane(rng, w, h)
	b := noisePlane(rng, w, h)
	s := PhaseCorrelate(a, b, w, h)
	assert.Less(t, s.Peak, 0.1, "uncorrelated noise has no dominant peak")
}

func TestHannWindow(t *testing.T) {
	w := HannWindow(5, 1)
	require.Len(t, w, 5)
	assert.InDelta(t, 0, w[0], 1e-12)
	assert.InDelta(t, 1, w[2], 1e-12)
	assert.InDelta(t, 0, w[4], 1e-12)

	one := HannWindow(1, 1)
	assert.Equal(t, []float64{1}, one)
}

func TestParabolicOffset(t *testing.T) {
	assert.InDelta(t, 0, parabolicOffset(1, 2, 1), 1e-12)
	assert.Greater(t, parabolicOffset(1, 2, 1.5), 0.0)
	assert.Less(t, parabolicOffset(1.5, 2, 1), 0.0)
	assert.True(t, math.Abs(parabolicOffset(0, 0, 0)) == 0)
}
