package projection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panostitch/pkg/raster"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"", Cylindrical, true},
		{"Cylindrical", Cylindrical, true},
		{"spherical", Spherical, true},
		{"planar", Planar, true},
		{"fisheye", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestForwardInverse(t *testing.T) {
	for _, kind := range []Kind{Cylindrical, Spherical, Planar} {
		m := Model{Kind: kind, Focal: 300}
		for _, p := range [][2]float64{{0, 0}, {120, -80}, {-200, 150}, {10, 5}} {
			u, v := m.Forward(p[0], p[1])
			x, y, ok := m.Inverse(u, v)
			require.True(t, ok)
			assert.InDelta(t, p[0], x, 1e-9, "%s x", kind)
			assert.InDelta(t, p[1], y, 1e-9, "%s y", kind)
		}
	}
}

func TestCylindricalYawIsTranslation(t *testing.T) {
	// A yaw rotation of theta shifts cylindrical u by f*theta for every point.
	f := 250.0
	theta := 0.3
	m := Model{Kind: Cylindrical, Focal: f}
	for _, p := range [][2]float64{{100, 40}, {60, -90}, {150, 10}} {
		ua, va := m.Forward(p[0], p[1])
		xb := f * math.Tan(math.Atan(p[0]/f)-theta)
		yb := p[1] * math.Hypot(xb, f) / math.Hypot(p[0], f)
		ub, vb := m.Forward(xb, yb)
		assert.InDelta(t, f*theta, ua-ub, 1e-9)
		assert.InDelta(t, va, vb, 1e-9)
	}
}

func TestExtent(t *testing.T) {
	w, h := Model{Kind: Planar, Focal: 10}.Extent(64, 48)
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)

	w, h = Model{Kind: Cylindrical, Focal: 1e6}.Extent(64, 48)
	assert.Equal(t, 64, w, "large focal is nearly planar")
	assert.Equal(t, 48, h)

	w, h = Model{Kind: Cylindrical, Focal: 64}.Extent(128, 48)
	assert.Equal(t, int(math.Ceil(128*math.Atan(1)-1e-9)), w)
	assert.Equal(t, 48, h)

	_, h = Model{Kind: Spherical, Focal: 64}.Extent(128, 128)
	assert.Less(t, h, 128)
}

func TestWarpPlanarIsIdentity(t *testing.T) {
	src := raster.New(5, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			v := float32(x+y*5) / 20
			src.Set(x, y, [3]float32{v, v, v}, 1)
		}
	}
	out := Warp(src, Model{Kind: Planar, Focal: 100})
	assert.Equal(t, src.Pix, out.Pix)
	assert.Equal(t, src.Alpha, out.Alpha)
}

func TestWarpCylindricalMasksCorners(t *testing.T) {
	src := raster.New(100, 100)
	for i := range src.Alpha {
		src.Alpha[i] = 1
	}
	out := Warp(src, Model{Kind: Cylindrical, Focal: 60})

	_, centre := out.At(out.Width/2, out.Height/2)
	assert.InDelta(t, 1.0, float64(centre), 1e-5)

	_, corner := out.At(0, 0)
	assert.Zero(t, corner, "corners of a strongly curved projection are outside the source")
}
