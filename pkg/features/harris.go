// Package features detects Harris corners, describes them with normalised
// intensity patches and matches descriptors between two frames.
package features

import (
	"math"
	"sort"

	"panostitch/pkg/raster"
)

// Params controls corner detection and matching.
type Params struct {
	// MaxCorners caps the number of corners kept per frame, strongest first
	MaxCorners int

	// HarrisK is the trace weight in det(M) - k*trace(M)^2
	HarrisK float64

	// PreBlur is the Gaussian sigma applied before differentiation
	PreBlur float64

	// Sigma is the structure tensor integration scale
	Sigma float64

	// Threshold is the minimum response relative to the strongest corner
	Threshold float64

	// NMSRadius is the half-size of the non-maximum suppression window
	NMSRadius int

	// PatchRadius is the half-size of the descriptor patch
	PatchRadius int

	// RatioTest is Lowe's nearest/second-nearest distance ratio
	RatioTest float64
}

// DefaultParams returns detection parameters suited to frames a few hundred
// to a few thousand pixels wide.
func DefaultParams() Params {
	return Params{
		MaxCorners:  1000,
		HarrisK:     0.04,
		PreBlur:     1.0,
		Sigma:       1.5,
		Threshold:   0.01,
		NMSRadius:   3,
		PatchRadius: 7,
		RatioTest:   0.8,
	}
}

// Keypoint is a corner location in pixel-index coordinates.
type Keypoint struct {
	X, Y     float64
	Response float64
}

// Feature is a keypoint with its descriptor.
type Feature struct {
	Keypoint
	Descriptor []float64
}

// descriptorGrid is the number of samples per side of a descriptor patch
const descriptorGrid = 8

// Detect finds corners in a row-major grey plane and describes them.
// Corners whose patch has no contrast are dropped.
func Detect(gray []float64, width, height int, p Params) []Feature {
	smoothed := raster.Blur(gray, width, height, p.PreBlur)
	corners := detectCorners(smoothed, width, height, p)

	out := make([]Feature, 0, len(corners))
	for _, kp := range corners {
		desc, ok := describe(smoothed, width, height, kp, p.PatchRadius)
		if !ok {
			continue
		}
		out = append(out, Feature{Keypoint: kp, Descriptor: desc})
	}
	return out
}

// DetectCorners returns Harris corners of a grey plane, strongest first.
func DetectCorners(gray []float64, width, height int, p Params) []Keypoint {
	return detectCorners(raster.Blur(gray, width, height, p.PreBlur), width, height, p)
}

func detectCorners(g []float64, width, height int, p Params) []Keypoint {
	ix, iy := sobel(g, width, height)
	n := width * height
	xx := make([]float64, n)
	yy := make([]float64, n)
	xy := make([]float64, n)
	for i := 0; i < n; i++ {
		xx[i] = ix[i] * ix[i]
		yy[i] = iy[i] * iy[i]
		xy[i] = ix[i] * iy[i]
	}
	xx = raster.Blur(xx, width, height, p.Sigma)
	yy = raster.Blur(yy, width, height, p.Sigma)
	xy = raster.Blur(xy, width, height, p.Sigma)

	resp := make([]float64, n)
	maxR := 0.0
	for i := 0; i < n; i++ {
		tr := xx[i] + yy[i]
		resp[i] = xx[i]*yy[i] - xy[i]*xy[i] - p.HarrisK*tr*tr
		if resp[i] > maxR {
			maxR = resp[i]
		}
	}
	if maxR <= 0 {
		return nil
	}
	thr := p.Threshold * maxR

	margin := max(p.PatchRadius+2, p.NMSRadius+1)
	var corners []Keypoint
	for y := margin; y < height-margin; y++ {
		for x := margin; x < width-margin; x++ {
			i := y*width + x
			r := resp[i]
			if r <= thr || !isLocalMax(resp, width, x, y, p.NMSRadius) {
				continue
			}
			dx := subpixel(resp[i-1], r, resp[i+1])
			dy := subpixel(resp[i-width], r, resp[i+width])
			corners = append(corners, Keypoint{X: float64(x) + dx, Y: float64(y) + dy, Response: r})
		}
	}

	sort.SliceStable(corners, func(a, b int) bool {
		return corners[a].Response > corners[b].Response
	})
	if p.MaxCorners > 0 && len(corners) > p.MaxCorners {
		corners = corners[:p.MaxCorners]
	}
	return corners
}

// isLocalMax breaks plateaus in favour of the first pixel in raster order.
func isLocalMax(resp []float64, width, x, y, radius int) bool {
	i := y*width + x
	r := resp[i]
	for yy := y - radius; yy <= y+radius; yy++ {
		for xx := x - radius; xx <= x+radius; xx++ {
			j := yy*width + xx
			if j == i {
				continue
			}
			if resp[j] > r || (resp[j] == r && j < i) {
				return false
			}
		}
	}
	return true
}

func subpixel(left, centre, right float64) float64 {
	denom := left - 2*centre + right
	if math.Abs(denom) < 1e-18 {
		return 0
	}
	return math.Max(-0.5, math.Min(0.5, 0.5*(left-right)/denom))
}

// sobel returns horizontal and vertical gradients with clamped borders.
func sobel(g []float64, width, height int) ([]float64, []float64) {
	at := func(x, y int) float64 {
		x = min(max(x, 0), width-1)
		y = min(max(y, 0), height-1)
		return g[y*width+x]
	}
	gx := make([]float64, len(g))
	gy := make([]float64, len(g))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gx[y*width+x] = (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)) / 8
			gy[y*width+x] = (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)) / 8
		}
	}
	return gx, gy
}

// describe samples an 8x8 grid over the patch, removes the mean and
// normalises to unit length.
func describe(g []float64, width, height int, kp Keypoint, radius int) ([]float64, bool) {
	desc := make([]float64, descriptorGrid*descriptorGrid)
	spacing := 2 * float64(radius) / float64(descriptorGrid-1)
	mean := 0.0
	for j := 0; j < descriptorGrid; j++ {
		for i := 0; i < descriptorGrid; i++ {
			x := kp.X - float64(radius) + float64(i)*spacing
			y := kp.Y - float64(radius) + float64(j)*spacing
			v := raster.SampleGray(g, width, height, x, y)
			desc[j*descriptorGrid+i] = v
			mean += v
		}
	}
	mean /= float64(len(desc))

	norm := 0.0
	for i := range desc {
		desc[i] -= mean
		norm += desc[i] * desc[i]
	}
	norm = math.Sqrt(norm)
	if norm < 1e-6 {
		return nil, false
	}
	for i := range desc {
		desc[i] /= norm
	}
	return desc, true
}
