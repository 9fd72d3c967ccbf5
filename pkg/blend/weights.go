package blend

import (
	"math"

	"panostitch/pkg/raster"
)

// distanceToEdge returns the city-block distance of every pixel to the
// nearest transparent pixel. Pixels beyond the buffer count as transparent,
// so an opaque border pixel is at distance 1.
func distanceToEdge(alpha []float32, width, height int) []float32 {
	const inf = math.MaxFloat32
	d := make([]float32, len(alpha))
	for i, a := range alpha {
		if a > 0 {
			d[i] = inf
		}
	}

	at := func(x, y int) float32 {
		if x < 0 || y < 0 || x >= width || y >= height {
			return 0
		}
		return d[y*width+x]
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if d[i] == 0 {
				continue
			}
			d[i] = min(d[i], at(x, y-1)+1, at(x-1, y)+1)
		}
	}
	for y := height - 1; y >= 0; y-- {
		for x := width - 1; x >= 0; x-- {
			i := y*width + x
			if d[i] == 0 {
				continue
			}
			d[i] = min(d[i], at(x, y+1)+1, at(x+1, y)+1)
		}
	}
	return d
}

// featherWeights ramps the weight up from the frame edge over radius pixels.
// A zero radius lets the weight keep growing towards the frame centre.
func featherWeights(r *raster.Raster, radius float64) []float32 {
	d := distanceToEdge(r.Alpha, r.Width, r.Height)
	w := make([]float32, len(d))
	for i, dist := range d {
		if r.Alpha[i] <= 0 {
			continue
		}
		v := float64(dist)
		if radius > 0 {
			v = math.Min(v, radius) / radius
		}
		w[i] = r.Alpha[i] * float32(v)
	}
	return w
}

// uniformWeights weights every pixel by its alpha.
func uniformWeights(r *raster.Raster) []float32 {
	return append([]float32(nil), r.Alpha...)
}
