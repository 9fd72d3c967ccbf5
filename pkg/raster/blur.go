package raster

import "math"

// gaussianKernel returns a normalised 1-D kernel covering three sigmas.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// Blur applies a separable Gaussian to a row-major plane with clamped
// borders and returns a new plane. sigma <= 0 returns a copy.
func Blur(data []float64, width, height int, sigma float64) []float64 {
	out := make([]float64, len(data))
	if sigma <= 0 {
		copy(out, data)
		return out
	}
	k := gaussianKernel(sigma)
	radius := len(k) / 2
	tmp := make([]float64, len(data))

	for y := 0; y < height; y++ {
		row := data[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			s := 0.0
			for i, kv := range k {
				xx := min(max(x+i-radius, 0), width-1)
				s += kv * row[xx]
			}
			tmp[y*width+x] = s
		}
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			s := 0.0
			for i, kv := range k {
				yy := min(max(y+i-radius, 0), height-1)
				s += kv * tmp[yy*width+x]
			}
			out[y*width+x] = s
		}
	}
	return out
}

// LowPass returns the alpha-normalised Gaussian low band of the raster:
// blur(colour*alpha)/blur(alpha). Pixels outside the valid region do not
// bleed into it. The alpha plane is copied unchanged.
func (r *Raster) LowPass(sigma float64) *Raster {
	n := r.Width * r.Height
	alpha := make([]float64, n)
	for i := range alpha {
		alpha[i] = float64(r.Alpha[i])
	}
	blurredAlpha := Blur(alpha, r.Width, r.Height, sigma)

	out := &Raster{Width: r.Width, Height: r.Height, Pix: make([]float32, n*3)}
	out.Alpha = append([]float32(nil), r.Alpha...)

	plane := make([]float64, n)
	for ch := 0; ch < 3; ch++ {
		for i := 0; i < n; i++ {
			plane[i] = float64(r.Pix[i*3+ch]) * alpha[i]
		}
		blurred := Blur(plane, r.Width, r.Height, sigma)
		for i := 0; i < n; i++ {
			if blurredAlpha[i] > 1e-9 {
				out.Pix[i*3+ch] = float32(blurred[i] / blurredAlpha[i])
			}
		}
	}
	return out
}
