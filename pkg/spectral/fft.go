// Package spectral implements the 2D Fourier transform and phase correlation
// used to measure residual translation between overlapping frames.
package spectral

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT2D performs a 2D Fast Fourier Transform on row-major complex data of
// the given dimensions. Rows are transformed first, then columns. Any size
// is accepted; the input is not modified.
func FFT2D(data []complex128, width, height int) []complex128 {
	return transform2D(data, width, height, false)
}

// IFFT2D is the inverse of FFT2D, normalised so that IFFT2D(FFT2D(x)) == x.
func IFFT2D(data []complex128, width, height int) []complex128 {
	out := transform2D(data, width, height, true)
	n := complex(float64(width*height), 0)
	for i := range out {
		out[i] /= n
	}
	return out
}

func transform2D(data []complex128, width, height int, inverse bool) []complex128 {
	result := make([]complex128, width*height)
	copy(result, data)

	rowFFT := fourier.NewCmplxFFT(width)
	row := make([]complex128, width)
	for y := 0; y < height; y++ {
		seq := result[y*width : (y+1)*width]
		if inverse {
			rowFFT.Sequence(row, seq)
		} else {
			rowFFT.Coefficients(row, seq)
		}
		copy(seq, row)
	}

	colFFT := fourier.NewCmplxFFT(height)
	colIn := make([]complex128, height)
	colOut := make([]complex128, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			colIn[y] = result[y*width+x]
		}
		if inverse {
			colFFT.Sequence(colOut, colIn)
		} else {
			colFFT.Coefficients(colOut, colIn)
		}
		for y := 0; y < height; y++ {
			result[y*width+x] = colOut[y]
		}
	}
	return result
}

// crossPower returns the normalised cross-power spectrum Fb * conj(Fa) / |.|.
func crossPower(fa, fb []complex128) []complex128 {
	out := make([]complex128, len(fa))
	for i := range fa {
		c := fb[i] * cmplx.Conj(fa[i])
		m := cmplx.Abs(c)
		if m > 1e-12 {
			out[i] = c / complex(m, 0)
		}
	}
	return out
}
