package audio

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Resample converts x from rate from to rate to using band-limited Fourier
// resampling: the spectrum is truncated or zero-padded to the new length and
// transformed back. The output has round(len(x)*to/from) samples.
func Resample(x []float64, from, to int) []float64 {
	if from == to || len(x) == 0 || from <= 0 || to <= 0 {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}

	n := len(x)
	m := int(math.Round(float64(n) * float64(to) / float64(from)))
	if m < 1 {
		m = 1
	}

	spec := fft.FFTReal(x)
	out := make([]complex128, m)

	k := n
	if m < k {
		k = m
	}
	// positive frequencies including DC, excluding an even-length Nyquist bin
	for i := 0; i < (k+1)/2; i++ {
		out[i] = spec[i]
	}
	// negative frequencies
	for i := 1; i <= (k-1)/2; i++ {
		out[m-i] = spec[n-i]
	}
	if k%2 == 0 {
		h := k / 2
		if m < n {
			out[h] = spec[h] + spec[n-h]
		} else {
			out[h] = spec[h] / 2
			out[m-h] = spec[h] / 2
		}
	}

	y := fft.IFFT(out)
	scale := float64(m) / float64(n)
	res := make([]float64, m)
	for i, v := range y {
		res[i] = real(v) * scale
	}
	return res
}
