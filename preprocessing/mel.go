// Package preprocessing turns padded waveforms into normalized log-mel
// features.
package preprocessing

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

const (
	// amplitude floor and clamp range of the dB conversion
	dbAmin = 1e-5
	dbMin  = -50.0
	dbMax  = 80.0
)

// sparseFilter stores only the non-zero range of a triangular filter.
type sparseFilter struct {
	start  int
	coeffs []float64
}

// MelSpectrogram computes magnitude mel spectrograms with a centered,
// reflect-padded STFT and a symmetric Hamming window.
type MelSpectrogram struct {
	NFFT      int
	WinLength int
	HopLength int
	NMels     int

	window  []float64 // NFFT long, WinLength Hamming centered
	filters []sparseFilter
}

// NewMelSpectrogram builds the STFT window and the HTK-scale triangular
// filterbank over [fMin, fMax].
func NewMelSpectrogram(sampleRate, nFFT, winLength, hopLength, nMels int, fMin, fMax float64) (*MelSpectrogram, error) {
	if nFFT <= 0 || hopLength <= 0 || nMels <= 0 || winLength <= 0 || winLength > nFFT {
		return nil, errors.NewValueError("preprocessing.NewMelSpectrogram", "invalid STFT geometry")
	}
	if fMax <= fMin || fMax > float64(sampleRate)/2 {
		return nil, errors.NewValueError("preprocessing.NewMelSpectrogram", "f_max must be in (f_min, sample_rate/2]")
	}

	win := make([]float64, nFFT)
	offset := (nFFT - winLength) / 2
	copy(win[offset:], window.Hamming(winLength))

	return &MelSpectrogram{
		NFFT:      nFFT,
		WinLength: winLength,
		HopLength: hopLength,
		NMels:     nMels,
		window:    win,
		filters:   melFilters(nMels, nFFT, sampleRate, fMin, fMax),
	}, nil
}

// melFilters builds nMels triangles whose edges are equally spaced on the mel
// scale. Weights are interpolated on the FFT bin center frequencies.
func melFilters(nMels, nFFT, sampleRate int, fMin, fMax float64) []sparseFilter {
	nBins := nFFT/2 + 1
	lowMel, highMel := hzToMel(fMin), hzToMel(fMax)
	step := (highMel - lowMel) / float64(nMels+1)

	edges := make([]float64, nMels+2)
	for i := range edges {
		edges[i] = melToHz(lowMel + float64(i)*step)
	}

	filters := make([]sparseFilter, nMels)
	for m := 0; m < nMels; m++ {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		row := make([]float64, nBins)
		start, end := -1, 0
		for k := 0; k < nBins; k++ {
			f := float64(k) * float64(sampleRate) / float64(nFFT)
			w := math.Max(0, math.Min((f-left)/(center-left), (right-f)/(right-center)))
			if w > 0 {
				if start < 0 {
					start = k
				}
				end = k + 1
			}
			row[k] = w
		}
		if start >= 0 {
			filters[m] = sparseFilter{start: start, coeffs: append([]float64(nil), row[start:end]...)}
		}
	}
	return filters
}

// NumFrames returns the STFT frame count for n samples.
func (m *MelSpectrogram) NumFrames(n int) int {
	return 1 + n/m.HopLength
}

// Compute returns the n_frames x n_mels magnitude mel spectrogram of x.
func (m *MelSpectrogram) Compute(x []float64) (*mat.Dense, error) {
	if len(x) <= m.NFFT/2 {
		return nil, errors.NewValueError("MelSpectrogram.Compute", "signal shorter than half an FFT frame")
	}
	padded := reflectPad(x, m.NFFT/2)
	nFrames := m.NumFrames(len(x))
	out := mat.NewDense(nFrames, m.NMels, nil)

	frame := make([]float64, m.NFFT)
	mag := make([]float64, m.NFFT/2+1)
	for t := 0; t < nFrames; t++ {
		seg := padded[t*m.HopLength : t*m.HopLength+m.NFFT]
		for i, v := range seg {
			frame[i] = v * m.window[i]
		}
		spec := fft.FFTReal(frame)
		for k := range mag {
			mag[k] = cmplx.Abs(spec[k])
		}
		row := out.RawRowView(t)
		for i, f := range m.filters {
			sum := 0.0
			for j, c := range f.coeffs {
				sum += mag[f.start+j] * c
			}
			row[i] = sum
		}
	}
	return out, nil
}

// AmplitudeToDB converts magnitudes to decibels in place:
// 20*log10(max(x, 1e-5)) clamped to [-50, 80].
func AmplitudeToDB(m *mat.Dense) {
	data := m.RawMatrix().Data
	for i, v := range data {
		db := 20 * math.Log10(math.Max(v, dbAmin))
		data[i] = math.Max(dbMin, math.Min(dbMax, db))
	}
}

// reflectPad mirrors pad samples at both ends without repeating the edge.
func reflectPad(x []float64, pad int) []float64 {
	n := len(x)
	out := make([]float64, n+2*pad)
	copy(out[pad:], x)
	for i := 0; i < pad; i++ {
		out[pad-1-i] = x[reflectIndex(i+1, n)]
		out[pad+n+i] = x[reflectIndex(n-2-i, n)]
	}
	return out
}

func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10, mel/2595.0) - 1.0)
}

// FrontEnd chains padding, the mel spectrogram, dB conversion and instance
// scaling into the model input for one clip.
type FrontEnd struct {
	Mel       *MelSpectrogram
	Scaler    *InstanceScaler
	TargetLen int
}

// Features returns the normalized log-mel matrix (n_frames x n_mels) of audio.
func (fe *FrontEnd) Features(audio []float64) (*mat.Dense, error) {
	x, _ := PadAudio(audio, fe.TargetLen)
	mel, err := fe.Mel.Compute(x)
	if err != nil {
		return nil, err
	}
	AmplitudeToDB(mel)
	return fe.Scaler.Transform(mel)
}
