package preprocessing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestPadAudio(t *testing.T) {
	out, idx := PadAudio([]float64{1, 2}, 8)
	assert.Equal(t, []float64{1, 2, 0, 0, 0, 0, 0, 0}, out)
	assert.Equal(t, 4.0, idx)

	out, idx = PadAudio([]float64{1, 2, 3, 4}, 3)
	assert.Equal(t, []float64{1, 2, 3}, out)
	assert.Equal(t, 1.0, idx)

	out, idx = PadAudio(nil, 2)
	assert.Equal(t, []float64{0, 0}, out)
	assert.Equal(t, 1.0, idx)
}

func TestReflectPad(t *testing.T) {
	assert.Equal(t, []float64{3, 2, 1, 2, 3, 4, 3, 2}, reflectPad([]float64{1, 2, 3, 4}, 2))
}

func TestMelSpectrogram_ToneLandsInOneBand(t *testing.T) {
	const sr = 16000
	mel, err := NewMelSpectrogram(sr, 512, 512, 128, 40, 0, 8000)
	require.NoError(t, err)

	x := make([]float64, sr/2)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 1000 * float64(i) / sr)
	}
	spec, err := mel.Compute(x)
	require.NoError(t, err)

	rows, cols := spec.Dims()
	assert.Equal(t, 1+len(x)/128, rows)
	assert.Equal(t, 40, cols)

	// the 1 kHz band dominates an interior frame
	frame := mat.Row(nil, rows/2, spec)
	peak := floats.MaxIdx(frame)
	lo, hi := melToHz(hzToMel(0)+float64(peak)*hzToMel(8000)/41), melToHz(hzToMel(0)+float64(peak+2)*hzToMel(8000)/41)
	assert.True(t, lo < 1000 && 1000 < hi, "peak band %d spans %.0f-%.0f Hz", peak, lo, hi)
}

func TestNewMelSpectrogram_Invalid(t *testing.T) {
	_, err := NewMelSpectrogram(16000, 512, 1024, 128, 40, 0, 8000)
	assert.Error(t, err)
	_, err = NewMelSpectrogram(16000, 512, 512, 128, 40, 0, 9000)
	assert.Error(t, err)
}

func TestAmplitudeToDB(t *testing.T) {
	m := mat.NewDense(1, 4, []float64{0, 1, 10, 1e6})
	AmplitudeToDB(m)
	assert.InDeltaSlice(t, []float64{-50, 0, 20, 80}, m.RawRowView(0), 1e-9)
}

func TestInstanceScaler(t *testing.T) {
	X := mat.NewDense(2, 3, []float64{-10, 0, 10, 20, 30, 40})

	t.Run("minmax", func(t *testing.T) {
		s, err := NewInstanceScaler("minmax")
		require.NoError(t, err)
		out, err := s.Transform(X)
		require.NoError(t, err)
		data := out.RawMatrix().Data
		assert.InDelta(t, 0, floats.Min(data), 1e-9)
		assert.InDelta(t, 1, floats.Max(data), 1e-6)
		// input untouched
		assert.Equal(t, -10.0, X.At(0, 0))
	})

	t.Run("standard", func(t *testing.T) {
		s, err := NewInstanceScaler("standard")
		require.NoError(t, err)
		out, err := s.Transform(X)
		require.NoError(t, err)
		mean, std := stat.MeanStdDev(out.RawMatrix().Data, nil)
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, std, 1e-6)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewInstanceScaler("robust")
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		s, _ := NewInstanceScaler("minmax")
		_, err := s.Transform(&mat.Dense{})
		assert.Error(t, err)
	})
}

func TestFrontEnd(t *testing.T) {
	mel, err := NewMelSpectrogram(16000, 256, 256, 64, 16, 0, 8000)
	require.NoError(t, err)
	scaler, err := NewInstanceScaler("minmax")
	require.NoError(t, err)
	fe := &FrontEnd{Mel: mel, Scaler: scaler, TargetLen: 1600}

	x := make([]float64, 800)
	for i := range x {
		x[i] = math.Sin(float64(i) / 3)
	}
	feats, err := fe.Features(x)
	require.NoError(t, err)
	rows, cols := feats.Dims()
	assert.Equal(t, 26, rows)
	assert.Equal(t, 16, cols)
	assert.InDelta(t, 1, floats.Max(feats.RawMatrix().Data), 1e-6)
}
