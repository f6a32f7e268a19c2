// Package nnet implements the SED network used by the training task: a
// frame-wise linear classifier over pooled log-mel frames with sigmoid
// strong outputs and pooled clip-level (weak) outputs.
package nnet

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sedbaseline/core/model"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Pooling names accepted by NewLinearSED.
const (
	PoolingMean          = "mean"
	PoolingLinearSoftmax = "linear_softmax"
)

const (
	weightKey = "frame.weight"
	biasKey   = "frame.bias"
)

// LinearSED maps a T x NMels feature matrix to NFrames x NClass frame
// probabilities. Feature frames are averaged in groups of Subsample before
// the linear layer, so T must be at least NFrames*Subsample.
type LinearSED struct {
	NMels     int
	NClass    int
	NFrames   int
	Subsample int
	Pooling   string
	Dropout   float64

	W *mat.Dense // NMels x NClass
	B []float64  // NClass
}

// Option configures a LinearSED.
type Option func(*LinearSED)

// WithPooling selects the weak pooling ("mean" or "linear_softmax").
func WithPooling(p string) Option { return func(m *LinearSED) { m.Pooling = p } }

// WithDropout sets the input dropout rate used in training mode.
func WithDropout(p float64) Option { return func(m *LinearSED) { m.Dropout = p } }

// NewLinearSED creates a model with Glorot-uniform weights drawn from rng and
// zero biases.
func NewLinearSED(nMels, nClass, nFrames, subsample int, rng *rand.Rand, opts ...Option) (*LinearSED, error) {
	if nMels <= 0 || nClass <= 0 || nFrames <= 0 || subsample <= 0 {
		return nil, errors.NewValueError("nnet.NewLinearSED", "dimensions must be positive")
	}
	m := &LinearSED{
		NMels:     nMels,
		NClass:    nClass,
		NFrames:   nFrames,
		Subsample: subsample,
		Pooling:   PoolingLinearSoftmax,
		W:         mat.NewDense(nMels, nClass, nil),
		B:         make([]float64, nClass),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.Pooling != PoolingMean && m.Pooling != PoolingLinearSoftmax {
		return nil, errors.NewValidationError("net.pooling", "must be mean or linear_softmax", m.Pooling)
	}
	if m.Dropout < 0 || m.Dropout >= 1 {
		return nil, errors.NewValidationError("net.dropout", "must be in [0, 1)", m.Dropout)
	}

	limit := math.Sqrt(6 / float64(nMels+nClass))
	w := m.W.RawMatrix().Data
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * limit
	}
	return m, nil
}

// Output is the result of one forward pass.
type Output struct {
	Strong *mat.Dense // NFrames x NClass probabilities
	Weak   []float64  // NClass clip probabilities

	input *mat.Dense // pooled (and dropped-out) input
}

// Forward runs the model on feats. A non-nil rng enables dropout.
func (m *LinearSED) Forward(feats mat.Matrix, rng *rand.Rand) (*Output, error) {
	t, d := feats.Dims()
	if d != m.NMels {
		return nil, errors.NewDimensionError("LinearSED.Forward", m.NMels, d, 1)
	}
	if t < m.NFrames*m.Subsample {
		return nil, errors.NewDimensionError("LinearSED.Forward", m.NFrames*m.Subsample, t, 0)
	}

	x := mat.NewDense(m.NFrames, m.NMels, nil)
	inv := 1 / float64(m.Subsample)
	for f := 0; f < m.NFrames; f++ {
		row := x.RawRowView(f)
		for k := 0; k < m.Subsample; k++ {
			for j := range row {
				row[j] += feats.At(f*m.Subsample+k, j) * inv
			}
		}
	}
	if rng != nil && m.Dropout > 0 {
		keep := 1 / (1 - m.Dropout)
		data := x.RawMatrix().Data
		for i := range data {
			if rng.Float64() < m.Dropout {
				data[i] = 0
			} else {
				data[i] *= keep
			}
		}
	}

	strong := mat.NewDense(m.NFrames, m.NClass, nil)
	strong.Mul(x, m.W)
	for f := 0; f < m.NFrames; f++ {
		row := strong.RawRowView(f)
		for c := range row {
			row[c] = sigmoid(row[c] + m.B[c])
		}
	}
	return &Output{Strong: strong, Weak: m.pool(strong), input: x}, nil
}

func (m *LinearSED) pool(strong *mat.Dense) []float64 {
	weak := make([]float64, m.NClass)
	col := make([]float64, m.NFrames)
	for c := 0; c < m.NClass; c++ {
		mat.Col(col, c, strong)
		switch m.Pooling {
		case PoolingMean:
			weak[c] = floats.Sum(col) / float64(m.NFrames)
		default:
			s1 := floats.Sum(col)
			weak[c] = floats.Dot(col, col) / math.Max(s1, 1e-12)
		}
	}
	return weak
}

// Grads holds parameter gradients in the layout of Params.
type Grads [][]float64

// NewGrads allocates zero gradients for m.
func (m *LinearSED) NewGrads() Grads {
	return Grads{make([]float64, m.NMels*m.NClass), make([]float64, m.NClass)}
}

// Add accumulates other into g.
func (g Grads) Add(other Grads) {
	for i := range g {
		floats.Add(g[i], other[i])
	}
}

// Scale multiplies every gradient by s.
func (g Grads) Scale(s float64) {
	for i := range g {
		floats.Scale(s, g[i])
	}
}

// Zero resets g.
func (g Grads) Zero() {
	for i := range g {
		for j := range g[i] {
			g[i][j] = 0
		}
	}
}

// Backward accumulates into g the gradient of a loss whose derivatives with
// respect to out.Strong and out.Weak are dStrong (may be nil) and dWeak (may
// be nil).
func (m *LinearSED) Backward(out *Output, dStrong *mat.Dense, dWeak []float64, g Grads) {
	dp := mat.NewDense(m.NFrames, m.NClass, nil)
	if dStrong != nil {
		dp.Copy(dStrong)
	}
	if dWeak != nil {
		col := make([]float64, m.NFrames)
		for c := 0; c < m.NClass; c++ {
			if dWeak[c] == 0 {
				continue
			}
			mat.Col(col, c, out.Strong)
			switch m.Pooling {
			case PoolingMean:
				for f := 0; f < m.NFrames; f++ {
					dp.Set(f, c, dp.At(f, c)+dWeak[c]/float64(m.NFrames))
				}
			default:
				s1 := math.Max(floats.Sum(col), 1e-12)
				for f, p := range col {
					dp.Set(f, c, dp.At(f, c)+dWeak[c]*(2*p-out.Weak[c])/s1)
				}
			}
		}
	}

	// through the sigmoid
	dz := dp.RawMatrix().Data
	for i, p := range out.Strong.RawMatrix().Data {
		dz[i] *= p * (1 - p)
	}

	dW := mat.NewDense(m.NMels, m.NClass, g[0])
	var tmp mat.Dense
	tmp.Mul(out.input.T(), dp)
	dW.Add(dW, &tmp)
	for f := 0; f < m.NFrames; f++ {
		floats.Add(g[1], dp.RawRowView(f))
	}
}

// Params returns the trainable tensors, aliasing the model's memory.
func (m *LinearSED) Params() [][]float64 {
	return [][]float64{m.W.RawMatrix().Data, m.B}
}

// StateDict copies the parameters.
func (m *LinearSED) StateDict() model.StateDict {
	return model.StateDict{
		weightKey: model.NewTensor(m.W.RawMatrix().Data, m.NMels, m.NClass),
		biasKey:   model.NewTensor(m.B, m.NClass),
	}
}

// LoadStateDict copies sd into the parameters after checking shapes.
func (m *LinearSED) LoadStateDict(sd model.StateDict) error {
	if err := m.StateDict().Compatible(sd); err != nil {
		return errors.NewModelError("LinearSED.LoadStateDict", "incompatible state_dict", err)
	}
	copy(m.W.RawMatrix().Data, sd[weightKey].Data)
	copy(m.B, sd[biasKey].Data)
	return nil
}

// Clone returns a deep copy.
func (m *LinearSED) Clone() *LinearSED {
	c := *m
	c.W = mat.DenseCopyOf(m.W)
	c.B = append([]float64(nil), m.B...)
	return &c
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
