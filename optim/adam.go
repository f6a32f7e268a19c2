// Package optim provides the Adam optimizer and the step-wise exponential
// warmup schedule that drives its learning rate.
package optim

import (
	"math"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Adam updates parameter tensors in place. Params and gradients are given as
// one flat slice per tensor. It is not safe for concurrent use.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	t    int64
	m, v [][]float64
}

// AdamState is the serializable optimizer state.
type AdamState struct {
	LR   float64
	T    int64
	M, V [][]float64
}

// NewAdam allocates moment buffers shaped like params.
func NewAdam(params [][]float64, lr, beta1, beta2, eps float64) (*Adam, error) {
	if lr <= 0 || eps <= 0 || beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		return nil, errors.NewValueError("optim.NewAdam", "lr, eps must be > 0 and betas in [0, 1)")
	}
	if len(params) == 0 {
		return nil, errors.NewValueError("optim.NewAdam", "no parameters")
	}
	a := &Adam{LR: lr, Beta1: beta1, Beta2: beta2, Eps: eps}
	a.m = zerosLike(params)
	a.v = zerosLike(params)
	return a, nil
}

// NewDefaultAdam uses lr 1e-3 and betas (0.9, 0.999). The effective learning
// rate is set by the scheduler.
func NewDefaultAdam(params [][]float64) (*Adam, error) {
	return NewAdam(params, 1e-3, 0.9, 0.999, 1e-8)
}

func zerosLike(params [][]float64) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = make([]float64, len(p))
	}
	return out
}

// Step applies one bias-corrected Adam update.
func (a *Adam) Step(params, grads [][]float64) error {
	if len(params) != len(a.m) || len(grads) != len(a.m) {
		return errors.NewDimensionError("Adam.Step", len(a.m), len(params), 0)
	}
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g, m, v := grads[i], a.m[i], a.v[i]
		if len(p) != len(m) || len(g) != len(m) {
			return errors.NewDimensionError("Adam.Step", len(m), len(p), i)
		}
		for j := range p {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			mhat := m[j] / bc1
			vhat := v[j] / bc2
			p[j] -= a.LR * mhat / (math.Sqrt(vhat) + a.Eps)
		}
	}
	return nil
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int64 { return a.t }

// State snapshots the optimizer.
func (a *Adam) State() AdamState {
	return AdamState{LR: a.LR, T: a.t, M: cloneTensors(a.m), V: cloneTensors(a.v)}
}

// LoadState restores a snapshot taken from an optimizer over the same shapes.
func (a *Adam) LoadState(s AdamState) error {
	if len(s.M) != len(a.m) || len(s.V) != len(a.v) {
		return errors.NewDimensionError("Adam.LoadState", len(a.m), len(s.M), 0)
	}
	for i := range a.m {
		if len(s.M[i]) != len(a.m[i]) || len(s.V[i]) != len(a.v[i]) {
			return errors.NewDimensionError("Adam.LoadState", len(a.m[i]), len(s.M[i]), i)
		}
	}
	a.LR, a.t = s.LR, s.T
	a.m, a.v = cloneTensors(s.M), cloneTensors(s.V)
	return nil
}

func cloneTensors(in [][]float64) [][]float64 {
	out := make([][]float64, len(in))
	for i, t := range in {
		out[i] = append([]float64(nil), t...)
	}
	return out
}
