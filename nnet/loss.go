package nnet

import (
	"math"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// probability clamp used by BCE
const bceEps = 1e-7

// BCE returns sum_i bce(pred_i, target_i) and writes d/dpred into grad when
// grad is non-nil. Callers divide by the element count for a mean.
func BCE(pred, target, grad []float64) float64 {
	loss := 0.0
	for i, p := range pred {
		p = errors.ClipValue(p, bceEps, 1-bceEps)
		y := target[i]
		loss -= y*math.Log(p) + (1-y)*math.Log(1-p)
		if grad != nil {
			grad[i] = (p - y) / (p * (1 - p))
		}
	}
	return loss
}

// SquaredError returns sum_i (a_i-b_i)^2 and writes d/da into grad when grad
// is non-nil.
func SquaredError(a, b, grad []float64) float64 {
	loss := 0.0
	for i := range a {
		d := a[i] - b[i]
		loss += d * d
		if grad != nil {
			grad[i] = 2 * d
		}
	}
	return loss
}
