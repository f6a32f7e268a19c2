package optim

import "math"

// ExponentialWarmup raises the optimizer's learning rate to MaxLR over
// RampupLen steps following MaxLR*exp(Exponent*(1-s/RampupLen)^2), then
// holds it. It must be stepped once per optimizer step.
type ExponentialWarmup struct {
	MaxLR     float64
	RampupLen int
	Exponent  float64
	StepNum   int

	opt *Adam
}

// WarmupState is the serializable scheduler state.
type WarmupState struct {
	StepNum int
}

// NewExponentialWarmup starts at step 1 and writes that step's rate into opt.
func NewExponentialWarmup(opt *Adam, maxLR float64, rampupLen int, exponent float64) *ExponentialWarmup {
	s := &ExponentialWarmup{MaxLR: maxLR, RampupLen: rampupLen, Exponent: exponent, StepNum: 1, opt: opt}
	s.apply()
	return s
}

// Factor returns the scaling of MaxLR at step.
func (s *ExponentialWarmup) Factor(step int) float64 {
	if s.RampupLen <= 0 {
		return 1
	}
	cur := math.Max(0, math.Min(float64(step), float64(s.RampupLen)))
	phase := 1 - cur/float64(s.RampupLen)
	return math.Exp(s.Exponent * phase * phase)
}

// LR returns the rate for the current step.
func (s *ExponentialWarmup) LR() float64 { return s.MaxLR * s.Factor(s.StepNum) }

// Step advances one step and updates the optimizer.
func (s *ExponentialWarmup) Step() {
	s.StepNum++
	s.apply()
}

func (s *ExponentialWarmup) apply() {
	if s.opt != nil {
		s.opt.LR = s.LR()
	}
}

// State snapshots the scheduler.
func (s *ExponentialWarmup) State() WarmupState { return WarmupState{StepNum: s.StepNum} }

// LoadState restores a snapshot and re-applies the rate.
func (s *ExponentialWarmup) LoadState(st WarmupState) {
	s.StepNum = st.StepNum
	s.apply()
}
