package sed

import (
	"context"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sedbaseline/core/parallel"
	"github.com/YuminosukeSato/sedbaseline/dataset"
	"github.com/YuminosukeSato/sedbaseline/nnet"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

// stepLosses are the per-batch loss terms.
type stepLosses struct {
	StudentStrong float64
	StudentWeak   float64
	TeacherStrong float64
	TeacherWeak   float64
	SelfStrong    float64
	SelfWeak      float64
}

func (l *stepLosses) add(o stepLosses) {
	l.StudentStrong += o.StudentStrong
	l.StudentWeak += o.StudentWeak
	l.TeacherStrong += o.TeacherStrong
	l.TeacherWeak += o.TeacherWeak
	l.SelfStrong += o.SelfStrong
	l.SelfWeak += o.SelfWeak
}

func (l stepLosses) supervised() float64 { return l.StudentStrong + l.StudentWeak }
func (l stepLosses) selfSup() float64    { return l.SelfStrong + l.SelfWeak }

// batchScale normalizes summed per-element losses into the means of the
// strong subset, the weak subset and the whole batch.
type batchScale struct {
	strong, weak, all float64 // 1 / element count, 0 when the subset is empty
	weakAll           float64
	weight            float64 // consistency weight
	accumulate        float64
}

func inv(n int) float64 {
	if n == 0 {
		return 0
	}
	return 1 / float64(n)
}

// ConsistencyWeight is const_max scaled by the warmup factor at the current
// step.
func (t *Task) ConsistencyWeight() float64 {
	return t.cfg.Training.ConstMax * t.sched.Factor(t.sched.StepNum)
}

// TrainOneEpoch runs the mean-teacher updates for one epoch and returns the
// optimizer steps taken. Gradients of accumulate_batches batches are
// averaged before each step.
func (t *Task) TrainOneEpoch(ctx context.Context, epoch, maxBatches int) (int, error) {
	if t.data.Train == nil || t.data.TrainSampler == nil {
		return 0, errors.NewValueError("Task.TrainOneEpoch", "no training data")
	}
	nBatches := t.data.TrainSampler.Len()
	if maxBatches > 0 && maxBatches < nBatches {
		nBatches = maxBatches
	}
	acc := t.cfg.Training.AccumulateBatches
	grads := t.student.NewGrads()
	start := time.Now()
	steps := 0
	var epochLoss stepLosses
	var window stepLosses

	for b := 0; b < nBatches; b++ {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		batch := t.data.TrainSampler.Next()
		losses, err := t.accumulateBatch(batch.Flatten(), grads)
		if err != nil {
			return steps, errors.Wrapf(err, "epoch %d batch %d", epoch, b)
		}
		epochLoss.add(losses)
		window.add(losses)

		if (b+1)%acc != 0 && b != nBatches-1 {
			continue
		}
		tot := window.supervised() + t.ConsistencyWeight()*window.selfSup()
		if err := errors.CheckScalar("train loss", tot, t.step); err != nil {
			return steps, err
		}
		if err := t.optimizerStep(grads, window); err != nil {
			return steps, err
		}
		window = stepLosses{}
		steps++
	}

	t.logger.Info("training epoch",
		log.PhaseKey, log.PhaseTraining,
		log.EpochKey, epoch,
		log.StepKey, t.step,
		log.LossKey, epochLoss.supervised()/float64(nBatches),
		log.LearningRateKey, t.opt.LR,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return steps, nil
}

// optimizerStep rejects non-finite gradients, clips, applies Adam, updates
// the teacher and advances the schedule.
func (t *Task) optimizerStep(grads nnet.Grads, l stepLosses) error {
	for _, g := range grads {
		if err := errors.CheckNumericalStability("gradient", g, t.step); err != nil {
			return err
		}
	}
	norm := 0.0
	if t.cfg.Training.GradientClip > 0 {
		norm = errors.ClipGradNorm(grads, t.cfg.Training.GradientClip)
	}
	lr, weight := t.opt.LR, t.ConsistencyWeight()
	if err := t.opt.Step(t.student.Params(), grads); err != nil {
		return err
	}
	grads.Zero()
	nnet.UpdateEMA(t.teacher, t.student, t.cfg.Training.EMAFactor, t.sched.StepNum)
	t.sched.Step()
	t.step++

	if t.exp != nil && t.exp.ShouldLog(t.step) {
		err := t.exp.LogScalars(t.step, map[string]float64{
			"train/student/loss_strong":     l.StudentStrong,
			"train/student/loss_weak":       l.StudentWeak,
			"train/teacher/loss_strong":     l.TeacherStrong,
			"train/teacher/loss_weak":       l.TeacherWeak,
			"train/student/strong_self_sup": l.SelfStrong,
			"train/student/weak_self_sup":   l.SelfWeak,
			"train/student/tot_supervised":  l.supervised(),
			"train/student/tot_self_loss":   weight * l.selfSup(),
			"train/weight":                  weight,
			"train/lr":                      lr,
			"train/grad_norm":               norm,
		})
		if err != nil {
			return err
		}
	}
	t.logger.Debug("optimizer step", log.StepKey, t.step, log.LearningRateKey, lr, "grad_norm", norm)
	return nil
}

// accumulateBatch adds the gradient of one batch's loss into grads and
// returns its loss terms scaled by 1/accumulate_batches.
func (t *Task) accumulateBatch(indices []int, grads nnet.Grads) (stepLosses, error) {
	samples, err := dataset.LoadBatch(t.data.Train, indices, t.workers)
	if err != nil {
		return stepLosses{}, err
	}

	nStrong, nWeak := 0, 0
	for _, s := range samples {
		switch s.Kind {
		case dataset.KindStrong:
			nStrong++
		case dataset.KindWeak:
			nWeak++
		}
	}
	frameElems := t.enc.NFrames * t.enc.NClasses()
	sc := batchScale{
		strong:     inv(nStrong * frameElems),
		weak:       inv(nWeak * t.enc.NClasses()),
		all:        inv(len(samples) * frameElems),
		weakAll:    inv(len(samples) * t.enc.NClasses()),
		weight:     t.ConsistencyWeight(),
		accumulate: 1 / float64(t.cfg.Training.AccumulateBatches),
	}

	seeds := make([]int64, len(samples))
	for i := range seeds {
		seeds[i] = t.rng.Int63()
	}
	perSample := make([]nnet.Grads, len(samples))
	losses := make([]stepLosses, len(samples))
	err = parallel.ForEach(len(samples), t.workers, "train_sample", func(i int) error {
		g := t.student.NewGrads()
		l, err := t.sampleGrad(samples[i], rand.New(rand.NewSource(seeds[i])), sc, g)
		if err != nil {
			return errors.Wrapf(err, "sample %d", indices[i])
		}
		perSample[i], losses[i] = g, l
		return nil
	})
	if err != nil {
		return stepLosses{}, err
	}

	var total stepLosses
	for i := range samples {
		grads.Add(perSample[i])
		total.add(losses[i])
	}
	return total, nil
}

// sampleGrad runs student (with dropout from rng) and teacher on one sample
// and accumulates the student gradient into g.
func (t *Task) sampleGrad(s dataset.Sample, rng *rand.Rand, sc batchScale, g nnet.Grads) (stepLosses, error) {
	feats, err := t.frontEnd.Features(s.Audio)
	if err != nil {
		return stepLosses{}, err
	}
	stu, err := t.student.Forward(feats, rng)
	if err != nil {
		return stepLosses{}, err
	}
	tea, err := t.teacher.Forward(feats, nil)
	if err != nil {
		return stepLosses{}, err
	}

	var l stepLosses
	nC := t.enc.NClasses()
	strongPred := stu.Strong.RawMatrix().Data
	dStrong := mat.NewDense(t.enc.NFrames, nC, nil)
	dStrongData := dStrong.RawMatrix().Data
	dWeak := make([]float64, nC)
	tmp := make([]float64, len(strongPred))
	tmpWeak := make([]float64, nC)

	switch s.Kind {
	case dataset.KindStrong:
		target := s.Target.RawMatrix().Data
		l.StudentStrong = nnet.BCE(strongPred, target, tmp) * sc.strong
		l.TeacherStrong = nnet.BCE(tea.Strong.RawMatrix().Data, target, nil) * sc.strong
		for i, d := range tmp {
			dStrongData[i] += d * sc.strong
		}
	case dataset.KindWeak:
		target := s.Target.RawRowView(0)
		l.StudentWeak = nnet.BCE(stu.Weak, target, tmpWeak) * sc.weak
		l.TeacherWeak = nnet.BCE(tea.Weak, target, nil) * sc.weak
		for i, d := range tmpWeak {
			dWeak[i] += d * sc.weak
		}
	}

	l.SelfStrong = nnet.SquaredError(strongPred, tea.Strong.RawMatrix().Data, tmp) * sc.all
	for i, d := range tmp {
		dStrongData[i] += sc.weight * d * sc.all
	}
	l.SelfWeak = nnet.SquaredError(stu.Weak, tea.Weak, tmpWeak) * sc.weakAll
	for i, d := range tmpWeak {
		dWeak[i] += sc.weight * d * sc.weakAll
	}

	for i := range dStrongData {
		dStrongData[i] *= sc.accumulate
	}
	for i := range dWeak {
		dWeak[i] *= sc.accumulate
	}
	t.student.Backward(stu, dStrong, dWeak, g)

	l.StudentStrong *= sc.accumulate
	l.StudentWeak *= sc.accumulate
	l.TeacherStrong *= sc.accumulate
	l.TeacherWeak *= sc.accumulate
	l.SelfStrong *= sc.accumulate
	l.SelfWeak *= sc.accumulate
	return l, nil
}
