// Package sed implements the sound event detection training task: a
// mean-teacher student/teacher pair trained on strong, weak and unlabeled
// clips, validated on weak clip F1 and synthetic event F1.
//
// Task satisfies trainer.Strategy.
package sed

import (
	"math/rand"

	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/core/model"
	"github.com/YuminosukeSato/sedbaseline/dataset"
	"github.com/YuminosukeSato/sedbaseline/encoder"
	"github.com/YuminosukeSato/sedbaseline/loggers"
	"github.com/YuminosukeSato/sedbaseline/nnet"
	"github.com/YuminosukeSato/sedbaseline/optim"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
	"github.com/YuminosukeSato/sedbaseline/preprocessing"
	"github.com/YuminosukeSato/sedbaseline/sampler"
	"github.com/YuminosukeSato/sedbaseline/trainer"
)

// warmupExponent is the shape of the learning rate ramp.
const warmupExponent = -5.0

// Data holds the dataset views of a run. Train fields are nil in test-only
// runs.
type Data struct {
	// Train concatenates the strong, weak and unlabeled views in that order.
	Train        *dataset.ConcatDataset
	TrainSampler *sampler.ConcatBatchSampler
	// EpochLen is the number of optimizer steps per epoch.
	EpochLen int

	SynthVal *dataset.StrongSet
	WeakVal  *dataset.WeakSet
	Test     *dataset.StrongSet

	SynthValDurations map[string]float64
	TestDurations     map[string]float64
}

// Task is the training strategy.
type Task struct {
	cfg  *config.Config
	enc  *encoder.ManyHotEncoder
	data Data

	frontEnd *preprocessing.FrontEnd
	student  *nnet.LinearSED
	teacher  *nnet.LinearSED
	opt      *optim.Adam
	sched    *optim.ExponentialWarmup

	exp     *loggers.Experiment
	logger  log.Logger
	outDir  string
	workers int
	rng     *rand.Rand
	step    int
}

var _ trainer.Strategy = (*Task)(nil)

// Option configures a Task.
type Option func(*Task)

// WithExperiment logs scalars into exp and writes test outputs into its
// directory.
func WithExperiment(exp *loggers.Experiment) Option { return func(t *Task) { t.exp = exp } }

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option { return func(t *Task) { t.logger = l } }

// WithWorkers sets the goroutines used per batch.
func WithWorkers(n int) Option { return func(t *Task) { t.workers = n } }

// WithOutputDir sets where Test writes its files.
func WithOutputDir(dir string) Option { return func(t *Task) { t.outDir = dir } }

// NewTask builds the front end, the student and its EMA teacher, Adam and the
// warmup schedule. The schedule ramps over n_epochs_warmup*EpochLen steps.
func NewTask(cfg *config.Config, enc *encoder.ManyHotEncoder, data Data, opts ...Option) (*Task, error) {
	if enc.NClasses() != cfg.Net.NClass {
		return nil, errors.NewValidationError("net.nclass", "must match the number of labels", cfg.Net.NClass)
	}
	if enc.NFrames != cfg.NFrames() {
		return nil, errors.NewDimensionError("sed.NewTask", cfg.NFrames(), enc.NFrames, 0)
	}
	t := &Task{
		cfg:     cfg,
		enc:     enc,
		data:    data,
		logger:  log.GetLogger(),
		workers: 1,
		rng:     rand.New(rand.NewSource(cfg.Training.Seed)),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.workers <= 0 {
		t.workers = 1
	}
	if t.outDir == "" && t.exp != nil {
		t.outDir = t.exp.Dir
	}
	t.logger = t.logger.With(log.ComponentKey, "sed")

	f := cfg.Feats
	mel, err := preprocessing.NewMelSpectrogram(f.SampleRate, f.NFilters, f.NWindow, f.HopLength, f.NMels, f.FMin, f.FMax)
	if err != nil {
		return nil, err
	}
	scaler, err := preprocessing.NewInstanceScaler(cfg.Scaler.NormType)
	if err != nil {
		return nil, err
	}
	t.frontEnd = &preprocessing.FrontEnd{
		Mel:       mel,
		Scaler:    scaler,
		TargetLen: int(cfg.Data.AudioMaxLen * float64(cfg.Data.FS)),
	}

	t.student, err = nnet.NewLinearSED(f.NMels, cfg.Net.NClass, enc.NFrames, cfg.Data.NetSubsample, t.rng,
		nnet.WithPooling(cfg.Net.Pooling), nnet.WithDropout(cfg.Net.Dropout))
	if err != nil {
		return nil, err
	}
	t.teacher = t.student.Clone()

	t.opt, err = optim.NewDefaultAdam(t.student.Params())
	if err != nil {
		return nil, err
	}
	t.sched = optim.NewExponentialWarmup(t.opt, cfg.Opt.LR, cfg.Training.NEpochsWarmup*data.EpochLen, warmupExponent)
	return t, nil
}

// Student returns the trained model.
func (t *Task) Student() *nnet.LinearSED { return t.student }

// Teacher returns the EMA model.
func (t *Task) Teacher() *nnet.LinearSED { return t.teacher }

// GlobalStep returns the optimizer steps taken.
func (t *Task) GlobalStep() int { return t.step }

// LR returns the learning rate the next optimizer step will use.
func (t *Task) LR() float64 { return t.opt.LR }

// SaveCheckpoint writes the full training state.
func (t *Task) SaveCheckpoint(path string, st trainer.State) error {
	ckpt := &model.Checkpoint{
		HyperParameters:  *t.cfg,
		StateDict:        t.student.StateDict(),
		TeacherStateDict: t.teacher.StateDict(),
		Optimizer:        t.opt.State(),
		Scheduler:        t.sched.State(),
		Trainer:          st,
	}
	if err := model.SaveCheckpoint(ckpt, path); err != nil {
		return err
	}
	t.logger.Debug("checkpoint saved", log.CheckpointPathKey, path, log.EpochKey, st.Epoch, log.StepKey, st.GlobalStep)
	return nil
}

// LoadCheckpoint restores weights, optimizer, schedule and step from path.
func (t *Task) LoadCheckpoint(path string) (trainer.State, error) {
	ckpt, err := model.LoadCheckpoint(path)
	if err != nil {
		return trainer.State{}, err
	}
	if err := t.Restore(ckpt); err != nil {
		return trainer.State{}, errors.NewCheckpointError("restore", path, err)
	}
	return ckpt.Trainer, nil
}

// Restore applies a loaded checkpoint.
func (t *Task) Restore(ckpt *model.Checkpoint) error {
	if err := t.LoadWeights(ckpt); err != nil {
		return err
	}
	if err := t.opt.LoadState(ckpt.Optimizer); err != nil {
		return err
	}
	t.sched.LoadState(ckpt.Scheduler)
	t.step = ckpt.Trainer.GlobalStep
	return nil
}

// LoadWeights copies only the student and teacher weights of ckpt.
func (t *Task) LoadWeights(ckpt *model.Checkpoint) error {
	if err := t.student.LoadStateDict(ckpt.StateDict); err != nil {
		return err
	}
	return t.teacher.LoadStateDict(ckpt.TeacherStateDict)
}
