package trainer

import (
	"context"
	"time"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

// Phase is a trainer state.
type Phase int

const (
	Configured Phase = iota
	Training
	Validating
	Testing
	TestOnly
	Done
)

func (p Phase) String() string {
	switch p {
	case Configured:
		return "configured"
	case Training:
		return "training"
	case Validating:
		return "validating"
	case Testing:
		return "testing"
	case TestOnly:
		return "test_only"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Fast dev run settings.
const (
	FastDevEpochs  = 3
	FastDevBatches = 2
)

// BestCheckpoint selects the best checkpoint in Test.
const BestCheckpoint = "best"

// Result summarizes Fit.
type Result struct {
	// LastEpoch is the last completed epoch, -1 if none ran.
	LastEpoch      int
	GlobalStep     int
	EarlyStopped   bool
	BestModelPath  string
	BestModelScore float64
}

// Trainer runs a Strategy through the training state machine.
type Trainer struct {
	MaxEpochs           int
	CheckValEveryNEpoch int
	LimitTrainBatches   int
	LimitValBatches     int
	LimitTestBatches    int

	// Monitor is the validation metric driving the callbacks.
	Monitor       string
	EarlyStopping *EarlyStopping
	Checkpoint    *ModelCheckpoint

	logger     log.Logger
	phase      Phase
	fitted     bool
	startEpoch int
	epoch      int
	globalStep int
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithMaxEpochs sets the number of epochs.
func WithMaxEpochs(n int) Option { return func(t *Trainer) { t.MaxEpochs = n } }

// WithCheckValEveryNEpoch validates after every n-th epoch.
func WithCheckValEveryNEpoch(n int) Option {
	return func(t *Trainer) { t.CheckValEveryNEpoch = n }
}

// WithLimits caps the batches per phase. 0 means no cap.
func WithLimits(train, val, test int) Option {
	return func(t *Trainer) {
		t.LimitTrainBatches, t.LimitValBatches, t.LimitTestBatches = train, val, test
	}
}

// WithFastDevRun runs FastDevEpochs epochs of FastDevBatches batches per phase.
func WithFastDevRun() Option {
	return func(t *Trainer) {
		t.MaxEpochs = FastDevEpochs
		t.LimitTrainBatches, t.LimitValBatches, t.LimitTestBatches = FastDevBatches, FastDevBatches, FastDevBatches
	}
}

// WithMonitor sets the monitored validation metric.
func WithMonitor(tag string) Option { return func(t *Trainer) { t.Monitor = tag } }

// WithEarlyStopping installs an EarlyStopping callback.
func WithEarlyStopping(es *EarlyStopping) Option { return func(t *Trainer) { t.EarlyStopping = es } }

// WithModelCheckpoint installs a ModelCheckpoint callback.
func WithModelCheckpoint(mc *ModelCheckpoint) Option { return func(t *Trainer) { t.Checkpoint = mc } }

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option { return func(t *Trainer) { t.logger = l } }

// New creates a Trainer in the Configured state.
func New(opts ...Option) (*Trainer, error) {
	t := &Trainer{
		MaxEpochs:           1,
		CheckValEveryNEpoch: 1,
		Monitor:             "val/obj_metric",
		logger:              log.GetLogger(),
		epoch:               -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.MaxEpochs <= 0 {
		return nil, errors.NewValidationError("max_epochs", "must be positive", t.MaxEpochs)
	}
	if t.CheckValEveryNEpoch <= 0 {
		return nil, errors.NewValidationError("check_val_every_n_epoch", "must be positive", t.CheckValEveryNEpoch)
	}
	if t.LimitTrainBatches < 0 || t.LimitValBatches < 0 || t.LimitTestBatches < 0 {
		return nil, errors.NewValidationError("limit_batches", "must be non-negative",
			[]int{t.LimitTrainBatches, t.LimitValBatches, t.LimitTestBatches})
	}
	t.logger = t.logger.With(log.ComponentKey, "trainer")
	return t, nil
}

// Phase returns the current state.
func (t *Trainer) Phase() Phase { return t.phase }

// GlobalStep returns the optimizer steps taken so far.
func (t *Trainer) GlobalStep() int { return t.globalStep }

func (t *Trainer) enter(p Phase) {
	t.phase = p
	t.logger.Debug("trainer state", log.StateKey, p.String())
}

func (t *Trainer) require(op string, allowed ...Phase) error {
	for _, p := range allowed {
		if t.phase == p {
			return nil
		}
	}
	return errors.NewValueError(op, "not allowed in state "+t.phase.String())
}

func (t *Trainer) snapshot() State {
	st := State{Epoch: t.epoch, GlobalStep: t.globalStep}
	if t.EarlyStopping != nil {
		st.EarlyStopWait = t.EarlyStopping.Wait
		st.EarlyStopBest = t.EarlyStopping.Best
		st.HasBest = t.EarlyStopping.HasBest
	}
	if t.Checkpoint != nil {
		st.BestModelPath = t.Checkpoint.BestModelPath
		st.BestModelScore = t.Checkpoint.BestModelScore
	}
	return st
}

// ResumeFrom restores s and the callbacks from the checkpoint at path. Fit
// then continues with the epoch after the stored one.
func (t *Trainer) ResumeFrom(s Strategy, path string) error {
	if err := t.require("Trainer.ResumeFrom", Configured); err != nil {
		return err
	}
	st, err := s.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	t.epoch = st.Epoch
	t.startEpoch = st.Epoch + 1
	t.globalStep = st.GlobalStep
	if t.EarlyStopping != nil {
		t.EarlyStopping.restore(st)
	}
	if t.Checkpoint != nil {
		t.Checkpoint.restore(st)
	}
	t.logger.Info("resumed from checkpoint",
		log.CheckpointPathKey, path,
		log.EpochKey, st.Epoch,
		log.StepKey, st.GlobalStep,
	)
	return nil
}

// interrupted maps a failure during cancellation to the context error.
func interrupted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Fit trains epochs [start, MaxEpochs). Early stopping ends Fit normally with
// Result.EarlyStopped set. Cancellation of ctx returns ctx.Err().
func (t *Trainer) Fit(ctx context.Context, s Strategy) (res Result, err error) {
	if err := t.require("Trainer.Fit", Configured); err != nil {
		return Result{}, err
	}
	res.LastEpoch = t.epoch
	defer func() {
		res.GlobalStep = t.globalStep
		if t.Checkpoint != nil {
			res.BestModelPath, res.BestModelScore = t.Checkpoint.BestModelPath, t.Checkpoint.BestModelScore
		}
	}()

	for epoch := t.startEpoch; epoch < t.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			t.enter(Done)
			return res, err
		}
		t.enter(Training)
		start := time.Now()
		var steps int
		err := errors.SafeExecute("trainer.train_epoch", func() error {
			var err error
			steps, err = s.TrainOneEpoch(ctx, epoch, t.LimitTrainBatches)
			return err
		})
		if err != nil {
			t.enter(Done)
			return res, interrupted(ctx, err)
		}
		t.globalStep += steps
		t.epoch = epoch
		res.LastEpoch = epoch
		t.logger.Info("epoch finished",
			log.PhaseKey, log.PhaseTraining,
			log.EpochKey, epoch,
			log.StepKey, t.globalStep,
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)

		if (epoch+1)%t.CheckValEveryNEpoch != 0 {
			continue
		}
		stop, err := t.validate(ctx, s, epoch)
		if err != nil {
			t.enter(Done)
			return res, interrupted(ctx, err)
		}
		if stop {
			res.EarlyStopped = true
			t.logger.Info("early stopping",
				log.EpochKey, epoch,
				"monitor", t.Monitor,
				"best", t.EarlyStopping.Best,
				"patience", t.EarlyStopping.Patience,
			)
			break
		}
	}
	t.fitted = true
	return res, nil
}

func (t *Trainer) validate(ctx context.Context, s Strategy, epoch int) (bool, error) {
	t.enter(Validating)
	var metrics Metrics
	err := errors.SafeExecute("trainer.validate", func() error {
		var err error
		metrics, err = s.Validate(ctx, t.LimitValBatches)
		return err
	})
	if err != nil {
		return false, err
	}
	score, ok := metrics[t.Monitor]
	if !ok {
		return false, errors.NewValueError("Trainer.validate", "validation did not report "+t.Monitor)
	}
	t.logger.Info("validation finished",
		log.PhaseKey, log.PhaseValidation,
		log.EpochKey, epoch,
		log.ObjMetricKey, score,
	)

	stop := false
	if t.EarlyStopping != nil {
		stop = t.EarlyStopping.Update(epoch, score)
	}
	if t.Checkpoint != nil {
		saved, err := t.Checkpoint.Save(s, epoch, t.globalStep, score, t.snapshot())
		if err != nil {
			return false, err
		}
		if saved {
			t.logger.Info("best checkpoint saved",
				log.CheckpointPathKey, t.Checkpoint.BestModelPath,
				log.ObjMetricKey, score,
			)
		}
	}
	return stop, nil
}

// Test runs the test pass after Fit. ckptPath "best" loads the best
// checkpoint when one was saved, otherwise the current weights are used; any
// other non-empty path is loaded as is.
func (t *Trainer) Test(ctx context.Context, s Strategy, ckptPath string) (Metrics, error) {
	if !t.fitted {
		return nil, errors.NewNotFittedError("Trainer", "Test")
	}
	t.fitted = false
	switch {
	case ckptPath == BestCheckpoint && (t.Checkpoint == nil || t.Checkpoint.BestModelPath == ""):
		t.logger.Warn("no best checkpoint available, testing current weights")
	case ckptPath == BestCheckpoint:
		ckptPath = t.Checkpoint.BestModelPath
		fallthrough
	case ckptPath != "":
		if _, err := s.LoadCheckpoint(ckptPath); err != nil {
			t.enter(Done)
			return nil, err
		}
		t.logger.Info("testing checkpoint", log.CheckpointPathKey, ckptPath)
	}
	t.enter(Testing)
	return t.runTest(ctx, s)
}

// TestOnly runs the test pass with the weights already loaded into s.
func (t *Trainer) TestOnly(ctx context.Context, s Strategy) (Metrics, error) {
	if err := t.require("Trainer.TestOnly", Configured); err != nil {
		return nil, err
	}
	t.enter(TestOnly)
	return t.runTest(ctx, s)
}

func (t *Trainer) runTest(ctx context.Context, s Strategy) (Metrics, error) {
	defer t.enter(Done)
	var metrics Metrics
	err := errors.SafeExecute("trainer.test", func() error {
		var err error
		metrics, err = s.Test(ctx, t.LimitTestBatches)
		return err
	})
	if err != nil {
		return nil, interrupted(ctx, err)
	}
	t.logger.Info("test finished", log.PhaseKey, log.PhaseTesting, "metrics", len(metrics))
	return metrics, nil
}
