package pipeline

import (
	"context"

	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/core/device"
	"github.com/YuminosukeSato/sedbaseline/core/model"
	"github.com/YuminosukeSato/sedbaseline/loggers"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
	"github.com/YuminosukeSato/sedbaseline/sed"
	"github.com/YuminosukeSato/sedbaseline/trainer"
)

// Logging intervals in steps.
const (
	defaultFlushEvery = 100
	defaultLogEvery   = 40
)

// RunOptions are the command line choices of a run.
type RunOptions struct {
	LogDir               string
	ResumeFromCheckpoint string
	// TestCheckpoint switches to a test-only run with its weights.
	TestCheckpoint *model.Checkpoint
	GPUs           string
	FastDevRun     bool
	Logger         log.Logger
}

// RunResult reports where the run wrote its files and what it measured.
type RunResult struct {
	Dir   string
	Fit   trainer.Result
	Test  trainer.Metrics
	RunID string
}

// LoadTestCheckpoint reads a checkpoint for a test-only run. The stored
// configuration is kept except for the data section, which is replaced by
// current.Data so the checkpoint can be evaluated on data at new locations.
func LoadTestCheckpoint(path string, current *config.Config) (*config.Config, *model.Checkpoint, error) {
	ckpt, err := model.LoadCheckpoint(path)
	if err != nil {
		return nil, nil, err
	}
	merged := ckpt.HyperParameters.WithData(current.Data)
	if err := merged.Validate(); err != nil {
		return nil, nil, errors.Wrapf(err, "checkpoint %s with current data section", path)
	}
	return &merged, ckpt, nil
}

// SingleRun trains and tests once, or only tests when opts.TestCheckpoint is
// set. Every output lands in a fresh version directory under opts.LogDir.
func SingleRun(ctx context.Context, cfg *config.Config, opts RunOptions) (*RunResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	testOnly := opts.TestCheckpoint != nil

	dev, err := device.Resolve(opts.GPUs, cfg.Training.Backend, cfg.Training.NumWorkers, logger)
	if err != nil {
		return nil, err
	}
	enc, err := NewEncoder(cfg)
	if err != nil {
		return nil, err
	}
	data, err := BuildData(cfg, enc, testOnly, logger)
	if err != nil {
		return nil, err
	}

	flush, every := defaultFlushEvery, defaultLogEvery
	if opts.FastDevRun {
		flush, every = 1, 1
	}
	exp, err := loggers.New(opts.LogDir,
		loggers.WithLogger(logger),
		loggers.WithFlushEvery(flush),
		loggers.WithLogEvery(every),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := exp.Close(); cerr != nil {
			exp.Logger().Error("closing experiment failed", cerr)
		}
	}()
	runLogger := exp.Logger()
	cfg.LogDir = opts.LogDir
	if err := exp.LogHyperparams(cfg); err != nil {
		return nil, err
	}
	runLogger.Info("run configured",
		log.RandomSeedKey, cfg.Training.Seed,
		log.WorkersKey, dev.Workers,
		"test_only", testOnly,
		"fast_dev_run", opts.FastDevRun,
	)

	task, err := sed.NewTask(cfg, enc, data,
		sed.WithExperiment(exp),
		sed.WithWorkers(dev.Workers),
		sed.WithLogger(runLogger),
	)
	if err != nil {
		return nil, err
	}

	res := &RunResult{Dir: exp.Dir, RunID: exp.RunID}
	trOpts := []trainer.Option{
		trainer.WithLogger(runLogger),
		trainer.WithMaxEpochs(cfg.Training.NEpochs),
		trainer.WithCheckValEveryNEpoch(cfg.Training.ValidationInterval),
	}
	if opts.FastDevRun {
		trOpts = append(trOpts, trainer.WithFastDevRun())
	}

	if testOnly {
		if err := task.LoadWeights(opts.TestCheckpoint); err != nil {
			return nil, err
		}
		tr, err := trainer.New(trOpts...)
		if err != nil {
			return nil, err
		}
		if res.Test, err = tr.TestOnly(ctx, task); err != nil {
			return nil, err
		}
		return res, nil
	}

	mode := cfg.Training.ObjMetricMode
	es, err := trainer.NewEarlyStopping("val/obj_metric", cfg.Training.EarlyStopPatience, mode)
	if err != nil {
		return nil, err
	}
	mc, err := trainer.NewModelCheckpoint(exp.Dir, "val/obj_metric", mode)
	if err != nil {
		return nil, err
	}
	trOpts = append(trOpts, trainer.WithEarlyStopping(es), trainer.WithModelCheckpoint(mc))
	tr, err := trainer.New(trOpts...)
	if err != nil {
		return nil, err
	}
	if opts.ResumeFromCheckpoint != "" {
		if err := tr.ResumeFrom(task, opts.ResumeFromCheckpoint); err != nil {
			return nil, err
		}
	}
	if res.Fit, err = tr.Fit(ctx, task); err != nil {
		return nil, err
	}
	if res.Test, err = tr.Test(ctx, task, trainer.BestCheckpoint); err != nil {
		return nil, err
	}
	return res, nil
}
