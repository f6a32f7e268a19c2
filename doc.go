// Package sedbaseline trains and evaluates a sound event detection (SED)
// baseline on the DESED corpus with the mean-teacher recipe.
//
// A student network learns from strongly labeled synthetic clips, weakly
// labeled clips and unlabeled clips. A teacher network tracks the student
// through an exponential moving average of its weights and supplies the
// consistency targets for every sample in the batch.
//
// # Layout
//
//   - audio, dataset, sampler, encoder: WAV resampling, TSV metadata,
//     fixed-proportion batch sampling and many-hot label encoding
//   - preprocessing, nnet, optim: log-mel front end, the linear SED model,
//     losses, EMA, Adam and the exponential warmup scheduler
//   - metrics: clip F1, frame F1 and collar-based event F1
//   - sed: the training task (one epoch, validation, test, checkpoints)
//   - trainer: the epoch loop with early stopping and best-model checkpoints
//   - loggers: versioned experiment directories with SQLite scalars and plots
//   - pipeline: data preparation and a single end-to-end run
//   - cmd/train_sed: the command line entry point
//
// # Quick Start
//
//	go run ./cmd/train_sed --conf_file ./confs/sed.yaml --log_dir ./exp/2021_baseline
//
// Evaluate a saved model without training:
//
//	go run ./cmd/train_sed --test_from_checkpoint ./exp/2021_baseline/version_0/epoch=12-step=1300.ckpt
//
// Debug the whole pipeline in seconds with --fast_dev_run.
//
// # Error Handling
//
// Errors are wrapped with github.com/cockroachdb/errors and carry stack
// traces. Configuration problems surface as *errors.ValidationError,
// checkpoint problems as *errors.CheckpointError. Panics inside a training
// phase are recovered and returned as errors.
package sedbaseline
