// Package log defines standard attribute keys for the training pipeline.
//
// Keys follow a hierarchical naming convention ("training.epoch",
// "data.subset") so that JSON logs from different runs can be filtered and
// joined on the same fields.
package log

// Run and component context.
const (
	// ComponentKey identifies the package emitting the record.
	// Examples: "audio", "dataset", "trainer", "sed"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the run.
	// Standard values: PhaseTraining, PhaseValidation, PhaseTesting, PhasePreprocessing
	PhaseKey = "ml.phase"

	// RunIDKey carries the per-run UUID written to hparams.yaml.
	RunIDKey = "run.id"

	// RunDirKey is the versioned experiment directory of the run.
	RunDirKey = "run.dir"

	// StateKey records the trainer state machine state.
	StateKey = "trainer.state"
)

// Data shape and provenance.
const (
	// SamplesKey indicates the number of samples in a dataset view.
	SamplesKey = "data.samples"

	// SubsetKey names a dataset view ("synth", "weak", "unlabeled", ...).
	SubsetKey = "data.subset"

	// BatchSizeKey indicates a per-subset or total batch size.
	BatchSizeKey = "data.batch_size"

	// FolderKey is an audio folder path.
	FolderKey = "data.folder"

	// FileKey is a single file path.
	FileKey = "data.file"

	// SampleRateKey is an audio sample rate in Hz.
	SampleRateKey = "audio.sample_rate"
)

// Training progress and metrics.
const (
	// EpochKey records the current epoch number.
	EpochKey = "training.epoch"

	// StepKey records the global optimizer step.
	StepKey = "training.step"

	// EpochLenKey records the number of optimizer steps per epoch.
	EpochLenKey = "training.epoch_len"

	// LossKey records a loss value.
	LossKey = "metrics.loss"

	// ObjMetricKey records the validation objective used for model selection.
	ObjMetricKey = "metrics.obj_metric"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LearningRateKey records the learning rate currently set on the optimizer.
	LearningRateKey = "hyperparams.learning_rate"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// CheckpointPathKey is the path of a saved or loaded checkpoint.
	CheckpointPathKey = "checkpoint.path"
)

// Error context.
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"
)

// Infrastructure.
const (
	// DeviceKey names the compute device ("cpu").
	DeviceKey = "infra.device"

	// WorkersKey is the number of goroutines used for per-sample work.
	WorkersKey = "infra.workers"

	// CPUKey is the CPU brand reported by cpuid.
	CPUKey = "infra.cpu"
)

// Standard attribute values.
const (
	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhasePreprocessing = "preprocessing"
)
