// Package trainer drives a training run: epochs, periodic validation, model
// selection, early stopping, resume and the final test pass.
//
// The numeric work is delegated to a Strategy so that the orchestration can
// be exercised without a model. The state machine is
//
//	Configured -> Training <-> Validating -> Testing -> Done
//	Configured -> TestOnly -> Done
package trainer

import (
	"context"

	"github.com/YuminosukeSato/sedbaseline/core/model"
)

// State is the trainer bookkeeping persisted in every checkpoint.
type State = model.TrainerState

// Metrics maps a tag such as "val/obj_metric" to its value.
type Metrics map[string]float64

// Strategy performs the work of each phase. maxBatches <= 0 means the whole
// dataset. Implementations should return promptly with ctx.Err() once ctx is
// done.
type Strategy interface {
	// TrainOneEpoch runs one epoch and returns the number of optimizer
	// steps taken.
	TrainOneEpoch(ctx context.Context, epoch, maxBatches int) (int, error)

	// Validate evaluates the current weights.
	Validate(ctx context.Context, maxBatches int) (Metrics, error)

	// Test evaluates the current weights on the test set.
	Test(ctx context.Context, maxBatches int) (Metrics, error)

	// SaveCheckpoint writes weights, optimizer and scheduler state together
	// with st to path.
	SaveCheckpoint(path string, st State) error

	// LoadCheckpoint restores what SaveCheckpoint wrote and returns the
	// trainer state stored with it.
	LoadCheckpoint(path string) (State, error)
}
