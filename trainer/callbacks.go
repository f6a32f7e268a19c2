package trainer

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Modes for monitored metrics.
const (
	ModeMax = "max"
	ModeMin = "min"
)

func validMode(mode string) bool { return mode == ModeMax || mode == ModeMin }

func better(mode string, score, best float64) bool {
	if mode == ModeMin {
		return score < best
	}
	return score > best
}

// EarlyStopping stops training once Monitor has not improved for Patience
// consecutive validations. A non-finite value stops immediately.
type EarlyStopping struct {
	Monitor  string
	Patience int
	Mode     string

	Best    float64
	HasBest bool
	Wait    int
	// StoppedEpoch is the epoch at which training stopped, -1 if it did not.
	StoppedEpoch int
}

// NewEarlyStopping creates the callback.
func NewEarlyStopping(monitor string, patience int, mode string) (*EarlyStopping, error) {
	if patience <= 0 {
		return nil, errors.NewValidationError("patience", "must be positive", patience)
	}
	if !validMode(mode) {
		return nil, errors.NewValidationError("mode", "must be max or min", mode)
	}
	return &EarlyStopping{Monitor: monitor, Patience: patience, Mode: mode, StoppedEpoch: -1}, nil
}

// Update records score for epoch and reports whether training should stop.
func (e *EarlyStopping) Update(epoch int, score float64) bool {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		e.StoppedEpoch = epoch
		return true
	}
	if !e.HasBest || better(e.Mode, score, e.Best) {
		e.Best, e.HasBest, e.Wait = score, true, 0
		return false
	}
	e.Wait++
	if e.Wait >= e.Patience {
		e.StoppedEpoch = epoch
		return true
	}
	return false
}

func (e *EarlyStopping) restore(st State) {
	e.Wait, e.Best, e.HasBest = st.EarlyStopWait, st.EarlyStopBest, st.HasBest
}

// ModelCheckpoint keeps the single best checkpoint by Monitor. A new best
// replaces the file of the previous one.
type ModelCheckpoint struct {
	Dir     string
	Monitor string
	Mode    string

	BestModelPath  string
	BestModelScore float64
}

// NewModelCheckpoint creates the callback writing into dir.
func NewModelCheckpoint(dir, monitor, mode string) (*ModelCheckpoint, error) {
	if !validMode(mode) {
		return nil, errors.NewValidationError("mode", "must be max or min", mode)
	}
	return &ModelCheckpoint{Dir: dir, Monitor: monitor, Mode: mode}, nil
}

// Filename is the checkpoint path for epoch and global step.
func (m *ModelCheckpoint) Filename(epoch, step int) string {
	return filepath.Join(m.Dir, fmt.Sprintf("epoch=%d-step=%d.ckpt", epoch, step))
}

// Improves reports whether score would become the new best. Non-finite
// scores never do.
func (m *ModelCheckpoint) Improves(score float64) bool {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false
	}
	return m.BestModelPath == "" || better(m.Mode, score, m.BestModelScore)
}

// Save writes a checkpoint through s when score improves and removes the
// previous best file. st is stored with the new best path and score.
func (m *ModelCheckpoint) Save(s Strategy, epoch, step int, score float64, st State) (bool, error) {
	if !m.Improves(score) {
		return false, nil
	}
	path := m.Filename(epoch, step)
	st.BestModelPath, st.BestModelScore = path, score
	if err := s.SaveCheckpoint(path, st); err != nil {
		return false, err
	}
	prev := m.BestModelPath
	m.BestModelPath, m.BestModelScore = path, score
	if prev != "" && prev != path {
		if err := os.Remove(prev); err != nil && !os.IsNotExist(err) {
			return true, errors.NewCheckpointError("remove", prev, err)
		}
	}
	return true, nil
}

func (m *ModelCheckpoint) restore(st State) {
	m.BestModelPath, m.BestModelScore = st.BestModelPath, st.BestModelScore
}
