// Package loggers records a training run on disk: a versioned experiment
// directory, the hyper-parameters, every scalar in a sqlite database and
// PNG curves of those scalars.
//
// Layout of one run:
//
//	<log_dir>/version_N/
//	    hparams.yaml
//	    metrics.db      scalars(step, tag, value, wall_time)
//	    plots/*.png
package loggers

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

const (
	versionPrefix = "version_"
	hparamsFile   = "hparams.yaml"
	metricsFile   = "metrics.db"
	plotsDir      = "plots"
)

// Experiment owns the run directory and the scalar store.
type Experiment struct {
	// Dir is the versioned run directory.
	Dir     string
	Version int
	RunID   string

	// LogEvery keeps one training scalar every LogEvery steps.
	LogEvery int
	// FlushEvery writes buffered scalars after this many steps.
	FlushEvery int

	store     *ScalarStore
	lastFlush int
	logger    log.Logger
	closed    bool
}

// Option configures an Experiment.
type Option func(*Experiment)

// WithLogEvery sets the training scalar interval.
func WithLogEvery(n int) Option { return func(e *Experiment) { e.LogEvery = n } }

// WithFlushEvery sets the flush interval in steps.
func WithFlushEvery(n int) Option { return func(e *Experiment) { e.FlushEvery = n } }

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option { return func(e *Experiment) { e.logger = l } }

// NextVersion returns the first unused version number under root.
func NextVersion(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "list %s", root)
	}
	next := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), versionPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), versionPrefix))
		if err != nil {
			continue
		}
		if n >= next {
			next = n + 1
		}
	}
	return next, nil
}

// New creates <dirname(logDir)>/<basename(logDir)>/version_N with the next
// free N and opens its scalar store. Defaults are LogEvery 40 and
// FlushEvery 100.
func New(logDir string, opts ...Option) (*Experiment, error) {
	root := filepath.Join(filepath.Dir(logDir), filepath.Base(logDir))
	e := &Experiment{
		RunID:      uuid.NewString(),
		LogEvery:   40,
		FlushEvery: 100,
		logger:     log.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.LogEvery <= 0 || e.FlushEvery <= 0 {
		return nil, errors.NewValueError("loggers.New", "log and flush intervals must be positive")
	}

	v, err := NextVersion(root)
	if err != nil {
		return nil, err
	}
	e.Version = v
	e.Dir = filepath.Join(root, versionPrefix+strconv.Itoa(v))
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create run dir %s", e.Dir)
	}
	e.store, err = OpenScalarStore(filepath.Join(e.Dir, metricsFile))
	if err != nil {
		return nil, err
	}
	e.logger = e.logger.With(log.RunIDKey, e.RunID, log.RunDirKey, e.Dir)
	e.logger.Info("experiment directory created")
	return e, nil
}

// Logger returns the run-scoped logger.
func (e *Experiment) Logger() log.Logger { return e.logger }

type hparams struct {
	RunID  string        `yaml:"run_id"`
	Config config.Config `yaml:",inline"`
}

// LogHyperparams writes hparams.yaml.
func (e *Experiment) LogHyperparams(cfg *config.Config) error {
	out, err := yaml.Marshal(hparams{RunID: e.RunID, Config: *cfg})
	if err != nil {
		return errors.Wrap(err, "encode hparams")
	}
	path := filepath.Join(e.Dir, hparamsFile)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

// ShouldLog reports whether per-step training scalars are kept at step.
func (e *Experiment) ShouldLog(step int) bool {
	return step%e.LogEvery == 0
}

// LogScalar buffers a scalar and flushes when FlushEvery steps have passed
// since the last flush.
func (e *Experiment) LogScalar(step int, tag string, value float64) error {
	e.store.Add(step, tag, value)
	if step-e.lastFlush >= e.FlushEvery {
		return e.flushAt(step)
	}
	return nil
}

// LogScalars buffers several scalars at one step.
func (e *Experiment) LogScalars(step int, values map[string]float64) error {
	tags := make([]string, 0, len(values))
	for t := range values {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	for _, t := range tags {
		if err := e.LogScalar(step, t, values[t]); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes every buffered scalar.
func (e *Experiment) Flush() error {
	return e.flushAt(e.lastFlush)
}

func (e *Experiment) flushAt(step int) error {
	if err := e.store.Flush(); err != nil {
		return err
	}
	e.lastFlush = step
	return nil
}

// Scalars returns the stored series for tag ordered by step.
func (e *Experiment) Scalars(tag string) ([]Scalar, error) {
	if err := e.Flush(); err != nil {
		return nil, err
	}
	return e.store.Series(tag)
}

// Path joins name onto the run directory.
func (e *Experiment) Path(name string) string { return filepath.Join(e.Dir, name) }

// Close flushes, renders one plot per tag and closes the store.
func (e *Experiment) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.store.Flush(); err != nil {
		_ = e.store.Close()
		return err
	}
	if err := e.Plot(); err != nil {
		e.logger.Warn("plot rendering failed", "error", err.Error())
	}
	return e.store.Close()
}
