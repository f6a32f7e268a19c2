package loggers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

func newExperiment(t *testing.T, logDir string, opts ...Option) *Experiment {
	t.Helper()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	e, err := New(logDir, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNew_Versions(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "exp", "2021_baseline")

	first := newExperiment(t, logDir)
	second := newExperiment(t, logDir)

	assert.Equal(t, 0, first.Version)
	assert.Equal(t, 1, second.Version)
	assert.Equal(t, filepath.Join(logDir, "version_1"), second.Dir)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.FileExists(t, filepath.Join(first.Dir, "metrics.db"))

	require.NoError(t, os.Mkdir(filepath.Join(logDir, "version_7"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(logDir, "version_x"), 0o755))
	v, err := NextVersion(logDir)
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestNew_InvalidIntervals(t *testing.T) {
	_, err := New(t.TempDir(), WithFlushEvery(0))
	assert.Error(t, err)
}

func TestLogScalar_FlushInterval(t *testing.T) {
	e := newExperiment(t, t.TempDir(), WithFlushEvery(3), WithLogEvery(2))

	require.NoError(t, e.LogScalar(1, "train/loss", 0.9))
	require.NoError(t, e.LogScalar(2, "train/loss", 0.8))
	assert.Equal(t, 2, e.store.Pending())

	require.NoError(t, e.LogScalar(3, "train/loss", 0.7))
	assert.Equal(t, 0, e.store.Pending())

	require.NoError(t, e.LogScalars(4, map[string]float64{"val/obj_metric": 0.4, "val/weak_f1": 0.3}))
	series, err := e.Scalars("train/loss")
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, 3, series[2].Step)
	assert.InDelta(t, 0.7, series[2].Value, 1e-12)

	obj, err := e.Scalars("val/obj_metric")
	require.NoError(t, err)
	require.Len(t, obj, 1)
	assert.Equal(t, 4, obj[0].Step)

	assert.True(t, e.ShouldLog(4))
	assert.False(t, e.ShouldLog(5))
}

func TestLogHyperparams(t *testing.T) {
	e := newExperiment(t, t.TempDir())
	cfg := &config.Config{LogDir: e.Dir}
	cfg.Opt.LR = 0.001
	cfg.Training.BatchSize = []int{6, 6, 12}

	require.NoError(t, e.LogHyperparams(cfg))

	raw, err := os.ReadFile(filepath.Join(e.Dir, "hparams.yaml"))
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, yaml.Unmarshal(raw, &got))
	assert.Equal(t, e.RunID, got["run_id"])
	assert.Contains(t, got, "training")
	assert.Equal(t, e.Dir, got["log_dir"])
}

func TestClose_WritesPlots(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	e, err := New(t.TempDir(), WithLogger(logger))
	require.NoError(t, err)

	for step := 1; step <= 5; step++ {
		require.NoError(t, e.LogScalar(step, "train/student/loss_strong", 1/float64(step)))
	}
	require.NoError(t, e.LogScalar(5, "val/obj_metric", 0.5))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.FileExists(t, filepath.Join(e.Dir, "plots", "train_student_loss_strong.png"))
	assert.FileExists(t, filepath.Join(e.Dir, "plots", "val_obj_metric.png"))
}
