package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sedbaseline/audio"
	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/core/model"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

const testFS = 8000

func writeTone(t *testing.T, dir, name string, freq float64, sampleRate, n int) {
	t.Helper()
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, audio.WriteFile(filepath.Join(dir, name), x, sampleRate))
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

// testConfig lays out a tiny corpus under root: 4 strong, 4 weak and 4
// unlabeled one-second clips at testFS.
func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	p := func(parts ...string) string { return filepath.Join(append([]string{root}, parts...)...) }
	d := config.DataConfig{
		SynthFolder: p("synth"), SynthFolder44k: p("synth_44k"), SynthTSV: p("meta", "synth.tsv"),
		WeakFolder: p("weak"), WeakFolder44k: p("weak_44k"), WeakTSV: p("meta", "weak.tsv"),
		UnlabeledFolder: p("unlabeled"), UnlabeledFolder44k: p("unlabeled_44k"),
		SynthValFolder: p("synth_val"), SynthValFolder44k: p("synth_val_44k"),
		SynthValTSV: p("meta", "synth_val.tsv"), SynthValDur: p("meta", "synth_val_dur.tsv"),
		TestFolder: p("test"), TestFolder44k: p("test_44k"),
		TestTSV: p("meta", "test.tsv"), TestDur: p("meta", "test_dur.tsv"),
		AudioMaxLen: 1, FS: testFS, NetSubsample: 2,
	}
	return &config.Config{
		Data: d,
		Feats: config.FeatsConfig{
			NMels: 16, NFilters: 512, HopLength: 256, NWindow: 512,
			SampleRate: testFS, FMin: 0, FMax: 4000,
		},
		Net: config.NetConfig{NClass: 10, Dropout: 0.2, Pooling: "linear_softmax"},
		Opt: config.OptConfig{LR: 0.01},
		Training: config.TrainingConfig{
			BatchSize:          []int{2, 1, 2},
			BatchSizeVal:       4,
			ConstMax:           2,
			NEpochsWarmup:      1,
			NumWorkers:         2,
			NEpochs:            2,
			EarlyStopPatience:  5,
			AccumulateBatches:  1,
			GradientClip:       5,
			MedianWindow:       3,
			EMAFactor:          0.9,
			ValidationInterval: 1,
			WeakSplit:          0.5,
			Seed:               3,
			ObjMetricMode:      "max",
		},
		Scaler: config.ScalerConfig{Statistic: "instance", NormType: "minmax"},
	}
}

func writeCorpus(t *testing.T, cfg *config.Config) {
	t.Helper()
	d := cfg.Data
	for i := 0; i < 4; i++ {
		for _, dir := range []string{d.SynthFolder, d.SynthValFolder, d.TestFolder, d.WeakFolder, d.UnlabeledFolder} {
			writeTone(t, dir, fmt.Sprintf("c%d.wav", i), float64(200*(i+1)), testFS, testFS)
		}
	}
	strong := []string{
		"filename\tonset\toffset\tevent_label",
		"c0.wav\t0.25\t0.5\tDog",
		"c1.wav\t0.125\t0.75\tSpeech",
		"c2.wav\t0.0\t1.0\tAlarm_bell_ringing",
		"c3.wav\t\t\t",
	}
	writeLines(t, d.SynthTSV, strong...)
	writeLines(t, d.SynthValTSV, strong...)
	writeLines(t, d.TestTSV, strong...)
	writeLines(t, d.WeakTSV,
		"filename\tevent_labels",
		"c0.wav\tDog",
		"c1.wav\tSpeech,Dog",
		"c2.wav\tCat",
		"c3.wav\tBlender",
	)
	require.NoError(t, audio.GenerateDurations(d.SynthValFolder, d.SynthValDur))
	require.NoError(t, audio.GenerateDurations(d.TestFolder, d.TestDur))
}

func testLogger() log.Logger {
	logger, _ := log.NewTestLogger(log.LevelInfo)
	return logger
}

func TestPrepareData(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	d := cfg.Data
	for _, src := range []string{d.SynthFolder44k, d.SynthValFolder44k, d.WeakFolder44k, d.UnlabeledFolder44k, d.TestFolder44k} {
		writeTone(t, src, "a.wav", 440, 16000, 1600)
		writeTone(t, src, "b.wav", 440, 16000, 3200)
	}

	require.NoError(t, PrepareData(d, false, testLogger()))
	info, err := audio.ReadInfo(filepath.Join(d.UnlabeledFolder, "b.wav"))
	require.NoError(t, err)
	assert.Equal(t, testFS, info.SampleRate)
	assert.Equal(t, 1600, info.Frames)

	raw, err := os.ReadFile(d.TestDur)
	require.NoError(t, err)
	assert.Equal(t, "filename\tduration\na.wav\t0.1\nb.wav\t0.2\n", string(raw))
	assert.FileExists(t, d.SynthValDur)

	// complete folders and existing durations are left alone
	st, err := os.Stat(d.TestDur)
	require.NoError(t, err)
	old := st.ModTime().Add(-time.Hour)
	require.NoError(t, os.Chtimes(d.TestDur, old, old))
	require.NoError(t, PrepareData(d, false, testLogger()))
	st, err = os.Stat(d.TestDur)
	require.NoError(t, err)
	assert.True(t, st.ModTime().Equal(old))
}

func TestPrepareData_TestOnly(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	d := cfg.Data
	writeTone(t, d.TestFolder44k, "a.wav", 440, 16000, 1600)

	require.NoError(t, PrepareData(d, true, testLogger()))
	assert.FileExists(t, filepath.Join(d.TestFolder, "a.wav"))
	assert.FileExists(t, d.TestDur)
	assert.NoFileExists(t, d.SynthValDur)
	assert.NoDirExists(t, d.SynthFolder)
}

func TestPrepareData_MissingSource(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	err := PrepareData(cfg.Data, false, testLogger())
	assert.ErrorIs(t, err, errors.ErrSourceMissing)
}

func TestBuildData(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	writeCorpus(t, cfg)
	enc, err := NewEncoder(cfg)
	require.NoError(t, err)

	data, err := BuildData(cfg, enc, false, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 4}, data.Train.Sizes())
	assert.Equal(t, 2, data.WeakVal.Len())
	assert.Equal(t, 2, data.EpochLen)
	assert.Equal(t, 2, data.TrainSampler.Len())
	assert.InDelta(t, 1.0, data.TestDurations["c0.wav"], 1e-12)

	testOnly, err := BuildData(cfg, enc, true, testLogger())
	require.NoError(t, err)
	assert.Nil(t, testOnly.Train)
	assert.Equal(t, 4, testOnly.Test.Len())
}

func TestBuildData_ZeroEpochLength(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	writeCorpus(t, cfg)
	cfg.Training.BatchSize = []int{2, 3, 2}
	enc, err := NewEncoder(cfg)
	require.NoError(t, err)

	_, err = BuildData(cfg, enc, false, testLogger())
	assert.ErrorIs(t, err, errors.ErrZeroEpochLength)
}

func TestSingleRun_FastDevRunThenTestOnly(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	writeCorpus(t, cfg)
	logDir := filepath.Join(root, "exp", "2021_baseline")

	res, err := SingleRun(context.Background(), cfg, RunOptions{
		LogDir:     logDir,
		GPUs:       "0",
		FastDevRun: true,
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(logDir, "version_0"), res.Dir)
	assert.Equal(t, 2, res.Fit.LastEpoch)
	assert.Equal(t, 6, res.Fit.GlobalStep)
	require.NotEmpty(t, res.Fit.BestModelPath)
	assert.FileExists(t, res.Fit.BestModelPath)
	for _, name := range []string{"hparams.yaml", "metrics.db", "test_metrics.json", "predictions_test.tsv"} {
		assert.FileExists(t, filepath.Join(res.Dir, name))
	}
	assert.DirExists(t, filepath.Join(res.Dir, "plots"))
	assert.Contains(t, res.Test, "test/student/event_f1_macro")

	ckpts, err := filepath.Glob(filepath.Join(res.Dir, "*.ckpt"))
	require.NoError(t, err)
	assert.Len(t, ckpts, 1)

	// test-only run on the best checkpoint with relocated data
	moved := testConfig(t, filepath.Join(root, "moved"))
	writeCorpus(t, moved)
	merged, ckpt, err := LoadTestCheckpoint(res.Fit.BestModelPath, moved)
	require.NoError(t, err)
	assert.Equal(t, moved.Data, merged.Data)
	assert.Equal(t, cfg.Training.Seed, merged.Training.Seed)

	res2, err := SingleRun(context.Background(), merged, RunOptions{
		LogDir:         logDir,
		TestCheckpoint: ckpt,
		Logger:         testLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(logDir, "version_1"), res2.Dir)
	assert.FileExists(t, filepath.Join(res2.Dir, "test_metrics.json"))
	assert.Contains(t, res2.Test, "test/teacher/event_f1_macro")
}

func TestSingleRun_Resume(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	writeCorpus(t, cfg)
	logDir := filepath.Join(root, "exp")

	first, err := SingleRun(context.Background(), cfg, RunOptions{LogDir: logDir, Logger: testLogger()})
	require.NoError(t, err)
	best, err := model.LoadCheckpoint(first.Fit.BestModelPath)
	require.NoError(t, err)

	cfg.Training.NEpochs = 3
	second, err := SingleRun(context.Background(), cfg, RunOptions{
		LogDir:               logDir,
		ResumeFromCheckpoint: first.Fit.BestModelPath,
		Logger:               testLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Fit.LastEpoch)
	assert.Equal(t, best.Trainer.GlobalStep+2*(2-best.Trainer.Epoch), second.Fit.GlobalStep)
}

func TestLoadTestCheckpoint_Missing(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	_, _, err := LoadTestCheckpoint(filepath.Join(t.TempDir(), "none.ckpt"), cfg)
	var ce *errors.CheckpointError
	assert.True(t, errors.As(err, &ce))
}
