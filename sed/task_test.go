package sed

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sedbaseline/audio"
	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/dataset"
	"github.com/YuminosukeSato/sedbaseline/encoder"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
	"github.com/YuminosukeSato/sedbaseline/sampler"
	"github.com/YuminosukeSato/sedbaseline/trainer"
)

const testFS = 8000

var testLabels = []string{"Dog", "Speech"}

func testConfig() *config.Config {
	return &config.Config{
		Data: config.DataConfig{AudioMaxLen: 1, FS: testFS, NetSubsample: 2},
		Feats: config.FeatsConfig{
			NMels: 16, NFilters: 512, HopLength: 256, NWindow: 512,
			SampleRate: testFS, FMin: 0, FMax: 4000,
		},
		Net: config.NetConfig{NClass: 2, Dropout: 0.2, Pooling: "linear_softmax"},
		Opt: config.OptConfig{LR: 0.01},
		Training: config.TrainingConfig{
			BatchSize:          []int{2, 2, 2},
			BatchSizeVal:       3,
			ConstMax:           2,
			NEpochsWarmup:      1,
			NEpochs:            2,
			EarlyStopPatience:  5,
			AccumulateBatches:  1,
			GradientClip:       5,
			MedianWindow:       3,
			EMAFactor:          0.9,
			ValidationInterval: 1,
			WeakSplit:          0.5,
			Seed:               1,
			ObjMetricMode:      "max",
		},
		Scaler: config.ScalerConfig{Statistic: "instance", NormType: "minmax"},
	}
}

func writeNoise(t *testing.T, dir, name string, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, testFS)
	for i := range x {
		x[i] = 0.3 * math.Sin(2*math.Pi*float64(100*(seed+1))*float64(i)/testFS)
		x[i] += 0.05 * rng.NormFloat64()
	}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, audio.WriteFile(filepath.Join(dir, name), x, testFS))
}

type fixture struct {
	cfg  *config.Config
	enc  *encoder.ManyHotEncoder
	data Data
}

func newFixture(t *testing.T, cfg *config.Config) fixture {
	t.Helper()
	dir := t.TempDir()
	enc, err := encoder.New(testLabels, cfg.Data.AudioMaxLen, cfg.Feats.NFilters, cfg.Feats.HopLength, cfg.Data.NetSubsample, cfg.Data.FS)
	require.NoError(t, err)

	strongDir, weakDir, unlDir := filepath.Join(dir, "strong"), filepath.Join(dir, "weak"), filepath.Join(dir, "unlabeled")
	for i := 0; i < 4; i++ {
		writeNoise(t, strongDir, fmt.Sprintf("s%d.wav", i), int64(i))
		writeNoise(t, weakDir, fmt.Sprintf("w%d.wav", i), int64(i+4))
		writeNoise(t, unlDir, fmt.Sprintf("u%d.wav", i), int64(i+8))
	}
	strongTbl := dataset.NewTable([]string{"filename", "onset", "offset", "event_label"}, [][]string{
		{"s0.wav", "0.25", "0.5", "Dog"},
		{"s1.wav", "0.125", "0.75", "Speech"},
		{"s1.wav", "0.5", "1.0", "Dog"},
		{"s2.wav", "0.0", "1.0", "Speech"},
		{"s3.wav", "", "", ""},
	})
	weakTbl := dataset.NewTable([]string{"filename", "event_labels"}, [][]string{
		{"w0.wav", "Dog"},
		{"w1.wav", "Speech"},
		{"w2.wav", "Dog,Speech"},
		{"w3.wav", "Speech"},
	})

	opts := []dataset.Option{dataset.WithPadTo(cfg.Data.AudioMaxLen)}
	strong, err := dataset.NewStrongSet(strongDir, strongTbl, enc, opts...)
	require.NoError(t, err)
	weak, err := dataset.NewWeakSet(weakDir, weakTbl, enc, opts...)
	require.NoError(t, err)
	unl, err := dataset.NewUnlabeledSet(unlDir, enc, opts...)
	require.NoError(t, err)

	evalOpts := append(opts, dataset.WithReturnFilename(true))
	synthVal, err := dataset.NewStrongSet(strongDir, strongTbl, enc, evalOpts...)
	require.NoError(t, err)
	weakVal, err := dataset.NewWeakSet(weakDir, weakTbl, enc, evalOpts...)
	require.NoError(t, err)

	train := dataset.NewConcatDataset(strong, weak, unl)
	samplers := make([]*sampler.RandomSampler, 0, 3)
	for i, n := range train.Sizes() {
		samplers = append(samplers, sampler.NewRandomSampler(n, rand.New(rand.NewSource(int64(i)))))
	}
	bs, err := sampler.NewConcatBatchSampler(samplers, cfg.Training.BatchSize)
	require.NoError(t, err)
	epochLen, err := sampler.EpochLength(train.Sizes(), cfg.Training.BatchSize, cfg.Training.AccumulateBatches)
	require.NoError(t, err)

	return fixture{cfg: cfg, enc: enc, data: Data{
		Train:             train,
		TrainSampler:      bs,
		EpochLen:          epochLen,
		SynthVal:          synthVal,
		WeakVal:           weakVal,
		Test:              synthVal,
		SynthValDurations: map[string]float64{"s0.wav": 1, "s1.wav": 1, "s2.wav": 1, "s3.wav": 1},
		TestDurations:     map[string]float64{"s0.wav": 1},
	}}
}

func newTestTask(t *testing.T, f fixture, opts ...Option) *Task {
	t.Helper()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	task, err := NewTask(f.cfg, f.enc, f.data, append([]Option{WithLogger(logger), WithWorkers(2)}, opts...)...)
	require.NoError(t, err)
	return task
}

func TestNewTask_Mismatch(t *testing.T) {
	f := newFixture(t, testConfig())
	cfg := *f.cfg
	cfg.Net.NClass = 3
	_, err := NewTask(&cfg, f.enc, f.data)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestTask_TrainValidateTest(t *testing.T) {
	f := newFixture(t, testConfig())
	out := t.TempDir()
	task := newTestTask(t, f, WithOutputDir(out))

	assert.Equal(t, 2, f.data.EpochLen)
	// warmup over 1 epoch of 2 steps starts at step 1: exp(-5*0.25)
	assert.InDelta(t, 0.01*math.Exp(-1.25), task.LR(), 1e-12)
	assert.InDelta(t, 2*math.Exp(-1.25), task.ConsistencyWeight(), 1e-12)

	before := task.Student().Clone()
	teacherBefore := task.Teacher().Clone()

	steps, err := task.TrainOneEpoch(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, steps)
	assert.Equal(t, 2, task.GlobalStep())
	assert.InDelta(t, 0.01, task.LR(), 1e-12)
	assert.False(t, mat.Equal(before.W, task.Student().W))
	assert.False(t, mat.Equal(teacherBefore.W, task.Teacher().W))

	m, err := task.Validate(context.Background(), 0)
	require.NoError(t, err)
	obj := m["val/obj_metric"]
	assert.InDelta(t, m["val/weak/student/macro_F1"]+m["val/synth/student/event_f1_macro"], obj, 1e-12)
	assert.GreaterOrEqual(t, obj, 0.0)
	assert.LessOrEqual(t, obj, 2.0)
	assert.Greater(t, m["val/synth/student/loss_strong"], 0.0)

	tm, err := task.Test(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, tm, "test/student/event_f1_macro")
	assert.Contains(t, tm, "test/teacher/frame_f1_macro")

	raw, err := os.ReadFile(filepath.Join(out, PredictionsTestFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "filename\tonset\toffset\tevent_label\n"))
	assert.FileExists(t, filepath.Join(out, TestMetricsFile))
}

func TestTask_MaxBatches(t *testing.T) {
	f := newFixture(t, testConfig())
	task := newTestTask(t, f)

	steps, err := task.TrainOneEpoch(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, steps)
}

func TestTask_Accumulate(t *testing.T) {
	cfg := testConfig()
	cfg.Training.AccumulateBatches = 2
	f := newFixture(t, cfg)
	task := newTestTask(t, f)

	steps, err := task.TrainOneEpoch(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, steps)
}

func TestTask_Canceled(t *testing.T) {
	f := newFixture(t, testConfig())
	task := newTestTask(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := task.TrainOneEpoch(ctx, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = task.Validate(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTask_StudentTeacherMSE(t *testing.T) {
	f := newFixture(t, testConfig())
	task := newTestTask(t, f)

	m, err := task.Validate(context.Background(), 0)
	require.NoError(t, err)
	require.Contains(t, m, "val/synth/student_teacher_mse")
	assert.InDelta(t, 0.0, m["val/synth/student_teacher_mse"], 1e-15)

	_, err = task.TrainOneEpoch(context.Background(), 0, 0)
	require.NoError(t, err)
	m, err = task.Validate(context.Background(), 0)
	require.NoError(t, err)
	assert.Greater(t, m["val/synth/student_teacher_mse"], 0.0)

	tm, err := task.Test(context.Background(), 0)
	require.NoError(t, err)
	assert.Greater(t, tm["test/student_teacher_mse"], 0.0)
}

func TestTask_NonFiniteGradient(t *testing.T) {
	f := newFixture(t, testConfig())
	task := newTestTask(t, f)
	before := mat.DenseCopyOf(task.Student().W)

	g := task.Student().NewGrads()
	g[1][0] = math.NaN()
	err := task.optimizerStep(g, stepLosses{})
	var ne *errors.NumericalInstabilityError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "gradient", ne.Operation)
	assert.Equal(t, 0, task.GlobalStep())
	assert.True(t, mat.Equal(before, task.Student().W))
}

func TestTask_CheckpointRoundTrip(t *testing.T) {
	f := newFixture(t, testConfig())
	task := newTestTask(t, f)
	_, err := task.TrainOneEpoch(context.Background(), 0, 0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "epoch=0-step=2.ckpt")
	require.NoError(t, task.SaveCheckpoint(path, trainer.State{Epoch: 0, GlobalStep: 2, HasBest: true, EarlyStopBest: 0.4}))

	other := *f.cfg
	other.Training.Seed = 99
	g := f
	g.cfg = &other
	restored := newTestTask(t, g)
	assert.False(t, mat.Equal(task.Student().W, restored.Student().W))

	st, err := restored.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 2, st.GlobalStep)
	assert.InDelta(t, 0.4, st.EarlyStopBest, 1e-12)
	assert.True(t, mat.Equal(task.Student().W, restored.Student().W))
	assert.True(t, mat.Equal(task.Teacher().W, restored.Teacher().W))
	assert.Equal(t, task.GlobalStep(), restored.GlobalStep())
	assert.InDelta(t, task.LR(), restored.LR(), 1e-15)

	_, err = restored.LoadCheckpoint(filepath.Join(t.TempDir(), "missing.ckpt"))
	var ce *errors.CheckpointError
	assert.True(t, errors.As(err, &ce))
}

func TestDecode_MedianAndDuration(t *testing.T) {
	f := newFixture(t, testConfig())
	task := newTestTask(t, f)

	strong := mat.NewDense(f.enc.NFrames, 2, nil)
	for fr := 2; fr < 7; fr++ {
		strong.Set(fr, 0, 0.9)
	}
	strong.Set(10, 0, 0.9)

	events := task.decode(strong, "a.wav", 0)
	require.Len(t, events, 1)
	assert.Equal(t, "Dog", events[0].Label)
	assert.InDelta(t, 2/15.625, events[0].Onset, 1e-9)
	assert.InDelta(t, 7/15.625, events[0].Offset, 1e-9)

	clipped := task.decode(strong, "a.wav", 0.3)
	require.Len(t, clipped, 1)
	assert.InDelta(t, 0.3, clipped[0].Offset, 1e-12)

	assert.Empty(t, task.decode(strong, "a.wav", 0.1))
}
