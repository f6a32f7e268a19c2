package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

func readDefault(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "confs", "sed.yaml"))
	require.NoError(t, err)
	return raw
}

func TestParse_DefaultConfig(t *testing.T) {
	cfg, err := Parse(readDefault(t))
	require.NoError(t, err)

	assert.Equal(t, 16000, cfg.Data.FS)
	assert.Equal(t, []int{6, 6, 12}, cfg.Training.BatchSize)
	assert.Equal(t, "linear_softmax", cfg.Net.Pooling)
	assert.Equal(t, "max", cfg.Training.ObjMetricMode)
	assert.Equal(t, int64(42), cfg.Training.Seed)
	// 10 s * 16000 / 256 = 625 feature frames, /4 = 156 label frames
	assert.Equal(t, 156, cfg.NFrames())
}

func TestParse_MissingRequiredKey(t *testing.T) {
	raw := strings.Replace(string(readDefault(t)), "  fs: 16000\n", "", 1)

	_, err := Parse([]byte(raw))
	require.Error(t, err)

	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "data.fs", verr.ParamName)
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	raw := strings.Replace(string(readDefault(t)), "  fs: 16000\n", "  fs: 16000\n  bogus_key: 1\n", 1)

	_, err := Parse([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus_key")
}

func TestValidate(t *testing.T) {
	base, err := Parse(readDefault(t))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		param  string
	}{
		{"batch size arity", func(c *Config) { c.Training.BatchSize = []int{6, 6} }, "training.batch_size"},
		{"zero batch entry", func(c *Config) { c.Training.BatchSize = []int{6, 0, 12} }, "training.batch_size[1]"},
		{"sample rate mismatch", func(c *Config) { c.Feats.SampleRate = 22050 }, "feats.sample_rate"},
		{"weak split bounds", func(c *Config) { c.Training.WeakSplit = 1 }, "training.weak_split"},
		{"unknown pooling", func(c *Config) { c.Net.Pooling = "max" }, "net.pooling"},
		{"dataset statistic", func(c *Config) { c.Scaler.Statistic = "dataset" }, "scaler.statistic"},
		{"no label frames", func(c *Config) { c.Data.AudioMaxLen = 0.01 }, "data.audio_max_len"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			cfg.Training.BatchSize = append([]int(nil), base.Training.BatchSize...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.param, verr.ParamName)
		})
	}
}

func TestWithData_KeepsOtherSections(t *testing.T) {
	stored, err := Parse(readDefault(t))
	require.NoError(t, err)
	stored.Net.Dropout = 0.25

	current := stored.Data
	current.TestFolder = "/elsewhere/test_16k"

	merged := stored.WithData(current)
	assert.Equal(t, "/elsewhere/test_16k", merged.Data.TestFolder)
	assert.Equal(t, 0.25, merged.Net.Dropout)

	merged.Training.BatchSize[0] = 99
	assert.Equal(t, 6, stored.Training.BatchSize[0])
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg, err := Parse(readDefault(t))
	require.NoError(t, err)
	cfg.LogDir = "exp/2021_baseline/version_0"

	out, err := cfg.Marshal()
	require.NoError(t, err)

	back, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SED_LOG_FORMAT=console\nSED_NUM_WORKERS=3\n"), 0o600))

	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogFormat, "")
	t.Setenv(EnvNumWorkers, "")
	os.Unsetenv(EnvLogFormat)
	os.Unsetenv(EnvNumWorkers)

	env, err := LoadEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", env.LogLevel)
	assert.Equal(t, "console", env.LogFormat)
	assert.Equal(t, 3, env.NumWorkers)

	cfg := &Config{}
	env.Apply(cfg)
	assert.Equal(t, 3, cfg.Training.NumWorkers)
}

func TestLoadEnv_InvalidWorkers(t *testing.T) {
	t.Setenv(EnvNumWorkers, "many")
	_, err := LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	_, err = LoadEnv("")
	require.Error(t, err)
}
