// Package config loads and validates the experiment configuration.
//
// The configuration is a YAML document with the sections data, feats, net,
// opt, training and scaler. It is read once at startup and treated as
// immutable afterwards, except for LogDir which the run injects. Every
// required key must be present: a missing or out-of-range value stops the run
// before any data is touched.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Config is the full experiment configuration.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Feats    FeatsConfig    `yaml:"feats"`
	Net      NetConfig      `yaml:"net"`
	Opt      OptConfig      `yaml:"opt"`
	Training TrainingConfig `yaml:"training"`
	Scaler   ScalerConfig   `yaml:"scaler"`

	// LogDir is injected at run start and persisted with checkpoints.
	LogDir string `yaml:"log_dir,omitempty"`
}

// DataConfig holds dataset locations and the audio framing parameters shared
// with the label encoder.
type DataConfig struct {
	SynthFolder        string `yaml:"synth_folder"`
	SynthFolder44k     string `yaml:"synth_folder_44k"`
	SynthTSV           string `yaml:"synth_tsv"`
	WeakFolder         string `yaml:"weak_folder"`
	WeakFolder44k      string `yaml:"weak_folder_44k"`
	WeakTSV            string `yaml:"weak_tsv"`
	UnlabeledFolder    string `yaml:"unlabeled_folder"`
	UnlabeledFolder44k string `yaml:"unlabeled_folder_44k"`
	SynthValFolder     string `yaml:"synth_val_folder"`
	SynthValFolder44k  string `yaml:"synth_val_folder_44k"`
	SynthValTSV        string `yaml:"synth_val_tsv"`
	SynthValDur        string `yaml:"synth_val_dur"`
	TestFolder         string `yaml:"test_folder"`
	TestFolder44k      string `yaml:"test_folder_44k"`
	TestTSV            string `yaml:"test_tsv"`
	TestDur            string `yaml:"test_dur"`

	AudioMaxLen  float64 `yaml:"audio_max_len"`
	FS           int     `yaml:"fs"`
	NetSubsample int     `yaml:"net_subsample"`
}

// FeatsConfig configures the log-mel front end.
type FeatsConfig struct {
	NMels      int     `yaml:"n_mels"`
	NFilters   int     `yaml:"n_filters"`
	HopLength  int     `yaml:"hop_length"`
	NWindow    int     `yaml:"n_window"`
	SampleRate int     `yaml:"sample_rate"`
	FMin       float64 `yaml:"f_min"`
	FMax       float64 `yaml:"f_max"`
}

// NetConfig configures the network.
type NetConfig struct {
	NClass  int     `yaml:"nclass"`
	Dropout float64 `yaml:"dropout"`
	// Pooling selects how frame probabilities become clip probabilities:
	// "linear_softmax" or "mean".
	Pooling string `yaml:"pooling"`
}

// OptConfig configures the optimizer target.
type OptConfig struct {
	LR float64 `yaml:"lr"`
}

// TrainingConfig configures the schedule, batching and model selection.
type TrainingConfig struct {
	// BatchSize has one entry per training subset: strong, weak, unlabeled.
	BatchSize          []int   `yaml:"batch_size"`
	BatchSizeVal       int     `yaml:"batch_size_val"`
	ConstMax           float64 `yaml:"const_max"`
	NEpochsWarmup      int     `yaml:"n_epochs_warmup"`
	NumWorkers         int     `yaml:"num_workers"`
	NEpochs            int     `yaml:"n_epochs"`
	EarlyStopPatience  int     `yaml:"early_stop_patience"`
	AccumulateBatches  int     `yaml:"accumulate_batches"`
	GradientClip       float64 `yaml:"gradient_clip"`
	MedianWindow       int     `yaml:"median_window"`
	EMAFactor          float64 `yaml:"ema_factor"`
	Backend            string  `yaml:"backend,omitempty"`
	ValidationInterval int     `yaml:"validation_interval"`
	WeakSplit          float64 `yaml:"weak_split"`
	Seed               int64   `yaml:"seed"`
	// ObjMetricMode is "max" or "min" for val/obj_metric.
	ObjMetricMode string `yaml:"obj_metric_mode"`
}

// ScalerConfig configures feature normalization.
type ScalerConfig struct {
	Statistic string `yaml:"statistic"`
	NormType  string `yaml:"normtype"`
}

// required lists the keys that must be present in the YAML document.
var required = map[string][]string{
	"data": {
		"synth_folder", "synth_folder_44k", "synth_tsv",
		"weak_folder", "weak_folder_44k", "weak_tsv",
		"unlabeled_folder", "unlabeled_folder_44k",
		"synth_val_folder", "synth_val_folder_44k", "synth_val_tsv", "synth_val_dur",
		"test_folder", "test_folder_44k", "test_tsv", "test_dur",
		"audio_max_len", "fs", "net_subsample",
	},
	"feats": {"n_mels", "n_filters", "hop_length", "n_window", "sample_rate", "f_min", "f_max"},
	"net":   {"nclass"},
	"opt":   {"lr"},
	"training": {
		"batch_size", "n_epochs_warmup", "n_epochs", "early_stop_patience",
		"accumulate_batches", "gradient_clip", "validation_interval",
		"weak_split", "seed",
	},
}

// Load reads, decodes and validates the YAML file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected, missing required
// keys are reported by name, and optional keys receive their defaults.
func Parse(raw []byte) (*Config, error) {
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}
	for section, keys := range required {
		values, ok := tree[section].(map[string]interface{})
		if !ok {
			return nil, errors.NewValidationError(section, "required section missing", nil)
		}
		for _, key := range keys {
			if _, ok := values[key]; !ok {
				return nil, errors.NewValidationError(section+"."+key, "required key missing", nil)
			}
		}
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Net.Pooling == "" {
		c.Net.Pooling = "linear_softmax"
	}
	if c.Training.ObjMetricMode == "" {
		c.Training.ObjMetricMode = "max"
	}
	if c.Training.BatchSizeVal == 0 {
		c.Training.BatchSizeVal = 24
	}
	if c.Training.MedianWindow == 0 {
		c.Training.MedianWindow = 1
	}
	if c.Training.EMAFactor == 0 {
		c.Training.EMAFactor = 0.999
	}
	if c.Scaler.Statistic == "" {
		c.Scaler.Statistic = "instance"
	}
	if c.Scaler.NormType == "" {
		c.Scaler.NormType = "minmax"
	}
}

// Validate checks ranges and the joint frame-to-sample invariant used by the
// label encoder: audio_max_len*fs samples, hop_length samples per feature
// frame, net_subsample feature frames per label frame.
func (c *Config) Validate() error {
	d, f, t := c.Data, c.Feats, c.Training

	checks := []struct {
		ok    bool
		param string
		why   string
		value interface{}
	}{
		{d.AudioMaxLen > 0, "data.audio_max_len", "must be positive", d.AudioMaxLen},
		{d.FS > 0, "data.fs", "must be positive", d.FS},
		{d.NetSubsample > 0, "data.net_subsample", "must be positive", d.NetSubsample},
		{f.HopLength > 0, "feats.hop_length", "must be positive", f.HopLength},
		{f.NFilters >= f.HopLength, "feats.n_filters", "must be >= hop_length", f.NFilters},
		{f.NWindow > 0 && f.NWindow <= f.NFilters, "feats.n_window", "must be in (0, n_filters]", f.NWindow},
		{f.NMels > 0, "feats.n_mels", "must be positive", f.NMels},
		{f.SampleRate == d.FS, "feats.sample_rate", fmt.Sprintf("must equal data.fs (%d)", d.FS), f.SampleRate},
		{f.FMax > f.FMin && f.FMax <= float64(d.FS)/2, "feats.f_max", "must be in (f_min, fs/2]", f.FMax},
		{c.Net.NClass > 0, "net.nclass", "must be positive", c.Net.NClass},
		{c.Net.Dropout >= 0 && c.Net.Dropout < 1, "net.dropout", "must be in [0, 1)", c.Net.Dropout},
		{c.Net.Pooling == "linear_softmax" || c.Net.Pooling == "mean", "net.pooling", "must be linear_softmax or mean", c.Net.Pooling},
		{c.Opt.LR > 0, "opt.lr", "must be positive", c.Opt.LR},
		{len(t.BatchSize) == 3, "training.batch_size", "must have one entry per training subset (strong, weak, unlabeled)", t.BatchSize},
		{t.NEpochs > 0, "training.n_epochs", "must be positive", t.NEpochs},
		{t.NEpochsWarmup >= 0, "training.n_epochs_warmup", "must be non-negative", t.NEpochsWarmup},
		{t.EarlyStopPatience > 0, "training.early_stop_patience", "must be positive", t.EarlyStopPatience},
		{t.AccumulateBatches > 0, "training.accumulate_batches", "must be positive", t.AccumulateBatches},
		{t.GradientClip >= 0, "training.gradient_clip", "must be non-negative", t.GradientClip},
		{t.ValidationInterval > 0, "training.validation_interval", "must be positive", t.ValidationInterval},
		{t.WeakSplit > 0 && t.WeakSplit < 1, "training.weak_split", "must be in (0, 1)", t.WeakSplit},
		{t.EMAFactor > 0 && t.EMAFactor < 1, "training.ema_factor", "must be in (0, 1)", t.EMAFactor},
		{t.MedianWindow > 0, "training.median_window", "must be positive", t.MedianWindow},
		{t.BatchSizeVal > 0, "training.batch_size_val", "must be positive", t.BatchSizeVal},
		{t.ObjMetricMode == "max" || t.ObjMetricMode == "min", "training.obj_metric_mode", "must be max or min", t.ObjMetricMode},
		{c.Scaler.Statistic == "instance", "scaler.statistic", "only instance statistics are supported", c.Scaler.Statistic},
		{c.Scaler.NormType == "minmax" || c.Scaler.NormType == "standard", "scaler.normtype", "must be minmax or standard", c.Scaler.NormType},
	}
	for _, ch := range checks {
		if !ch.ok {
			return errors.NewValidationError(ch.param, ch.why, ch.value)
		}
	}
	for i, b := range t.BatchSize {
		if b <= 0 {
			return errors.NewValidationError(fmt.Sprintf("training.batch_size[%d]", i), "must be positive", b)
		}
	}
	if c.NFrames() <= 0 {
		return errors.NewValidationError("data.audio_max_len",
			"audio_max_len*fs/hop_length/net_subsample yields no label frames", d.AudioMaxLen)
	}
	return nil
}

// NFrames is the label frame count implied by the data and feats sections.
func (c *Config) NFrames() int {
	samples := c.Data.AudioMaxLen * float64(c.Data.FS)
	return int(samples/float64(c.Feats.HopLength)) / c.Data.NetSubsample
}

// WithData returns a copy of c whose data section is replaced by d. Test-only
// runs use it to point a checkpoint's stored configuration at the current
// data locations while keeping its feats/net/training sections.
func (c Config) WithData(d DataConfig) Config {
	c.Data = d
	c.Training.BatchSize = append([]int(nil), c.Training.BatchSize...)
	return c
}

// Marshal renders the configuration as YAML (hparams.yaml).
func (c *Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode yaml")
	}
	return out, nil
}
