package pipeline

import (
	"math/rand"

	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/dataset"
	"github.com/YuminosukeSato/sedbaseline/encoder"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
	"github.com/YuminosukeSato/sedbaseline/sampler"
	"github.com/YuminosukeSato/sedbaseline/sed"
)

// NewEncoder builds the label encoder on the configured frame grid.
func NewEncoder(cfg *config.Config) (*encoder.ManyHotEncoder, error) {
	return encoder.New(encoder.DCASEClasses, cfg.Data.AudioMaxLen,
		cfg.Feats.NFilters, cfg.Feats.HopLength, cfg.Data.NetSubsample, cfg.Data.FS)
}

// BuildData assembles the dataset views. Training views, the weak split,
// the batch sampler and the epoch length are skipped in test-only runs.
func BuildData(cfg *config.Config, enc *encoder.ManyHotEncoder, testOnly bool, logger log.Logger) (sed.Data, error) {
	d := cfg.Data
	pad := dataset.WithPadTo(d.AudioMaxLen)
	fs := dataset.WithFS(d.FS)
	named := dataset.WithReturnFilename(true)

	var out sed.Data
	testTbl, err := dataset.ReadTSV(d.TestTSV, "filename", "onset", "offset", "event_label")
	if err != nil {
		return sed.Data{}, err
	}
	if out.Test, err = dataset.NewStrongSet(d.TestFolder, testTbl, enc, pad, fs, named); err != nil {
		return sed.Data{}, err
	}
	if out.TestDurations, err = dataset.ReadDurations(d.TestDur); err != nil {
		return sed.Data{}, err
	}
	logger.Info("dataset ready", log.SubsetKey, "test", log.SamplesKey, out.Test.Len())
	if testOnly {
		return out, nil
	}

	synthTbl, err := dataset.ReadTSV(d.SynthTSV, "filename", "onset", "offset", "event_label")
	if err != nil {
		return sed.Data{}, err
	}
	synth, err := dataset.NewStrongSet(d.SynthFolder, synthTbl, enc, pad, fs)
	if err != nil {
		return sed.Data{}, err
	}

	weakTbl, err := dataset.ReadTSV(d.WeakTSV, "filename", "event_labels")
	if err != nil {
		return sed.Data{}, err
	}
	trainWeak, validWeak := dataset.SplitWeak(weakTbl, cfg.Training.WeakSplit, cfg.Training.Seed)
	weak, err := dataset.NewWeakSet(d.WeakFolder, trainWeak, enc, pad, fs)
	if err != nil {
		return sed.Data{}, err
	}
	unlabeled, err := dataset.NewUnlabeledSet(d.UnlabeledFolder, enc, pad, fs)
	if err != nil {
		return sed.Data{}, err
	}

	synthValTbl, err := dataset.ReadTSV(d.SynthValTSV, "filename", "onset", "offset", "event_label")
	if err != nil {
		return sed.Data{}, err
	}
	if out.SynthVal, err = dataset.NewStrongSet(d.SynthValFolder, synthValTbl, enc, pad, fs, named); err != nil {
		return sed.Data{}, err
	}
	if out.WeakVal, err = dataset.NewWeakSet(d.WeakFolder, validWeak, enc, pad, fs, named); err != nil {
		return sed.Data{}, err
	}
	if out.SynthValDurations, err = dataset.ReadDurations(d.SynthValDur); err != nil {
		return sed.Data{}, err
	}

	out.Train = dataset.NewConcatDataset(synth, weak, unlabeled)
	sizes := out.Train.Sizes()
	rng := rand.New(rand.NewSource(cfg.Training.Seed))
	samplers := make([]*sampler.RandomSampler, len(sizes))
	for i, n := range sizes {
		samplers[i] = sampler.NewRandomSampler(n, rand.New(rand.NewSource(rng.Int63())))
	}
	if out.EpochLen, err = sampler.EpochLength(sizes, cfg.Training.BatchSize, cfg.Training.AccumulateBatches); err != nil {
		return sed.Data{}, err
	}
	if out.TrainSampler, err = sampler.NewConcatBatchSampler(samplers, cfg.Training.BatchSize); err != nil {
		return sed.Data{}, err
	}

	for _, v := range []struct {
		name string
		n    int
	}{
		{"synth", synth.Len()},
		{"weak", weak.Len()},
		{"unlabeled", unlabeled.Len()},
		{"synth_val", out.SynthVal.Len()},
		{"weak_val", out.WeakVal.Len()},
	} {
		logger.Info("dataset ready", log.SubsetKey, v.name, log.SamplesKey, v.n)
	}
	logger.Info("epoch length",
		log.EpochLenKey, out.EpochLen,
		log.BatchSizeKey, cfg.Training.BatchSize,
	)
	return out, nil
}
