// Package pipeline wires the packages into a run: data preparation, dataset
// assembly, the trainer and the test pass.
package pipeline

import (
	"os"
	"time"

	"github.com/YuminosukeSato/sedbaseline/audio"
	"github.com/YuminosukeSato/sedbaseline/config"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

// resampleJob maps a native-rate source folder to its resampled copy.
type resampleJob struct {
	name     string
	src, dst string
}

func resampleJobs(d config.DataConfig, testOnly bool) []resampleJob {
	test := resampleJob{"test", d.TestFolder44k, d.TestFolder}
	if testOnly {
		return []resampleJob{test}
	}
	return []resampleJob{
		{"synth", d.SynthFolder44k, d.SynthFolder},
		{"synth_val", d.SynthValFolder44k, d.SynthValFolder},
		{"weak", d.WeakFolder44k, d.WeakFolder},
		{"unlabeled", d.UnlabeledFolder44k, d.UnlabeledFolder},
		test,
	}
}

// PrepareData resamples every source folder to data.fs and regenerates the
// synth_val and test duration files when one is missing or any folder was
// (re)written. Test-only runs prepare the test folder only.
func PrepareData(d config.DataConfig, testOnly bool, logger log.Logger) error {
	logger = logger.With(log.PhaseKey, log.PhasePreprocessing)
	computed := false
	for _, job := range resampleJobs(d, testOnly) {
		start := time.Now()
		wrote, err := audio.ResampleFolder(job.src, job.dst, d.FS)
		if err != nil {
			return err
		}
		computed = computed || wrote
		logger.Info("resampled folder",
			log.SubsetKey, job.name,
			log.FolderKey, job.dst,
			log.SampleRateKey, d.FS,
			"written", wrote,
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)
	}

	for _, dur := range []struct{ folder, tsv string }{
		{d.SynthValFolder, d.SynthValDur},
		{d.TestFolder, d.TestDur},
	} {
		if testOnly && dur.tsv != d.TestDur {
			continue
		}
		if _, err := os.Stat(dur.tsv); err == nil && !computed {
			continue
		}
		if err := audio.GenerateDurations(dur.folder, dur.tsv); err != nil {
			return err
		}
		logger.Info("durations written", log.FileKey, dur.tsv)
	}
	return nil
}
