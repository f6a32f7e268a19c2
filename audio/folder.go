package audio

import (
	"encoding/csv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
)

// ListWavs returns the paths of all .wav files under root, relative to root
// and sorted.
func ListWavs(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".wav") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", root)
	}
	sort.Strings(files)
	return files, nil
}

// ResampleFolder writes a copy of every WAV under src into dst at targetFS,
// keeping the relative layout. When dst already holds as many WAV files as
// src the folder is considered complete and nothing is done. Otherwise only
// missing files are produced, each through a temporary file renamed into
// place, so an interrupted run resumes where it stopped.
//
// It reports whether any file was written. A missing src is fatal and wraps
// errors.ErrSourceMissing.
func ResampleFolder(src, dst string, targetFS int) (bool, error) {
	logger := log.GetLogger().With(log.ComponentKey, "audio", log.FolderKey, dst)

	if st, err := os.Stat(src); err != nil || !st.IsDir() {
		return false, errors.Wrapf(errors.ErrSourceMissing, "resample %s", src)
	}
	srcFiles, err := ListWavs(src)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(dst); err == nil {
		dstFiles, err := ListWavs(dst)
		if err != nil {
			return false, err
		}
		if len(dstFiles) == len(srcFiles) {
			logger.Debug("resampled folder complete", log.SamplesKey, len(dstFiles))
			return false, nil
		}
	}

	logger.Info("resampling folder", "src", src, log.SamplesKey, len(srcFiles), log.SampleRateKey, targetFS)
	computed := false
	downmixed := 0
	for _, rel := range srcFiles {
		out := filepath.Join(dst, rel)
		if _, err := os.Stat(out); err == nil {
			continue
		}
		clip, err := ReadFile(filepath.Join(src, rel))
		if err != nil {
			return computed, err
		}
		if clip.Channels > 1 {
			downmixed++
		}
		if err := writeAtomic(out, Resample(clip.Samples, clip.SampleRate, targetFS), targetFS); err != nil {
			return computed, err
		}
		computed = true
	}
	if downmixed > 0 {
		errors.Warn(errors.NewDataConversionWarning("multi-channel", "mono",
			strconv.Itoa(downmixed)+" files in "+src+" were averaged to one channel"))
	}
	return computed, nil
}

func writeAtomic(path string, samples []float64, sampleRate int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", dir)
	}
	name := tmp.Name()
	tmp.Close()

	if err := WriteFile(name, samples, sampleRate); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return errors.Wrapf(err, "rename %s", name)
	}
	return nil
}

// GenerateDurations writes a "filename<TAB>duration" TSV for every WAV in
// folder, sorted by filename. Filenames are base names.
func GenerateDurations(folder, outTSV string) (err error) {
	files, err := ListWavs(folder)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outTSV), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(outTSV))
	}

	f, err := os.Create(outTSV)
	if err != nil {
		return errors.Wrapf(err, "create %s", outTSV)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", outTSV)
		}
	}()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write([]string{"filename", "duration"}); err != nil {
		return errors.Wrap(err, "write durations header")
	}
	for _, rel := range files {
		info, err := ReadInfo(filepath.Join(folder, rel))
		if err != nil {
			return err
		}
		row := []string{filepath.Base(rel), strconv.FormatFloat(info.Duration(), 'f', -1, 64)}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "write durations row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "write %s", outTSV)
	}
	log.GetLogger().Info("durations written", log.ComponentKey, "audio", log.FileKey, outTSV, log.SamplesKey, len(files))
	return nil
}
