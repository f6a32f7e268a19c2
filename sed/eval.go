package sed

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sedbaseline/core/parallel"
	"github.com/YuminosukeSato/sedbaseline/dataset"
	"github.com/YuminosukeSato/sedbaseline/metrics"
	"github.com/YuminosukeSato/sedbaseline/nnet"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/pkg/log"
	"github.com/YuminosukeSato/sedbaseline/trainer"
)

// Output files written by Test.
const (
	TestMetricsFile     = "test_metrics.json"
	PredictionsTestFile = "predictions_test.tsv"
)

// threshold binarizes probabilities.
const threshold = 0.5

type prediction struct {
	sample  dataset.Sample
	student *nnet.Output
	teacher *nnet.Output
}

// predict runs both models over ds in batches of batch_size_val and calls fn
// in index order. maxBatches <= 0 covers the whole set.
func (t *Task) predict(ctx context.Context, ds dataset.Dataset, maxBatches int, fn func(i int, p prediction) error) error {
	bs := t.cfg.Training.BatchSizeVal
	for b, start := 0, 0; start < ds.Len(); b, start = b+1, start+bs {
		if maxBatches > 0 && b >= maxBatches {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + bs
		if end > ds.Len() {
			end = ds.Len()
		}
		indices := make([]int, end-start)
		for i := range indices {
			indices[i] = start + i
		}
		samples, err := dataset.LoadBatch(ds, indices, t.workers)
		if err != nil {
			return err
		}
		preds := make([]prediction, len(samples))
		err = parallel.ForEach(len(samples), t.workers, "predict_sample", func(i int) error {
			feats, err := t.frontEnd.Features(samples[i].Audio)
			if err != nil {
				return err
			}
			stu, err := t.student.Forward(feats, nil)
			if err != nil {
				return err
			}
			tea, err := t.teacher.Forward(feats, nil)
			if err != nil {
				return err
			}
			preds[i] = prediction{sample: samples[i], student: stu, teacher: tea}
			return nil
		})
		if err != nil {
			return err
		}
		for i, p := range preds {
			if err := fn(indices[i], p); err != nil {
				return err
			}
		}
	}
	return nil
}

// decode binarizes strong, applies the median filter and returns the events
// of filename clipped to duration (ignored when <= 0).
func (t *Task) decode(strong *mat.Dense, filename string, duration float64) []metrics.Event {
	filtered := metrics.MedianFilter(metrics.Binarize(strong, threshold), t.cfg.Training.MedianWindow)
	var out []metrics.Event
	for _, e := range t.enc.DecodeStrong(filtered) {
		if duration > 0 {
			if e.Onset >= duration {
				continue
			}
			e.Offset = math.Min(e.Offset, duration)
		}
		out = append(out, metrics.Event{Filename: filename, Label: e.Label, Onset: e.Onset, Offset: e.Offset})
	}
	return out
}

func (t *Task) referenceEvents(set *dataset.StrongSet, i int, filename string) []metrics.Event {
	var out []metrics.Event
	for _, e := range set.Events(i) {
		out = append(out, metrics.Event{Filename: filename, Label: e.Label, Onset: e.Onset, Offset: e.Offset})
	}
	return out
}

func addClipCounts(counts []metrics.Counts, truth, prob []float64) {
	for c := range counts {
		tr, p := truth[c] != 0, prob[c] >= threshold
		switch {
		case tr && p:
			counts[c].TP++
		case p:
			counts[c].FP++
		case tr:
			counts[c].FN++
		}
	}
}

func addCounts(dst, src []metrics.Counts) {
	for c := range dst {
		dst[c].Add(src[c])
	}
}

// clipTruth is 1 for every class active in any frame of target.
func clipTruth(target mat.Matrix) []float64 {
	r, c := target.Dims()
	out := make([]float64, c)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			if target.At(i, j) != 0 {
				out[j] = 1
				break
			}
		}
	}
	return out
}

func (t *Task) logMetrics(m trainer.Metrics) error {
	if t.exp == nil {
		return nil
	}
	return t.exp.LogScalars(t.step, m)
}

// Validate computes weak clip macro F1 on the weak validation split and
// event-based macro F1 on the synthetic validation set.
// val/obj_metric is their sum for the student.
func (t *Task) Validate(ctx context.Context, maxBatches int) (trainer.Metrics, error) {
	if t.data.SynthVal == nil || t.data.WeakVal == nil {
		return nil, errors.NewValueError("Task.Validate", "no validation data")
	}
	start := time.Now()
	nC := t.enc.NClasses()
	weakS, weakT := make([]metrics.Counts, nC), make([]metrics.Counts, nC)
	weakLoss, nWeak := 0.0, 0
	err := t.predict(ctx, t.data.WeakVal, maxBatches, func(i int, p prediction) error {
		y := t.data.WeakVal.Labels(i)
		addClipCounts(weakS, y, p.student.Weak)
		addClipCounts(weakT, y, p.teacher.Weak)
		weakLoss += nnet.BCE(p.student.Weak, y, nil) / float64(nC)
		nWeak++
		return nil
	})
	if err != nil {
		return nil, err
	}

	files := t.data.SynthVal.Filenames()
	var refs, estS, estT []metrics.Event
	strongLoss, consistency, nStrong := 0.0, 0.0, 0
	err = t.predict(ctx, t.data.SynthVal, maxBatches, func(i int, p prediction) error {
		name := filepath.Base(files[i])
		dur := t.data.SynthValDurations[name]
		refs = append(refs, t.referenceEvents(t.data.SynthVal, i, name)...)
		estS = append(estS, t.decode(p.student.Strong, name, dur)...)
		estT = append(estT, t.decode(p.teacher.Strong, name, dur)...)
		target := p.sample.Target.RawMatrix().Data
		strongLoss += nnet.BCE(p.student.Strong.RawMatrix().Data, target, nil) / float64(len(target))
		mse, err := metrics.MSEMatrix(p.student.Strong, p.teacher.Strong)
		if err != nil {
			return err
		}
		consistency += mse
		nStrong++
		return nil
	})
	if err != nil {
		return nil, err
	}

	labels := t.enc.Labels
	m := trainer.Metrics{
		"val/weak/student/macro_F1":        metrics.MacroF1(weakS, labels),
		"val/weak/teacher/macro_F1":        metrics.MacroF1(weakT, labels),
		"val/synth/student/event_f1_macro": metrics.EventMacroF1(refs, estS, labels, metrics.DefaultCollars),
		"val/synth/teacher/event_f1_macro": metrics.EventMacroF1(refs, estT, labels, metrics.DefaultCollars),
		"val/weak/student/loss_weak":       weakLoss * inv(nWeak),
		"val/synth/student/loss_strong":    strongLoss * inv(nStrong),
		"val/synth/student_teacher_mse":    consistency * inv(nStrong),
	}
	m["val/obj_metric"] = m["val/weak/student/macro_F1"] + m["val/synth/student/event_f1_macro"]
	if err := t.logMetrics(m); err != nil {
		return nil, err
	}
	t.logger.Info("validation",
		log.PhaseKey, log.PhaseValidation,
		log.StepKey, t.step,
		log.ObjMetricKey, m["val/obj_metric"],
		"weak_f1", m["val/weak/student/macro_F1"],
		"event_f1", m["val/synth/student/event_f1_macro"],
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return m, nil
}

// Test evaluates student and teacher on the test set, writes the student
// detections to predictions_test.tsv and the metrics to test_metrics.json.
func (t *Task) Test(ctx context.Context, maxBatches int) (trainer.Metrics, error) {
	if t.data.Test == nil {
		return nil, errors.NewValueError("Task.Test", "no test data")
	}
	start := time.Now()
	nC := t.enc.NClasses()
	files := t.data.Test.Filenames()
	frameS, frameT := make([]metrics.Counts, nC), make([]metrics.Counts, nC)
	clipS, clipT := make([]metrics.Counts, nC), make([]metrics.Counts, nC)
	var refs, estS, estT []metrics.Event
	strongLoss, consistency, n := 0.0, 0.0, 0

	err := t.predict(ctx, t.data.Test, maxBatches, func(i int, p prediction) error {
		name := filepath.Base(files[i])
		dur := t.data.TestDurations[name]
		refs = append(refs, t.referenceEvents(t.data.Test, i, name)...)
		estS = append(estS, t.decode(p.student.Strong, name, dur)...)
		estT = append(estT, t.decode(p.teacher.Strong, name, dur)...)

		target := p.sample.Target
		for _, pair := range []struct {
			out   *nnet.Output
			frame []metrics.Counts
			clip  []metrics.Counts
		}{{p.student, frameS, clipS}, {p.teacher, frameT, clipT}} {
			bin := metrics.MedianFilter(metrics.Binarize(pair.out.Strong, threshold), t.cfg.Training.MedianWindow)
			c, err := metrics.MultiLabelCounts(target, bin)
			if err != nil {
				return err
			}
			addCounts(pair.frame, c)
			addClipCounts(pair.clip, clipTruth(target), pair.out.Weak)
		}
		data := target.RawMatrix().Data
		strongLoss += nnet.BCE(p.student.Strong.RawMatrix().Data, data, nil) / float64(len(data))
		mse, err := metrics.MSEMatrix(p.student.Strong, p.teacher.Strong)
		if err != nil {
			return err
		}
		consistency += mse
		n++
		return nil
	})
	if err != nil {
		return nil, err
	}

	labels := t.enc.Labels
	m := trainer.Metrics{
		"test/student/event_f1_macro": metrics.EventMacroF1(refs, estS, labels, metrics.DefaultCollars),
		"test/teacher/event_f1_macro": metrics.EventMacroF1(refs, estT, labels, metrics.DefaultCollars),
		"test/student/frame_f1_macro": metrics.MacroF1(frameS, labels),
		"test/teacher/frame_f1_macro": metrics.MacroF1(frameT, labels),
		"test/student/weak_f1_macro":  metrics.MacroF1(clipS, labels),
		"test/teacher/weak_f1_macro":  metrics.MacroF1(clipT, labels),
		"test/student/loss_strong":    strongLoss * inv(n),
		"test/student_teacher_mse":    consistency * inv(n),
	}
	if err := t.logMetrics(m); err != nil {
		return nil, err
	}
	if t.outDir != "" {
		if err := WritePredictions(filepath.Join(t.outDir, PredictionsTestFile), estS); err != nil {
			return nil, err
		}
		if err := WriteMetrics(filepath.Join(t.outDir, TestMetricsFile), m); err != nil {
			return nil, err
		}
	}
	t.logger.Info("test",
		log.PhaseKey, log.PhaseTesting,
		log.SamplesKey, n,
		"event_f1", m["test/student/event_f1_macro"],
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return m, nil
}

// WritePredictions writes events as filename, onset, offset, event_label
// rows with a header.
func WritePredictions(path string, events []metrics.Event) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()
	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write([]string{"filename", "onset", "offset", "event_label"}); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	for _, e := range events {
		row := []string{
			e.Filename,
			strconv.FormatFloat(e.Onset, 'f', 3, 64),
			strconv.FormatFloat(e.Offset, 'f', 3, 64),
			e.Label,
		}
		if err := w.Write(row); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
	}
	w.Flush()
	return errors.Wrapf(w.Error(), "write %s", path)
}

// WriteMetrics writes m as an indented JSON object.
func WriteMetrics(path string, m trainer.Metrics) error {
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode test metrics")
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
