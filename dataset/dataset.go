// Package dataset builds the strong, weak and unlabeled views of the training
// data and addresses them as one concatenated index space.
package dataset

import (
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sedbaseline/audio"
	"github.com/YuminosukeSato/sedbaseline/encoder"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
	"github.com/YuminosukeSato/sedbaseline/preprocessing"
)

// Kind tells which annotation a sample carries.
type Kind int

const (
	KindStrong Kind = iota
	KindWeak
	KindUnlabeled
)

func (k Kind) String() string {
	switch k {
	case KindStrong:
		return "strong"
	case KindWeak:
		return "weak"
	default:
		return "unlabeled"
	}
}

// Sample is one clip with its target on the encoder's frame grid.
type Sample struct {
	Audio []float64
	// Target is NFrames x NClasses. Weak samples hold the clip vector in row 0.
	Target     *mat.Dense
	PaddedIndx float64
	// Filename is the base name, set only when the view returns filenames.
	Filename string
	Kind     Kind
}

// Dataset is an immutable, indexable view.
type Dataset interface {
	Len() int
	Get(i int) (Sample, error)
}

type options struct {
	padTo          float64
	returnFilename bool
	fs             int
}

// Option configures a dataset view.
type Option func(*options)

// WithPadTo pads or truncates audio to seconds. Zero keeps the native length.
func WithPadTo(seconds float64) Option {
	return func(o *options) { o.padTo = seconds }
}

// WithReturnFilename surfaces the source filename in every sample.
func WithReturnFilename(v bool) Option {
	return func(o *options) { o.returnFilename = v }
}

// WithFS sets the expected sample rate. It defaults to the encoder's.
func WithFS(fs int) Option {
	return func(o *options) { o.fs = fs }
}

// base holds what every view shares: file list, encoder and options.
type base struct {
	folder string
	files  []string
	enc    *encoder.ManyHotEncoder
	opts   options
	kind   Kind
}

func newBase(folder string, files []string, enc *encoder.ManyHotEncoder, kind Kind, opts []Option) base {
	o := options{fs: enc.FS}
	for _, opt := range opts {
		opt(&o)
	}
	return base{folder: folder, files: files, enc: enc, opts: o, kind: kind}
}

func (b *base) Len() int { return len(b.files) }

// Filenames returns the files of the view in index order.
func (b *base) Filenames() []string { return append([]string(nil), b.files...) }

func (b *base) load(i int) (Sample, error) {
	if i < 0 || i >= len(b.files) {
		return Sample{}, errors.NewValueError(b.kind.String()+".Get", "index out of range")
	}
	path := filepath.Join(b.folder, b.files[i])
	clip, err := audio.ReadFile(path)
	if err != nil {
		return Sample{}, err
	}
	if clip.SampleRate != b.opts.fs {
		return Sample{}, errors.NewValidationError(path, "sample rate does not match data.fs", clip.SampleRate)
	}

	s := Sample{Audio: clip.Samples, PaddedIndx: 1, Kind: b.kind}
	if b.opts.padTo > 0 {
		s.Audio, s.PaddedIndx = preprocessing.PadAudio(clip.Samples, int(b.opts.padTo*float64(b.opts.fs)))
	}
	if b.opts.returnFilename {
		s.Filename = filepath.Base(b.files[i])
	}
	return s, nil
}

// StrongSet yields frame-level targets from onset/offset/event_label rows.
type StrongSet struct {
	base
	events [][]encoder.Event
}

// NewStrongSet groups rows by filename in first-seen order. Rows with an
// empty onset, offset or label mark a clip without events.
func NewStrongSet(folder string, t *Table, enc *encoder.ManyHotEncoder, opts ...Option) (*StrongSet, error) {
	for _, col := range []string{"filename", "onset", "offset", "event_label"} {
		if !t.Has(col) {
			return nil, errors.NewValidationError("strong tsv", "missing column "+col, t.Header)
		}
	}

	var files []string
	var events [][]encoder.Event
	pos := make(map[string]int)
	for i := 0; i < t.Len(); i++ {
		name := t.Get(i, "filename")
		j, seen := pos[name]
		if !seen {
			j = len(files)
			pos[name] = j
			files = append(files, name)
			events = append(events, nil)
		}

		label := t.Get(i, "event_label")
		on, okOn, err := t.Float(i, "onset")
		if err != nil {
			return nil, err
		}
		off, okOff, err := t.Float(i, "offset")
		if err != nil {
			return nil, err
		}
		if !okOn || !okOff || label == "" || strings.EqualFold(label, "nan") {
			continue
		}
		if _, ok := enc.Index(label); !ok {
			return nil, errors.Wrapf(errors.ErrUnknownLabel, "%s row %d: %q", name, i, label)
		}
		events[j] = append(events[j], encoder.Event{Label: label, Onset: on, Offset: off})
	}

	return &StrongSet{base: newBase(folder, files, enc, KindStrong, opts), events: events}, nil
}

// Events returns the annotations of clip i.
func (s *StrongSet) Events(i int) []encoder.Event { return s.events[i] }

// Get loads clip i and encodes its events.
func (s *StrongSet) Get(i int) (Sample, error) {
	out, err := s.load(i)
	if err != nil {
		return Sample{}, err
	}
	out.Target, err = s.enc.EncodeStrong(s.events[i])
	if err != nil {
		return Sample{}, err
	}
	return out, nil
}

// WeakSet yields clip-level targets from comma-joined event_labels rows.
type WeakSet struct {
	base
	labels [][]float64
}

// NewWeakSet encodes each row's label list.
func NewWeakSet(folder string, t *Table, enc *encoder.ManyHotEncoder, opts ...Option) (*WeakSet, error) {
	for _, col := range []string{"filename", "event_labels"} {
		if !t.Has(col) {
			return nil, errors.NewValidationError("weak tsv", "missing column "+col, t.Header)
		}
	}

	files := make([]string, t.Len())
	labels := make([][]float64, t.Len())
	for i := range files {
		files[i] = t.Get(i, "filename")
		y, err := enc.EncodeWeak(strings.Split(t.Get(i, "event_labels"), ","))
		if err != nil {
			return nil, errors.Wrapf(err, "%s row %d", files[i], i)
		}
		labels[i] = y
	}
	return &WeakSet{base: newBase(folder, files, enc, KindWeak, opts), labels: labels}, nil
}

// Labels returns the clip vector of clip i.
func (w *WeakSet) Labels(i int) []float64 { return w.labels[i] }

// Get loads clip i. The target carries the clip vector in row 0.
func (w *WeakSet) Get(i int) (Sample, error) {
	out, err := w.load(i)
	if err != nil {
		return Sample{}, err
	}
	out.Target = mat.NewDense(w.enc.NFrames, w.enc.NClasses(), nil)
	out.Target.SetRow(0, w.labels[i])
	return out, nil
}

// UnlabeledSet yields every WAV under a folder with an all-zero target.
type UnlabeledSet struct {
	base
}

// NewUnlabeledSet lists the WAV files under folder in sorted order.
func NewUnlabeledSet(folder string, enc *encoder.ManyHotEncoder, opts ...Option) (*UnlabeledSet, error) {
	files, err := audio.ListWavs(folder)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return &UnlabeledSet{base: newBase(folder, files, enc, KindUnlabeled, opts)}, nil
}

// Get loads clip i.
func (u *UnlabeledSet) Get(i int) (Sample, error) {
	out, err := u.load(i)
	if err != nil {
		return Sample{}, err
	}
	out.Target = mat.NewDense(u.enc.NFrames, u.enc.NClasses(), nil)
	return out, nil
}
