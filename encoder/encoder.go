// Package encoder maps event annotations onto the model's label frame grid.
package encoder

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// DCASEClasses is the DCASE 2021 task 4 vocabulary in label-index order.
var DCASEClasses = []string{
	"Alarm_bell_ringing",
	"Blender",
	"Cat",
	"Dishes",
	"Dog",
	"Electric_shaver_toothbrush",
	"Frying",
	"Running_water",
	"Speech",
	"Vacuum_cleaner",
}

// Event is one strong annotation. Label is empty for "no event" rows.
type Event struct {
	Label  string
	Onset  float64
	Offset float64
}

// ManyHotEncoder converts between time-stamped events and multi-hot matrices
// of NFrames x len(Labels). It is read-only after construction and safe for
// concurrent use.
type ManyHotEncoder struct {
	Labels     []string
	AudioLen   float64
	FrameLen   int
	FrameHop   int
	NetPooling int
	FS         int
	NFrames    int

	index map[string]int
}

// New builds an encoder. The frame grid is
// int(int(audioLen*fs/frameHop)/netPooling) frames long.
func New(labels []string, audioLen float64, frameLen, frameHop, netPooling, fs int) (*ManyHotEncoder, error) {
	if len(labels) == 0 {
		return nil, errors.NewValueError("encoder.New", "empty label vocabulary")
	}
	if audioLen <= 0 || frameHop <= 0 || netPooling <= 0 || fs <= 0 {
		return nil, errors.NewValueError("encoder.New", "audio_len, frame_hop, net_pooling and fs must be positive")
	}

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		if _, dup := index[l]; dup {
			return nil, errors.NewValueError("encoder.New", "duplicate label "+l)
		}
		index[l] = i
	}

	nFrames := int(int(audioLen*float64(fs)/float64(frameHop)) / netPooling)
	if nFrames <= 0 {
		return nil, errors.NewValueError("encoder.New", "frame grid is empty")
	}

	return &ManyHotEncoder{
		Labels:     append([]string(nil), labels...),
		AudioLen:   audioLen,
		FrameLen:   frameLen,
		FrameHop:   frameHop,
		NetPooling: netPooling,
		FS:         fs,
		NFrames:    nFrames,
		index:      index,
	}, nil
}

// NClasses returns the vocabulary size.
func (e *ManyHotEncoder) NClasses() int { return len(e.Labels) }

// Index returns the class index of label.
func (e *ManyHotEncoder) Index(label string) (int, bool) {
	i, ok := e.index[label]
	return i, ok
}

// framesPerSecond is the label frame rate after pooling.
func (e *ManyHotEncoder) framesPerSecond() float64 {
	return float64(e.FS) / float64(e.FrameHop) / float64(e.NetPooling)
}

func (e *ManyHotEncoder) timeToFrame(t float64) float64 {
	return math.Max(0, math.Min(t*e.framesPerSecond(), float64(e.NFrames)))
}

func (e *ManyHotEncoder) frameToTime(frame int) float64 {
	return math.Max(0, math.Min(float64(frame)/e.framesPerSecond(), e.AudioLen))
}

// EncodeWeak returns the clip-level multi-hot vector for labels.
func (e *ManyHotEncoder) EncodeWeak(labels []string) ([]float64, error) {
	y := make([]float64, len(e.Labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		i, ok := e.index[l]
		if !ok {
			return nil, errors.Wrapf(errors.ErrUnknownLabel, "%q", l)
		}
		y[i] = 1
	}
	return y, nil
}

// EncodeStrong returns the NFrames x NClasses multi-hot matrix for events.
// Onsets round down and offsets round up to the frame grid; both are clipped
// to the grid.
func (e *ManyHotEncoder) EncodeStrong(events []Event) (*mat.Dense, error) {
	y := mat.NewDense(e.NFrames, len(e.Labels), nil)
	for _, ev := range events {
		if ev.Label == "" {
			continue
		}
		c, ok := e.index[ev.Label]
		if !ok {
			return nil, errors.Wrapf(errors.ErrUnknownLabel, "%q", ev.Label)
		}
		on := int(e.timeToFrame(ev.Onset))
		off := int(math.Ceil(e.timeToFrame(ev.Offset)))
		for f := on; f < off && f < e.NFrames; f++ {
			y.Set(f, c, 1)
		}
	}
	return y, nil
}

// DecodeWeak returns the labels whose entry in y is non-zero.
func (e *ManyHotEncoder) DecodeWeak(y []float64) []string {
	var out []string
	for i, v := range y {
		if v != 0 && i < len(e.Labels) {
			out = append(out, e.Labels[i])
		}
	}
	return out
}

// DecodeStrong turns a binary frame matrix into events: one per contiguous
// run of active frames in each class, ordered by class then onset.
func (e *ManyHotEncoder) DecodeStrong(y mat.Matrix) []Event {
	rows, cols := y.Dims()
	var out []Event
	for c := 0; c < cols && c < len(e.Labels); c++ {
		start := -1
		for f := 0; f <= rows; f++ {
			active := f < rows && y.At(f, c) != 0
			switch {
			case active && start < 0:
				start = f
			case !active && start >= 0:
				out = append(out, Event{
					Label:  e.Labels[c],
					Onset:  e.frameToTime(start),
					Offset: e.frameToTime(f),
				})
				start = -1
			}
		}
	}
	return out
}

// SortEvents orders events by onset, then label.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Onset != events[j].Onset {
			return events[i].Onset < events[j].Onset
		}
		return events[i].Label < events[j].Label
	})
}
