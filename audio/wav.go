// Package audio reads and writes WAV files and converts folders of clips to
// the sample rate used for training.
package audio

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/mjibson/go-dsp/wav"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Clip is a decoded mono signal with samples in [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
	// Channels is the channel count of the source before down-mixing.
	Channels int
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Info describes a WAV file without decoding its samples.
type Info struct {
	SampleRate int
	Channels   int
	Frames     int
}

// Duration returns the length in seconds.
func (i Info) Duration() float64 {
	if i.SampleRate == 0 {
		return 0
	}
	return float64(i.Frames) / float64(i.SampleRate)
}

// Decode reads a PCM 8/16-bit or IEEE float WAV stream and down-mixes it to mono.
func Decode(r io.Reader) (*Clip, error) {
	w, err := wav.New(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode wav header")
	}
	channels := int(w.NumChannels)
	if channels == 0 {
		return nil, errors.NewValueError("audio.Decode", "wav header reports zero channels")
	}

	raw, err := w.ReadSamples(w.Samples)
	if err != nil {
		return nil, errors.Wrap(err, "decode wav samples")
	}

	var interleaved []float64
	switch d := raw.(type) {
	case []int16:
		interleaved = make([]float64, len(d))
		for i, v := range d {
			interleaved[i] = float64(v) / 32768.0
		}
	case []uint8:
		interleaved = make([]float64, len(d))
		for i, v := range d {
			interleaved[i] = (float64(v) - 128) / 128.0
		}
	case []float32:
		interleaved = make([]float64, len(d))
		for i, v := range d {
			interleaved[i] = float64(v)
		}
	default:
		return nil, errors.Newf("decode wav samples: unsupported sample type %T", raw)
	}

	return &Clip{
		Samples:    downmix(interleaved, channels),
		SampleRate: int(w.SampleRate),
		Channels:   channels,
	}, nil
}

// downmix averages interleaved channels frame by frame.
func downmix(interleaved []float64, channels int) []float64 {
	if channels == 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float64, frames)
	for f := 0; f < frames; f++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += interleaved[f*channels+c]
		}
		mono[f] = sum / float64(channels)
	}
	return mono
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	clip, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return clip, nil
}

// ReadInfo parses only the header of the WAV file at path.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	w, err := wav.New(bufio.NewReader(f))
	if err != nil {
		return Info{}, errors.Wrapf(err, "read header %s", path)
	}
	if w.NumChannels == 0 {
		return Info{}, errors.NewValueError("audio.ReadInfo", path+": zero channels")
	}
	return Info{
		SampleRate: int(w.SampleRate),
		Channels:   int(w.NumChannels),
		Frames:     w.Samples / int(w.NumChannels),
	}, nil
}

// Encode writes samples as a 16-bit PCM mono WAV stream. Samples outside
// [-1, 1] are clipped.
func Encode(w io.Writer, samples []float64, sampleRate int) error {
	const bitsPerSample = 16
	dataSize := uint32(len(samples) * bitsPerSample / 8)

	header := []interface{}{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1), // PCM
		uint16(1), // mono
		uint32(sampleRate),
		uint32(sampleRate * bitsPerSample / 8),
		uint16(bitsPerSample / 8),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "write wav header")
		}
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		pcm[i] = int16(math.Round(s * 32767))
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		return errors.Wrap(err, "write wav data")
	}
	return nil
}

// WriteFile writes samples to path as 16-bit PCM mono.
func WriteFile(path string, samples []float64, sampleRate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := Encode(bw, samples, sampleRate); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrap(bw.Flush(), "flush wav")
}
