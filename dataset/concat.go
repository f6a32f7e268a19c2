package dataset

import (
	"sort"

	"github.com/YuminosukeSato/sedbaseline/core/parallel"
	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// ConcatDataset addresses several views as one index space. Subset i owns
// the global indices [Offsets[i], Offsets[i]+Len_i).
type ConcatDataset struct {
	Sets    []Dataset
	Offsets []int
	total   int
}

// NewConcatDataset stacks sets in order.
func NewConcatDataset(sets ...Dataset) *ConcatDataset {
	c := &ConcatDataset{Sets: sets, Offsets: make([]int, len(sets))}
	for i, s := range sets {
		c.Offsets[i] = c.total
		c.total += s.Len()
	}
	return c
}

// Len returns the total number of samples.
func (c *ConcatDataset) Len() int { return c.total }

// Sizes returns the length of every subset.
func (c *ConcatDataset) Sizes() []int {
	out := make([]int, len(c.Sets))
	for i, s := range c.Sets {
		out[i] = s.Len()
	}
	return out
}

// Locate maps a global index to (subset, local index).
func (c *ConcatDataset) Locate(i int) (int, int, error) {
	if i < 0 || i >= c.total {
		return 0, 0, errors.NewValueError("ConcatDataset.Locate", "index out of range")
	}
	// last subset whose offset is <= i, skipping empty subsets
	s := sort.Search(len(c.Offsets), func(k int) bool { return c.Offsets[k] > i }) - 1
	return s, i - c.Offsets[s], nil
}

// Get routes i to its subset.
func (c *ConcatDataset) Get(i int) (Sample, error) {
	s, j, err := c.Locate(i)
	if err != nil {
		return Sample{}, err
	}
	return c.Sets[s].Get(j)
}

// LoadBatch reads the samples at indices on up to workers goroutines,
// preserving order.
func LoadBatch(ds Dataset, indices []int, workers int) ([]Sample, error) {
	out := make([]Sample, len(indices))
	err := parallel.ForEach(len(indices), workers, "load_sample", func(i int) error {
		s, err := ds.Get(indices[i])
		if err != nil {
			return errors.Wrapf(err, "sample %d", indices[i])
		}
		out[i] = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
