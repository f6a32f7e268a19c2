// Package sampler composes per-subset random samplers into combined batches
// with a fixed number of indices from every subset.
package sampler

import (
	"fmt"
	"math/rand"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// RandomSampler yields the indices [0, n) in a fresh random permutation per
// pass and starts a new pass when the current one is exhausted.
type RandomSampler struct {
	n    int
	rng  *rand.Rand
	perm []int
	pos  int
}

// NewRandomSampler draws its permutations from rng.
func NewRandomSampler(n int, rng *rand.Rand) *RandomSampler {
	return &RandomSampler{n: n, rng: rng}
}

// Len returns the subset size.
func (s *RandomSampler) Len() int { return s.n }

// Next returns the next index.
func (s *RandomSampler) Next() int {
	if s.pos >= len(s.perm) {
		s.perm = s.rng.Perm(s.n)
		s.pos = 0
	}
	i := s.perm[s.pos]
	s.pos++
	return i
}

// take returns k indices without repeats. When the current pass has fewer
// than k left, it is dropped and a new pass starts.
func (s *RandomSampler) take(k int) []int {
	if len(s.perm)-s.pos < k {
		s.perm = s.rng.Perm(s.n)
		s.pos = 0
	}
	out := append([]int(nil), s.perm[s.pos:s.pos+k]...)
	s.pos += k
	return out
}

// Batch holds one index list per subset, already offset into the
// concatenated address space.
type Batch [][]int

// Flatten returns every index of the batch, subset by subset.
func (b Batch) Flatten() []int {
	var out []int
	for _, sub := range b {
		out = append(out, sub...)
	}
	return out
}

// Size returns the total number of indices.
func (b Batch) Size() int {
	n := 0
	for _, sub := range b {
		n += len(sub)
	}
	return n
}

// ConcatBatchSampler draws BatchSizes[i] indices from Samplers[i] for every
// combined batch.
type ConcatBatchSampler struct {
	Samplers   []*RandomSampler
	BatchSizes []int
	Offsets    []int
}

// NewConcatBatchSampler checks that every batch size fits its subset.
func NewConcatBatchSampler(samplers []*RandomSampler, batchSizes []int) (*ConcatBatchSampler, error) {
	if len(samplers) == 0 || len(samplers) != len(batchSizes) {
		return nil, errors.NewValidationError("training.batch_size",
			fmt.Sprintf("need one batch size per subset (%d subsets)", len(samplers)), batchSizes)
	}
	offsets := make([]int, len(samplers))
	total := 0
	for i, s := range samplers {
		if batchSizes[i] <= 0 || batchSizes[i] > s.Len() {
			return nil, errors.Wrapf(errors.ErrZeroEpochLength,
				"subset %d: batch size %d does not fit %d samples", i, batchSizes[i], s.Len())
		}
		offsets[i] = total
		total += s.Len()
	}
	return &ConcatBatchSampler{
		Samplers:   samplers,
		BatchSizes: append([]int(nil), batchSizes...),
		Offsets:    offsets,
	}, nil
}

// Len is the number of combined batches in one pass: min(len_i / batch_i).
func (c *ConcatBatchSampler) Len() int {
	n := -1
	for i, s := range c.Samplers {
		if k := s.Len() / c.BatchSizes[i]; n < 0 || k < n {
			n = k
		}
	}
	return n
}

// Next returns one combined batch.
func (c *ConcatBatchSampler) Next() Batch {
	b := make(Batch, len(c.Samplers))
	for i, s := range c.Samplers {
		idx := s.take(c.BatchSizes[i])
		for j := range idx {
			idx[j] += c.Offsets[i]
		}
		b[i] = idx
	}
	return b
}

// EpochLength returns min_i floor(size_i / (batch_i * accumulate)). A zero
// result is a configuration error naming the offending subset.
func EpochLength(sizes, batchSizes []int, accumulate int) (int, error) {
	if len(sizes) == 0 || len(sizes) != len(batchSizes) {
		return 0, errors.NewValidationError("training.batch_size", "need one batch size per subset", batchSizes)
	}
	if accumulate < 1 {
		return 0, errors.NewValidationError("training.accumulate_batches", "must be positive", accumulate)
	}
	minLen, minIdx := -1, 0
	for i, n := range sizes {
		if batchSizes[i] <= 0 {
			return 0, errors.NewValidationError(fmt.Sprintf("training.batch_size[%d]", i), "must be positive", batchSizes[i])
		}
		k := n / (batchSizes[i] * accumulate)
		if minLen < 0 || k < minLen {
			minLen, minIdx = k, i
		}
	}
	if minLen == 0 {
		return 0, errors.Wrapf(errors.ErrZeroEpochLength,
			"subset %d has %d samples for batch size %d x accumulate %d",
			minIdx, sizes[minIdx], batchSizes[minIdx], accumulate)
	}
	return minLen, nil
}
