package dataset

import (
	"math"
	"math/rand"
)

// SplitWeak samples frac*n rows of t, rounded half to even, for training, in sampled order,
// and returns the remaining rows in their original order for validation. The
// partition depends only on seed and the input order.
func SplitWeak(t *Table, frac float64, seed int64) (train, valid *Table) {
	n := t.Len()
	k := int(math.RoundToEven(frac * float64(n)))
	if k > n {
		k = n
	}
	if k < 0 {
		k = 0
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	picked := make([]bool, n)
	for _, i := range perm[:k] {
		picked[i] = true
	}
	rest := make([]int, 0, n-k)
	for i := 0; i < n; i++ {
		if !picked[i] {
			rest = append(rest, i)
		}
	}
	return t.Subset(perm[:k]), t.Subset(rest)
}
