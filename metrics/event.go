package metrics

import (
	"math"
)

// Event is a detected or reference sound event in one file.
type Event struct {
	Filename string
	Label    string
	Onset    float64
	Offset   float64
}

// Collars configures event matching: onsets match within OnsetCollar
// seconds and offsets within max(OffsetCollar, PercentageOfLength*reference
// length).
type Collars struct {
	OnsetCollar        float64
	OffsetCollar       float64
	PercentageOfLength float64
}

// DefaultCollars are the DCASE evaluation collars: 200 ms, and 20% of the
// reference length for offsets.
var DefaultCollars = Collars{OnsetCollar: 0.2, OffsetCollar: 0.2, PercentageOfLength: 0.2}

func (c Collars) match(ref, est Event) bool {
	if math.Abs(ref.Onset-est.Onset) > c.OnsetCollar {
		return false
	}
	tol := math.Max(c.OffsetCollar, c.PercentageOfLength*(ref.Offset-ref.Onset))
	return math.Abs(ref.Offset-est.Offset) <= tol
}

type groupKey struct {
	file  string
	label string
}

// EventCounts matches estimated to reference events per file and class with a
// maximum one-to-one matching and returns the counts per label in labels
// order. Events with labels outside labels are ignored.
func EventCounts(ref, est []Event, labels []string, collars Collars) []Counts {
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	refs := map[groupKey][]Event{}
	ests := map[groupKey][]Event{}
	for _, e := range ref {
		if _, ok := index[e.Label]; ok {
			k := groupKey{e.Filename, e.Label}
			refs[k] = append(refs[k], e)
		}
	}
	for _, e := range est {
		if _, ok := index[e.Label]; ok {
			k := groupKey{e.Filename, e.Label}
			ests[k] = append(ests[k], e)
		}
	}

	out := make([]Counts, len(labels))
	for k, r := range refs {
		hit := maxMatching(r, ests[k], collars)
		c := &out[index[k.label]]
		c.TP += hit
		c.FN += len(r) - hit
		c.FP += len(ests[k]) - hit
	}
	for k, e := range ests {
		if _, seen := refs[k]; !seen {
			out[index[k.label]].FP += len(e)
		}
	}
	return out
}

// maxMatching returns the size of a maximum bipartite matching between ref
// and est under collars (augmenting paths).
func maxMatching(ref, est []Event, collars Collars) int {
	if len(est) == 0 {
		return 0
	}
	adj := make([][]int, len(ref))
	for i, r := range ref {
		for j, e := range est {
			if collars.match(r, e) {
				adj[i] = append(adj[i], j)
			}
		}
	}
	owner := make([]int, len(est))
	for j := range owner {
		owner[j] = -1
	}
	var try func(i int, seen []bool) bool
	try = func(i int, seen []bool) bool {
		for _, j := range adj[i] {
			if seen[j] {
				continue
			}
			seen[j] = true
			if owner[j] < 0 || try(owner[j], seen) {
				owner[j] = i
				return true
			}
		}
		return false
	}
	n := 0
	for i := range ref {
		if try(i, make([]bool, len(est))) {
			n++
		}
	}
	return n
}

// EventMacroF1 is the class-averaged event-based F1.
func EventMacroF1(ref, est []Event, labels []string, collars Collars) float64 {
	return MacroF1(EventCounts(ref, est, labels, collars), labels)
}
