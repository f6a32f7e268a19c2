package metrics

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// MedianFilter smooths every column of m over a window of rows. Borders are
// extended by mirroring including the edge sample (d c b a | a b c d). A
// window of 1 or less returns a copy.
func MedianFilter(m mat.Matrix, window int) *mat.Dense {
	out := mat.DenseCopyOf(m)
	if window <= 1 {
		return out
	}
	rows, cols := m.Dims()
	before := window / 2
	buf := make([]float64, window)
	col := make([]float64, rows)
	for c := 0; c < cols; c++ {
		mat.Col(col, c, m)
		for r := 0; r < rows; r++ {
			for k := 0; k < window; k++ {
				buf[k] = col[symmetricIndex(r-before+k, rows)]
			}
			sort.Float64s(buf)
			out.Set(r, c, buf[window/2])
		}
	}
	return out
}

func symmetricIndex(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
