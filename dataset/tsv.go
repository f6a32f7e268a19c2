package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Table is a header-indexed, tab-separated metadata file.
type Table struct {
	Header []string
	Rows   [][]string

	cols map[string]int
}

// NewTable builds a table from a header and rows.
func NewTable(header []string, rows [][]string) *Table {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	return &Table{Header: header, Rows: rows, cols: cols}
}

// ReadTSV reads path and checks that every required column is present.
func ReadTSV(path string, required ...string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	t, err := parseTSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	for _, col := range required {
		if !t.Has(col) {
			return nil, errors.NewValidationError(path, "missing column "+col, t.Header)
		}
	}
	return t, nil
}

func parseTSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse tsv")
	}
	if len(records) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "tsv has no header")
	}
	header := records[0]
	rows := records[1:]
	for i, row := range rows {
		// short rows mean trailing empty cells
		for len(row) < len(header) {
			row = append(row, "")
		}
		rows[i] = row
	}
	return NewTable(header, rows), nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Has reports whether the table has column col.
func (t *Table) Has(col string) bool {
	_, ok := t.cols[col]
	return ok
}

// Get returns the trimmed cell at row i, column col, or "" when absent.
func (t *Table) Get(i int, col string) string {
	c, ok := t.cols[col]
	if !ok || c >= len(t.Rows[i]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[i][c])
}

// Float parses the cell at row i, column col. An empty or NaN cell reports
// ok=false.
func (t *Table) Float(i int, col string) (v float64, ok bool, err error) {
	s := t.Get(i, col)
	if s == "" || strings.EqualFold(s, "nan") {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "row %d column %s", i, col)
	}
	return v, true, nil
}

// Subset returns a table holding rows idx, in that order.
func (t *Table) Subset(idx []int) *Table {
	rows := make([][]string, len(idx))
	for i, j := range idx {
		rows[i] = t.Rows[j]
	}
	return NewTable(t.Header, rows)
}

// ReadDurations reads a "filename<TAB>duration" TSV into a map.
func ReadDurations(path string) (map[string]float64, error) {
	t, err := ReadTSV(path, "filename", "duration")
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, t.Len())
	for i := 0; i < t.Len(); i++ {
		d, ok, err := t.Float(i, "duration")
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		if ok {
			out[t.Get(i, "filename")] = d
		}
	}
	return out, nil
}
