package loggers

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// Scalar is one logged value.
type Scalar struct {
	Step     int
	Tag      string
	Value    float64
	WallTime float64
}

// ScalarStore buffers scalars in memory and writes them to sqlite in one
// transaction per flush.
type ScalarStore struct {
	db      *sql.DB
	pending []Scalar
}

// OpenScalarStore opens or creates the database at path.
func OpenScalarStore(path string) (*ScalarStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scalars(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			step INTEGER NOT NULL,
			tag TEXT NOT NULL,
			value REAL NOT NULL,
			wall_time REAL NOT NULL
		)`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "create scalars table in %s", path)
	}
	return &ScalarStore{db: db}, nil
}

// Add buffers a value.
func (s *ScalarStore) Add(step int, tag string, value float64) {
	s.pending = append(s.pending, Scalar{
		Step:     step,
		Tag:      tag,
		Value:    value,
		WallTime: float64(time.Now().UnixMilli()) / 1000.0,
	})
}

// Pending returns the number of buffered values.
func (s *ScalarStore) Pending() int { return len(s.pending) }

// Flush writes the buffer.
func (s *ScalarStore) Flush() (err error) {
	if len(s.pending) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin scalar flush")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.Prepare("INSERT INTO scalars(step, tag, value, wall_time) VALUES(?,?,?,?)")
	if err != nil {
		return errors.Wrap(err, "prepare scalar insert")
	}
	defer stmt.Close()
	for _, sc := range s.pending {
		if _, err = stmt.Exec(sc.Step, sc.Tag, sc.Value, sc.WallTime); err != nil {
			return errors.Wrapf(err, "insert scalar %s", sc.Tag)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit scalar flush")
	}
	s.pending = s.pending[:0]
	return nil
}

// Tags lists the distinct stored tags.
func (s *ScalarStore) Tags() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT tag FROM scalars ORDER BY tag")
	if err != nil {
		return nil, errors.Wrap(err, "query tags")
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, "scan tag")
		}
		tags = append(tags, t)
	}
	return tags, errors.Wrap(rows.Err(), "iterate tags")
}

// Series returns the stored values of tag ordered by step then insertion.
func (s *ScalarStore) Series(tag string) ([]Scalar, error) {
	rows, err := s.db.Query(
		"SELECT step, tag, value, wall_time FROM scalars WHERE tag = ? ORDER BY step, id", tag)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", tag)
	}
	defer rows.Close()
	var out []Scalar
	for rows.Next() {
		var sc Scalar
		if err := rows.Scan(&sc.Step, &sc.Tag, &sc.Value, &sc.WallTime); err != nil {
			return nil, errors.Wrap(err, "scan scalar")
		}
		out = append(out, sc)
	}
	return out, errors.Wrap(rows.Err(), "iterate scalars")
}

// Close closes the database without flushing.
func (s *ScalarStore) Close() error {
	return errors.Wrap(s.db.Close(), "close scalar store")
}
