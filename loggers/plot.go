package loggers

import (
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

var tagFile = strings.NewReplacer("/", "_", " ", "_", ":", "_")

// PlotFile is the PNG path of tag under dir.
func PlotFile(dir, tag string) string {
	return filepath.Join(dir, tagFile.Replace(tag)+".png")
}

// Plot renders one step/value line chart per stored tag into plots/.
func (e *Experiment) Plot() error {
	tags, err := e.store.Tags()
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	dir := filepath.Join(e.Dir, plotsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	for _, tag := range tags {
		series, err := e.store.Series(tag)
		if err != nil {
			return err
		}
		if err := SaveCurve(PlotFile(dir, tag), tag, series); err != nil {
			return err
		}
	}
	return nil
}

// SaveCurve writes series as a line plot.
func SaveCurve(path, title string, series []Scalar) error {
	pts := make(plotter.XYs, len(series))
	for i, sc := range series {
		pts[i].X = float64(sc.Step)
		pts[i].Y = sc.Value
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "step"
	p.Y.Label.Text = title
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrapf(err, "plot %s", title)
	}
	p.Add(line)
	if len(pts) == 1 {
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return errors.Wrapf(err, "plot %s", title)
		}
		p.Add(sc)
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
