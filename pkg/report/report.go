// Package report renders diagnostic plots of a finished stitch: the covered
// fraction of every canvas column and the focal length of every rig row.
package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"panostitch/internal/models"
)

const (
	// CoverageFile and FocalFile are the names used by Write
	CoverageFile = "coverage.png"
	FocalFile    = "focal.png"
)

// Write renders both plots into dir and returns their paths.
func Write(dir string, coverage models.CoverageSummary, focals []models.FocalEstimate) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating report directory: %w", err)
	}
	coveragePath := filepath.Join(dir, CoverageFile)
	if err := WriteCoveragePlot(coveragePath, coverage); err != nil {
		return nil, err
	}
	focalPath := filepath.Join(dir, FocalFile)
	if err := WriteFocalPlot(focalPath, focals); err != nil {
		return nil, err
	}
	return []string{coveragePath, focalPath}, nil
}

// WriteCoveragePlot plots the covered fraction of every canvas column, with
// the gap tolerance as a reference line.
func WriteCoveragePlot(path string, s models.CoverageSummary) error {
	if len(s.ColumnProfile) == 0 {
		return fmt.Errorf("coverage summary has no column profile")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Canvas coverage (%.2f%% uncovered)", s.Fraction*100)
	p.X.Label.Text = "Canvas column"
	p.Y.Label.Text = "Covered fraction"
	p.Y.Min = 0
	p.Y.Max = 1.05

	pts := make(plotter.XYs, len(s.ColumnProfile))
	for x, v := range s.ColumnProfile {
		pts[x] = plotter.XY{X: float64(x), Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("error creating coverage line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("coverage", line)

	limit, err := plotter.NewLine(plotter.XYs{
		{X: 0, Y: 1 - s.Tolerance},
		{X: float64(len(s.ColumnProfile) - 1), Y: 1 - s.Tolerance},
	})
	if err != nil {
		return fmt.Errorf("error creating tolerance line: %w", err)
	}
	limit.Color = color.RGBA{R: 200, A: 255}
	limit.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(limit)
	p.Legend.Add("tolerance", limit)

	p.Legend.Top = false
	p.Legend.Left = false

	if err := p.Save(14*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("error saving coverage plot: %w", err)
	}
	return nil
}

// WriteFocalPlot plots the focal length of every row, marking how each one
// was obtained.
func WriteFocalPlot(path string, focals []models.FocalEstimate) error {
	if len(focals) == 0 {
		return fmt.Errorf("no focal estimates to plot")
	}

	p := plot.New()
	p.Title.Text = "Focal length per row"
	p.X.Label.Text = "Row"
	p.Y.Label.Text = "Focal length (px)"

	bySource := map[models.FocalSource]plotter.XYs{}
	for _, f := range focals {
		bySource[f.Source] = append(bySource[f.Source], plotter.XY{X: float64(f.Row), Y: f.Focal})
	}

	colors := map[models.FocalSource]color.Color{
		models.SourceMeasured: color.RGBA{B: 200, A: 255},
		models.SourceHint:     color.RGBA{G: 150, A: 255},
		models.SourceFallback: color.RGBA{R: 200, A: 255},
	}
	for _, src := range []models.FocalSource{models.SourceMeasured, models.SourceHint, models.SourceFallback} {
		pts, ok := bySource[src]
		if !ok {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("error creating focal scatter: %w", err)
		}
		sc.GlyphStyle.Color = colors[src]
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add(src.String(), sc)
	}
	p.Legend.Top = true

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("error saving focal plot: %w", err)
	}
	return nil
}
