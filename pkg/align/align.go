// Package align refines the predicted canvas position of every projected
// frame against its left and right neighbours.
//
// Each horizontal pair is measured by phase correlation over the predicted
// overlap. The measurements of a row are then reconciled in one weighted
// least squares solve, so that error is spread across the row instead of
// accumulating towards its right end. Pairs that cannot be measured keep the
// model-predicted offset and are reported as alignment notes.
package align

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"panostitch/internal/models"
	"panostitch/pkg/spectral"
)

// Params controls alignment.
type Params struct {
	// MinOverlap is the smallest overlap side, in pixels, worth measuring
	MinOverlap int

	// MinPeak is the lowest phase-correlation peak accepted as a match
	MinPeak float64

	// MinVariance is the lowest grey variance accepted as texture
	MinVariance float64

	// MaxShiftFraction bounds a correction relative to the overlap size
	MaxShiftFraction float64

	// SpanWeight ties the first-to-last distance of a row to the model.
	// Zero leaves the row span to the measurements.
	SpanWeight float64

	// PriorWeight pulls every frame weakly towards its anchor
	PriorWeight float64

	// Workers bounds the number of rows aligned at once
	Workers int
}

// DefaultParams returns the alignment defaults.
func DefaultParams() Params {
	return Params{
		MinOverlap:       8,
		MinPeak:          0.05,
		MinVariance:      1e-4,
		MaxShiftFraction: 0.25,
		SpanWeight:       0,
		PriorWeight:      1e-3,
		Workers:          4,
	}
}

// Degradation reasons
const (
	ReasonNoOverlap     = "overlap too small"
	ReasonFlatTexture   = "insufficient texture in overlap"
	ReasonWeakPeak      = "weak correlation peak"
	ReasonShiftTooLarge = "correction out of range"
)

// alphaValid is the alpha above which a projected pixel takes part in matching
const alphaValid = 0.99

// Measurement is the outcome of one pair of neighbours.
type Measurement struct {
	// Correction is the measured position of the right frame relative to
	// the left one, minus the predicted relative position
	Correction models.Vec2
	Peak       float64

	// Reason is empty when the measurement is usable
	Reason string
}

// OK reports whether the measurement can be used.
func (m Measurement) OK() bool { return m.Reason == "" }

// Align places every frame. The result has one entry per input frame, in
// input order.
func Align(ctx context.Context, projected []models.ProjectedFrame, p Params) ([]models.PlacedFrame, []models.AlignmentNote, error) {
	rows, err := groupRows(projected)
	if err != nil {
		return nil, nil, err
	}

	placed := make([]models.PlacedFrame, len(projected))
	notes := make([][]models.AlignmentNote, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Workers))
	for ri, idx := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frames := make([]models.ProjectedFrame, len(idx))
			for i, k := range idx {
				frames[i] = projected[k]
			}
			out, rowNotes := alignRow(frames, p)
			for i, k := range idx {
				placed[k] = out[i]
			}
			notes[ri] = rowNotes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("align: %w", err)
	}

	var all []models.AlignmentNote
	for _, n := range notes {
		all = append(all, n...)
	}
	return placed, all, nil
}

// groupRows returns input indices grouped by row, each ordered by column.
func groupRows(projected []models.ProjectedFrame) ([][]int, error) {
	byRow := map[int][]int{}
	for i, f := range projected {
		if f.Pixels == nil {
			return nil, &models.ConfigurationError{Field: "frame", Row: f.Row, Column: f.Column, Reason: "projected frame has no pixels"}
		}
		byRow[f.Row] = append(byRow[f.Row], i)
	}
	keys := make([]int, 0, len(byRow))
	for r := range byRow {
		keys = append(keys, r)
	}
	sort.Ints(keys)

	rows := make([][]int, len(keys))
	for i, r := range keys {
		idx := byRow[r]
		sort.Slice(idx, func(a, b int) bool { return projected[idx[a]].Column < projected[idx[b]].Column })
		for j := 1; j < len(idx); j++ {
			if projected[idx[j]].Column == projected[idx[j-1]].Column {
				return nil, &models.ConfigurationError{Field: "frame", Row: r, Column: projected[idx[j]].Column, Reason: "duplicate frame"}
			}
		}
		rows[i] = idx
	}
	return rows, nil
}

// alignRow measures every adjacent pair of a column-ordered row and solves
// for the final offsets.
func alignRow(frames []models.ProjectedFrame, p Params) ([]models.PlacedFrame, []models.AlignmentNote) {
	n := len(frames)
	pairs := make([]Measurement, max(n-1, 0))
	var notes []models.AlignmentNote
	for c := 0; c+1 < n; c++ {
		pairs[c] = Measure(frames[c], frames[c+1], p)
		if !pairs[c].OK() {
			notes = append(notes, models.AlignmentNote{
				Row:         frames[c].Row,
				LeftColumn:  frames[c].Column,
				RightColumn: frames[c+1].Column,
				Reason:      pairs[c].Reason,
				Peak:        pairs[c].Peak,
			})
		}
	}

	anchors := make([]models.Vec2, n)
	for i, f := range frames {
		anchors[i] = f.Anchor
	}
	offsets := SolveRow(anchors, pairs, p)

	out := make([]models.PlacedFrame, n)
	for i, f := range frames {
		degraded := n > 1
		if i > 0 && pairs[i-1].OK() {
			degraded = false
		}
		if i+1 < n && pairs[i].OK() {
			degraded = false
		}
		out[i] = models.PlacedFrame{
			ProjectedFrame: f,
			Offset:         offsets[i],
			Correction:     offsets[i].Sub(f.Anchor),
			Degraded:       degraded,
		}
	}
	return out, notes
}

// Measure estimates how far the right frame b sits from the position its
// anchor predicts relative to the left frame a.
func Measure(a, b models.ProjectedFrame, p Params) Measurement {
	d0 := b.Anchor.Sub(a.Anchor)
	dix := int(math.Round(d0.X))
	diy := int(math.Round(d0.Y))

	// Overlap rectangle in a's pixel coordinates
	wa, ha := a.Pixels.Width, a.Pixels.Height
	wb, hb := b.Pixels.Width, b.Pixels.Height
	x0, x1 := max(0, dix), min(wa, dix+wb)
	y0, y1 := max(0, diy), min(ha, diy+hb)
	ow, oh := x1-x0, y1-y0
	if ow < p.MinOverlap || oh < p.MinOverlap {
		return Measurement{Reason: ReasonNoOverlap}
	}

	ga := a.Pixels.Gray()
	gb := b.Pixels.Gray()
	pa := make([]float64, ow*oh)
	pb := make([]float64, ow*oh)
	valid := make([]bool, ow*oh)
	var va, vb []float64
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			ia := (y+y0)*wa + x + x0
			ib := (y+y0-diy)*wb + x + x0 - dix
			i := y*ow + x
			pa[i], pb[i] = ga[ia], gb[ib]
			if a.Pixels.Alpha[ia] >= alphaValid && b.Pixels.Alpha[ib] >= alphaValid {
				valid[i] = true
				va = append(va, pa[i])
				vb = append(vb, pb[i])
			}
		}
	}
	if len(va) < p.MinOverlap*p.MinOverlap {
		return Measurement{Reason: ReasonNoOverlap}
	}
	if stat.Variance(va, nil) < p.MinVariance || stat.Variance(vb, nil) < p.MinVariance {
		return Measurement{Reason: ReasonFlatTexture}
	}

	// Pixels outside either frame carry no signal
	ma, mb := stat.Mean(va, nil), stat.Mean(vb, nil)
	for i, ok := range valid {
		if !ok {
			pa[i], pb[i] = ma, mb
		}
	}

	s := spectral.PhaseCorrelate(pa, pb, ow, oh)
	if s.Peak < p.MinPeak {
		return Measurement{Peak: s.Peak, Reason: ReasonWeakPeak}
	}
	corr := models.Vec2{
		X: float64(dix) - s.DX - d0.X,
		Y: float64(diy) - s.DY - d0.Y,
	}
	if math.Abs(corr.X) > p.MaxShiftFraction*float64(ow) || math.Abs(corr.Y) > p.MaxShiftFraction*float64(oh) {
		return Measurement{Correction: corr, Peak: s.Peak, Reason: ReasonShiftTooLarge}
	}
	return Measurement{Correction: corr, Peak: s.Peak}
}
