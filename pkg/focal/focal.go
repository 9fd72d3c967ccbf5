// Package focal estimates the effective focal length of every rig row from
// feature correspondences between horizontally adjacent frames.
//
// Each row is handled on its own: a hinted row uses its hint, a row with two
// or more frames is measured pair by pair, and a single-frame row falls back
// to a rig-wide value.
package focal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/nfnt/resize"
	"golang.org/x/sync/errgroup"

	"panostitch/internal/models"
	"panostitch/pkg/features"
	"panostitch/pkg/raster"
)

// Params controls focal estimation.
type Params struct {
	Features features.Params

	// MinMatches is the number of gated correspondences a pair needs
	MinMatches int

	// MinFactor and MaxFactor bound the search as multiples of frame width
	MinFactor float64
	MaxFactor float64

	// DefaultFocal is the rig-wide fallback in native pixels; zero derives
	// it from DefaultFOV
	DefaultFocal float64

	// DefaultFOV is the horizontal field of view in degrees assumed when
	// nothing else is known
	DefaultFOV float64

	// DetectionMaxDim bounds the longer side of the detection copy
	DetectionMaxDim int

	// Workers bounds concurrent detection and pair solving
	Workers int
}

// DefaultParams returns the estimator defaults.
func DefaultParams() Params {
	return Params{
		Features:        features.DefaultParams(),
		MinMatches:      8,
		MinFactor:       0.25,
		MaxFactor:       8,
		DefaultFOV:      60,
		DetectionMaxDim: 1024,
		Workers:         4,
	}
}

// detection is a frame's grey working copy and its features.
type detection struct {
	width, height int
	// scale converts native pixels into detection pixels
	scale    float64
	features []features.Feature
}

// pairOutcome is the result of solving one pair of neighbours.
type pairOutcome struct {
	fit     pairFit
	ok      bool
	matches int
	scale   float64
}

// Estimate returns one focal estimate per row of layout, in row order.
//
// Rows whose focal length cannot be measured are all reported together: the
// returned error joins one *models.CalibrationError per failing row.
func Estimate(ctx context.Context, layout models.RigLayout, frames []models.FrameDescriptor, p Params) ([]models.FocalEstimate, error) {
	grid, err := gridOf(layout, frames)
	if err != nil {
		return nil, err
	}

	// Detect features on every frame of a row that needs measuring
	dets := make([][]*detection, layout.Rows)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Workers))
	for r := 0; r < layout.Rows; r++ {
		dets[r] = make([]*detection, len(grid[r]))
		if !needsMeasuring(layout, r) {
			continue
		}
		for c := range grid[r] {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				dets[r][c] = detect(grid[r][c].Image, p)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("feature detection: %w", err)
	}

	// Solve every adjacent pair
	outcomes := make([][]pairOutcome, layout.Rows)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Workers))
	for r := 0; r < layout.Rows; r++ {
		if !needsMeasuring(layout, r) {
			continue
		}
		outcomes[r] = make([]pairOutcome, len(grid[r])-1)
		for c := 0; c+1 < len(grid[r]); c++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes[r][c] = solveNeighbours(dets[r][c], dets[r][c+1], p)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("focal solve: %w", err)
	}

	estimates := make([]models.FocalEstimate, layout.Rows)
	var failures []*models.CalibrationError
	var pending []int
	for r := 0; r < layout.Rows; r++ {
		est := models.FocalEstimate{Row: r}
		switch {
		case layout.FocalHint(r) > 0:
			est.Focal = layout.FocalHint(r)
			est.Source = models.SourceHint
		case len(grid[r]) == 1:
			pending = append(pending, r)
			continue
		default:
			est, err = combine(r, outcomes[r])
			if err != nil {
				var ce *models.CalibrationError
				if errors.As(err, &ce) {
					failures = append(failures, ce)
					continue
				}
				return nil, err
			}
		}
		estimates[r] = est
	}

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Row < failures[j].Row })
		errs := make([]error, len(failures))
		for i, f := range failures {
			errs[i] = f
		}
		return nil, errors.Join(errs...)
	}

	// Single-frame rows share the rig-wide value
	fallback := Fallback(estimates, layout.FrameWidth, p)
	for _, r := range pending {
		estimates[r] = models.FocalEstimate{Row: r, Focal: fallback, Source: models.SourceFallback}
	}

	for _, est := range estimates {
		if !est.Valid() {
			return nil, &models.CalibrationError{Row: est.Row, Reason: fmt.Sprintf("non-finite focal length %g", est.Focal), Err: models.ErrUnresolved}
		}
	}
	return estimates, nil
}

// Fallback returns the rig-wide focal length used for rows that cannot be
// measured: the median of the known rows, else the configured default, else
// the focal length giving DefaultFOV across frameWidth.
func Fallback(known []models.FocalEstimate, frameWidth int, p Params) float64 {
	var values []float64
	for _, e := range known {
		if e.Valid() && e.Source != models.SourceFallback {
			values = append(values, e.Focal)
		}
	}
	if len(values) > 0 {
		return median(values)
	}
	if p.DefaultFocal > 0 {
		return p.DefaultFocal
	}
	fov := p.DefaultFOV
	if fov <= 0 || fov >= 180 {
		fov = 60
	}
	return float64(frameWidth) / (2 * math.Tan(fov*math.Pi/360))
}

// gridOf indexes frames by row and column and checks them against layout.
func gridOf(layout models.RigLayout, frames []models.FrameDescriptor) ([][]models.FrameDescriptor, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	grid := make([][]models.FrameDescriptor, layout.Rows)
	seen := make([][]bool, layout.Rows)
	for r := range grid {
		grid[r] = make([]models.FrameDescriptor, layout.Columns(r))
		seen[r] = make([]bool, layout.Columns(r))
	}
	for _, f := range frames {
		if f.Row < 0 || f.Row >= layout.Rows || f.Column < 0 || f.Column >= layout.Columns(f.Row) {
			return nil, &models.ConfigurationError{Field: "frame", Row: f.Row, Column: f.Column, Reason: "frame outside the rig layout"}
		}
		if seen[f.Row][f.Column] {
			return nil, &models.ConfigurationError{Field: "frame", Row: f.Row, Column: f.Column, Reason: "duplicate frame"}
		}
		if f.Image == nil {
			return nil, &models.ConfigurationError{Field: "frame", Row: f.Row, Column: f.Column, Reason: "nil image"}
		}
		seen[f.Row][f.Column] = true
		grid[f.Row][f.Column] = f
	}
	for r := range seen {
		for c, ok := range seen[r] {
			if !ok {
				return nil, &models.ConfigurationError{Field: "frame", Row: r, Column: c, Reason: "missing frame"}
			}
		}
	}
	return grid, nil
}

func needsMeasuring(layout models.RigLayout, row int) bool {
	return layout.FocalHint(row) <= 0 && layout.Columns(row) >= 2
}

// detect builds the detection copy of img and finds its features.
func detect(img image.Image, p Params) *detection {
	b := img.Bounds()
	work := img
	if p.DetectionMaxDim > 0 && max(b.Dx(), b.Dy()) > p.DetectionMaxDim {
		work = resize.Thumbnail(uint(p.DetectionMaxDim), uint(p.DetectionMaxDim), img, resize.Bilinear)
	}
	r := raster.FromImage(work)
	return &detection{
		width:    r.Width,
		height:   r.Height,
		scale:    float64(r.Width) / float64(b.Dx()),
		features: features.Detect(r.Gray(), r.Width, r.Height, p.Features),
	}
}

// solveNeighbours matches a left frame a against its right neighbour b and
// solves for the focal length.
func solveNeighbours(a, b *detection, p Params) pairOutcome {
	out := pairOutcome{scale: a.scale}
	corr := correspondences(a, b, p.Features.RatioTest)
	out.matches = len(corr)
	out.fit, out.ok = solvePair(corr, float64(a.width), p)
	return out
}

// correspondences matches descriptors and keeps the pairs consistent with a
// left-to-right neighbour: the point sits further right in a than in b, and
// its displacement agrees with the median displacement.
func correspondences(a, b *detection, ratio float64) []correspondence {
	matches := features.MatchFeatures(a.features, b.features, ratio)
	cxA, cyA := float64(a.width-1)/2, float64(a.height-1)/2
	cxB, cyB := float64(b.width-1)/2, float64(b.height-1)/2

	var corr []correspondence
	for _, m := range matches {
		fa, fb := a.features[m.A], b.features[m.B]
		c := correspondence{xa: fa.X - cxA, ya: fa.Y - cyA, xb: fb.X - cxB, yb: fb.Y - cyB}
		if c.xa > c.xb {
			corr = append(corr, c)
		}
	}
	if len(corr) == 0 {
		return nil
	}

	dx := make([]float64, len(corr))
	dy := make([]float64, len(corr))
	for i, c := range corr {
		dx[i] = c.xa - c.xb
		dy[i] = c.ya - c.yb
	}
	mdx, mdy := median(dx), median(dy)
	maxDX, maxDY := 0.15*float64(a.width), 0.1*float64(a.height)

	gated := corr[:0]
	for i, c := range corr {
		if math.Abs(dx[i]-mdx) <= maxDX && math.Abs(dy[i]-mdy) <= maxDY {
			gated = append(gated, c)
		}
	}
	return gated
}

// combine turns a row's pair outcomes into the row estimate.
func combine(row int, outcomes []pairOutcome) (models.FocalEstimate, error) {
	var focals, steps []float64
	best, total := 0, 0
	for _, o := range outcomes {
		best = max(best, o.matches)
		if !o.ok {
			continue
		}
		// Detection pixels back to native pixels; the yaw step is scale free
		focals = append(focals, o.fit.focal/o.scale)
		steps = append(steps, o.fit.step)
		total += o.fit.inliers
	}
	if len(focals) == 0 {
		return models.FocalEstimate{}, &models.CalibrationError{
			Row:     row,
			Pairs:   len(outcomes),
			Matches: best,
			Reason:  "no adjacent pair produced a consistent focal length",
			Err:     models.ErrUnresolved,
		}
	}
	return models.FocalEstimate{
		Row:     row,
		Focal:   median(focals),
		Step:    median(steps),
		Source:  models.SourceMeasured,
		Pairs:   len(focals),
		Matches: total,
	}, nil
}
