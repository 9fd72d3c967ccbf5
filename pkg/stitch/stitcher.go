// Package stitch runs the complete panorama pipeline for one job: focal
// estimation, preprocessing, alignment and compositing.
package stitch

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"panostitch/internal/models"
	"panostitch/pkg/align"
	"panostitch/pkg/blend"
	"panostitch/pkg/config"
	"panostitch/pkg/focal"
	"panostitch/pkg/preprocess"
)

// Stage names, used in logs, timings and intermediary directories
const (
	StageFocal      = "focal"
	StagePreprocess = "preprocess"
	StageAlign      = "align"
	StageComposite  = "composite"
)

// Sink receives intermediary frames when the configuration asks for them.
type Sink interface {
	SaveFrame(stage string, row, column int, img image.Image) error
}

// StageTiming is the wall time spent in one stage.
type StageTiming struct {
	Stage   string
	Elapsed time.Duration
}

// Result is the outcome of a successful stitch.
//
// A result can be degraded: Quality lists alignment fallbacks, rows that used
// the rig-wide focal length and coverage gaps. None of these are errors.
type Result struct {
	// JobID identifies the run in logs and scratch directories
	JobID string

	// Image is the composited panorama
	Image *image.NRGBA

	// Layout is the input layout with the canvas resized to projected space
	Layout models.RigLayout

	Focals  []models.FocalEstimate
	Placed  []models.PlacedFrame
	Quality models.QualitySummary
	Timings []StageTiming
}

// Total returns the summed time of every stage.
func (r *Result) Total() time.Duration {
	var d time.Duration
	for _, t := range r.Timings {
		d += t.Elapsed
	}
	return d
}

// Stitcher runs stitch jobs with one configuration.
// It holds no per-job state and may run several jobs concurrently.
type Stitcher struct {
	cfg    *config.Config
	params stageParams
	logger *log.Logger
	sink   Sink
}

// New creates a stitcher. A nil logger uses the default logger and a nil
// sink disables intermediary output.
func New(cfg *config.Config, logger *log.Logger, sink Sink) (*Stitcher, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &models.ConfigurationError{Field: "config", Row: -1, Column: -1, Err: err}
	}
	params, err := newStageParams(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Stitcher{cfg: cfg, params: params, logger: logger, sink: sink}, nil
}

// Run stitches frames laid out by layout.
//
// Cancellation is checked between stages and by every parallel task; a
// cancelled job returns the context error and no image.
func (s *Stitcher) Run(ctx context.Context, layout models.RigLayout, frames []models.FrameDescriptor) (*Result, error) {
	if len(frames) == 0 {
		return nil, &models.ConfigurationError{Field: "frames", Row: -1, Column: -1, Reason: "no input frames"}
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	res := &Result{JobID: uuid.NewString(), Layout: layout}
	logger := s.logger.With("job", res.JobID[:8])
	logger.Info("Starting stitch",
		"rows", layout.Rows, "frames", len(frames),
		"canvas", fmt.Sprintf("%dx%d", layout.PanoramaWidth, layout.PanoramaHeight),
		"scale", fmt.Sprintf("%.4f", layout.Scale))

	stage := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stitch cancelled before %s: %w", name, err)
		}
		start := time.Now()
		err := fn()
		elapsed := time.Since(start)
		res.Timings = append(res.Timings, StageTiming{Stage: name, Elapsed: elapsed})
		if err != nil {
			return fmt.Errorf("%s stage failed: %w", name, err)
		}
		logger.Info("Stage complete", "stage", name, "elapsed", elapsed.Round(time.Millisecond))
		return nil
	}

	// Step 1: per-row focal length
	err := stage(StageFocal, func() error {
		focals, err := focal.Estimate(ctx, layout, frames, s.params.focal)
		if err != nil {
			return err
		}
		res.Focals = focals
		for _, f := range focals {
			logger.Debug("Row focal", "row", f.Row, "focal", fmt.Sprintf("%.1f", f.Focal),
				"source", f.Source, "pairs", f.Pairs, "matches", f.Matches)
			if f.Source == models.SourceFallback {
				res.Quality.FallbackRows = append(res.Quality.FallbackRows, f.Row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Step 2: resize and project every frame
	var projected []models.ProjectedFrame
	err = stage(StagePreprocess, func() error {
		out, err := preprocess.Run(ctx, layout, frames, res.Focals, layout.Scale, s.params.preprocess)
		if err != nil {
			return err
		}
		projected = out
		s.saveFrames(logger, "01_projected", projected)

		// Projected frames are narrower than the raw ones and their curved
		// edges sag, so the canvas is sized from the projected rows
		geo, err := preprocess.Geometry(layout, res.Focals, layout.Scale, s.params.preprocess.Projection)
		if err != nil {
			return err
		}
		w, h := preprocess.Canvas(geo, layout)
		res.Layout = layout.WithPanorama(w, h)
		logger.Debug("Projected canvas", "canvas", fmt.Sprintf("%dx%d", w, h))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Step 3: refine placement within each row
	err = stage(StageAlign, func() error {
		placed, notes, err := align.Align(ctx, projected, s.params.align)
		if err != nil {
			return err
		}
		res.Placed = placed
		res.Quality.Alignment = notes
		for _, n := range notes {
			logger.Warn("Alignment fallback", "row", n.Row, "left", n.LeftColumn, "right", n.RightColumn, "reason", n.Reason)
		}
		for _, p := range placed {
			logger.Debug("Placed frame", "frame", p.Key(), "offset", p.Offset, "correction", p.Correction)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Step 4: blend into the canvas
	err = stage(StageComposite, func() error {
		img, coverage, err := blend.Composite(ctx, res.Placed, res.Layout, s.params.blend)
		if err != nil {
			return err
		}
		res.Image = img
		res.Quality.Coverage = coverage
		if coverage.Gap {
			logger.Warn("Coverage gap", "uncovered", fmt.Sprintf("%.2f%%", coverage.Fraction*100))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Stitch complete", "elapsed", res.Total().Round(time.Millisecond), "degraded", res.Quality.Degraded())
	return res, nil
}

// saveFrames hands projected frames to the sink. Failures are logged and
// never abort the job.
func (s *Stitcher) saveFrames(logger *log.Logger, stage string, frames []models.ProjectedFrame) {
	if s.sink == nil || !s.cfg.Output.SaveIntermediaryResults {
		return
	}
	for _, f := range frames {
		if err := s.sink.SaveFrame(stage, f.Row, f.Column, f.Pixels.ToNRGBA()); err != nil {
			logger.Warn("Failed to save intermediary frame", "stage", stage, "frame", f.Key(), "err", err)
		}
	}
}
