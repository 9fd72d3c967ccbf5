package stitch

import (
	"panostitch/internal/models"
	"panostitch/pkg/align"
	"panostitch/pkg/blend"
	"panostitch/pkg/config"
	"panostitch/pkg/features"
	"panostitch/pkg/focal"
	"panostitch/pkg/metadata"
	"panostitch/pkg/preprocess"
	"panostitch/pkg/projection"
)

// stageParams holds the parameters of every stage, derived once from the
// configuration.
type stageParams struct {
	focal      focal.Params
	preprocess preprocess.Params
	align      align.Params
	blend      blend.Params
}

func newStageParams(cfg *config.Config) (stageParams, error) {
	kind, err := projection.ParseKind(cfg.Processing.Projection)
	if err != nil {
		return stageParams{}, &models.ConfigurationError{Field: "processing.projection", Row: -1, Column: -1, Err: err}
	}
	mode, err := blend.ParseMode(cfg.Blending.Mode)
	if err != nil {
		return stageParams{}, &models.ConfigurationError{Field: "blending.mode", Row: -1, Column: -1, Err: err}
	}
	bg, err := blend.ParseColor(cfg.Blending.Background)
	if err != nil {
		return stageParams{}, &models.ConfigurationError{Field: "blending.background", Row: -1, Column: -1, Err: err}
	}
	workers := max(1, cfg.Processing.NumWorkers)

	fp := focal.DefaultParams()
	fp.Features = features.DefaultParams()
	fp.Features.MaxCorners = cfg.Features.MaxCorners
	fp.Features.HarrisK = cfg.Features.HarrisK
	fp.Features.Sigma = cfg.Features.Sigma
	fp.Features.Threshold = cfg.Features.Threshold
	fp.Features.PatchRadius = cfg.Features.PatchRadius
	fp.Features.RatioTest = cfg.Features.RatioTest
	fp.DetectionMaxDim = cfg.Features.DetectionMaxDim
	fp.MinMatches = cfg.Focal.MinMatches
	fp.MinFactor = cfg.Focal.MinFactor
	fp.MaxFactor = cfg.Focal.MaxFactor
	fp.DefaultFocal = cfg.Focal.Default
	fp.DefaultFOV = cfg.Focal.DefaultFOV
	fp.Workers = workers

	return stageParams{
		focal: fp,
		preprocess: preprocess.Params{
			Projection: kind,
			Workers:    workers,
		},
		align: align.Params{
			MinOverlap:       cfg.Alignment.MinOverlap,
			MinPeak:          cfg.Alignment.MinPeak,
			MinVariance:      cfg.Alignment.MinVariance,
			MaxShiftFraction: cfg.Alignment.MaxShiftFraction,
			SpanWeight:       cfg.Alignment.SpanWeight,
			PriorWeight:      cfg.Alignment.PriorWeight,
			Workers:          workers,
		},
		blend: blend.Params{
			Mode:          mode,
			FeatherRadius: cfg.Blending.FeatherRadius,
			BandSigma:     cfg.Blending.BandSigma,
			Background:    bg,
			GapTolerance:  cfg.Blending.GapTolerance,
			TileHeight:    cfg.Processing.TileHeight,
			Workers:       workers,
		},
	}, nil
}

// MetadataOptions returns the loader options for a requested output size,
// taking the nominal overlaps from the configuration.
func MetadataOptions(cfg *config.Config, width, height int) metadata.Options {
	return metadata.Options{
		Width:           width,
		Height:          height,
		Overlap:         cfg.Layout.Overlap,
		VerticalOverlap: cfg.Layout.VerticalOverlap,
	}
}
