package models

import (
	"fmt"
	"math"

	"panostitch/pkg/raster"
)

// Vec2 is a sub-pixel position or displacement in panorama space.
type Vec2 struct {
	X, Y float64
}

// Add returns v+o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Sub returns v-o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// Len returns the Euclidean length of v.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

func (v Vec2) String() string { return fmt.Sprintf("(%.2f, %.2f)", v.X, v.Y) }

// FocalSource records how a row's focal length was obtained.
type FocalSource int

const (
	// SourceMeasured comes from feature correspondences between neighbours
	SourceMeasured FocalSource = iota
	// SourceHint comes from pre-supplied intrinsics
	SourceHint
	// SourceFallback is the rig-wide value used for single-frame rows
	SourceFallback
)

func (s FocalSource) String() string {
	switch s {
	case SourceMeasured:
		return "measured"
	case SourceHint:
		return "hint"
	case SourceFallback:
		return "fallback"
	default:
		return fmt.Sprintf("FocalSource(%d)", int(s))
	}
}

// FocalEstimate is the effective focal length of one rig row.
type FocalEstimate struct {
	Row int

	// Focal is in native frame pixels. Always finite and positive.
	Focal float64

	// Step is the median yaw between adjacent cameras in radians.
	// Zero when it was not measured.
	Step float64

	Source FocalSource

	// Pairs and Matches summarise the evidence behind a measured estimate
	Pairs   int
	Matches int
}

// Valid reports whether the focal length is usable for projection.
func (f FocalEstimate) Valid() bool {
	return f.Focal > 0 && !math.IsInf(f.Focal, 0) && !math.IsNaN(f.Focal)
}

// ProjectedFrame is a frame resampled into panorama space.
//
// Pixels is owned by the stage that produced it. The next stage derives new
// values from it and never writes into it.
type ProjectedFrame struct {
	Row    int
	Column int

	// Pixels holds the projected buffer; its alpha channel marks valid pixels
	Pixels *raster.Raster

	// Anchor is the model-predicted top-left position on the canvas
	Anchor Vec2

	// Focal is the focal length used for projection, in resized pixels
	Focal float64
}

// Key returns the grid position of the frame.
func (p ProjectedFrame) Key() GridKey {
	return GridKey{Row: p.Row, Column: p.Column}
}

// PlacedFrame is a projected frame with its final canvas offset.
type PlacedFrame struct {
	ProjectedFrame

	// Offset is the refined top-left position on the canvas
	Offset Vec2

	// Correction is Offset minus Anchor
	Correction Vec2

	// Degraded is set when no pair involving this frame could be measured
	Degraded bool
}
