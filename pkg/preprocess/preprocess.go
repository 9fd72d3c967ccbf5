// Package preprocess resizes every raw frame to the output scale and
// projects it onto the panorama surface, predicting where it lands on the
// canvas from the rig model alone.
package preprocess

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"panostitch/internal/models"
	"panostitch/pkg/projection"
	"panostitch/pkg/raster"
)

// Params controls preprocessing.
type Params struct {
	Projection projection.Kind

	// Workers bounds the number of frames processed at once
	Workers int
}

// RowGeometry is the predicted placement of one rig row at output scale.
type RowGeometry struct {
	Row int

	// Focal is the row focal length in output pixels
	Focal float64

	// FrameWidth and FrameHeight are the projected buffer size
	FrameWidth  int
	FrameHeight int

	// Inset is how far the curved top and bottom edges of a projected frame
	// reach into the buffer at the frame's left and right ends
	Inset int

	// Step is the horizontal distance between neighbouring anchors
	Step float64

	// Origin is the anchor of the row's first frame
	Origin models.Vec2
}

// Anchor returns the predicted top-left canvas position of column.
func (g RowGeometry) Anchor(column int) models.Vec2 {
	return models.Vec2{X: g.Origin.X + float64(column)*g.Step, Y: g.Origin.Y}
}

// Width returns the horizontal extent of a row of n frames.
func (g RowGeometry) Width(n int) float64 {
	return float64(g.FrameWidth) + float64(max(n-1, 0))*g.Step
}

// Geometry predicts the placement of every row.
//
// Neighbours in a row are a measured yaw step apart when one is known, and
// otherwise the nominal overlap apart. Rows are stacked top to bottom with the
// nominal vertical overlap and centred horizontally on the widest row.
func Geometry(layout models.RigLayout, focals []models.FocalEstimate, scale float64, kind projection.Kind) ([]RowGeometry, error) {
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, &models.ConfigurationError{Field: "scale", Row: -1, Column: -1, Reason: fmt.Sprintf("invalid scale %g", scale)}
	}
	byRow := make(map[int]models.FocalEstimate, len(focals))
	for _, f := range focals {
		byRow[f.Row] = f
	}

	sw, sh := raster.ScaledSize(layout.FrameWidth, layout.FrameHeight, scale)
	rows := make([]RowGeometry, layout.Rows)
	widest := 0.0
	y := 0.0
	for r := range rows {
		est, ok := byRow[r]
		if !ok || !est.Valid() {
			return nil, &models.CalibrationError{Row: r, Reason: "no usable focal length for row", Err: models.ErrUnresolved}
		}
		m := projection.Model{Kind: kind, Focal: est.Focal * scale}
		pw, ph := m.Extent(sw, sh)
		_, v := m.Forward(float64(sw)/2, float64(sh)/2)
		inset := max(0, int(math.Ceil((float64(ph)-1)/2-v-1e-9)))

		step := float64(pw) * (1 - layout.Overlap)
		if est.Step > 0 && kind != projection.Planar {
			step = m.Focal * est.Step
		}
		rows[r] = RowGeometry{Row: r, Focal: m.Focal, FrameWidth: pw, FrameHeight: ph, Inset: inset, Step: step}
		rows[r].Origin.Y = y
		y += float64(ph) * (1 - layout.VerticalOverlap)
		widest = math.Max(widest, rows[r].Width(layout.Columns(r)))
	}
	for r := range rows {
		rows[r].Origin.X = (widest - rows[r].Width(layout.Columns(r))) / 2
	}
	return rows, nil
}

// Canvas returns the panorama size in projected space: the widest row, and
// the band from the top row's inset upper edge to the bottom row's inset
// lower edge.
func Canvas(rows []RowGeometry, layout models.RigLayout) (int, int) {
	if len(rows) == 0 {
		return 0, 0
	}
	widest := 0.0
	for _, g := range rows {
		widest = math.Max(widest, g.Width(layout.Columns(g.Row)))
	}
	first, last := rows[0], rows[len(rows)-1]
	top := first.Origin.Y + float64(first.Inset)
	bottom := last.Origin.Y + float64(last.FrameHeight-last.Inset)
	return max(1, int(math.Floor(widest+1e-9))), max(1, int(math.Floor(bottom-top+1e-9)))
}

// Run resizes and projects every frame. The result has one entry per input
// frame, in input order. Inputs are never modified.
func Run(ctx context.Context, layout models.RigLayout, frames []models.FrameDescriptor, focals []models.FocalEstimate, scale float64, p Params) ([]models.ProjectedFrame, error) {
	if len(frames) == 0 {
		return nil, &models.ConfigurationError{Field: "frames", Row: -1, Column: -1, Reason: "no frames to preprocess"}
	}
	geo, err := Geometry(layout, focals, scale, p.Projection)
	if err != nil {
		return nil, err
	}
	for _, f := range frames {
		if f.Row < 0 || f.Row >= len(geo) || f.Column < 0 || f.Column >= layout.Columns(f.Row) {
			return nil, &models.ConfigurationError{Field: "frame", Row: f.Row, Column: f.Column, Reason: "frame outside the rig layout"}
		}
		if f.Image == nil {
			return nil, &models.ConfigurationError{Field: "frame", Row: f.Row, Column: f.Column, Reason: "nil image"}
		}
	}

	out := make([]models.ProjectedFrame, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Workers))
	for i, f := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rg := geo[f.Row]
			out[i] = models.ProjectedFrame{
				Row:    f.Row,
				Column: f.Column,
				Pixels: Project(f, rg.Focal, scale, p.Projection),
				Anchor: rg.Anchor(f.Column),
				Focal:  rg.Focal,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	return out, nil
}

// Project resizes one frame by scale and warps it with focal, given in
// output pixels.
func Project(f models.FrameDescriptor, focal, scale float64, kind projection.Kind) *raster.Raster {
	resized := raster.FromImage(raster.Resize(f.Image, scale))
	return projection.Warp(resized, projection.Model{Kind: kind, Focal: focal})
}
