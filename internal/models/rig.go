// Package models holds the value types passed between the stitching stages.
//
// Every stage receives its inputs as values and returns freshly allocated
// outputs: no stage updates a shared rig description in place.
package models

import (
	"fmt"
	"image"
)

// RigLayout describes the camera grid and the target panorama size.
//
// A RigLayout is treated as immutable once built by the metadata loader.
// Use Columns instead of indexing ColumnsPerRow directly when the caller
// does not need the whole slice.
type RigLayout struct {
	// Rows is the number of camera rows in the rig
	Rows int

	// ColumnsPerRow holds the number of frames in each row, top to bottom
	ColumnsPerRow []int

	// FrameWidth and FrameHeight are the native dimensions shared by every frame
	FrameWidth  int
	FrameHeight int

	// NativeWidth and NativeHeight are the panorama metrics at native frame
	// resolution, before the uniform scale is applied
	NativeWidth  int
	NativeHeight int

	// PanoramaWidth and PanoramaHeight are the output canvas dimensions
	PanoramaWidth  int
	PanoramaHeight int

	// Scale is the uniform factor max(requestedW/NativeWidth, requestedH/NativeHeight)
	Scale float64

	// Overlap is the nominal horizontal overlap fraction between neighbours in a row
	Overlap float64

	// VerticalOverlap is the nominal overlap fraction between adjacent rows
	VerticalOverlap float64

	// FocalHints carries pre-supplied focal lengths per row in native pixels.
	// Zero means unknown.
	FocalHints []float64
}

// Columns returns the number of frames in row, or 0 for an unknown row.
func (l RigLayout) Columns(row int) int {
	if row < 0 || row >= len(l.ColumnsPerRow) {
		return 0
	}
	return l.ColumnsPerRow[row]
}

// FocalHint returns the pre-supplied focal length for row, or 0.
func (l RigLayout) FocalHint(row int) float64 {
	if row < 0 || row >= len(l.FocalHints) {
		return 0
	}
	return l.FocalHints[row]
}

// FrameCount returns the total number of frames described by the layout.
func (l RigLayout) FrameCount() int {
	n := 0
	for _, c := range l.ColumnsPerRow {
		n += c
	}
	return n
}

// MaxColumns returns the widest row's column count.
func (l RigLayout) MaxColumns() int {
	m := 0
	for _, c := range l.ColumnsPerRow {
		if c > m {
			m = c
		}
	}
	return m
}

// Validate checks the structural invariants of the layout.
func (l RigLayout) Validate() error {
	if l.Rows < 1 {
		return &ConfigurationError{Field: "rows", Row: -1, Column: -1, Reason: fmt.Sprintf("rig needs at least one row, got %d", l.Rows)}
	}
	if len(l.ColumnsPerRow) != l.Rows {
		return &ConfigurationError{Field: "columns", Row: -1, Column: -1,
			Reason: fmt.Sprintf("layout declares %d rows but describes %d", l.Rows, len(l.ColumnsPerRow))}
	}
	for r, c := range l.ColumnsPerRow {
		if c < 1 {
			return &ConfigurationError{Field: "columns", Row: r, Column: -1, Reason: "row has no frames"}
		}
	}
	if l.FrameWidth <= 0 || l.FrameHeight <= 0 {
		return &ConfigurationError{Field: "frame", Row: -1, Column: -1,
			Reason: fmt.Sprintf("invalid frame size %dx%d", l.FrameWidth, l.FrameHeight)}
	}
	if l.PanoramaWidth <= 0 || l.PanoramaHeight <= 0 {
		return &ConfigurationError{Field: "panorama", Row: -1, Column: -1,
			Reason: fmt.Sprintf("invalid panorama size %dx%d", l.PanoramaWidth, l.PanoramaHeight)}
	}
	if !(l.Scale > 0) {
		return &ConfigurationError{Field: "scale", Row: -1, Column: -1, Reason: fmt.Sprintf("invalid scale %g", l.Scale)}
	}
	return nil
}

// WithPanorama returns a copy of the layout with a different canvas size.
func (l RigLayout) WithPanorama(width, height int) RigLayout {
	l.PanoramaWidth, l.PanoramaHeight = width, height
	return l
}

// FrameDescriptor locates one raw camera frame in the grid.
//
// Image is owned by the caller and is only ever read by the stitching core.
type FrameDescriptor struct {
	Row    int
	Column int

	// Image is the raw pixel buffer
	Image image.Image

	// Width and Height are the native resolution of Image
	Width  int
	Height int

	// Path is the file the frame was read from, empty for in-memory frames
	Path string
}

// Key returns the grid position of the frame.
func (f FrameDescriptor) Key() GridKey {
	return GridKey{Row: f.Row, Column: f.Column}
}

// GridKey identifies a cell of the rig.
type GridKey struct {
	Row    int
	Column int
}

// Less orders keys row-major.
func (k GridKey) Less(o GridKey) bool {
	if k.Row != o.Row {
		return k.Row < o.Row
	}
	return k.Column < o.Column
}

func (k GridKey) String() string {
	return fmt.Sprintf("r%d/c%d", k.Row, k.Column)
}
