// Package metadata builds the rig layout and frame descriptors from a folder
// of frames or an in-memory grid of images.
//
// A folder may contain a manifest (rig.yaml, rig.yml or rig.toml) listing the
// frame files row by row. Without a manifest, the row and column of each frame
// are taken from the last two integers in its file name, so that
// "pano_r01_c03.jpg" is row 1, column 3. Indices are counted from the
// smallest row and column present, so a folder numbered from 1 is read the
// same as one numbered from 0.
package metadata

import (
	"fmt"
	"image"
	"math"
	"sort"

	"panostitch/internal/models"
)

// Options carries the caller's request and layout defaults.
type Options struct {
	// Width and Height are the requested output size. Zero or negative
	// means "derive from the other dimension"; both unset keeps native size.
	Width  int
	Height int

	// Overlap and VerticalOverlap are nominal overlap fractions, used unless
	// a manifest overrides them
	Overlap         float64
	VerticalOverlap float64

	// FocalHints are pre-supplied per-row focal lengths in native pixels
	FocalHints []float64

	// NativeWidth and NativeHeight override the derived panorama metrics
	NativeWidth  int
	NativeHeight int
}

// cell is one frame before the layout is validated
type cell struct {
	row, col int
	img      image.Image
	path     string
}

// FromImages builds a layout from grid[row][column]. Nil images are rejected.
func FromImages(grid [][]image.Image, opts Options) (models.RigLayout, []models.FrameDescriptor, error) {
	var cells []cell
	for r, row := range grid {
		for c, img := range row {
			if img == nil {
				return models.RigLayout{}, nil, &models.ConfigurationError{Field: "frame", Row: r, Column: c, Reason: "nil image"}
			}
			cells = append(cells, cell{row: r, col: c, img: img})
		}
	}
	return build(cells, opts)
}

// build validates the grid, computes the panorama metrics and scale, and
// returns frames sorted row-major.
func build(cells []cell, opts Options) (models.RigLayout, []models.FrameDescriptor, error) {
	if len(cells) == 0 {
		return models.RigLayout{}, nil, &models.ConfigurationError{Field: "frames", Row: -1, Column: -1, Reason: "no input frames"}
	}
	if opts.Overlap < 0 || opts.Overlap >= 0.95 {
		return models.RigLayout{}, nil, &models.ConfigurationError{Field: "overlap", Row: -1, Column: -1,
			Reason: fmt.Sprintf("overlap %g outside [0, 0.95)", opts.Overlap)}
	}
	if opts.VerticalOverlap < 0 || opts.VerticalOverlap >= 0.95 {
		return models.RigLayout{}, nil, &models.ConfigurationError{Field: "verticalOverlap", Row: -1, Column: -1,
			Reason: fmt.Sprintf("vertical overlap %g outside [0, 0.95)", opts.VerticalOverlap)}
	}

	sort.Slice(cells, func(i, j int) bool {
		if cells[i].row != cells[j].row {
			return cells[i].row < cells[j].row
		}
		return cells[i].col < cells[j].col
	})

	// Rows and columns must be contiguous from zero with no duplicates
	for _, c := range cells {
		if c.row < 0 || c.col < 0 {
			return models.RigLayout{}, nil, &models.ConfigurationError{Field: "grid", Row: c.row, Column: c.col, Reason: "negative grid index"}
		}
	}
	rows := cells[len(cells)-1].row + 1
	columns := make([]int, rows)
	for i, c := range cells {
		if i > 0 && cells[i-1].row == c.row && cells[i-1].col == c.col {
			return models.RigLayout{}, nil, &models.ConfigurationError{Field: "grid", Row: c.row, Column: c.col, Reason: "duplicate frame"}
		}
		if c.col != columns[c.row] {
			return models.RigLayout{}, nil, &models.ConfigurationError{Field: "grid", Row: c.row, Column: columns[c.row],
				Reason: "missing frame in row"}
		}
		columns[c.row]++
	}
	for r, n := range columns {
		if n == 0 {
			return models.RigLayout{}, nil, &models.ConfigurationError{Field: "grid", Row: r, Column: -1, Reason: "row has no frames"}
		}
	}

	// All frames share the native resolution of the first one
	b := cells[0].img.Bounds()
	fw, fh := b.Dx(), b.Dy()
	if fw <= 0 || fh <= 0 {
		return models.RigLayout{}, nil, &models.ConfigurationError{Field: "frame", Row: cells[0].row, Column: cells[0].col, Reason: "empty image"}
	}
	frames := make([]models.FrameDescriptor, len(cells))
	for i, c := range cells {
		cb := c.img.Bounds()
		if cb.Dx() != fw || cb.Dy() != fh {
			return models.RigLayout{}, nil, &models.ConfigurationError{Field: "frame", Row: c.row, Column: c.col,
				Reason: fmt.Sprintf("frame is %dx%d, expected %dx%d", cb.Dx(), cb.Dy(), fw, fh)}
		}
		frames[i] = models.FrameDescriptor{Row: c.row, Column: c.col, Image: c.img, Width: fw, Height: fh, Path: c.path}
	}

	if len(opts.FocalHints) > rows {
		return models.RigLayout{}, nil, &models.ConfigurationError{Field: "focal", Row: -1, Column: -1,
			Reason: fmt.Sprintf("%d focal hints for %d rows", len(opts.FocalHints), rows)}
	}
	hints := make([]float64, rows)
	for r, f := range opts.FocalHints {
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return models.RigLayout{}, nil, &models.ConfigurationError{Field: "focal", Row: r, Column: -1, Reason: fmt.Sprintf("invalid focal hint %g", f)}
		}
		hints[r] = f
	}

	layout := models.RigLayout{
		Rows:            rows,
		ColumnsPerRow:   columns,
		FrameWidth:      fw,
		FrameHeight:     fh,
		Overlap:         opts.Overlap,
		VerticalOverlap: opts.VerticalOverlap,
		FocalHints:      hints,
	}
	layout.NativeWidth, layout.NativeHeight = NativeMetrics(layout, opts.NativeWidth, opts.NativeHeight)
	layout.Scale = Scale(opts.Width, opts.Height, layout.NativeWidth, layout.NativeHeight)
	layout.PanoramaWidth = max(1, int(math.Round(float64(layout.NativeWidth)*layout.Scale)))
	layout.PanoramaHeight = max(1, int(math.Round(float64(layout.NativeHeight)*layout.Scale)))

	if err := layout.Validate(); err != nil {
		return models.RigLayout{}, nil, err
	}
	return layout, frames, nil
}

// NativeMetrics returns the panorama size at native frame resolution. Explicit
// values win; otherwise the widest row and the row count are combined with
// the nominal overlaps.
func NativeMetrics(layout models.RigLayout, width, height int) (int, int) {
	if width <= 0 {
		cols := float64(layout.MaxColumns())
		width = int(math.Round(float64(layout.FrameWidth) * (cols - (cols-1)*layout.Overlap)))
	}
	if height <= 0 {
		rows := float64(layout.Rows)
		height = int(math.Round(float64(layout.FrameHeight) * (rows - (rows-1)*layout.VerticalOverlap)))
	}
	return width, height
}

// Scale returns the uniform factor that makes the native panorama cover the
// requested size while preserving its aspect ratio.
func Scale(requestedW, requestedH, nativeW, nativeH int) float64 {
	sx := float64(requestedW) / float64(nativeW)
	sy := float64(requestedH) / float64(nativeH)
	switch {
	case requestedW > 0 && requestedH > 0:
		return math.Max(sx, sy)
	case requestedW > 0:
		return sx
	case requestedH > 0:
		return sy
	default:
		return 1
	}
}
