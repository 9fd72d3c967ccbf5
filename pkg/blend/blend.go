// Package blend composites placed frames into the output canvas.
//
// The canvas is split into horizontal tiles. Each tile is owned by exactly
// one goroutine, which accumulates every frame overlapping it and normalises
// the result, so no two goroutines ever write the same pixel. Frames are
// always accumulated in (row, column) order, which makes the output
// independent of the order they were passed in.
package blend

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"panostitch/internal/models"
	"panostitch/pkg/raster"
)

// Mode selects how overlapping frames are weighted.
type Mode int

const (
	// Feather weights pixels by their distance to the frame edge
	Feather Mode = iota
	// TwoBand feathers low frequencies and takes high frequencies from the
	// most central frame
	TwoBand
	// Average weights every valid pixel equally
	Average
)

func (m Mode) String() string {
	switch m {
	case Feather:
		return "feather"
	case TwoBand:
		return "twoband"
	case Average:
		return "average"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a configuration name into a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "feather":
		return Feather, nil
	case "twoband", "two-band", "multiband":
		return TwoBand, nil
	case "average", "mean":
		return Average, nil
	default:
		return Feather, fmt.Errorf("unknown blend mode %q", name)
	}
}

// ParseColor parses a "#rrggbb" colour.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// Params controls compositing.
type Params struct {
	Mode Mode

	// FeatherRadius caps the distance ramp in pixels; zero is unlimited
	FeatherRadius float64

	// BandSigma is the Gaussian sigma splitting the two bands
	BandSigma float64

	// Background fills canvas pixels no frame reaches
	Background color.NRGBA

	// GapTolerance is the uncovered fraction above which a gap is reported
	GapTolerance float64

	// TileHeight is the number of canvas rows owned by one task
	TileHeight int

	Workers int
}

// DefaultParams returns the compositing defaults.
func DefaultParams() Params {
	return Params{
		Mode:         Feather,
		BandSigma:    2,
		Background:   color.NRGBA{A: 255},
		GapTolerance: 0.01,
		TileHeight:   64,
		Workers:      4,
	}
}

// layer is one frame ready for accumulation.
type layer struct {
	frame  models.PlacedFrame
	x0, y0 int
	weight []float32

	// top and bottom bound the weighted pixels of every column, -1 when
	// the column has none
	top, bottom []int

	// low is the low band for TwoBand, nil otherwise
	low *raster.Raster
}

func (l *layer) width() int  { return l.frame.Pixels.Width }
func (l *layer) height() int { return l.frame.Pixels.Height }

// Composite blends placed frames into a canvas of the layout's panorama size.
// The content region of the frames, their union trimmed to the band the top
// and bottom rig rows fill, is centred on the canvas.
func Composite(ctx context.Context, placed []models.PlacedFrame, layout models.RigLayout, p Params) (*image.NRGBA, models.CoverageSummary, error) {
	if len(placed) == 0 {
		return nil, models.CoverageSummary{}, &models.ConfigurationError{Field: "frames", Row: -1, Column: -1, Reason: "nothing to composite"}
	}
	cw, ch := layout.PanoramaWidth, layout.PanoramaHeight
	if cw <= 0 || ch <= 0 {
		return nil, models.CoverageSummary{}, &models.ConfigurationError{Field: "panorama", Row: -1, Column: -1,
			Reason: fmt.Sprintf("invalid canvas size %dx%d", cw, ch)}
	}

	layers, err := prepare(ctx, placed, cw, ch, p)
	if err != nil {
		return nil, models.CoverageSummary{}, err
	}

	tileH := max(1, p.TileHeight)
	tiles := (ch + tileH - 1) / tileH
	img := image.NewNRGBA(image.Rect(0, 0, cw, ch))
	uncovered := make([]int, tiles)
	columns := make([][]int, tiles)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Workers))
	for t := 0; t < tiles; t++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			y0 := t * tileH
			y1 := min(ch, y0+tileH)
			uncovered[t], columns[t] = renderTile(img, layers, y0, y1, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, models.CoverageSummary{}, fmt.Errorf("composite: %w", err)
	}

	summary := models.CoverageSummary{
		Width:         cw,
		Height:        ch,
		Tolerance:     p.GapTolerance,
		ColumnProfile: make([]float64, cw),
	}
	covered := make([]int, cw)
	for t := range uncovered {
		summary.Uncovered += uncovered[t]
		for x, n := range columns[t] {
			covered[x] += n
		}
	}
	for x, n := range covered {
		summary.ColumnProfile[x] = float64(n) / float64(ch)
	}
	summary.Fraction = float64(summary.Uncovered) / float64(cw*ch)
	summary.Gap = summary.Fraction > p.GapTolerance
	return img, summary, nil
}

// prepare sorts the frames, places them on the canvas and computes their
// weights in parallel.
func prepare(ctx context.Context, placed []models.PlacedFrame, cw, ch int, p Params) ([]*layer, error) {
	sorted := append([]models.PlacedFrame(nil), placed...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key().Less(sorted[j].Key()) })

	layers := make([]*layer, len(sorted))
	for i, f := range sorted {
		if f.Pixels == nil {
			return nil, &models.ConfigurationError{Field: "frame", Row: f.Row, Column: f.Column, Reason: "placed frame has no pixels"}
		}
		if i > 0 && sorted[i-1].Key() == f.Key() {
			return nil, &models.ConfigurationError{Field: "frame", Row: f.Row, Column: f.Column, Reason: "duplicate frame"}
		}
		l := &layer{frame: f, x0: int(math.Round(f.Offset.X)), y0: int(math.Round(f.Offset.Y))}
		layers[i] = l
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Workers))
	for _, l := range layers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			px := l.frame.Pixels
			switch p.Mode {
			case Average:
				l.weight = uniformWeights(px)
			case TwoBand:
				l.weight = featherWeights(px, p.FeatherRadius)
				l.low = px.LowPass(p.BandSigma)
			default:
				l.weight = featherWeights(px, p.FeatherRadius)
			}
			l.top, l.bottom = columnSpans(l.weight, px.Width, px.Height)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("blend weights: %w", err)
	}

	c := content(layers)
	dx := (cw-c.Dx())/2 - c.Min.X
	dy := (ch-c.Dy())/2 - c.Min.Y
	for _, l := range layers {
		l.x0 += dx
		l.y0 += dy
	}
	return layers, nil
}

// columnSpans returns, for every column of a weight plane, the first
// weighted row and one past the last, or -1 for both when the column is empty.
func columnSpans(weight []float32, width, height int) ([]int, []int) {
	top := make([]int, width)
	bottom := make([]int, width)
	for x := 0; x < width; x++ {
		top[x], bottom[x] = -1, -1
		for y := 0; y < height; y++ {
			if weight[y*width+x] > 0 {
				top[x] = y
				break
			}
		}
		for y := height - 1; y >= top[x] && top[x] >= 0; y-- {
			if weight[y*width+x] > 0 {
				bottom[x] = y + 1
				break
			}
		}
	}
	return top, bottom
}

// content returns the region coverage can fill: the horizontal union of all
// layers, between the lowest top edge of the top rig row and the highest
// bottom edge of the bottom rig row. Projected frames have curved top and
// bottom edges, which this trims. Columns a row does not reach are skipped,
// so gaps inside a row stay inside the region. layers are sorted by row.
func content(layers []*layer) image.Rectangle {
	var union image.Rectangle
	for _, l := range layers {
		union = union.Union(image.Rect(l.x0, l.y0, l.x0+l.width(), l.y0+l.height()))
	}
	topRow := layers[0].frame.Row
	bottomRow := layers[len(layers)-1].frame.Row

	w := union.Dx()
	top := make([]int, w)
	bottom := make([]int, w)
	for x := range top {
		top[x], bottom[x] = math.MaxInt, math.MinInt
	}
	for _, l := range layers {
		for x := range l.top {
			if l.top[x] < 0 {
				continue
			}
			cx := l.x0 + x - union.Min.X
			if l.frame.Row == topRow {
				top[cx] = min(top[cx], l.y0+l.top[x])
			}
			if l.frame.Row == bottomRow {
				bottom[cx] = max(bottom[cx], l.y0+l.bottom[x])
			}
		}
	}

	y0, y1 := math.MinInt, math.MaxInt
	for x := range top {
		if top[x] != math.MaxInt {
			y0 = max(y0, top[x])
		}
		if bottom[x] != math.MinInt {
			y1 = min(y1, bottom[x])
		}
	}
	if y0 == math.MinInt || y1 == math.MaxInt || y1 <= y0 {
		return union
	}
	return image.Rect(union.Min.X, y0, union.Max.X, y1)
}

// renderTile accumulates and normalises canvas rows [y0, y1). It returns the
// number of uncovered pixels and the covered count of every column.
func renderTile(img *image.NRGBA, layers []*layer, y0, y1 int, p Params) (int, []int) {
	cw := img.Rect.Dx()
	n := (y1 - y0) * cw
	acc := make([]float64, n*3)
	wsum := make([]float64, n)

	var high []float64
	var best []float64
	if p.Mode == TwoBand {
		high = make([]float64, n*3)
		best = make([]float64, n)
	}

	for _, l := range layers {
		ly0 := max(y0, l.y0)
		ly1 := min(y1, l.y0+l.height())
		lx0 := max(0, l.x0)
		lx1 := min(cw, l.x0+l.width())
		if ly0 >= ly1 || lx0 >= lx1 {
			continue
		}
		px := l.frame.Pixels
		for y := ly0; y < ly1; y++ {
			sy := y - l.y0
			for x := lx0; x < lx1; x++ {
				sx := x - l.x0
				si := sy*px.Width + sx
				w := float64(l.weight[si])
				if w <= 0 {
					continue
				}
				ci := (y-y0)*cw + x
				wsum[ci] += w
				if p.Mode != TwoBand {
					for c := 0; c < 3; c++ {
						acc[ci*3+c] += w * float64(px.Pix[si*3+c])
					}
					continue
				}
				for c := 0; c < 3; c++ {
					acc[ci*3+c] += w * float64(l.low.Pix[si*3+c])
				}
				if w > best[ci] {
					best[ci] = w
					for c := 0; c < 3; c++ {
						high[ci*3+c] = float64(px.Pix[si*3+c]) - float64(l.low.Pix[si*3+c])
					}
				}
			}
		}
	}

	uncovered := 0
	columns := make([]int, cw)
	bg := [3]uint8{p.Background.R, p.Background.G, p.Background.B}
	for y := y0; y < y1; y++ {
		row := img.Pix[(y-img.Rect.Min.Y)*img.Stride:]
		for x := 0; x < cw; x++ {
			ci := (y-y0)*cw + x
			out := row[x*4 : x*4+4 : x*4+4]
			out[3] = 255
			if wsum[ci] <= 0 {
				uncovered++
				out[0], out[1], out[2] = bg[0], bg[1], bg[2]
				continue
			}
			columns[x]++
			for c := 0; c < 3; c++ {
				v := acc[ci*3+c] / wsum[ci]
				if high != nil {
					v += high[ci*3+c]
				}
				out[c] = to8(v)
			}
		}
	}
	return uncovered, columns
}

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}
