package metadata

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panostitch/internal/models"
)

func solid(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func requireConfigurationError(t *testing.T, err error) *models.ConfigurationError {
	t.Helper()
	var ce *models.ConfigurationError
	require.True(t, errors.As(err, &ce), "expected ConfigurationError, got %v", err)
	return ce
}

func TestFromImagesBuildsLayout(t *testing.T) {
	grid := [][]image.Image{
		{solid(40, 30, 10), solid(40, 30, 20), solid(40, 30, 30)},
		{solid(40, 30, 40), solid(40, 30, 50)},
	}
	layout, frames, err := FromImages(grid, Options{Overlap: 0.25, VerticalOverlap: 0.5})
	require.NoError(t, err)

	assert.Equal(t, 2, layout.Rows)
	assert.Equal(t, []int{3, 2}, layout.ColumnsPerRow)
	assert.Equal(t, 40, layout.FrameWidth)
	assert.Equal(t, 30, layout.FrameHeight)
	// 40 * (3 - 2*0.25) and 30 * (2 - 0.5)
	assert.Equal(t, 100, layout.NativeWidth)
	assert.Equal(t, 45, layout.NativeHeight)
	assert.Equal(t, 1.0, layout.Scale)
	assert.Equal(t, 100, layout.PanoramaWidth)
	assert.Equal(t, 45, layout.PanoramaHeight)

	require.Len(t, frames, 5)
	for i := 1; i < len(frames); i++ {
		assert.True(t, frames[i-1].Key().Less(frames[i].Key()))
	}
	assert.Same(t, grid[1][1], frames[4].Image)
}

func TestFromImagesEmpty(t *testing.T) {
	_, _, err := FromImages(nil, Options{})
	ce := requireConfigurationError(t, err)
	assert.Equal(t, "frames", ce.Field)

	_, _, err = FromImages([][]image.Image{{}}, Options{})
	requireConfigurationError(t, err)
}

func TestFromImagesRejectsMixedSizes(t *testing.T) {
	grid := [][]image.Image{{solid(40, 30, 0), solid(41, 30, 0)}}
	_, _, err := FromImages(grid, Options{})
	ce := requireConfigurationError(t, err)
	assert.Equal(t, 0, ce.Row)
	assert.Equal(t, 1, ce.Column)
}

func TestFromImagesRejectsNilAndBadOverlap(t *testing.T) {
	_, _, err := FromImages([][]image.Image{{solid(4, 4, 0), nil}}, Options{})
	requireConfigurationError(t, err)

	_, _, err = FromImages([][]image.Image{{solid(4, 4, 0)}}, Options{Overlap: 0.99})
	ce := requireConfigurationError(t, err)
	assert.Equal(t, "overlap", ce.Field)
}

func TestFromImagesFocalHints(t *testing.T) {
	grid := [][]image.Image{{solid(8, 8, 0)}, {solid(8, 8, 0)}}
	layout, _, err := FromImages(grid, Options{FocalHints: []float64{120}})
	require.NoError(t, err)
	assert.Equal(t, []float64{120, 0}, layout.FocalHints)

	_, _, err = FromImages(grid, Options{FocalHints: []float64{1, 2, 3}})
	requireConfigurationError(t, err)
}

func TestScale(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		nw, nh int
		want   float64
	}{
		{"native", 0, 0, 200, 100, 1},
		{"width only", 100, 0, 200, 100, 0.5},
		{"height only", 0, 300, 200, 100, 3},
		{"both picks larger", 100, 80, 200, 100, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Scale(tt.w, tt.h, tt.nw, tt.nh), 1e-12)
		})
	}
}

func TestFromImagesRequestedSize(t *testing.T) {
	grid := [][]image.Image{{solid(40, 30, 0), solid(40, 30, 0)}}
	layout, _, err := FromImages(grid, Options{Width: 36, Overlap: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 60, layout.NativeWidth)
	assert.InDelta(t, 0.6, layout.Scale, 1e-12)
	assert.Equal(t, 36, layout.PanoramaWidth)
	assert.Equal(t, 18, layout.PanoramaHeight)
}

func TestParseGridName(t *testing.T) {
	tests := []struct {
		name     string
		row, col int
		ok       bool
	}{
		{"r01_c03.jpg", 1, 3, true},
		{"pano-2-7.png", 2, 7, true},
		{"shoot_2024_r0_c12.tif", 0, 12, true},
		{"frame.jpg", 0, 0, false},
		{"frame5.jpg", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, col, ok := ParseGridName(tt.name)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.row, row)
				assert.Equal(t, tt.col, col)
			}
		})
	}
}

func TestLoadFromFileNames(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "r0_c1.png"), solid(20, 10, 100))
	writePNG(t, filepath.Join(dir, "r0_c0.png"), solid(20, 10, 50))
	writePNG(t, filepath.Join(dir, "r1_c0.png"), solid(20, 10, 150))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	layout, frames, err := Load(dir, Options{Overlap: 0.2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, layout.ColumnsPerRow)
	require.Len(t, frames, 3)
	assert.Equal(t, filepath.Join(dir, "r0_c0.png"), frames[0].Path)
	assert.Equal(t, filepath.Join(dir, "r0_c1.png"), frames[1].Path)
	assert.Equal(t, filepath.Join(dir, "r1_c0.png"), frames[2].Path)
}

func TestLoadOneBasedFileNames(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "r01_c01.png"), solid(20, 10, 50))
	writePNG(t, filepath.Join(dir, "r01_c02.png"), solid(20, 10, 100))
	writePNG(t, filepath.Join(dir, "r02_c01.png"), solid(20, 10, 150))

	layout, frames, err := Load(dir, Options{Overlap: 0.2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, layout.ColumnsPerRow)
	require.Len(t, frames, 3)
	assert.Equal(t, models.GridKey{Row: 0, Column: 1}, frames[1].Key())
	assert.Equal(t, filepath.Join(dir, "r01_c02.png"), frames[1].Path)
	assert.Equal(t, filepath.Join(dir, "r02_c01.png"), frames[2].Path)

	// A hole is still reported after rebasing
	dir = t.TempDir()
	writePNG(t, filepath.Join(dir, "r1_c1.png"), solid(8, 8, 0))
	writePNG(t, filepath.Join(dir, "r1_c3.png"), solid(8, 8, 0))
	_, _, err = Load(dir, Options{})
	ce := requireConfigurationError(t, err)
	assert.Equal(t, 1, ce.Column)
}

func TestLoadDuplicateAndMissing(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a_0_0.png"), solid(8, 8, 0))
	writePNG(t, filepath.Join(dir, "b_0_0.png"), solid(8, 8, 0))
	_, _, err := Load(dir, Options{})
	ce := requireConfigurationError(t, err)
	assert.Contains(t, ce.Reason, "duplicate")

	dir = t.TempDir()
	writePNG(t, filepath.Join(dir, "r0_c0.png"), solid(8, 8, 0))
	writePNG(t, filepath.Join(dir, "r0_c2.png"), solid(8, 8, 0))
	_, _, err = Load(dir, Options{})
	ce = requireConfigurationError(t, err)
	assert.Equal(t, 1, ce.Column)
}

func TestLoadEmptyOrAbsentFolder(t *testing.T) {
	_, _, err := Load(t.TempDir(), Options{})
	requireConfigurationError(t, err)

	_, _, err = Load(filepath.Join(t.TempDir(), "absent"), Options{})
	requireConfigurationError(t, err)
}

func TestLoadUndecodableFrame(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r0_c0.jpg"), []byte("not a jpeg"), 0644))
	_, _, err := Load(dir, Options{})
	ce := requireConfigurationError(t, err)
	assert.Equal(t, 0, ce.Row)
	assert.Error(t, ce.Err)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "left.png"), solid(20, 10, 0))
	writePNG(t, filepath.Join(dir, "right.png"), solid(20, 10, 0))
	writePNG(t, filepath.Join(dir, "top.png"), solid(20, 10, 0))
	manifest := "overlap: 0.5\nrows:\n  - frames: [left.png, right.png]\n  - frames: [top.png]\n    focal: 75\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rig.yaml"), []byte(manifest), 0644))

	layout, frames, err := Load(dir, Options{Overlap: 0.1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, layout.ColumnsPerRow)
	assert.Equal(t, 0.5, layout.Overlap)
	assert.Equal(t, []float64{0, 75}, layout.FocalHints)
	assert.Equal(t, 30, layout.NativeWidth)
	assert.Equal(t, filepath.Join(dir, "top.png"), frames[2].Path)
}

func TestLoadManifestTOML(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "one.png"), solid(20, 10, 0))
	manifest := "nativeWidth = 400\nnativeHeight = 100\n\n[[rows]]\nframes = [\"one.png\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rig.toml"), []byte(manifest), 0644))

	layout, _, err := Load(dir, Options{Width: 200})
	require.NoError(t, err)
	assert.Equal(t, 400, layout.NativeWidth)
	assert.InDelta(t, 0.5, layout.Scale, 1e-12)
	assert.Equal(t, 50, layout.PanoramaHeight)
}

func TestLoadManifestListsMissingFrame(t *testing.T) {
	dir := t.TempDir()
	manifest := "rows:\n  - frames: [ghost.png]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rig.yml"), []byte(manifest), 0644))
	_, _, err := Load(dir, Options{})
	ce := requireConfigurationError(t, err)
	assert.Equal(t, "manifest", ce.Field)
}
