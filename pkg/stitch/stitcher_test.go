package stitch

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panostitch/internal/models"
	"panostitch/pkg/config"
	"panostitch/pkg/metadata"
)

// recordingSink remembers which frames it was given.
type recordingSink struct {
	saved []string
}

func (r *recordingSink) SaveFrame(stage string, row, column int, img image.Image) error {
	r.saved = append(r.saved, stage+"/"+models.GridKey{Row: row, Column: column}.String())
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// noiseScene returns an RGB noise image shared by the frames of a test rig.
func noiseScene(rng *rand.Rand, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(40 + rng.Intn(180))
		img.Pix[i+1] = uint8(40 + rng.Intn(180))
		img.Pix[i+2] = uint8(40 + rng.Intn(180))
		img.Pix[i+3] = 255
	}
	return img
}

func cropScene(scene *image.NRGBA, x, w, h int) image.Image {
	return scene.SubImage(image.Rect(x, 0, x+w, h))
}

func translationRig(t *testing.T, w, h int) (models.RigLayout, []models.FrameDescriptor, *image.NRGBA) {
	t.Helper()
	step := int(math.Round(0.8 * float64(w)))
	scene := noiseScene(rand.New(rand.NewSource(41)), 2*step+w, h)
	row := []image.Image{cropScene(scene, 0, w, h), cropScene(scene, step, w, h), cropScene(scene, 2*step, w, h)}

	// A very long focal length makes the projection a plain translation
	layout, frames, err := metadata.FromImages([][]image.Image{row}, metadata.Options{
		Overlap:    0.2,
		FocalHints: []float64{50 * float64(w)},
	})
	require.NoError(t, err)
	return layout, frames, scene
}

func TestRunTranslationRig(t *testing.T) {
	const w, h = 120, 80
	layout, frames, scene := translationRig(t, w, h)

	s, err := New(config.DefaultConfig(), quietLogger(), nil)
	require.NoError(t, err)
	res, err := s.Run(context.Background(), layout, frames)
	require.NoError(t, err)

	// 3 x w x (1 - 0.2) + 0.2 x w
	assert.InDelta(t, 2.6*w, float64(res.Image.Bounds().Dx()), 1)
	assert.Equal(t, h, res.Image.Bounds().Dy())
	assert.False(t, res.Quality.Coverage.Gap)
	assert.Empty(t, res.Quality.Alignment)
	assert.Empty(t, res.Quality.FallbackRows)
	assert.NotEmpty(t, res.JobID)
	assert.Len(t, res.Timings, 4)

	require.Len(t, res.Focals, 1)
	assert.Equal(t, models.SourceHint, res.Focals[0].Source)

	require.Len(t, res.Placed, 3)
	for _, p := range res.Placed {
		assert.Less(t, p.Correction.Len(), 1.0, "frame %s", p.Key())
	}

	// Away from the seams the canvas reproduces the scene
	for _, x := range []int{10, 150, 300} {
		want := scene.NRGBAAt(x, 40)
		got := res.Image.NRGBAAt(x, 40)
		assert.InDelta(t, int(want.G), int(got.G), 12, "column %d", x)
	}
}

// texel hashes a sphere texture cell to a grey level in [0.1, 0.9].
func texel(i, j int) float64 {
	h := uint64(int64(i))*0x9E3779B97F4A7C15 ^ uint64(int64(j))*0xC2B2AE3D27D4EB4F
	h ^= h >> 31
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 29
	return 0.1 + 0.8*float64(h%1000)/999
}

// yawView renders what a pinhole camera with focal f sees after turning by
// yaw radians inside a sphere tiled with cell-sized texture patches.
func yawView(w, h int, f, yaw, cell float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	const ss = 3
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			sum := 0.0
			for sy := 0; sy < ss; sy++ {
				for sx := 0; sx < ss; sx++ {
					xc := float64(i) + (float64(sx)+0.5)/ss - 0.5 - float64(w-1)/2
					yc := float64(j) + (float64(sy)+0.5)/ss - 0.5 - float64(h-1)/2
					lon := math.Atan(xc/f) + yaw
					lat := math.Atan2(yc, math.Hypot(xc, f))
					sum += texel(int(math.Floor(lon/cell)), int(math.Floor(lat/cell)))
				}
			}
			img.SetGray(i, j, color.Gray{Y: uint8(math.Round(255 * sum / (ss * ss)))})
		}
	}
	return img
}

func TestRunRotatingRig(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping rendered rig in short mode")
	}
	const (
		w, h  = 256, 192
		focal = 200.0
	)
	theta := 0.7 * 2 * math.Atan(float64(w)/2/focal)
	row := make([]image.Image, 3)
	for k := range row {
		row[k] = yawView(w, h, focal, float64(k)*theta, 2.5*math.Pi/180)
	}

	tests := []struct {
		name   string
		hints  []float64
		source models.FocalSource
	}{
		{"measured", nil, models.SourceMeasured},
		{"hinted", []float64{focal}, models.SourceHint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, frames, err := metadata.FromImages([][]image.Image{row}, metadata.Options{
				Overlap:    0.3,
				FocalHints: tt.hints,
			})
			require.NoError(t, err)

			s, err := New(config.DefaultConfig(), quietLogger(), nil)
			require.NoError(t, err)
			res, err := s.Run(context.Background(), layout, frames)
			require.NoError(t, err)

			require.Len(t, res.Focals, 1)
			assert.Equal(t, tt.source, res.Focals[0].Source)
			require.Len(t, res.Placed, 3)

			// Three cylinder frames turned by 70% of their field of view
			pw := float64(res.Placed[0].Pixels.Width)
			assert.Less(t, pw, float64(w))
			assert.InEpsilon(t, 2.4*pw, float64(res.Image.Bounds().Dx()), 0.05)
			assert.Equal(t, res.Layout.PanoramaWidth, res.Image.Bounds().Dx())
			assert.Less(t, res.Layout.PanoramaWidth, layout.PanoramaWidth)

			// The sagging corners are trimmed rather than counted as holes
			assert.Less(t, res.Image.Bounds().Dy(), h)
			assert.Greater(t, res.Image.Bounds().Dy(), 3*h/4)
			assert.False(t, res.Quality.Coverage.Gap, "uncovered %.4f", res.Quality.Coverage.Fraction)
		})
	}
}

func TestRunSavesIntermediaryFrames(t *testing.T) {
	layout, frames, _ := translationRig(t, 64, 40)
	cfg := config.DefaultConfig()
	cfg.Output.SaveIntermediaryResults = true
	sink := &recordingSink{}

	s, err := New(cfg, quietLogger(), sink)
	require.NoError(t, err)
	_, err = s.Run(context.Background(), layout, frames)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"01_projected/r0/c0", "01_projected/r0/c1", "01_projected/r0/c2"}, sink.saved)
}

func TestRunCancelled(t *testing.T) {
	layout, frames, _ := translationRig(t, 64, 40)
	s, err := New(nil, quietLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Run(ctx, layout, frames)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSurfacesCalibrationError(t *testing.T) {
	flat := image.NewUniform(color.Gray{Y: 128})
	grid := [][]image.Image{{
		image.NewRGBA(image.Rect(0, 0, 48, 32)),
		image.NewRGBA(image.Rect(0, 0, 48, 32)),
	}}
	for _, img := range grid[0] {
		rgba := img.(*image.RGBA)
		for y := 0; y < 32; y++ {
			for x := 0; x < 48; x++ {
				rgba.Set(x, y, flat.C)
			}
		}
	}
	layout, frames, err := metadata.FromImages(grid, metadata.Options{Overlap: 0.2})
	require.NoError(t, err)

	s, err := New(nil, quietLogger(), nil)
	require.NoError(t, err)
	_, err = s.Run(context.Background(), layout, frames)

	var ce *models.CalibrationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, ce.Row)
	assert.ErrorIs(t, err, models.ErrUnresolved)
}

func TestRunRejectsEmptyInput(t *testing.T) {
	s, err := New(nil, quietLogger(), nil)
	require.NoError(t, err)
	_, err = s.Run(context.Background(), models.RigLayout{}, nil)
	assert.True(t, models.IsConfiguration(err))
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Processing.Projection = "fisheye"
	_, err := New(cfg, nil, nil)
	assert.True(t, models.IsConfiguration(err))

	cfg = config.DefaultConfig()
	cfg.Blending.Background = "red"
	_, err = New(cfg, nil, nil)
	assert.True(t, models.IsConfiguration(err))

	cfg = config.DefaultConfig()
	cfg.Processing.NumWorkers = 0
	_, err = New(cfg, nil, nil)
	assert.True(t, models.IsConfiguration(err))
}

func TestMetadataOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Layout.Overlap = 0.3
	opts := MetadataOptions(cfg, 800, 0)
	assert.Equal(t, 800, opts.Width)
	assert.Equal(t, 0.3, opts.Overlap)
	assert.Equal(t, cfg.Layout.VerticalOverlap, opts.VerticalOverlap)
}
