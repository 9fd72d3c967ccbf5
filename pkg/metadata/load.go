package metadata

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	// Register decoders for every supported frame format
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"panostitch/internal/models"
)

// manifestNames are checked in order; the first one present wins
var manifestNames = []string{"rig.yaml", "rig.yml", "rig.toml"}

// frameExtensions lists the file types picked up when no manifest is present
var frameExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// gridPattern captures the last two integers of a file name
var gridPattern = regexp.MustCompile(`(\d+)\D+(\d+)\D*$`)

// Manifest describes a rig folder explicitly.
type Manifest struct {
	Rows []ManifestRow `yaml:"rows" toml:"rows"`

	// Overlap and VerticalOverlap override the caller's defaults when set
	Overlap         *float64 `yaml:"overlap" toml:"overlap"`
	VerticalOverlap *float64 `yaml:"verticalOverlap" toml:"verticalOverlap"`

	// NativeWidth and NativeHeight are the panorama metrics at native resolution
	NativeWidth  int `yaml:"nativeWidth" toml:"nativeWidth"`
	NativeHeight int `yaml:"nativeHeight" toml:"nativeHeight"`
}

// ManifestRow lists one row's frame files left to right.
type ManifestRow struct {
	Frames []string `yaml:"frames" toml:"frames"`

	// Focal is an optional focal length hint in native pixels
	Focal float64 `yaml:"focal" toml:"focal"`
}

// Load reads every frame in dir and builds the rig layout.
func Load(dir string, opts Options) (models.RigLayout, []models.FrameDescriptor, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return models.RigLayout{}, nil, &models.ConfigurationError{Field: "folder", Row: -1, Column: -1, Reason: "cannot read input folder", Err: err}
	}
	if !info.IsDir() {
		return models.RigLayout{}, nil, &models.ConfigurationError{Field: "folder", Row: -1, Column: -1, Reason: fmt.Sprintf("%s is not a directory", dir)}
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return models.RigLayout{}, nil, err
	}

	var cells []cell
	if manifest != nil {
		cells, err = manifestCells(dir, manifest)
		opts = applyManifest(opts, manifest)
	} else {
		cells, err = scanCells(dir)
	}
	if err != nil {
		return models.RigLayout{}, nil, err
	}

	for i := range cells {
		img, err := decodeFrame(cells[i].path)
		if err != nil {
			return models.RigLayout{}, nil, &models.ConfigurationError{Field: "frame", Row: cells[i].row, Column: cells[i].col,
				Reason: "cannot decode " + filepath.Base(cells[i].path), Err: err}
		}
		cells[i].img = img
	}
	return build(cells, opts)
}

// ReadManifest parses a manifest file, choosing TOML or YAML by extension.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, m)
	} else {
		err = yaml.Unmarshal(data, m)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// readManifest returns nil without error when the folder has no manifest.
func readManifest(dir string) (*Manifest, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		m, err := ReadManifest(path)
		if err != nil {
			return nil, &models.ConfigurationError{Field: "manifest", Row: -1, Column: -1, Reason: "unreadable manifest", Err: err}
		}
		return m, nil
	}
	return nil, nil
}

func manifestCells(dir string, m *Manifest) ([]cell, error) {
	if len(m.Rows) == 0 {
		return nil, &models.ConfigurationError{Field: "manifest", Row: -1, Column: -1, Reason: "manifest lists no rows"}
	}
	var cells []cell
	for r, row := range m.Rows {
		if len(row.Frames) == 0 {
			return nil, &models.ConfigurationError{Field: "manifest", Row: r, Column: -1, Reason: "manifest row lists no frames"}
		}
		for c, name := range row.Frames {
			path := name
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, name)
			}
			if _, err := os.Stat(path); err != nil {
				return nil, &models.ConfigurationError{Field: "manifest", Row: r, Column: c, Reason: "listed frame not found", Err: err}
			}
			cells = append(cells, cell{row: r, col: c, path: path})
		}
	}
	return cells, nil
}

func applyManifest(opts Options, m *Manifest) Options {
	if m.Overlap != nil {
		opts.Overlap = *m.Overlap
	}
	if m.VerticalOverlap != nil {
		opts.VerticalOverlap = *m.VerticalOverlap
	}
	if m.NativeWidth > 0 {
		opts.NativeWidth = m.NativeWidth
	}
	if m.NativeHeight > 0 {
		opts.NativeHeight = m.NativeHeight
	}

	// Manifest hints fill rows the caller left unset
	hints := make([]float64, len(m.Rows))
	copy(hints, opts.FocalHints)
	for r, row := range m.Rows {
		if row.Focal > 0 && (r >= len(opts.FocalHints) || opts.FocalHints[r] == 0) {
			hints[r] = row.Focal
		}
	}
	if len(opts.FocalHints) > len(hints) {
		// Leave the surplus in place so that build reports it
		hints = append(hints, opts.FocalHints[len(hints):]...)
	}
	opts.FocalHints = hints
	return opts
}

// scanCells assigns grid positions from file names.
func scanCells(dir string) ([]cell, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &models.ConfigurationError{Field: "folder", Row: -1, Column: -1, Reason: "cannot list input folder", Err: err}
	}

	var cells []cell
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		row, col, ok := ParseGridName(e.Name())
		if !ok {
			return nil, &models.ConfigurationError{Field: "frame", Row: -1, Column: -1,
				Reason: fmt.Sprintf("cannot derive row and column from %q", e.Name())}
		}
		cells = append(cells, cell{row: row, col: col, path: filepath.Join(dir, e.Name())})
	}
	rebase(cells)
	sort.Slice(cells, func(i, j int) bool { return cells[i].path < cells[j].path })
	return cells, nil
}

// rebase shifts parsed indices so the smallest row and column seen become 0,
// which accepts both 0- and 1-based numbering.
func rebase(cells []cell) {
	if len(cells) == 0 {
		return
	}
	minRow, minCol := cells[0].row, cells[0].col
	for _, c := range cells[1:] {
		minRow = min(minRow, c.row)
		minCol = min(minCol, c.col)
	}
	for i := range cells {
		cells[i].row -= minRow
		cells[i].col -= minCol
	}
}

// ParseGridName extracts the row and column from a frame file name such as
// "r01_c03.jpg" or "pano-2-7.png".
func ParseGridName(name string) (row, col int, ok bool) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	m := gridPattern.FindStringSubmatch(base)
	if m == nil {
		return 0, 0, false
	}
	row, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	col, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return row, col, true
}

func decodeFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}
