// Package workspace manages the scratch directory of one stitch job and the
// image files written into it.
//
// A Workspace is acquired at the start of a job and closed on every exit
// path; closing removes the directory unless the caller asked to keep it.
package workspace

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/image/tiff"
)

// Workspace is a scratch directory for intermediary frames.
type Workspace struct {
	dir  string
	keep bool

	mu     sync.Mutex
	closed bool
}

// Acquire creates a uniquely named directory under base, or under the
// system temp directory when base is empty.
func Acquire(base string, keep bool) (*Workspace, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace base: %w", err)
	}
	dir := filepath.Join(base, "panostitch-"+uuid.NewString())
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{dir: dir, keep: keep}, nil
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string { return w.dir }

// Path joins parts onto the workspace root.
func (w *Workspace) Path(parts ...string) string {
	return filepath.Join(append([]string{w.dir}, parts...)...)
}

// SaveFrame writes one frame of a pipeline stage as a PNG. It is safe to
// call from several goroutines.
func (w *Workspace) SaveFrame(stage string, row, column int, img image.Image) error {
	return w.SaveImage(filepath.Join(stage, fmt.Sprintf("frame_r%02d_c%02d.png", row, column)), img)
}

// SaveImage writes img to a path relative to the workspace root, creating
// directories as needed. The format follows the file extension.
func (w *Workspace) SaveImage(name string, img image.Image) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return fmt.Errorf("workspace %s is closed", w.dir)
	}

	path := w.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}
	return WriteImage(path, img, 90)
}

// Close removes the workspace unless it was acquired with keep set.
// Calling Close more than once is harmless.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.keep {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

// WriteImage encodes img to path as JPEG, PNG or TIFF, chosen by extension.
// quality applies to JPEG only.
func WriteImage(path string, img image.Image, quality int) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff":
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}

	switch ext {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: quality})
	case ".png":
		err = png.Encode(file, img)
	default:
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	}
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return file.Close()
}
