// Package projection maps frame pixels between the pinhole image plane and
// panorama space.
//
// Image-plane coordinates are centred: pixel index i of a frame of width w
// sits at x = i - (w-1)/2. Panorama coordinates use the same convention
// relative to the projected buffer.
package projection

import (
	"fmt"
	"math"
	"strings"

	"panostitch/pkg/raster"
)

// Kind selects the surface frames are projected onto.
type Kind int

const (
	// Cylindrical wraps yaw onto the horizontal axis; vertical lines stay straight
	Cylindrical Kind = iota
	// Spherical wraps both yaw and pitch
	Spherical
	// Planar leaves frames untouched, for translation-only scans
	Planar
)

func (k Kind) String() string {
	switch k {
	case Cylindrical:
		return "cylindrical"
	case Spherical:
		return "spherical"
	case Planar:
		return "planar"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind resolves a projection name.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cylindrical", "cylinder":
		return Cylindrical, nil
	case "spherical", "sphere", "equirectangular":
		return Spherical, nil
	case "planar", "plane", "none":
		return Planar, nil
	default:
		return 0, fmt.Errorf("unknown projection %q", name)
	}
}

// Model is a projection with a focal length in pixels.
type Model struct {
	Kind  Kind
	Focal float64
}

// Forward maps centred image-plane coordinates to panorama coordinates.
func (m Model) Forward(x, y float64) (u, v float64) {
	f := m.Focal
	switch m.Kind {
	case Cylindrical:
		return f * math.Atan(x/f), f * y / math.Hypot(x, f)
	case Spherical:
		return f * math.Atan(x/f), f * math.Atan2(y, math.Hypot(x, f))
	default:
		return x, y
	}
}

// Inverse maps panorama coordinates back to the image plane. ok is false
// for points behind the camera.
func (m Model) Inverse(u, v float64) (x, y float64, ok bool) {
	f := m.Focal
	switch m.Kind {
	case Cylindrical:
		theta := u / f
		if math.Abs(theta) >= math.Pi/2 {
			return 0, 0, false
		}
		x = f * math.Tan(theta)
		return x, v * math.Hypot(x, f) / f, true
	case Spherical:
		theta := u / f
		phi := v / f
		z := math.Cos(theta) * math.Cos(phi)
		if z <= 0 {
			return 0, 0, false
		}
		return f * math.Sin(theta) * math.Cos(phi) / z, f * math.Sin(phi) / z, true
	default:
		return u, v, true
	}
}

// Extent returns the projected buffer size for a width x height frame.
func (m Model) Extent(width, height int) (int, int) {
	if m.Kind == Planar {
		return width, height
	}
	f := m.Focal
	pw := int(math.Ceil(2*f*math.Atan(float64(width)/(2*f)) - 1e-9))
	ph := height
	if m.Kind == Spherical {
		ph = int(math.Ceil(2*f*math.Atan(float64(height)/(2*f)) - 1e-9))
	}
	return max(pw, 1), max(ph, 1)
}

// AngularWidth returns the horizontal field of view of a frame in radians.
func (m Model) AngularWidth(width int) float64 {
	return 2 * math.Atan(float64(width)/(2*m.Focal))
}

// Warp resamples src into panorama space. Pixels that map outside the
// source frame are left transparent. src is not modified.
func Warp(src *raster.Raster, m Model) *raster.Raster {
	pw, ph := m.Extent(src.Width, src.Height)
	out := raster.New(pw, ph)

	cu := float64(pw-1) / 2
	cv := float64(ph-1) / 2
	cx := float64(src.Width-1) / 2
	cy := float64(src.Height-1) / 2

	for j := 0; j < ph; j++ {
		v := float64(j) - cv
		for i := 0; i < pw; i++ {
			x, y, ok := m.Inverse(float64(i)-cu, v)
			if !ok {
				continue
			}
			c, a := src.Bilinear(x+cx, y+cy)
			if a > 0 {
				out.Set(i, j, c, a)
			}
		}
	}
	return out
}
