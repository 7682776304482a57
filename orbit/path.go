package orbit

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/orbit-simulator/model"
)

const (
	// DefaultPathResolution is the number of segments in a sampled orbit path.
	DefaultPathResolution = 32
	// MaxPathResolution bounds the segments of a single path.
	MaxPathResolution = 4096
)

// ValidateResolution reports whether resolution is within
// [1, MaxPathResolution].
func ValidateResolution(resolution int) error {
	if resolution < 1 || resolution > MaxPathResolution {
		return fmt.Errorf("%w: %d outside [1, %d]", ErrInvalidResolution, resolution, MaxPathResolution)
	}
	return nil
}

// SamplePath returns resolution+1 points around the orbit at evenly spaced
// eccentric anomalies from 0 to 2π. The last point is the first point, so
// the polyline is closed.
func SamplePath(el Elements, c Constants, parent model.Vec3, resolution int) ([]model.Vec3, error) {
	if err := ValidateResolution(resolution); err != nil {
		return nil, err
	}
	points := make([]model.Vec3, resolution+1)
	step := 2 * math.Pi / float64(resolution)
	for i := 0; i < resolution; i++ {
		points[i] = PositionAt(float64(i)*step, el, c, parent)
	}
	points[resolution] = points[0]
	return points, nil
}

// Path caches a sampled orbit path. Points are recomputed only when the
// elements, constants, parent position or resolution differ from the last
// call.
type Path struct {
	resolution int

	points   []model.Vec3
	elements Elements
	consts   Constants
	parent   model.Vec3
	valid    bool
}

// NewPath returns a cache with the given resolution.
func NewPath(resolution int) (*Path, error) {
	if err := ValidateResolution(resolution); err != nil {
		return nil, err
	}
	return &Path{resolution: resolution}, nil
}

// Resolution returns the number of segments.
func (p *Path) Resolution() int { return p.resolution }

// SetResolution changes the resolution and invalidates the cache.
func (p *Path) SetResolution(resolution int) error {
	if err := ValidateResolution(resolution); err != nil {
		return err
	}
	if resolution != p.resolution {
		p.resolution = resolution
		p.valid = false
	}
	return nil
}

// Points returns the path for b around parent. The returned slice is shared
// with the cache and must not be modified.
func (p *Path) Points(b *Body, parent model.Vec3) []model.Vec3 {
	el, c := b.Elements(), b.Constants()
	if p.valid && p.elements == el && p.consts == c && p.parent == parent {
		return p.points
	}
	// resolution is validated on every way in, so this cannot fail.
	points, _ := SamplePath(el, c, parent, p.resolution)
	p.points = points
	p.elements = el
	p.consts = c
	p.parent = parent
	p.valid = true
	return p.points
}
