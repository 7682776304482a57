// Package orbit implements two-body Keplerian propagation: orbit constants,
// a bounded Kepler-equation solver, the anomaly-to-position transform, a
// simulation clock and orbit path sampling.
package orbit

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/orbit-simulator/model"
)

// MaxEccentricity is the largest eccentricity accepted by NewBody and
// Reconfigure. The raw math accepts anything below 1.
const MaxEccentricity = 0.99

var (
	// ErrInvalidElements is returned for out-of-range orbital elements.
	ErrInvalidElements = errors.New("invalid orbital elements")
	// ErrInvalidParentMass is returned for a non-positive or non-finite parent mass.
	ErrInvalidParentMass = errors.New("invalid parent mass")
	// ErrInvalidResolution is returned for a path resolution below 1.
	ErrInvalidResolution = errors.New("invalid path resolution")
)

// Elements are classical orbital elements with every angle in radians.
type Elements struct {
	SemiMajorAxis            float64
	Eccentricity             float64
	Inclination              float64
	ArgumentOfPeriapsis      float64
	LongitudeOfAscendingNode float64
	MeanLongitude            float64
}

// FromConfig converts configured elements (angles in degrees) to radians.
// This is the only place degrees are converted.
func FromConfig(cfg model.ElementsConfig) Elements {
	return Elements{
		SemiMajorAxis:            cfg.SemiMajorAxis,
		Eccentricity:             cfg.Eccentricity,
		Inclination:              deg2rad(cfg.Inclination),
		ArgumentOfPeriapsis:      deg2rad(cfg.ArgumentOfPeriapsis),
		LongitudeOfAscendingNode: deg2rad(cfg.LongitudeOfAscendingNode),
		MeanLongitude:            deg2rad(cfg.MeanLongitude),
	}
}

// Config converts the elements back to their configured form.
func (el Elements) Config() model.ElementsConfig {
	return model.ElementsConfig{
		SemiMajorAxis:            el.SemiMajorAxis,
		Eccentricity:             el.Eccentricity,
		Inclination:              rad2deg(el.Inclination),
		ArgumentOfPeriapsis:      rad2deg(el.ArgumentOfPeriapsis),
		LongitudeOfAscendingNode: rad2deg(el.LongitudeOfAscendingNode),
		MeanLongitude:            rad2deg(el.MeanLongitude),
	}
}

// Validate checks the elements against the supported range. It never
// adjusts a value.
func (el Elements) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"semi-major axis", el.SemiMajorAxis},
		{"eccentricity", el.Eccentricity},
		{"inclination", el.Inclination},
		{"argument of periapsis", el.ArgumentOfPeriapsis},
		{"longitude of ascending node", el.LongitudeOfAscendingNode},
		{"mean longitude", el.MeanLongitude},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidElements, f.name)
		}
	}
	if el.SemiMajorAxis <= 0 {
		return fmt.Errorf("%w: semi-major axis %g must be positive", ErrInvalidElements, el.SemiMajorAxis)
	}
	if el.Eccentricity < 0 || el.Eccentricity > MaxEccentricity {
		return fmt.Errorf("%w: eccentricity %g outside [0, %g]", ErrInvalidElements, el.Eccentricity, MaxEccentricity)
	}
	return nil
}

func validateParentMass(mass float64) error {
	if math.IsNaN(mass) || math.IsInf(mass, 0) || mass <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidParentMass, mass)
	}
	return nil
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

func rad2deg(r float64) float64 { return r * 180 / math.Pi }
