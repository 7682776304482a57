package model

import "gonum.org/v1/gonum/spatial/r3"

// Vec3 is a position or offset in the scene's reference frame. All bodies in
// one scenario share the same length unit.
type Vec3 = r3.Vec

// MotionSource indicates how a body's motion is determined.
type MotionSource int

const (
	MotionSourceStatic MotionSource = iota // fixed coordinates, usually a root body
	MotionSourceKepler                     // two-body Keplerian elements
	MotionSourceTLE                        // SGP4 propagation from a two-line element set
)

// String returns the scenario-file spelling of the source.
func (s MotionSource) String() string {
	switch s {
	case MotionSourceKepler:
		return "kepler"
	case MotionSourceTLE:
		return "tle"
	default:
		return "static"
	}
}

// ParseMotionSource maps a scenario-file spelling onto a MotionSource.
// Unknown values report ok=false.
func ParseMotionSource(s string) (MotionSource, bool) {
	switch s {
	case "", "static", "fixed":
		return MotionSourceStatic, true
	case "kepler", "keplerian", "elements":
		return MotionSourceKepler, true
	case "tle", "sgp4":
		return MotionSourceTLE, true
	default:
		return MotionSourceStatic, false
	}
}

// ElementsConfig holds classical orbital elements as they are configured:
// lengths in scene units, angles in degrees.
type ElementsConfig struct {
	SemiMajorAxis            float64 `json:"semi_major_axis"`
	Eccentricity             float64 `json:"eccentricity"`
	Inclination              float64 `json:"inclination"`
	ArgumentOfPeriapsis      float64 `json:"argument_of_periapsis"`
	LongitudeOfAscendingNode float64 `json:"longitude_of_ascending_node"`
	MeanLongitude            float64 `json:"mean_longitude"`
}

// BodyDefinition describes one body of a scenario: a fixed root such as a
// star, or a body orbiting the body named by ParentID.
type BodyDefinition struct {
	ID   string
	Name string

	// ParentID is empty for root bodies.
	ParentID string

	// Mass is what children of this body see as their parent mass.
	Mass float64

	MotionSource MotionSource
	Elements     ElementsConfig

	// TLE lines, used when MotionSource is MotionSourceTLE.
	TLE1, TLE2 string

	// Coordinates is the last computed world position. For static bodies it
	// is also the configured position.
	Coordinates Vec3
}

// IsRoot reports whether the body has no parent.
func (b *BodyDefinition) IsRoot() bool { return b.ParentID == "" }
