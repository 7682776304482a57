package orbit

import "math"

// GravitationalConstant is the engine's gravitational constant. It is not the
// physical value; every body in a scene must use this one so that masses and
// distances stay in scene units.
const GravitationalConstant = 6.667

// Constants are the orbit-shape values derived once from a set of elements
// and a parent mass. A Constants value is never modified field by field:
// derive a new one whenever the elements or the parent mass change.
type Constants struct {
	// GravitationalParameter is parent mass × GravitationalConstant.
	GravitationalParameter float64
	// MeanAngularMotion is sqrt(μ / a³), radians per simulation second.
	MeanAngularMotion float64
	// TrueAnomalyScale is sqrt((1+e) / (1-e)).
	TrueAnomalyScale float64

	CosInclination, SinInclination float64
	CosLOAN, SinLOAN               float64

	elements   Elements
	parentMass float64
}

// DeriveConstants computes the constants for el around a parent of the given
// mass. It performs no validation: e >= 1 or a non-positive axis or mass
// produce non-finite or meaningless values.
func DeriveConstants(el Elements, parentMass float64) Constants {
	mu := parentMass * GravitationalConstant
	sinI, cosI := math.Sincos(el.Inclination)
	sinLOAN, cosLOAN := math.Sincos(el.LongitudeOfAscendingNode)
	return Constants{
		GravitationalParameter: mu,
		MeanAngularMotion:      math.Sqrt(mu / math.Pow(el.SemiMajorAxis, 3)),
		TrueAnomalyScale:       math.Sqrt((1 + el.Eccentricity) / (1 - el.Eccentricity)),
		CosInclination:         cosI,
		SinInclination:         sinI,
		CosLOAN:                cosLOAN,
		SinLOAN:                sinLOAN,
		elements:               el,
		parentMass:             parentMass,
	}
}

// DerivedFrom reports whether c was derived from exactly these inputs.
// A false result means c is stale.
func (c Constants) DerivedFrom(el Elements, parentMass float64) bool {
	return c.elements == el && c.parentMass == parentMass
}

// Period returns the orbital period in simulation seconds.
func (c Constants) Period() float64 {
	return 2 * math.Pi / c.MeanAngularMotion
}
