package orbit

import (
	"math"

	"github.com/signalsfoundry/orbit-simulator/model"
)

// TrueAnomaly converts eccentric anomaly E to true anomaly.
func TrueAnomaly(E float64, c Constants) float64 {
	return 2 * math.Atan(c.TrueAnomalyScale*math.Tan(E/2))
}

// RadialDistance is the distance from the focus at eccentric anomaly E.
func RadialDistance(E float64, el Elements) float64 {
	return el.SemiMajorAxis * (1 - el.Eccentricity*math.Cos(E))
}

// OffsetAt returns the body's offset from its parent at eccentric anomaly E.
// The reference plane is x/z with y pointing out of it.
//
// Live propagation and path sampling both go through this function so the
// drawn path and the moving body agree exactly.
func OffsetAt(E float64, el Elements, c Constants) model.Vec3 {
	nu := TrueAnomaly(E, c)
	r := RadialDistance(E, el)

	sinPhi, cosPhi := math.Sincos(el.ArgumentOfPeriapsis + nu)

	return model.Vec3{
		X: r * (c.CosLOAN*cosPhi - c.SinLOAN*sinPhi*c.CosInclination),
		Y: r * (c.SinInclination * sinPhi),
		Z: r * (c.SinLOAN*cosPhi + c.CosLOAN*sinPhi*c.CosInclination),
	}
}

// PositionAt returns the world position at eccentric anomaly E for a body
// whose parent is at parent.
func PositionAt(E float64, el Elements, c Constants, parent model.Vec3) model.Vec3 {
	off := OffsetAt(E, el, c)
	return model.Vec3{X: parent.X + off.X, Y: parent.Y + off.Y, Z: parent.Z + off.Z}
}
