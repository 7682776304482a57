package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/orbit-simulator/model"
	"github.com/signalsfoundry/orbit-simulator/orbit"
	"github.com/signalsfoundry/orbit-simulator/timectrl"
)

// ErrInvalidTLE is returned when a two-line element set cannot be used.
var ErrInvalidTLE = errors.New("invalid TLE")

// MotionModel computes a body's world position. parent is the current world
// position of the body it orbits (the origin for roots).
type MotionModel interface {
	// Activate resets any internal clock and returns the initial position.
	Activate(parent model.Vec3) model.Vec3
	// UpdatePosition advances by one tick and returns the new position.
	UpdatePosition(tick timectrl.Tick, parent model.Vec3) model.Vec3
}

// StaticMotionModel keeps a body at fixed coordinates.
type StaticMotionModel struct {
	Position model.Vec3
}

func (m *StaticMotionModel) Activate(model.Vec3) model.Vec3 { return m.Position }

func (m *StaticMotionModel) UpdatePosition(timectrl.Tick, model.Vec3) model.Vec3 {
	return m.Position
}

// KeplerMotionModel moves a body along a two-body Keplerian orbit.
type KeplerMotionModel struct {
	Body *orbit.Body
}

// NewKeplerMotionModel validates the elements against the parent mass.
func NewKeplerMotionModel(el model.ElementsConfig, parentMass float64) (*KeplerMotionModel, error) {
	b, err := orbit.NewBody(el, parentMass)
	if err != nil {
		return nil, err
	}
	return &KeplerMotionModel{Body: b}, nil
}

func (m *KeplerMotionModel) Activate(parent model.Vec3) model.Vec3 {
	return m.Body.Activate(parent)
}

func (m *KeplerMotionModel) UpdatePosition(tick timectrl.Tick, parent model.Vec3) model.Vec3 {
	return m.Body.Step(tick.RealDelta, tick.TimeScale, parent)
}

// SGP4MotionModel propagates a TLE with SGP4 and places the result relative
// to the parent. go-satellite works in kilometres in the TEME frame; Scale
// converts kilometres to scene units.
type SGP4MotionModel struct {
	sat   satellite.Satellite
	Epoch time.Time
	Scale float64

	simSeconds float64
	offset     model.Vec3
}

// NewSGP4MotionModel parses the TLE lines. Time zero of the model is epoch.
func NewSGP4MotionModel(line1, line2 string, epoch time.Time) (*SGP4MotionModel, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return nil, err
	}
	sat := satellite.TLEToSat(strings.TrimSpace(line1), strings.TrimSpace(line2), satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: sgp4 init code=%d %s", ErrInvalidTLE, sat.Error, sat.ErrorStr)
	}
	return &SGP4MotionModel{sat: sat, Epoch: epoch, Scale: 1}, nil
}

// go-satellite exits the process on unparsable input, so the layout is
// checked up front.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if len(line1) != 69 || len(line2) != 69 {
		return fmt.Errorf("%w: lines must be 69 characters, got %d and %d", ErrInvalidTLE, len(line1), len(line2))
	}
	if line1[0] != '1' || line2[0] != '2' {
		return fmt.Errorf("%w: line numbers must be 1 and 2", ErrInvalidTLE)
	}
	return nil
}

func (m *SGP4MotionModel) Activate(parent model.Vec3) model.Vec3 {
	m.simSeconds = 0
	m.propagate()
	return r3.Add(parent, m.offset)
}

func (m *SGP4MotionModel) UpdatePosition(tick timectrl.Tick, parent model.Vec3) model.Vec3 {
	if d := tick.SimDelta(); d > 0 {
		m.simSeconds += d
	}
	m.propagate()
	return r3.Add(parent, m.offset)
}

// SimTime returns the instant the model was last propagated to.
func (m *SGP4MotionModel) SimTime() time.Time {
	return m.Epoch.Add(time.Duration(m.simSeconds * float64(time.Second)))
}

// propagate keeps the previous offset when SGP4 returns a non-finite result,
// which happens once a decaying orbit is propagated too far.
func (m *SGP4MotionModel) propagate() {
	t := m.SimTime().UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	for _, v := range []float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return
		}
	}
	m.offset = model.Vec3{X: pos.X * m.Scale, Y: pos.Y * m.Scale, Z: pos.Z * m.Scale}
}

// NewMotionModel chooses a MotionModel for def. parentMass is only used by
// Keplerian bodies.
func NewMotionModel(def *model.BodyDefinition, parentMass float64, epoch time.Time) (MotionModel, error) {
	switch def.MotionSource {
	case model.MotionSourceKepler:
		if def.IsRoot() {
			return nil, fmt.Errorf("%w: keplerian body %q has no parent", ErrMissingParent, def.ID)
		}
		return NewKeplerMotionModel(def.Elements, parentMass)
	case model.MotionSourceTLE:
		return NewSGP4MotionModel(def.TLE1, def.TLE2, epoch)
	default:
		return &StaticMotionModel{Position: def.Coordinates}, nil
	}
}
