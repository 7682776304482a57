package orbit

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/orbit-simulator/model"
)

// ParentReference is what a body knows about the mass it orbits. The engine
// supplies it; a body never holds on to another body.
type ParentReference struct {
	Mass     float64
	Position model.Vec3
}

// Body is a single body on a Keplerian orbit. Its constants are derived when
// it is created and again on every Reconfigure, so they always match the
// current elements.
//
// A Body is not safe for concurrent use.
type Body struct {
	elements   Elements
	constants  Constants
	parentMass float64
	solver     KeplerSolver

	clock    Clock
	last     KeplerSolution
	position model.Vec3
}

// NewBody validates the configured elements and parent mass and derives the
// orbit constants.
func NewBody(cfg model.ElementsConfig, parentMass float64) (*Body, error) {
	b := &Body{}
	if err := b.Reconfigure(cfg, parentMass); err != nil {
		return nil, err
	}
	return b, nil
}

// Reconfigure replaces the elements and parent mass and re-derives the
// constants. On error the body is left unchanged.
func (b *Body) Reconfigure(cfg model.ElementsConfig, parentMass float64) error {
	el := FromConfig(cfg)
	if err := el.Validate(); err != nil {
		return err
	}
	if err := validateParentMass(parentMass); err != nil {
		return err
	}
	b.elements = el
	b.parentMass = parentMass
	b.constants = DeriveConstants(el, parentMass)
	return nil
}

// SetSolver overrides the Kepler solver bounds.
func (b *Body) SetSolver(s KeplerSolver) { b.solver = s }

// Activate resets the clock to zero and computes the initial position.
func (b *Body) Activate(parent model.Vec3) model.Vec3 {
	b.clock.Reset()
	return b.propagate(parent)
}

// Step advances the clock by realDelta × timeScale and returns the new world
// position around parent.
func (b *Body) Step(realDelta time.Duration, timeScale float64, parent model.Vec3) model.Vec3 {
	b.clock.Advance(realDelta, timeScale)
	return b.propagate(parent)
}

func (b *Body) propagate(parent model.Vec3) model.Vec3 {
	if b.parentMass <= 0 || !b.constants.DerivedFrom(b.elements, b.parentMass) {
		panic(fmt.Sprintf("orbit: constants not derived for elements %+v", b.elements))
	}
	m := MeanAnomaly(b.constants, b.elements, b.clock.Seconds())
	b.last = b.solver.Solve(m, b.elements.Eccentricity)
	b.position = PositionAt(b.last.EccentricAnomaly, b.elements, b.constants, parent)
	return b.position
}

// Path samples the full orbit around parent at the given resolution.
func (b *Body) Path(resolution int, parent model.Vec3) ([]model.Vec3, error) {
	return SamplePath(b.elements, b.constants, parent, resolution)
}

// Position returns the position computed by the last Activate or Step.
func (b *Body) Position() model.Vec3 { return b.position }

// LastSolution returns the Kepler solution used for the current position.
func (b *Body) LastSolution() KeplerSolution { return b.last }

// SimSeconds returns the body's accumulated simulation time.
func (b *Body) SimSeconds() float64 { return b.clock.Seconds() }

// Elements returns the elements in radians.
func (b *Body) Elements() Elements { return b.elements }

// Constants returns the current derived constants.
func (b *Body) Constants() Constants { return b.constants }

// ParentMass returns the parent mass the constants were derived from.
func (b *Body) ParentMass() float64 { return b.parentMass }
