package orbit

import (
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/orbit-simulator/model"
)

func TestNewBodyValidation(t *testing.T) {
	good := model.ElementsConfig{SemiMajorAxis: 10, Eccentricity: 0.2}
	cases := []struct {
		name    string
		cfg     model.ElementsConfig
		mass    float64
		wantErr error
	}{
		{"valid", good, 1, nil},
		{"max eccentricity", model.ElementsConfig{SemiMajorAxis: 10, Eccentricity: MaxEccentricity}, 1, nil},
		{"eccentricity one", model.ElementsConfig{SemiMajorAxis: 10, Eccentricity: 1}, 1, ErrInvalidElements},
		{"negative eccentricity", model.ElementsConfig{SemiMajorAxis: 10, Eccentricity: -0.1}, 1, ErrInvalidElements},
		{"zero axis", model.ElementsConfig{Eccentricity: 0.1}, 1, ErrInvalidElements},
		{"nan angle", model.ElementsConfig{SemiMajorAxis: 10, Inclination: math.NaN()}, 1, ErrInvalidElements},
		{"zero mass", good, 0, ErrInvalidParentMass},
		{"infinite mass", good, math.Inf(1), ErrInvalidParentMass},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBody(tc.cfg, tc.mass)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("NewBody: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("NewBody error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestReconfigureKeepsBodyOnError(t *testing.T) {
	b, err := NewBody(model.ElementsConfig{SemiMajorAxis: 10, Eccentricity: 0.2}, 1)
	if err != nil {
		t.Fatalf("NewBody: %v", err)
	}
	before := b.Constants()
	if err := b.Reconfigure(model.ElementsConfig{SemiMajorAxis: -1}, 1); !errors.Is(err, ErrInvalidElements) {
		t.Fatalf("Reconfigure error = %v, want ErrInvalidElements", err)
	}
	if b.Constants() != before {
		t.Fatalf("constants changed after a rejected reconfigure")
	}

	if err := b.Reconfigure(model.ElementsConfig{SemiMajorAxis: 20, Eccentricity: 0.2}, 1); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if !b.Constants().DerivedFrom(b.Elements(), 1) {
		t.Fatalf("constants not re-derived after reconfigure")
	}
	if b.Constants().MeanAngularMotion >= before.MeanAngularMotion {
		t.Fatalf("wider orbit should move slower: n %v -> %v", before.MeanAngularMotion, b.Constants().MeanAngularMotion)
	}
}

func TestBodyCircularScenario(t *testing.T) {
	b, err := NewBody(model.ElementsConfig{SemiMajorAxis: 10}, 1)
	if err != nil {
		t.Fatalf("NewBody: %v", err)
	}
	pos := b.Activate(model.Vec3{})
	if b.SimSeconds() != 0 {
		t.Fatalf("clock after Activate = %v, want 0", b.SimSeconds())
	}
	for i := 0; i < 50; i++ {
		if !scalar.EqualWithinAbs(r3.Norm(pos), 10, 1e-12) || pos.Y != 0 {
			t.Fatalf("tick %d: position %+v, want |p|=10 and y=0", i, pos)
		}
		pos = b.Step(16*time.Millisecond, 5000, model.Vec3{})
	}
	if want := 50 * 0.016 * 5000; !scalar.EqualWithinAbs(b.SimSeconds(), want, 1e-6) {
		t.Fatalf("sim seconds = %v, want %v", b.SimSeconds(), want)
	}
}

func TestBodyStepMatchesPathTransform(t *testing.T) {
	b, err := NewBody(inclinedElements().Config(), 3)
	if err != nil {
		t.Fatalf("NewBody: %v", err)
	}
	parent := model.Vec3{X: 5, Y: 5, Z: 5}
	b.Activate(parent)
	pos := b.Step(time.Second, 1.5, parent)

	E := b.LastSolution().EccentricAnomaly
	if want := PositionAt(E, b.Elements(), b.Constants(), parent); pos != want {
		t.Fatalf("live position %+v != transform %+v", pos, want)
	}
	wantM := b.Constants().MeanAngularMotion * (1.5 - b.Elements().MeanLongitude)
	if got := E - b.Elements().Eccentricity*math.Sin(E); !scalar.EqualWithinAbs(got, wantM, 1e-9) {
		t.Fatalf("mean anomaly = %v, want %v", got, wantM)
	}
}

func TestActivateResetsClock(t *testing.T) {
	b, err := NewBody(model.ElementsConfig{SemiMajorAxis: 10, Eccentricity: 0.1}, 1)
	if err != nil {
		t.Fatalf("NewBody: %v", err)
	}
	start := b.Activate(model.Vec3{})
	b.Step(time.Second, 100, model.Vec3{})
	if b.SimSeconds() != 100 {
		t.Fatalf("sim seconds = %v, want 100", b.SimSeconds())
	}
	if again := b.Activate(model.Vec3{}); again != start || b.SimSeconds() != 0 {
		t.Fatalf("Activate did not reset: pos %+v (want %+v), t=%v", again, start, b.SimSeconds())
	}
}

func TestUnconfiguredBodyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when stepping a body without derived constants")
		}
	}()
	var b Body
	b.Activate(model.Vec3{})
}

func TestClockIgnoresBackwardSteps(t *testing.T) {
	var c Clock
	c.Advance(2*time.Second, 10)
	c.Advance(-time.Second, 10)
	c.Advance(time.Second, -4)
	if c.Seconds() != 20 {
		t.Fatalf("clock = %v, want 20", c.Seconds())
	}
	c.Reset()
	if c.Seconds() != 0 {
		t.Fatalf("clock after Reset = %v, want 0", c.Seconds())
	}
}
