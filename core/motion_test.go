package core

import (
	"errors"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/orbit-simulator/model"
	"github.com/signalsfoundry/orbit-simulator/orbit"
	"github.com/signalsfoundry/orbit-simulator/timectrl"
)

// ISS sample TLE.
const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

var issEpoch = time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)

func TestStaticMotionModel_NoChange(t *testing.T) {
	m := &StaticMotionModel{Position: model.Vec3{X: 1, Y: 2, Z: 3}}

	if got := m.Activate(model.Vec3{X: 100}); got != (model.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static motion should ignore the parent, got %#v", got)
	}
	tick := timectrl.Tick{RealDelta: time.Second, TimeScale: 5000}
	if got := m.UpdatePosition(tick, model.Vec3{}); got != (model.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static motion should not change coordinates, got %#v", got)
	}
}

func TestKeplerMotionModel_MatchesOrbitBody(t *testing.T) {
	el := model.ElementsConfig{SemiMajorAxis: 10, Eccentricity: 0.3, Inclination: 20, ArgumentOfPeriapsis: 45, LongitudeOfAscendingNode: 60, MeanLongitude: 5}
	m, err := NewKeplerMotionModel(el, 1000)
	if err != nil {
		t.Fatalf("NewKeplerMotionModel: %v", err)
	}
	ref, err := orbit.NewBody(el, 1000)
	if err != nil {
		t.Fatalf("NewBody: %v", err)
	}

	parent := model.Vec3{X: 3, Y: -1, Z: 2}
	if got, want := m.Activate(parent), ref.Activate(parent); got != want {
		t.Fatalf("Activate = %v, want %v", got, want)
	}
	tick := timectrl.Tick{RealDelta: 20 * time.Millisecond, TimeScale: 5000}
	for i := 0; i < 10; i++ {
		got := m.UpdatePosition(tick, parent)
		want := ref.Step(tick.RealDelta, tick.TimeScale, parent)
		if got != want {
			t.Fatalf("step %d: position %v, want %v", i, got, want)
		}
	}
}

func TestKeplerMotionModel_RejectsInvalidElements(t *testing.T) {
	_, err := NewKeplerMotionModel(model.ElementsConfig{SemiMajorAxis: 10, Eccentricity: 1.2}, 1000)
	if !errors.Is(err, orbit.ErrInvalidElements) {
		t.Fatalf("expected ErrInvalidElements, got %v", err)
	}
	_, err = NewKeplerMotionModel(model.ElementsConfig{SemiMajorAxis: 10}, 0)
	if !errors.Is(err, orbit.ErrInvalidParentMass) {
		t.Fatalf("expected ErrInvalidParentMass, got %v", err)
	}
}

// We don't assert exact orbital values (those belong to go-satellite);
// we just ensure that positions differ at distinct times and stay in LEO.
func TestSGP4MotionModel_ChangesOverTime(t *testing.T) {
	m, err := NewSGP4MotionModel(issLine1, issLine2, issEpoch)
	if err != nil {
		t.Fatalf("NewSGP4MotionModel: %v", err)
	}

	first := m.Activate(model.Vec3{})
	tick := timectrl.Tick{RealDelta: 60 * time.Millisecond, TimeScale: 5000} // 5 minutes
	second := m.UpdatePosition(tick, model.Vec3{})

	if first == second {
		t.Fatalf("expected orbital position to change over time, got %+v at both times", first)
	}
	for _, p := range []model.Vec3{first, second} {
		if n := r3.Norm(p); n < 6300 || n > 7000 {
			t.Fatalf("|position| = %v km, want low earth orbit", n)
		}
	}
	if want := issEpoch.Add(5 * time.Minute); !m.SimTime().Equal(want) {
		t.Fatalf("SimTime = %v, want %v", m.SimTime(), want)
	}
}

func TestSGP4MotionModel_OffsetFromParent(t *testing.T) {
	a, err := NewSGP4MotionModel(issLine1, issLine2, issEpoch)
	if err != nil {
		t.Fatalf("NewSGP4MotionModel: %v", err)
	}
	b, err := NewSGP4MotionModel(issLine1, issLine2, issEpoch)
	if err != nil {
		t.Fatalf("NewSGP4MotionModel: %v", err)
	}

	parent := model.Vec3{X: 1e5, Y: -2e5, Z: 3e5}
	pa := a.Activate(model.Vec3{})
	pb := b.Activate(parent)
	d := r3.Sub(r3.Sub(pb, parent), pa)
	if !scalar.EqualWithinAbs(r3.Norm(d), 0, 1e-6) {
		t.Fatalf("offset should not depend on parent position, diff %v", d)
	}
}

func TestSGP4MotionModel_InvalidTLE(t *testing.T) {
	cases := map[string][2]string{
		"short":        {"1 25544U", issLine2},
		"swapped":      {issLine2, issLine1},
		"empty line 2": {issLine1, ""},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewSGP4MotionModel(lines[0], lines[1], issEpoch); !errors.Is(err, ErrInvalidTLE) {
				t.Fatalf("expected ErrInvalidTLE, got %v", err)
			}
		})
	}
}

func TestNewMotionModel_ChoosesBySource(t *testing.T) {
	static, err := NewMotionModel(&model.BodyDefinition{ID: "sun"}, 0, issEpoch)
	if err != nil {
		t.Fatalf("static: %v", err)
	}
	if _, ok := static.(*StaticMotionModel); !ok {
		t.Fatalf("expected StaticMotionModel, got %T", static)
	}

	kep, err := NewMotionModel(&model.BodyDefinition{
		ID: "earth", ParentID: "sun", MotionSource: model.MotionSourceKepler,
		Elements: model.ElementsConfig{SemiMajorAxis: 10},
	}, 1000, issEpoch)
	if err != nil {
		t.Fatalf("kepler: %v", err)
	}
	if _, ok := kep.(*KeplerMotionModel); !ok {
		t.Fatalf("expected KeplerMotionModel, got %T", kep)
	}

	tle, err := NewMotionModel(&model.BodyDefinition{
		ID: "iss", ParentID: "earth", MotionSource: model.MotionSourceTLE, TLE1: issLine1, TLE2: issLine2,
	}, 0, issEpoch)
	if err != nil {
		t.Fatalf("tle: %v", err)
	}
	if _, ok := tle.(*SGP4MotionModel); !ok {
		t.Fatalf("expected SGP4MotionModel, got %T", tle)
	}

	_, err = NewMotionModel(&model.BodyDefinition{
		ID: "rogue", MotionSource: model.MotionSourceKepler, Elements: model.ElementsConfig{SemiMajorAxis: 10},
	}, 0, issEpoch)
	if !errors.Is(err, ErrMissingParent) {
		t.Fatalf("expected ErrMissingParent, got %v", err)
	}
}
