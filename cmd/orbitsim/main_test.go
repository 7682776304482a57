package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/internal/config"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/kb"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.ScenarioPath = filepath.Join("..", "..", "configs", "solar_system.json")
	cfg.Tick = 10 * time.Millisecond
	cfg.Duration = 100 * time.Millisecond
	cfg.Accelerated = true
	cfg.PathResolution = 8
	return cfg
}

// TestIntegration_SolarSystemPath runs a short accelerated simulation and
// checks the orbit path printed for the moon.
func TestIntegration_SolarSystemPath(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), testConfig(t), runOptions{LogEvery: 5, PathBody: "moon"}, logging.Noop(), &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var res pathOutput
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	if res.BodyID != "moon" || res.Resolution != 8 || len(res.Points) != 9 {
		t.Fatalf("unexpected path header %+v", res)
	}
	if res.Points[0] != res.Points[8] {
		t.Fatalf("path not closed: %v vs %v", res.Points[0], res.Points[8])
	}
	if !scalar.EqualWithinAbs(res.SimSeconds, 10*0.01*5000, 1e-6) {
		t.Fatalf("SimSeconds = %v, want 500", res.SimSeconds)
	}
	if res.Parent == nil {
		t.Fatalf("expected the parent position in the output")
	}

	// Every sample sits between periapsis and apoapsis of the moon's orbit.
	parent := r3.Vec{X: res.Parent.X, Y: res.Parent.Y, Z: res.Parent.Z}
	for i, p := range res.Points {
		d := r3.Norm(r3.Sub(r3.Vec{X: p.X, Y: p.Y, Z: p.Z}, parent))
		if d < 6*(1-0.0549)-1e-9 || d > 6*(1+0.0549)+1e-9 {
			t.Fatalf("point %d is %v from earth", i, d)
		}
	}
}

func TestRunWithoutPath(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), testConfig(t), runOptions{}, logging.Noop(), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output without -path, got %q", out.String())
	}
}

func TestRunUnknownPathBody(t *testing.T) {
	err := run(context.Background(), testConfig(t), runOptions{PathBody: "pluto"}, logging.Noop(), &bytes.Buffer{})
	if !errors.Is(err, kb.ErrBodyNotFound) {
		t.Fatalf("expected ErrBodyNotFound, got %v", err)
	}
}

func TestRunStaticPathBody(t *testing.T) {
	err := run(context.Background(), testConfig(t), runOptions{PathBody: "sun"}, logging.Noop(), &bytes.Buffer{})
	if !errors.Is(err, core.ErrNotKeplerian) {
		t.Fatalf("expected ErrNotKeplerian, got %v", err)
	}
}

func TestRunMissingScenario(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScenarioPath = filepath.Join(t.TempDir(), "missing.json")
	if err := run(context.Background(), cfg, runOptions{}, logging.Noop(), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for missing scenario")
	}
}
