package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/signalsfoundry/orbit-simulator/kb"
	"github.com/signalsfoundry/orbit-simulator/model"
)

// Scenario is a summary of what LoadScenario registered.
type Scenario struct {
	Name    string
	BodyIDs []string
	// TimeScale is the scale requested by the file; zero when unset.
	TimeScale float64
	// Epoch is the calendar time of simulation time zero; zero when unset.
	Epoch time.Time
}

// internal JSON shapes, unexported so the file format can evolve.
type scenarioJSON struct {
	Name      string     `json:"name"`
	Epoch     string     `json:"epoch"`
	TimeScale float64    `json:"time_scale"`
	Bodies    []bodyJSON `json:"bodies"`
}

type bodyJSON struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Parent   string                `json:"parent"`
	Mass     float64               `json:"mass"`
	Motion   string                `json:"motion"` // "static" | "kepler" | "tle"
	Position *positionJSON         `json:"position"`
	Elements *model.ElementsConfig `json:"elements"`
	TLE      []string              `json:"tle"`
}

type positionJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LoadScenarioFile opens path and calls LoadScenario.
func LoadScenarioFile(se *SimulationEngine, path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	defer f.Close()
	return LoadScenario(se, f)
}

// LoadScenario reads a JSON scenario from r and registers its bodies with
// the engine. Bodies may be listed in any order; parents are registered
// before their children. Loading stops at the first invalid body, leaving
// the bodies registered so far in place.
func LoadScenario(se *SimulationEngine, r io.Reader) (*Scenario, error) {
	if se == nil {
		return nil, fmt.Errorf("LoadScenario: engine is nil")
	}

	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	result := &Scenario{
		Name:      payload.Name,
		BodyIDs:   make([]string, 0, len(payload.Bodies)),
		TimeScale: payload.TimeScale,
	}
	if payload.Epoch != "" {
		epoch, err := time.Parse(time.RFC3339, payload.Epoch)
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: epoch: %w", err)
		}
		result.Epoch = epoch
		se.mu.Lock()
		se.epoch = epoch
		se.mu.Unlock()
	}

	defs := make([]model.BodyDefinition, 0, len(payload.Bodies))
	for i, b := range payload.Bodies {
		def, err := b.definition()
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: body %d: %w", i, err)
		}
		defs = append(defs, def)
	}

	ordered, err := parentsFirst(defs)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	for _, def := range ordered {
		if err := se.AddBody(def); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		result.BodyIDs = append(result.BodyIDs, def.ID)
	}
	return result, nil
}

func (b bodyJSON) definition() (model.BodyDefinition, error) {
	if b.ID == "" {
		return model.BodyDefinition{}, fmt.Errorf("body with empty id")
	}
	def := model.BodyDefinition{
		ID:       b.ID,
		Name:     b.Name,
		ParentID: b.Parent,
		Mass:     b.Mass,
	}
	if b.Position != nil {
		def.Coordinates = model.Vec3{X: b.Position.X, Y: b.Position.Y, Z: b.Position.Z}
	}
	if b.Elements != nil {
		def.Elements = *b.Elements
	}

	motion := strings.ToLower(strings.TrimSpace(b.Motion))
	if motion == "" {
		// Infer from what the body carries.
		switch {
		case len(b.TLE) > 0:
			motion = "tle"
		case b.Elements != nil:
			motion = "kepler"
		}
	}
	src, ok := model.ParseMotionSource(motion)
	if !ok {
		return model.BodyDefinition{}, fmt.Errorf("body %q: unknown motion %q", b.ID, b.Motion)
	}
	def.MotionSource = src

	switch src {
	case model.MotionSourceKepler:
		if b.Elements == nil {
			return model.BodyDefinition{}, fmt.Errorf("body %q: keplerian motion without elements", b.ID)
		}
	case model.MotionSourceTLE:
		if len(b.TLE) != 2 {
			return model.BodyDefinition{}, fmt.Errorf("body %q: tle needs exactly 2 lines, got %d", b.ID, len(b.TLE))
		}
		def.TLE1, def.TLE2 = b.TLE[0], b.TLE[1]
	}
	return def, nil
}

// parentsFirst orders defs so every parent precedes its children, keeping
// file order otherwise. Parents may also be bodies already in the engine,
// so unknown parent IDs are left for AddBody to reject.
func parentsFirst(defs []model.BodyDefinition) ([]model.BodyDefinition, error) {
	inFile := make(map[string]bool, len(defs))
	for _, d := range defs {
		if inFile[d.ID] {
			return nil, fmt.Errorf("duplicate body id %q", d.ID)
		}
		inFile[d.ID] = true
	}

	placed := make(map[string]bool, len(defs))
	out := make([]model.BodyDefinition, 0, len(defs))
	for len(out) < len(defs) {
		progress := false
		for _, d := range defs {
			if placed[d.ID] {
				continue
			}
			if d.IsRoot() || !inFile[d.ParentID] || placed[d.ParentID] {
				out = append(out, d)
				placed[d.ID] = true
				progress = true
			}
		}
		if !progress {
			var stuck []string
			for _, d := range defs {
				if !placed[d.ID] {
					stuck = append(stuck, d.ID)
				}
			}
			return nil, fmt.Errorf("%w: %v", kb.ErrCycle, stuck)
		}
	}
	return out, nil
}
