package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/internal/observability"
	"github.com/signalsfoundry/orbit-simulator/kb"
	"github.com/signalsfoundry/orbit-simulator/model"
	"github.com/signalsfoundry/orbit-simulator/orbit"
	"github.com/signalsfoundry/orbit-simulator/timectrl"
)

var (
	// ErrMissingParent is returned for an orbiting body without a parent.
	ErrMissingParent = errors.New("orbiting body needs a parent")
	// ErrNotKeplerian is returned by operations that need orbital elements
	// on a body that does not have them.
	ErrNotKeplerian = errors.New("body is not on a keplerian orbit")
	// ErrNotActivated is returned by Step before the first Activate.
	ErrNotActivated = errors.New("simulation engine not activated")
)

// Recorder receives engine measurements. *observability.PropagationCollector
// implements it.
type Recorder interface {
	ObserveStep(d time.Duration, bodies int, simSeconds float64)
	ObserveKeplerSolve(iterations int, converged bool)
	ObservePathSamples(n int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveStep(time.Duration, int, float64) {}
func (noopRecorder) ObserveKeplerSolve(int, bool)            {}
func (noopRecorder) ObservePathSamples(int)                  {}

// BodyState is one body's entry in a Snapshot.
type BodyState struct {
	ID           string
	Name         string
	ParentID     string
	MotionSource model.MotionSource
	Position     model.Vec3

	// Set for keplerian bodies only.
	EccentricAnomaly float64
	KeplerIterations int
}

// Snapshot is the engine state after a step, bodies in update order.
type Snapshot struct {
	Tick       int
	SimSeconds float64
	TimeScale  float64
	Bodies     []BodyState
}

// Body returns the state of id, if present.
func (s Snapshot) Body(id string) (BodyState, bool) {
	for _, b := range s.Bodies {
		if b.ID == id {
			return b, true
		}
	}
	return BodyState{}, false
}

// EngineOption configures a SimulationEngine.
type EngineOption func(*SimulationEngine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(se *SimulationEngine) {
		if l != nil {
			se.log = l
		}
	}
}

// WithRecorder sets where step and solver measurements go.
func WithRecorder(r Recorder) EngineOption {
	return func(se *SimulationEngine) {
		if r != nil {
			se.metrics = r
		}
	}
}

// WithEpoch sets the calendar time that simulation time zero maps to. Only
// TLE bodies use it.
func WithEpoch(t time.Time) EngineOption {
	return func(se *SimulationEngine) { se.epoch = t }
}

// WithPathResolution sets the default resolution used by DefaultPath.
func WithPathResolution(n int) EngineOption {
	return func(se *SimulationEngine) {
		if n >= 1 {
			se.pathResolution = n
		}
	}
}

// SimulationEngine owns the motion model of every body in the KB and
// advances them one tick at a time, parents before children.
type SimulationEngine struct {
	KB *kb.KnowledgeBase

	mu             sync.Mutex
	models         map[string]MotionModel
	paths          map[string]*orbit.Path
	positions      map[string]model.Vec3
	pathResolution int
	epoch          time.Time
	active         bool
	last           Snapshot

	listenerMu    sync.RWMutex
	tickListeners []func(Snapshot)

	log     logging.Logger
	metrics Recorder
}

// NewSimulationEngine returns an engine over kb. Bodies already in kb, or
// added to it directly later, get a motion model built from their
// definition on the next Activate or Step.
func NewSimulationEngine(knowledge *kb.KnowledgeBase, opts ...EngineOption) *SimulationEngine {
	if knowledge == nil {
		knowledge = kb.NewKnowledgeBase()
	}
	se := &SimulationEngine{
		KB:             knowledge,
		models:         make(map[string]MotionModel),
		paths:          make(map[string]*orbit.Path),
		positions:      make(map[string]model.Vec3),
		pathResolution: orbit.DefaultPathResolution,
		epoch:          time.Now().UTC(),
		log:            logging.Noop(),
		metrics:        noopRecorder{},
	}
	for _, opt := range opts {
		opt(se)
	}
	return se
}

// RegisterTickListener adds fn to the functions called after every Step.
func (se *SimulationEngine) RegisterTickListener(fn func(Snapshot)) {
	se.listenerMu.Lock()
	defer se.listenerMu.Unlock()
	se.tickListeners = append(se.tickListeners, fn)
}

// AddBody builds a motion model for def and registers the body. A keplerian
// body's parent must already be registered, since its mass fixes the orbit
// constants. If the engine is active the body is activated immediately.
func (se *SimulationEngine) AddBody(def model.BodyDefinition) error {
	var parentMass float64
	if !def.IsRoot() {
		parent, err := se.KB.GetBody(def.ParentID)
		if err != nil {
			return fmt.Errorf("body %q: %w: %q", def.ID, kb.ErrParentNotFound, def.ParentID)
		}
		parentMass = parent.Mass
	}

	m, err := NewMotionModel(&def, parentMass, se.epoch)
	if err != nil {
		return fmt.Errorf("body %q: %w", def.ID, err)
	}

	se.mu.Lock()
	defer se.mu.Unlock()
	if err := se.KB.AddBody(&def); err != nil {
		return err
	}
	se.models[def.ID] = m
	if se.active {
		pos := m.Activate(se.positions[def.ParentID])
		se.positions[def.ID] = pos
		_ = se.KB.UpdateBodyPosition(def.ID, pos)
	}
	se.log.Debug(context.Background(), "body added",
		logging.BodyID(def.ID),
		logging.String("parent_id", def.ParentID),
		logging.String("motion", def.MotionSource.String()),
	)
	return nil
}

// RemoveBody unregisters a body that has no children.
func (se *SimulationEngine) RemoveBody(id string) error {
	se.mu.Lock()
	defer se.mu.Unlock()
	if err := se.KB.RemoveBody(id); err != nil {
		return err
	}
	delete(se.models, id)
	delete(se.paths, id)
	delete(se.positions, id)
	return nil
}

// Activate resets every body's clock and computes initial positions in
// dependency order.
func (se *SimulationEngine) Activate(ctx context.Context) (Snapshot, error) {
	se.mu.Lock()
	order, err := se.KB.UpdateOrder()
	if err != nil {
		se.mu.Unlock()
		return Snapshot{}, err
	}
	for _, id := range order {
		def, err := se.KB.GetBody(id)
		if err != nil {
			se.mu.Unlock()
			return Snapshot{}, err
		}
		m, _, err := se.modelLocked(def)
		if err != nil {
			se.mu.Unlock()
			return Snapshot{}, err
		}
		pos := m.Activate(se.positions[def.ParentID])
		se.positions[id] = pos
		_ = se.KB.UpdateBodyPosition(id, pos)
	}
	se.active = true
	se.last = se.snapshotLocked(order, timectrl.Tick{TimeScale: se.last.TimeScale}, 0)
	snap := se.last
	se.mu.Unlock()

	logging.FromContext(ctx, se.log).Info(ctx, "simulation activated", logging.Int("bodies", len(order)))
	return snap, nil
}

// Step advances every body by one tick, parents before children, and
// returns the resulting snapshot. Listeners are called after the engine
// lock is released.
func (se *SimulationEngine) Step(ctx context.Context, tick timectrl.Tick) (snap Snapshot, err error) {
	ctx, span := observability.StartSpan(ctx, "SimulationEngine.Step",
		observability.TickIndexKey.Int(tick.Index),
		observability.TimeScaleKey.Float64(tick.TimeScale),
	)
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	se.mu.Lock()
	snap, err = se.stepLocked(ctx, tick)
	se.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}

	se.metrics.ObserveStep(time.Since(start), len(snap.Bodies), snap.SimSeconds)
	span.SetAttributes(
		observability.BodyCountKey.Int(len(snap.Bodies)),
		observability.SimSecondsKey.Float64(snap.SimSeconds),
	)

	se.listenerMu.RLock()
	listeners := append([]func(Snapshot){}, se.tickListeners...)
	se.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
	return snap, nil
}

func (se *SimulationEngine) stepLocked(ctx context.Context, tick timectrl.Tick) (Snapshot, error) {
	if !se.active {
		return Snapshot{}, ErrNotActivated
	}
	order, err := se.KB.UpdateOrder()
	if err != nil {
		return Snapshot{}, err
	}

	for _, id := range order {
		def, err := se.KB.GetBody(id)
		if err != nil {
			continue
		}
		m, created, err := se.modelLocked(def)
		if err != nil {
			return Snapshot{}, err
		}
		if created {
			m.Activate(se.positions[def.ParentID])
		}
		pos := m.UpdatePosition(tick, se.positions[def.ParentID])
		se.positions[id] = pos
		if km, ok := m.(*KeplerMotionModel); ok {
			sol := km.Body.LastSolution()
			se.metrics.ObserveKeplerSolve(sol.Iterations, sol.Converged)
			if !sol.Converged {
				logging.FromContext(ctx, se.log).Debug(ctx, "kepler solver hit iteration cap",
					logging.BodyID(id),
					logging.Int("iterations", sol.Iterations),
				)
			}
		}
		_ = se.KB.UpdateBodyPosition(id, pos)
	}

	se.last = se.snapshotLocked(order, tick, se.last.SimSeconds+tick.SimDelta())
	return se.last, nil
}

// modelLocked returns the motion model for def, building it when the body
// reached the KB without going through AddBody.
func (se *SimulationEngine) modelLocked(def model.BodyDefinition) (MotionModel, bool, error) {
	if m, ok := se.models[def.ID]; ok {
		return m, false, nil
	}
	var parentMass float64
	if !def.IsRoot() {
		parent, err := se.KB.GetBody(def.ParentID)
		if err != nil {
			return nil, false, fmt.Errorf("body %q: %w: %q", def.ID, kb.ErrParentNotFound, def.ParentID)
		}
		parentMass = parent.Mass
	}
	m, err := NewMotionModel(&def, parentMass, se.epoch)
	if err != nil {
		return nil, false, fmt.Errorf("body %q: %w", def.ID, err)
	}
	se.models[def.ID] = m
	se.log.Debug(context.Background(), "motion model built for existing body",
		logging.BodyID(def.ID),
		logging.String("motion", def.MotionSource.String()),
	)
	return m, true, nil
}

func (se *SimulationEngine) snapshotLocked(order []string, tick timectrl.Tick, simSeconds float64) Snapshot {
	snap := Snapshot{
		Tick:       tick.Index,
		SimSeconds: simSeconds,
		TimeScale:  tick.TimeScale,
		Bodies:     make([]BodyState, 0, len(order)),
	}
	for _, id := range order {
		def, err := se.KB.GetBody(id)
		if err != nil {
			continue
		}
		st := BodyState{
			ID:           id,
			Name:         def.Name,
			ParentID:     def.ParentID,
			MotionSource: def.MotionSource,
			Position:     se.positions[id],
		}
		if km, ok := se.models[id].(*KeplerMotionModel); ok {
			sol := km.Body.LastSolution()
			st.EccentricAnomaly = sol.EccentricAnomaly
			st.KeplerIterations = sol.Iterations
		}
		snap.Bodies = append(snap.Bodies, st)
	}
	return snap
}

// Snapshot returns the state after the most recent Activate or Step.
func (se *SimulationEngine) Snapshot() Snapshot {
	se.mu.Lock()
	defer se.mu.Unlock()
	snap := se.last
	snap.Bodies = append([]BodyState(nil), se.last.Bodies...)
	return snap
}

// Position returns the current world position of id.
func (se *SimulationEngine) Position(id string) (model.Vec3, error) {
	se.mu.Lock()
	defer se.mu.Unlock()
	if _, ok := se.models[id]; !ok {
		return model.Vec3{}, fmt.Errorf("%w: %q", kb.ErrBodyNotFound, id)
	}
	return se.positions[id], nil
}

// Path returns the closed orbit path of a keplerian body around its
// parent's current position. Paths are cached per body and only resampled
// when the orbit, the parent position or the resolution changes.
func (se *SimulationEngine) Path(id string, resolution int) ([]model.Vec3, error) {
	if err := orbit.ValidateResolution(resolution); err != nil {
		return nil, err
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	km, def, err := se.keplerLocked(id)
	if err != nil {
		return nil, err
	}
	p, ok := se.paths[id]
	if !ok {
		p, err = orbit.NewPath(resolution)
		if err != nil {
			return nil, err
		}
		se.paths[id] = p
	} else if err := p.SetResolution(resolution); err != nil {
		return nil, err
	}
	points := p.Points(km.Body, se.positions[def.ParentID])
	se.metrics.ObservePathSamples(len(points))
	return append([]model.Vec3(nil), points...), nil
}

// DefaultPath is Path at the engine's configured resolution.
func (se *SimulationEngine) DefaultPath(id string) ([]model.Vec3, error) {
	return se.Path(id, se.pathResolution)
}

// Reconfigure replaces a keplerian body's elements. The orbit constants are
// re-derived before the next step; the body's clock keeps running.
func (se *SimulationEngine) Reconfigure(id string, el model.ElementsConfig) error {
	se.mu.Lock()
	defer se.mu.Unlock()
	km, def, err := se.keplerLocked(id)
	if err != nil {
		return err
	}
	parent, err := se.KB.GetBody(def.ParentID)
	if err != nil {
		return err
	}
	if err := km.Body.Reconfigure(el, parent.Mass); err != nil {
		return fmt.Errorf("body %q: %w", id, err)
	}
	return se.KB.UpdateElements(id, el)
}

func (se *SimulationEngine) keplerLocked(id string) (*KeplerMotionModel, model.BodyDefinition, error) {
	m, ok := se.models[id]
	if !ok {
		return nil, model.BodyDefinition{}, fmt.Errorf("%w: %q", kb.ErrBodyNotFound, id)
	}
	km, ok := m.(*KeplerMotionModel)
	if !ok {
		return nil, model.BodyDefinition{}, fmt.Errorf("%w: %q", ErrNotKeplerian, id)
	}
	def, err := se.KB.GetBody(id)
	if err != nil {
		return nil, model.BodyDefinition{}, err
	}
	return km, def, nil
}

// Run drives the engine from tc until ctx is cancelled or duration elapses.
// Step errors are logged and do not stop the loop.
func (se *SimulationEngine) Run(ctx context.Context, tc *timectrl.TimeController, duration time.Duration) <-chan struct{} {
	tc.AddListener(func(tick timectrl.Tick) {
		if _, err := se.Step(ctx, tick); err != nil {
			se.log.Warn(ctx, "simulation step failed", logging.Int("tick", tick.Index), logging.Err(err))
		}
	})
	return tc.Start(ctx, duration)
}
