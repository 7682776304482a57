package timectrl

import (
	"context"
	"math"
	"sync"
	"time"
)

// DefaultTimeScale is the number of simulation seconds per real second.
const DefaultTimeScale = 5000

// Tick is the simulation context handed to every listener for one step. It
// carries the time scale explicitly so nothing downstream reads a global.
type Tick struct {
	// Index counts steps from zero.
	Index int
	// RealDelta is the real time covered by this step.
	RealDelta time.Duration
	// TimeScale is the scale in effect for this step.
	TimeScale float64
	// SimSeconds is the controller's accumulated simulation time after this
	// step.
	SimSeconds float64
}

// SimDelta returns the simulation seconds covered by the step.
func (t Tick) SimDelta() float64 {
	return t.RealDelta.Seconds() * t.TimeScale
}

// Mode describes how the TimeController advances time when started.
type Mode int

const (
	// RealTime steps on a wall-clock ticker and uses the measured elapsed
	// time as each step's real delta.
	RealTime Mode = iota
	// Accelerated steps as fast as the loop can run, each step covering
	// exactly Tick of real time.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// TimeController drives simulation steps and notifies registered listeners.
type TimeController struct {
	mu        sync.RWMutex
	Tick      time.Duration
	Mode      Mode
	timeScale float64

	index      int
	simSeconds float64
	realTotal  time.Duration

	listeners []func(Tick)
	now       func() time.Time
}

// NewTimeController constructs a controller with DefaultTimeScale.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		Tick:      tick,
		Mode:      mode,
		timeScale: DefaultTimeScale,
		now:       time.Now,
	}
}

// TimeScale returns the current time scale.
func (tc *TimeController) TimeScale() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.timeScale
}

// SetTimeScale changes the scale used from the next step on. Negative or
// non-finite scales are ignored and reported with ok=false.
func (tc *TimeController) SetTimeScale(scale float64) (ok bool) {
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return false
	}
	tc.mu.Lock()
	tc.timeScale = scale
	tc.mu.Unlock()
	return true
}

// SimSeconds returns the accumulated simulation time.
func (tc *TimeController) SimSeconds() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.simSeconds
}

// Elapsed returns the accumulated real time covered by all steps.
func (tc *TimeController) Elapsed() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.realTotal
}

// AddListener registers a callback invoked on every step, in registration
// order. Register listeners before Start.
func (tc *TimeController) AddListener(fn func(Tick)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step advances the controller by realDelta and runs the listeners
// synchronously. Hosts that own their frame loop call Step directly.
func (tc *TimeController) Step(realDelta time.Duration) Tick {
	if realDelta < 0 {
		realDelta = 0
	}

	tc.mu.Lock()
	t := Tick{
		Index:     tc.index,
		RealDelta: realDelta,
		TimeScale: tc.timeScale,
	}
	tc.simSeconds += t.SimDelta()
	tc.realTotal += realDelta
	tc.index++
	t.SimSeconds = tc.simSeconds
	listeners := append([]func(Tick){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return t
}

// Start runs the controller in a separate goroutine until duration of real
// time has been stepped (0 means no limit) or ctx is done. The returned
// channel is closed when the loop exits.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if tc.Mode == Accelerated {
			tc.runAccelerated(ctx, duration)
			return
		}
		tc.runRealTime(ctx, duration)
	}()
	return done
}

func (tc *TimeController) runAccelerated(ctx context.Context, duration time.Duration) {
	var elapsed time.Duration
	for duration <= 0 || elapsed < duration {
		select {
		case <-ctx.Done():
			return
		default:
		}
		tc.Step(tc.Tick)
		elapsed += tc.Tick
	}
}

func (tc *TimeController) runRealTime(ctx context.Context, duration time.Duration) {
	ticker := time.NewTicker(tc.Tick)
	defer ticker.Stop()

	last := tc.now()
	var elapsed time.Duration
	for duration <= 0 || elapsed < duration {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := tc.now()
		delta := now.Sub(last)
		last = now
		tc.Step(delta)
		elapsed += delta
	}
}
