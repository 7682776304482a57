package orbit

import "time"

// Clock accumulates simulation time in seconds. It only moves forward.
type Clock struct {
	elapsed float64
}

// Advance adds realDelta scaled by timeScale and returns the new total.
// Negative deltas or scales are ignored.
func (c *Clock) Advance(realDelta time.Duration, timeScale float64) float64 {
	d := realDelta.Seconds() * timeScale
	if d > 0 {
		c.elapsed += d
	}
	return c.elapsed
}

// Seconds returns the accumulated simulation time.
func (c *Clock) Seconds() float64 { return c.elapsed }

// Reset sets the clock back to zero.
func (c *Clock) Reset() { c.elapsed = 0 }

// MeanAnomaly returns n·(t - L) for simulation time t. The result is not
// reduced modulo 2π; it grows without bound over long runs.
func MeanAnomaly(c Constants, el Elements, t float64) float64 {
	return c.MeanAngularMotion * (t - el.MeanLongitude)
}
