package orbit

import "math"

const (
	// DefaultTolerance is the iterate-to-iterate change below which the
	// solver stops.
	DefaultTolerance = 1e-6
	// DefaultMaxIterations bounds the solver's cost per call.
	DefaultMaxIterations = 5
)

// KeplerSolution is the result of one Kepler solve.
type KeplerSolution struct {
	// EccentricAnomaly is the last computed iterate, in radians.
	EccentricAnomaly float64
	Iterations       int
	// Converged is false when the iteration cap was reached before the
	// change between iterates fell below the tolerance.
	Converged bool
}

// KeplerSolver solves E - e·sin(E) = M by Newton–Raphson starting at E = M.
// The zero value uses DefaultTolerance and DefaultMaxIterations.
type KeplerSolver struct {
	Tolerance     float64
	MaxIterations int
}

// Solve returns the eccentric anomaly for mean anomaly m and eccentricity e.
// It never fails: when the iteration cap is hit the last iterate is returned
// with Converged=false.
func (s KeplerSolver) Solve(m, e float64) KeplerSolution {
	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	E := m
	diff := math.Inf(1)
	i := 0
	for ; diff > tol && i < maxIter; i++ {
		prev := E
		E = prev - keplerResidual(prev, e, m)/keplerDerivative(prev, e)
		diff = math.Abs(E - prev)
	}
	return KeplerSolution{
		EccentricAnomaly: E,
		Iterations:       i,
		Converged:        diff <= tol,
	}
}

// SolveKepler solves Kepler's equation with the default tolerance and
// iteration cap and returns the eccentric anomaly.
func SolveKepler(m, e float64) float64 {
	return KeplerSolver{}.Solve(m, e).EccentricAnomaly
}

// keplerResidual is f(E) = M - E + e·sin(E).
func keplerResidual(E, e, m float64) float64 {
	return m - E + e*math.Sin(E)
}

// keplerDerivative is f'(E) = -1 + e·cos(E).
func keplerDerivative(E, e float64) float64 {
	return -1 + e*math.Cos(E)
}
