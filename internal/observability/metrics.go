package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// PropagationCollector bundles Prometheus metrics for the propagation engine
// and the surfaces that expose it.
type PropagationCollector struct {
	gatherer prometheus.Gatherer

	Ticks             prometheus.Counter
	StepDuration      prometheus.Histogram
	KeplerIterations  prometheus.Histogram
	KeplerUnconverged prometheus.Counter
	Bodies            prometheus.Gauge
	SimSeconds        prometheus.Gauge
	PathSamples       prometheus.Counter

	RPCRequests   *prometheus.CounterVec
	RPCDurations  *prometheus.HistogramVec
	StreamClients prometheus.Gauge
	StreamDropped prometheus.Counter
}

// NewPropagationCollector registers the metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewPropagationCollector(reg prometheus.Registerer) (*PropagationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &PropagationCollector{gatherer: gatherer}
	var err error

	if c.Ticks, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_engine_ticks_total",
		Help: "Total number of engine steps executed.",
	}), "orbit_engine_ticks_total"); err != nil {
		return nil, err
	}
	if c.StepDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbit_engine_step_duration_seconds",
		Help:    "Wall-clock duration of one engine step across all bodies.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "orbit_engine_step_duration_seconds"); err != nil {
		return nil, err
	}
	if c.KeplerIterations, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbit_kepler_iterations",
		Help:    "Newton iterations used per Kepler solve.",
		Buckets: []float64{1, 2, 3, 4, 5},
	}), "orbit_kepler_iterations"); err != nil {
		return nil, err
	}
	if c.KeplerUnconverged, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_kepler_unconverged_total",
		Help: "Kepler solves that hit the iteration cap before reaching tolerance.",
	}), "orbit_kepler_unconverged_total"); err != nil {
		return nil, err
	}
	if c.Bodies, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_bodies",
		Help: "Current number of bodies registered with the engine.",
	}), "orbit_bodies"); err != nil {
		return nil, err
	}
	if c.SimSeconds, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_sim_seconds",
		Help: "Accumulated simulation time in seconds.",
	}), "orbit_sim_seconds"); err != nil {
		return nil, err
	}
	if c.PathSamples, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_path_samples_total",
		Help: "Orbit path points computed by the path sampler.",
	}), "orbit_path_samples_total"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "orbit_rpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orbit_rpc_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "orbit_rpc_duration_seconds"); err != nil {
		return nil, err
	}
	if c.StreamClients, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_stream_clients",
		Help: "Connected position stream clients.",
	}), "orbit_stream_clients"); err != nil {
		return nil, err
	}
	if c.StreamDropped, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_stream_frames_dropped_total",
		Help: "Position frames not sent because a client exceeded its rate limit or fell behind.",
	}), "orbit_stream_frames_dropped_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// ObserveStep records one engine step. It satisfies the engine's metrics
// recorder interface.
func (c *PropagationCollector) ObserveStep(d time.Duration, bodies int, simSeconds float64) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.StepDuration.Observe(d.Seconds())
	c.Bodies.Set(float64(bodies))
	c.SimSeconds.Set(simSeconds)
}

// ObserveKeplerSolve records the iterations of one solve.
func (c *PropagationCollector) ObserveKeplerSolve(iterations int, converged bool) {
	if c == nil {
		return
	}
	c.KeplerIterations.Observe(float64(iterations))
	if !converged {
		c.KeplerUnconverged.Inc()
	}
}

// ObservePathSamples counts computed path points.
func (c *PropagationCollector) ObservePathSamples(n int) {
	if c == nil {
		return
	}
	c.PathSamples.Add(float64(n))
}

// SetStreamClients sets the connected stream client gauge.
func (c *PropagationCollector) SetStreamClients(n int) {
	if c == nil {
		return
	}
	c.StreamClients.Set(float64(n))
}

// IncStreamDropped counts one dropped stream frame.
func (c *PropagationCollector) IncStreamDropped() {
	if c == nil {
		return
	}
	c.StreamDropped.Inc()
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *PropagationCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PropagationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PropagationCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
