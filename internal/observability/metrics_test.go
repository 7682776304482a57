package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPropagationCollector(reg)
	if err != nil {
		t.Fatalf("NewPropagationCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/orbit.v1.OrbitService/GetPosition"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("OrbitService", "GetPosition", "OK")); got != 1 {
		t.Fatalf("orbit_rpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "orbit_rpc_duration_seconds", map[string]string{
		"service": "OrbitService",
		"method":  "GetPosition",
	}); count != 1 {
		t.Fatalf("orbit_rpc_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPropagationCollector(reg)
	if err != nil {
		t.Fatalf("NewPropagationCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/orbit.v1.OrbitService/GetOrbitPath"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "no such body")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("OrbitService", "GetOrbitPath", "NotFound")); got != 1 {
		t.Fatalf("orbit_rpc_requests_total error label = %v, want 1", got)
	}
}

func TestEngineObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPropagationCollector(reg)
	if err != nil {
		t.Fatalf("NewPropagationCollector: %v", err)
	}

	collector.ObserveStep(2*time.Millisecond, 7, 5000)
	collector.ObserveStep(time.Millisecond, 8, 10000)
	collector.ObserveKeplerSolve(3, true)
	collector.ObserveKeplerSolve(5, false)
	collector.ObservePathSamples(33)

	if got := testutil.ToFloat64(collector.Ticks); got != 2 {
		t.Fatalf("ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Bodies); got != 8 {
		t.Fatalf("bodies = %v, want 8", got)
	}
	if got := testutil.ToFloat64(collector.SimSeconds); got != 10000 {
		t.Fatalf("sim seconds = %v, want 10000", got)
	}
	if got := testutil.ToFloat64(collector.KeplerUnconverged); got != 1 {
		t.Fatalf("unconverged = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.PathSamples); got != 33 {
		t.Fatalf("path samples = %v, want 33", got)
	}
	if count := histogramSampleCount(t, reg, "orbit_kepler_iterations", nil); count != 2 {
		t.Fatalf("orbit_kepler_iterations sample_count = %d, want 2", count)
	}
}

func TestCollectorRegistersTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPropagationCollector(reg)
	if err != nil {
		t.Fatalf("first NewPropagationCollector: %v", err)
	}
	second, err := NewPropagationCollector(reg)
	if err != nil {
		t.Fatalf("second NewPropagationCollector: %v", err)
	}
	second.Ticks.Inc()
	if got := testutil.ToFloat64(first.Ticks); got != 1 {
		t.Fatalf("expected collectors to be shared, first.Ticks = %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *PropagationCollector
	c.ObserveStep(time.Millisecond, 1, 1)
	c.ObserveKeplerSolve(1, true)
	c.ObservePathSamples(1)
	c.SetStreamClients(1)
	c.IncStreamDropped()
}

func TestMetricsHandlerExposesEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPropagationCollector(reg)
	if err != nil {
		t.Fatalf("NewPropagationCollector: %v", err)
	}
	collector.ObserveStep(time.Millisecond, 3, 42)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"orbit_engine_ticks_total",
		"orbit_engine_step_duration_seconds",
		"orbit_bodies 3",
		"orbit_sim_seconds 42",
		"orbit_rpc_requests_total",
		"orbit_rpc_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := map[string][2]string{
		"/orbit.v1.OrbitService/ListBodies": {"OrbitService", "ListBodies"},
		"":                                  {"unknown", "unknown"},
		"nomethod":                          {"unknown", "unknown"},
	}
	for in, want := range cases {
		svc, m := SplitMethod(in)
		if svc != want[0] || m != want[1] {
			t.Fatalf("SplitMethod(%q) = %q, %q; want %q, %q", in, svc, m, want[0], want[1])
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
