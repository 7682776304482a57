package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/orbit-simulator/internal/config"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/internal/observability"
	"github.com/signalsfoundry/orbit-simulator/internal/orbitsvc"
	"github.com/signalsfoundry/orbit-simulator/internal/stream"
)

func TestOrbitServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.MetricsAddr = ""
	cfg.StreamAddr = ""
	cfg.ScenarioPath = filepath.Join("..", "..", "configs", "solar_system.json")
	cfg.Tick = 10 * time.Millisecond
	cfg.Accelerated = false

	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: orbitsvc.ServiceName}, grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v, want SERVING", health.GetStatus())
	}

	client := orbitsvc.NewClient(conn)
	resp, err := client.ListBodies(ctx)
	if err != nil {
		t.Fatalf("ListBodies: %v", err)
	}
	if n := len(resp.GetFields()["bodies"].GetListValue().GetValues()); n != 7 {
		t.Fatalf("ListBodies returned %d bodies, want 7", n)
	}

	// The real-time loop keeps stepping while the server runs.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := client.ListBodies(ctx)
		if err != nil {
			t.Fatalf("ListBodies: %v", err)
		}
		if resp.GetFields()["sim_seconds"].GetNumberValue() > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("simulation clock did not advance")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestRunRejectsBadScenario(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer lis.Close()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.MetricsAddr = ""
	cfg.StreamAddr = ""
	cfg.ScenarioPath = filepath.Join(t.TempDir(), "missing.json")

	if err := run(context.Background(), cfg, logging.Noop(), lis); err == nil {
		t.Fatalf("expected error for missing scenario")
	}
}

func TestHTTPMuxesShareAddress(t *testing.T) {
	collector, err := observability.NewPropagationCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPropagationCollector: %v", err)
	}
	collector.ObserveStep(time.Millisecond, 7, 100)
	b := stream.NewBroadcaster(10, 1)

	muxes := newHTTPMuxes(config.Config{MetricsAddr: ":9000", StreamAddr: ":9000"}, collector, b)
	if len(muxes) != 1 {
		t.Fatalf("expected one mux for a shared address, got %d", len(muxes))
	}

	rr := httptest.NewRecorder()
	muxes[":9000"].ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "orbit_bodies 7") {
		t.Fatalf("/metrics status=%d body missing orbit_bodies", rr.Code)
	}

	split := newHTTPMuxes(config.Config{MetricsAddr: ":9000", StreamAddr: ":9001"}, collector, b)
	if len(split) != 2 {
		t.Fatalf("expected two muxes, got %d", len(split))
	}
	none := newHTTPMuxes(config.Config{}, collector, b)
	if len(none) != 0 {
		t.Fatalf("expected no muxes without addresses, got %d", len(none))
	}
}
