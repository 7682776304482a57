package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/internal/config"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/internal/observability"
	"github.com/signalsfoundry/orbit-simulator/internal/orbitsvc"
	"github.com/signalsfoundry/orbit-simulator/internal/stream"
	"github.com/signalsfoundry/orbit-simulator/kb"
	"github.com/signalsfoundry/orbit-simulator/orbit"
	"github.com/signalsfoundry/orbit-simulator/timectrl"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, toml or json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "invalid configuration",
			logging.String("config", *configPath), logging.Err(err))
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing := cfg.Tracing
	tracing.Attributes = append(tracing.Attributes,
		attribute.String("orbit.scenario", cfg.ScenarioPath),
		attribute.Float64("orbit.gravitational_constant", orbit.GravitationalConstant),
	)
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "orbit server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the engine, controller, gRPC service, metrics and position
// stream, and blocks until ctx is done or the gRPC server fails.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	collector, err := observability.NewPropagationCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}

	engine := core.NewSimulationEngine(kb.NewKnowledgeBase(),
		core.WithLogger(log),
		core.WithRecorder(collector),
		core.WithPathResolution(cfg.PathResolution),
	)
	scale := cfg.TimeScale
	if cfg.ScenarioPath != "" {
		sc, err := core.LoadScenarioFile(engine, cfg.ScenarioPath)
		if err != nil {
			return err
		}
		if sc.TimeScale > 0 && cfg.TimeScale == timectrl.DefaultTimeScale {
			scale = sc.TimeScale
		}
		log.Info(ctx, "loaded scenario",
			logging.String("path", cfg.ScenarioPath),
			logging.String("name", sc.Name),
			logging.Int("bodies", len(sc.BodyIDs)),
		)
	}
	if _, err := engine.Activate(ctx); err != nil {
		return err
	}

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(cfg.Tick, mode)
	if !tc.SetTimeScale(scale) {
		return fmt.Errorf("invalid time scale %v", scale)
	}

	broadcaster := stream.NewBroadcaster(cfg.StreamRate, cfg.StreamBurst,
		stream.WithLogger(log),
		stream.WithMetrics(collector),
	)
	engine.RegisterTickListener(broadcaster.Publish)

	svc := orbitsvc.NewOrbitService(engine, tc, log)
	svc.DefaultResolution = cfg.PathResolution

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			orbitsvc.RequestIDUnaryServerInterceptor(log),
			orbitsvc.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)
	orbitsvc.Register(server, svc)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	healthSrv.SetServingStatus(orbitsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	httpServers := serveHTTP(newHTTPMuxes(cfg, collector, broadcaster), log)

	simCtx, stopSim := context.WithCancel(ctx)
	defer stopSim()
	simDone := engine.Run(simCtx, tc, cfg.Duration)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting orbit gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("grpc serve: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down orbit server")
	healthSrv.Shutdown()
	server.GracefulStop()
	stopSim()
	<-simDone
	broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range httpServers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return runErr
}

// newHTTPMuxes returns the handlers served on the metrics and stream
// addresses. When both addresses are equal one mux carries both routes.
func newHTTPMuxes(cfg config.Config, collector *observability.PropagationCollector, b *stream.Broadcaster) map[string]*http.ServeMux {
	muxes := make(map[string]*http.ServeMux)
	get := func(addr string) *http.ServeMux {
		if m, ok := muxes[addr]; ok {
			return m
		}
		m := http.NewServeMux()
		muxes[addr] = m
		return m
	}
	if cfg.MetricsAddr != "" {
		get(cfg.MetricsAddr).Handle("/metrics", collector.Handler())
	}
	if cfg.StreamAddr != "" {
		get(cfg.StreamAddr).Handle("/ws/positions", b)
	}
	return muxes
}

func serveHTTP(muxes map[string]*http.ServeMux, log logging.Logger) []*http.Server {
	servers := make([]*http.Server, 0, len(muxes))
	for addr, mux := range muxes {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn(context.Background(), "http server exited", logging.String("addr", srv.Addr), logging.Err(err))
			}
		}()
		log.Info(context.Background(), "serving http", logging.String("addr", addr))
		servers = append(servers, srv)
	}
	return servers
}
