package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/internal/config"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/kb"
	"github.com/signalsfoundry/orbit-simulator/model"
	"github.com/signalsfoundry/orbit-simulator/timectrl"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, toml or json)")
	scenario := flag.String("scenario", "", "scenario JSON file (overrides config)")
	duration := flag.Duration("duration", 10*time.Second, "real time to simulate")
	tick := flag.Duration("tick", 0, "tick interval (overrides config)")
	accelerated := flag.Bool("accelerated", true, "step without sleeping instead of in real time")
	timeScale := flag.Float64("time-scale", 0, "simulation seconds per real second (overrides config)")
	every := flag.Int("log-every", 10, "log positions every N ticks (0 disables)")
	pathBody := flag.String("path", "", "after the run, print this body's orbit path as JSON")
	resolution := flag.Int("resolution", 0, "segments in the -path output (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scenario":
			cfg.ScenarioPath = *scenario
		case "tick":
			cfg.Tick = *tick
		case "time-scale":
			cfg.TimeScale = *timeScale
		case "resolution":
			cfg.PathResolution = *resolution
		}
	})
	cfg.Accelerated = *accelerated
	cfg.Duration = *duration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := runOptions{LogEvery: *every, PathBody: *pathBody}
	if err := run(ctx, cfg, opts, log, os.Stdout); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

type runOptions struct {
	LogEvery int
	PathBody string
}

type pathOutput struct {
	BodyID     string      `json:"body_id"`
	Resolution int         `json:"resolution"`
	SimSeconds float64     `json:"sim_seconds"`
	Points     []pointJSON `json:"points"`
	Parent     *pointJSON  `json:"parent,omitempty"`
}

type pointJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func toPoint(v model.Vec3) pointJSON { return pointJSON{X: v.X, Y: v.Y, Z: v.Z} }

// run loads the scenario, drives the engine for cfg.Duration and, when
// opts.PathBody is set, writes that body's orbit path to out.
func run(ctx context.Context, cfg config.Config, opts runOptions, log logging.Logger, out io.Writer) error {
	ctx, runLog := logging.WithRunLogger(ctx, log)

	engine := core.NewSimulationEngine(kb.NewKnowledgeBase(),
		core.WithLogger(runLog),
		core.WithPathResolution(cfg.PathResolution),
	)
	sc, err := core.LoadScenarioFile(engine, cfg.ScenarioPath)
	if err != nil {
		return err
	}
	scale := cfg.TimeScale
	if sc.TimeScale > 0 && cfg.TimeScale == timectrl.DefaultTimeScale {
		scale = sc.TimeScale
	}
	runLog.Info(ctx, "loaded scenario",
		logging.String("name", sc.Name),
		logging.Int("bodies", len(sc.BodyIDs)),
		logging.Float64("time_scale", scale),
	)

	if opts.PathBody != "" {
		if _, err := engine.KB.GetBody(opts.PathBody); err != nil {
			return err
		}
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
	if opts.LogEvery > 0 {
		engine.RegisterTickListener(func(s core.Snapshot) {
			if s.Tick%opts.LogEvery != 0 {
				return
			}
			for _, b := range s.Bodies {
				runLog.Info(ctx, "position",
					logging.Int("tick", s.Tick),
					logging.Float64("sim_seconds", s.SimSeconds),
					logging.BodyID(b.ID),
					logging.Vec3("position", b.Position.X, b.Position.Y, b.Position.Z),
				)
			}
		})
	}

	runLog.Info(ctx, "starting simulation",
		logging.Duration("duration", cfg.Duration),
		logging.Duration("tick", cfg.Tick),
		logging.String("mode", mode.String()),
		logging.Bool("accelerated", cfg.Accelerated),
	)
	<-engine.Run(ctx, tc, cfg.Duration)
	snap := engine.Snapshot()
	runLog.Info(ctx, "simulation complete",
		logging.Int("ticks", snap.Tick+1),
		logging.Float64("sim_seconds", snap.SimSeconds),
	)

	if opts.PathBody == "" {
		return nil
	}
	points, err := engine.DefaultPath(opts.PathBody)
	if err != nil {
		return err
	}
	body, _ := engine.KB.GetBody(opts.PathBody)
	res := pathOutput{
		BodyID:     opts.PathBody,
		Resolution: len(points) - 1,
		SimSeconds: snap.SimSeconds,
		Points:     make([]pointJSON, len(points)),
	}
	for i, p := range points {
		res.Points[i] = toPoint(p)
	}
	if parent, err := engine.Position(body.ParentID); err == nil {
		pp := toPoint(parent)
		res.Parent = &pp
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
