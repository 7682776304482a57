// Package config loads runtime settings for the orbit binaries from defaults,
// an optional config file and ORBIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/orbit-simulator/internal/observability"
	"github.com/signalsfoundry/orbit-simulator/orbit"
)

// EnvPrefix is prepended to every environment override, e.g. ORBIT_TIME_SCALE.
const EnvPrefix = "ORBIT"

// Config holds the settings shared by cmd/orbitsim and cmd/orbit-server.
type Config struct {
	GRPCAddr    string
	MetricsAddr string
	StreamAddr  string

	ScenarioPath string

	Tick        time.Duration
	TimeScale   float64
	Accelerated bool
	Duration    time.Duration

	PathResolution int

	LogLevel  string
	LogFormat string

	// StreamRate is the maximum frames per second pushed to one WebSocket
	// client. StreamBurst bounds short bursts above that rate.
	StreamRate  float64
	StreamBurst int

	// Tracing is read from the tracing_* keys (ORBIT_TRACING_ENABLED,
	// ORBIT_TRACING_EXPORTER, ORBIT_TRACING_SERVICE_NAME,
	// ORBIT_TRACING_SAMPLE_RATIO, ORBIT_OTLP_ENDPOINT).
	Tracing observability.TracingConfig
}

var (
	ErrInvalidTick        = errors.New("config: tick must be positive")
	ErrInvalidTimeScale   = errors.New("config: time scale must be non-negative")
	ErrInvalidResolution  = errors.New("config: path resolution out of range")
	ErrInvalidStreamRate  = errors.New("config: stream rate must be positive")
	ErrInvalidSampleRatio = errors.New("config: tracing sample ratio must be within [0, 1]")
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("grpc_addr", ":50051")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("stream_addr", ":8080")
	v.SetDefault("scenario", "configs/solar_system.json")
	v.SetDefault("tick", "20ms")
	v.SetDefault("time_scale", 5000.0)
	v.SetDefault("accelerated", false)
	v.SetDefault("duration", "0s")
	v.SetDefault("path_resolution", 32)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("stream_rate", 10.0)
	v.SetDefault("stream_burst", 1)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_exporter", "stdout")
	v.SetDefault("tracing_service_name", observability.DefaultServiceName)
	v.SetDefault("tracing_sample_ratio", 1.0)
	v.SetDefault("otlp_endpoint", "")
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads an optional config file and returns the validated settings.
// An empty path skips the file and uses defaults plus environment only.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates settings from v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		GRPCAddr:       v.GetString("grpc_addr"),
		MetricsAddr:    v.GetString("metrics_addr"),
		StreamAddr:     v.GetString("stream_addr"),
		ScenarioPath:   v.GetString("scenario"),
		Tick:           v.GetDuration("tick"),
		TimeScale:      v.GetFloat64("time_scale"),
		Accelerated:    v.GetBool("accelerated"),
		Duration:       v.GetDuration("duration"),
		PathResolution: v.GetInt("path_resolution"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		StreamRate:     v.GetFloat64("stream_rate"),
		StreamBurst:    v.GetInt("stream_burst"),
		Tracing: observability.TracingConfig{
			Enabled:     v.GetBool("tracing_enabled"),
			ServiceName: v.GetString("tracing_service_name"),
			Exporter:    strings.ToLower(v.GetString("tracing_exporter")),
			Endpoint:    v.GetString("otlp_endpoint"),
			SampleRatio: v.GetFloat64("tracing_sample_ratio"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Tick <= 0:
		return ErrInvalidTick
	case c.TimeScale < 0:
		return fmt.Errorf("%w: %v", ErrInvalidTimeScale, c.TimeScale)
	case c.PathResolution < 1 || c.PathResolution > orbit.MaxPathResolution:
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidResolution, c.PathResolution, orbit.MaxPathResolution)
	case c.StreamRate <= 0:
		return ErrInvalidStreamRate
	case c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1:
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Tracing.SampleRatio)
	}
	return nil
}
