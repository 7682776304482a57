// Package orbitsvc exposes the simulation engine over gRPC as
// orbit.v1.OrbitService. Requests and responses are google.protobuf.Struct
// messages, so clients need no generated code.
package orbitsvc

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	"github.com/signalsfoundry/orbit-simulator/internal/observability"
	"github.com/signalsfoundry/orbit-simulator/model"
	"github.com/signalsfoundry/orbit-simulator/orbit"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "orbit.v1.OrbitService"

// OrbitServiceServer is the server API for orbit.v1.OrbitService.
type OrbitServiceServer interface {
	ListBodies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPosition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrbitPath(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTimeScale(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetElements(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// TimeScaler is the part of the time controller the service drives.
type TimeScaler interface {
	TimeScale() float64
	SetTimeScale(scale float64) bool
}

// OrbitService implements OrbitServiceServer over a SimulationEngine.
type OrbitService struct {
	engine *core.SimulationEngine
	clock  TimeScaler
	log    logging.Logger

	// DefaultResolution is used by GetOrbitPath when the request has none.
	DefaultResolution int
}

// NewOrbitService constructs an OrbitService. clock may be nil, in which
// case SetTimeScale reports Unavailable.
func NewOrbitService(engine *core.SimulationEngine, clock TimeScaler, log logging.Logger) *OrbitService {
	if log == nil {
		log = logging.Noop()
	}
	return &OrbitService{
		engine:            engine,
		clock:             clock,
		log:               log,
		DefaultResolution: orbit.DefaultPathResolution,
	}
}

// Register installs svc on s.
func Register(s grpc.ServiceRegistrar, svc OrbitServiceServer) {
	s.RegisterService(&ServiceDesc, svc)
}

func (s *OrbitService) ensureReady() error {
	if s == nil || s.engine == nil {
		return status.Error(codes.Unavailable, "simulation engine not initialised")
	}
	return nil
}

// ListBodies returns every body with its current position, in update order.
func (s *OrbitService) ListBodies(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	snap := s.engine.Snapshot()
	bodies := make([]interface{}, 0, len(snap.Bodies))
	for _, b := range snap.Bodies {
		def, err := s.engine.KB.GetBody(b.ID)
		if err != nil {
			continue
		}
		bodies = append(bodies, map[string]interface{}{
			"id":        b.ID,
			"name":      b.Name,
			"parent_id": b.ParentID,
			"motion":    b.MotionSource.String(),
			"mass":      def.Mass,
			"position":  vecValue(b.Position),
		})
	}
	return newStruct(map[string]interface{}{
		"bodies":      bodies,
		"tick":        snap.Tick,
		"sim_seconds": snap.SimSeconds,
		"time_scale":  snap.TimeScale,
	})
}

// GetPosition returns one body's current position.
func (s *OrbitService) GetPosition(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id, err := requiredString(req, "body_id")
	if err != nil {
		return nil, ToStatusError(err)
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.BodyIDKey.String(id))
	pos, err := s.engine.Position(id)
	if err != nil {
		return nil, ToStatusError(err)
	}
	snap := s.engine.Snapshot()
	return newStruct(map[string]interface{}{
		"body_id":     id,
		"position":    vecValue(pos),
		"tick":        snap.Tick,
		"sim_seconds": snap.SimSeconds,
	})
}

// GetOrbitPath returns the closed orbit path of a keplerian body.
func (s *OrbitService) GetOrbitPath(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id, err := requiredString(req, "body_id")
	if err != nil {
		return nil, ToStatusError(err)
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.BodyIDKey.String(id))
	resolution := s.DefaultResolution
	if v, ok := req.GetFields()["resolution"]; ok {
		n, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum || n.NumberValue != math.Trunc(n.NumberValue) {
			return nil, ToStatusError(fmt.Errorf("%w: resolution must be an integer", ErrInvalidArgument))
		}
		// Range-check before converting so oversized values never reach int.
		if n.NumberValue < 1 || n.NumberValue > orbit.MaxPathResolution {
			return nil, ToStatusError(fmt.Errorf("%w: %v outside [1, %d]", orbit.ErrInvalidResolution, n.NumberValue, orbit.MaxPathResolution))
		}
		resolution = int(n.NumberValue)
	}

	trace.SpanFromContext(ctx).SetAttributes(observability.ResolutionKey.Int(resolution))
	points, err := s.engine.Path(id, resolution)
	if err != nil {
		return nil, ToStatusError(err)
	}
	out := make([]interface{}, len(points))
	for i, p := range points {
		out[i] = vecValue(p)
	}
	logging.FromContext(ctx, s.log).Debug(ctx, "orbit path sampled",
		logging.BodyID(id),
		logging.Int("resolution", resolution),
	)
	return newStruct(map[string]interface{}{
		"body_id":    id,
		"resolution": resolution,
		"points":     out,
	})
}

// SetTimeScale changes the simulation seconds per real second from the next
// tick on. Zero pauses the simulation.
func (s *OrbitService) SetTimeScale(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s == nil || s.clock == nil {
		return nil, status.Error(codes.Unavailable, "time controller not attached")
	}
	v, ok := req.GetFields()["time_scale"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "time_scale is required")
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return nil, status.Error(codes.InvalidArgument, "time_scale must be a number")
	}
	previous := s.clock.TimeScale()
	if !s.clock.SetTimeScale(n.NumberValue) {
		return nil, status.Errorf(codes.InvalidArgument, "time_scale %v must be finite and non-negative", n.NumberValue)
	}
	logging.FromContext(ctx, s.log).Info(ctx, "time scale changed",
		logging.Float64("previous", previous),
		logging.Float64("time_scale", n.NumberValue),
	)
	return newStruct(map[string]interface{}{
		"time_scale": n.NumberValue,
		"previous":   previous,
	})
}

// SetElements replaces a keplerian body's orbital elements (angles in
// degrees). Fields missing from the request keep their current value.
func (s *OrbitService) SetElements(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id, err := requiredString(req, "body_id")
	if err != nil {
		return nil, ToStatusError(err)
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.BodyIDKey.String(id))
	def, err := s.engine.KB.GetBody(id)
	if err != nil {
		return nil, ToStatusError(err)
	}
	el := def.Elements
	fields := req.GetFields()["elements"].GetStructValue().GetFields()
	for key, dst := range map[string]*float64{
		"semi_major_axis":             &el.SemiMajorAxis,
		"eccentricity":                &el.Eccentricity,
		"inclination":                 &el.Inclination,
		"argument_of_periapsis":       &el.ArgumentOfPeriapsis,
		"longitude_of_ascending_node": &el.LongitudeOfAscendingNode,
		"mean_longitude":              &el.MeanLongitude,
	} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		n, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum {
			return nil, ToStatusError(fmt.Errorf("%w: %s must be a number", ErrInvalidArgument, key))
		}
		*dst = n.NumberValue
	}

	if err := s.engine.Reconfigure(id, el); err != nil {
		return nil, ToStatusError(err)
	}
	return newStruct(map[string]interface{}{
		"body_id":  id,
		"elements": elementsValue(el),
	})
}

func requiredString(req *structpb.Struct, key string) (string, error) {
	v := req.GetFields()[key].GetStringValue()
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, key)
	}
	return v, nil
}

func vecValue(v model.Vec3) map[string]interface{} {
	return map[string]interface{}{"x": v.X, "y": v.Y, "z": v.Z}
}

func elementsValue(el model.ElementsConfig) map[string]interface{} {
	return map[string]interface{}{
		"semi_major_axis":             el.SemiMajorAxis,
		"eccentricity":                el.Eccentricity,
		"inclination":                 el.Inclination,
		"argument_of_periapsis":       el.ArgumentOfPeriapsis,
		"longitude_of_ascending_node": el.LongitudeOfAscendingNode,
		"mean_longitude":              el.MeanLongitude,
	}
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
