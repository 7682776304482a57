package orbitsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of orbit.v1.OrbitService.
const (
	ListBodiesMethod   = "/" + ServiceName + "/ListBodies"
	GetPositionMethod  = "/" + ServiceName + "/GetPosition"
	GetOrbitPathMethod = "/" + ServiceName + "/GetOrbitPath"
	SetTimeScaleMethod = "/" + ServiceName + "/SetTimeScale"
	SetElementsMethod  = "/" + ServiceName + "/SetElements"
)

type unaryCall func(OrbitServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrbitServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(OrbitServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the grpc.ServiceDesc for orbit.v1.OrbitService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrbitServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListBodies", Handler: unaryHandler(ListBodiesMethod, OrbitServiceServer.ListBodies)},
		{MethodName: "GetPosition", Handler: unaryHandler(GetPositionMethod, OrbitServiceServer.GetPosition)},
		{MethodName: "GetOrbitPath", Handler: unaryHandler(GetOrbitPathMethod, OrbitServiceServer.GetOrbitPath)},
		{MethodName: "SetTimeScale", Handler: unaryHandler(SetTimeScaleMethod, OrbitServiceServer.SetTimeScale)},
		{MethodName: "SetElements", Handler: unaryHandler(SetElementsMethod, OrbitServiceServer.SetElements)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orbit/v1/orbit.proto",
}

// Client calls orbit.v1.OrbitService over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListBodies(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListBodiesMethod, nil, opts...)
}

func (c *Client) GetPosition(ctx context.Context, bodyID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"body_id": bodyID})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, GetPositionMethod, in, opts...)
}

// GetOrbitPath requests the path of bodyID. A resolution of 0 leaves the
// choice to the server.
func (c *Client) GetOrbitPath(ctx context.Context, bodyID string, resolution int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	fields := map[string]interface{}{"body_id": bodyID}
	if resolution != 0 {
		fields["resolution"] = resolution
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, GetOrbitPathMethod, in, opts...)
}

func (c *Client) SetTimeScale(ctx context.Context, scale float64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"time_scale": scale})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, SetTimeScaleMethod, in, opts...)
}

// SetElements sends a partial element update; keys follow the scenario file
// spelling, angles in degrees.
func (c *Client) SetElements(ctx context.Context, bodyID string, elements map[string]interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"body_id": bodyID, "elements": elements})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, SetElementsMethod, in, opts...)
}
