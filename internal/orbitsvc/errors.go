package orbitsvc

import (
	"errors"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/kb"
	"github.com/signalsfoundry/orbit-simulator/orbit"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrInvalidArgument is a package-level sentinel for malformed requests.
var ErrInvalidArgument = errors.New("invalid argument")

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, kb.ErrBodyNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, orbit.ErrInvalidElements),
		errors.Is(err, orbit.ErrInvalidParentMass),
		errors.Is(err, orbit.ErrInvalidResolution),
		errors.Is(err, kb.ErrParentNotFound),
		errors.Is(err, core.ErrMissingParent),
		errors.Is(err, core.ErrInvalidTLE):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrNotKeplerian),
		errors.Is(err, kb.ErrBodyInUse),
		errors.Is(err, kb.ErrCycle):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, kb.ErrBodyExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
