package grpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// InvalidArgument returns an InvalidArgument error naming the bad field.
func InvalidArgument(field string, cause error) error {
	if cause == nil {
		return status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	return status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, cause)
}

// Internal wraps an unexpected failure of operation.
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// ResourceExhausted reports a full queue or exceeded limit.
func ResourceExhausted(resource string, cause error) error {
	return status.Errorf(codes.ResourceExhausted, "%s: %v", resource, cause)
}

// commandError maps an Orchestrator.SendCommand failure to a status.
// Anything other than a full queue is a validation failure.
func commandError(err error) error {
	if errors.Is(err, kernel.ErrCommandQueueFull) {
		return ResourceExhausted("command queue", err)
	}
	return InvalidArgument("command", err)
}

var errInvalidLimit = errors.New("must be a non-negative integer")
