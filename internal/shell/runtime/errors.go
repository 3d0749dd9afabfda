package runtime

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")
	ErrContainerUnhealthy      = errors.New("container is unhealthy")

	// Network errors
	ErrNetworkNotFound      = errors.New("network not found")
	ErrNetworkAlreadyExists = errors.New("network already exists")
	ErrNetworkInUse         = errors.New("network has active endpoints")

	// Volume errors
	ErrVolumeNotFound = errors.New("volume not found")
	ErrVolumeInUse    = errors.New("volume is in use")

	// Image errors
	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("runtime connection failed")
	ErrTimeout              = errors.New("operation timed out")
)

// RuntimeError wraps errors with additional context.
type RuntimeError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, volume, image)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(op, entity, id, message string, err error) *RuntimeError {
	return &RuntimeError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
