package state

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateName    = errors.New("environment name already exists")
	ErrInvalidData      = errors.New("invalid data")
	ErrConnectionFailed = errors.New("store connection failed")
	ErrMigrationFailed  = errors.New("store migration failed")
)

// StoreError wraps errors with additional context.
type StoreError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (environment, container, volume)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
