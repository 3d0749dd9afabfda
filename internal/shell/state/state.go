// Package state persists activated environments so they can be inspected
// and torn down across process restarts.
package state

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Records
// =============================================================================

// EnvironmentStatus represents the lifecycle status of a stored environment.
type EnvironmentStatus string

const (
	StatusPending EnvironmentStatus = "pending"
	StatusRunning EnvironmentStatus = "running"
	StatusStopped EnvironmentStatus = "stopped"
	StatusFailed  EnvironmentStatus = "failed"
)

// Environment is the stored record of one activated environment.
type Environment struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      EnvironmentStatus `json:"status"`
	NetworkID   string            `json:"network_id"`
	NetworkName string            `json:"network_name"`
	Manifest    string            `json:"manifest"` // raw manifest YAML
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Container is the stored record of one container in an environment.
type Container struct {
	EnvironmentID string `json:"environment_id"`
	Service       string `json:"service"`
	ContainerID   string `json:"container_id"`
	Name          string `json:"name"`
	Ordinal       int    `json:"ordinal"` // activation order
}

// Volume is the stored record of one created volume in an environment.
type Volume struct {
	EnvironmentID string `json:"environment_id"`
	Name          string `json:"name"`
}

// NewEnvironmentID generates a unique environment record ID.
func NewEnvironmentID() string {
	return "env_" + uuid.New().String()[:8]
}

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for environments.
type Store interface {
	CreateEnvironment(ctx context.Context, env *Environment) error
	GetEnvironment(ctx context.Context, name string) (*Environment, error)
	ListEnvironments(ctx context.Context) ([]Environment, error)
	UpdateEnvironmentStatus(ctx context.Context, name string, status EnvironmentStatus) error
	DeleteEnvironment(ctx context.Context, name string) error

	ReplaceContainers(ctx context.Context, environmentID string, containers []Container) error
	ListContainers(ctx context.Context, environmentID string) ([]Container, error)

	ReplaceVolumes(ctx context.Context, environmentID string, volumes []Volume) error
	ListVolumes(ctx context.Context, environmentID string) ([]Volume, error)

	Close() error
}
