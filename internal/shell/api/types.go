package api

import (
	"time"

	"github.com/envup/envup/internal/core/topology"
)

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the response for the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for the readiness endpoint.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// EnvironmentResponse is the response for environment operations.
type EnvironmentResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Network   string    `json:"network"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnvironmentDetailResponse is the response for a single environment,
// including the live state of its containers.
type EnvironmentDetailResponse struct {
	EnvironmentResponse
	Containers []ContainerResponse `json:"containers"`
}

// ContainerResponse describes one container of an environment.
type ContainerResponse struct {
	Service     string `json:"service"`
	Name        string `json:"name"`
	ContainerID string `json:"container_id"`
	Status      string `json:"status"`
	Health      string `json:"health,omitempty"`
}

// PlanResponse is the response for the plan endpoint.
type PlanResponse struct {
	Plan *topology.ActivationPlan `json:"plan"`
}

// ListEnvironmentsResponse is the response for listing environments.
type ListEnvironmentsResponse struct {
	Environments []EnvironmentResponse `json:"environments"`
	Total        int                   `json:"total"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
