package topology

// =============================================================================
// ActivationPlan - Resolve Output
// =============================================================================

// ActivationPlan is an ordered sequence of fully-resolved service
// configurations, safe to activate in listed order: every service's
// dependencies appear earlier in the sequence.
type ActivationPlan struct {
	Environment string            `json:"environment"`
	Services    []ResolvedService `json:"services"`
	Volumes     []Volume          `json:"volumes,omitempty"`
}

// ResolvedService is one service with all environment bindings resolved to
// concrete values and all volume bindings validated.
type ResolvedService struct {
	Name       string            `json:"name"`
	Image      string            `json:"image,omitempty"`
	Build      *BuildSpec        `json:"build,omitempty"`
	Command    []string          `json:"command,omitempty"`
	Entrypoint []string          `json:"entrypoint,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Ports      []PortBinding     `json:"ports,omitempty"`
	Mounts     []VolumeBinding   `json:"mounts,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty"`
}

// ServiceNames returns the plan's service names in activation order.
func (p *ActivationPlan) ServiceNames() []string {
	names := make([]string, 0, len(p.Services))
	for _, svc := range p.Services {
		names = append(names, svc.Name)
	}
	return names
}
