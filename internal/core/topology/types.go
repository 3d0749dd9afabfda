package topology

// =============================================================================
// Environment - Declaration Set
// =============================================================================

// Environment is the full declaration set for one development environment.
// It is defined once and immutable at resolution time; only activation
// creates derived runtime objects.
type Environment struct {
	Name     string    `json:"name"`
	Services []Service `json:"services"`
	Volumes  []Volume  `json:"volumes,omitempty"`
}

// Service returns the service with the given name, if declared.
func (e *Environment) Service(name string) (Service, bool) {
	for _, svc := range e.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// Volume returns the named volume with the given name, if declared.
func (e *Environment) Volume(name string) (Volume, bool) {
	for _, vol := range e.Volumes {
		if vol.Name == name {
			return vol, true
		}
	}
	return Volume{}, false
}

// =============================================================================
// Service Types
// =============================================================================

// Service is one declared unit of the environment (a container to run).
// Provenance (Image/Build) and runtime configuration are split into
// separate records because they matter at different lifecycle phases.
type Service struct {
	Name      string      `json:"name"`
	Image     string      `json:"image,omitempty"`
	Build     *BuildSpec  `json:"build,omitempty"`
	Runtime   RuntimeSpec `json:"runtime"`
	DependsOn []string    `json:"depends_on,omitempty"`
}

// BuildSpec holds the build-time provenance of a service.
type BuildSpec struct {
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// RuntimeSpec holds the run-time configuration of a service.
type RuntimeSpec struct {
	Command     []string        `json:"command,omitempty"`
	Entrypoint  []string        `json:"entrypoint,omitempty"`
	Environment []EnvVar        `json:"environment,omitempty"`
	Ports       []PortBinding   `json:"ports,omitempty"`
	Mounts      []VolumeBinding `json:"mounts,omitempty"`
}

// =============================================================================
// Environment Variable Bindings
// =============================================================================

// EnvValueKind discriminates the three kinds of environment value.
type EnvValueKind string

const (
	// EnvLiteral is a literal value embedded in the declaration.
	// Literal text may contain ${VAR} placeholders which are substituted
	// at resolution time.
	EnvLiteral EnvValueKind = "literal"
	// EnvExternal references a key in the external key-value source.
	EnvExternal EnvValueKind = "external"
	// EnvServiceRef references another service's network address.
	EnvServiceRef EnvValueKind = "service"
)

// EnvVar binds an environment variable name to a value declaration.
type EnvVar struct {
	Name  string   `json:"name"`
	Value EnvValue `json:"value"`
}

// EnvValue is the declared value of an environment variable binding.
// Exactly one of the kind-specific fields is meaningful, selected by Kind.
type EnvValue struct {
	Kind EnvValueKind `json:"kind"`

	// Literal holds the literal text for EnvLiteral.
	Literal string `json:"literal,omitempty"`

	// Ref holds the external key (EnvExternal) or the referenced
	// service name (EnvServiceRef).
	Ref string `json:"ref,omitempty"`

	// RefPort is an explicit port for EnvServiceRef. Zero means the
	// referenced service's first declared container port is used.
	RefPort uint32 `json:"ref_port,omitempty"`

	// Default is the fallback for EnvExternal when the key is absent
	// from both the runtime overrides and the external source.
	Default    string `json:"default,omitempty"`
	HasDefault bool   `json:"has_default,omitempty"`
}

// Literal builds a literal environment value.
func Literal(text string) EnvValue {
	return EnvValue{Kind: EnvLiteral, Literal: text}
}

// External builds a reference to a key in the external key-value source.
func External(key string) EnvValue {
	return EnvValue{Kind: EnvExternal, Ref: key}
}

// ExternalWithDefault builds an external reference with a fallback value.
func ExternalWithDefault(key, def string) EnvValue {
	return EnvValue{Kind: EnvExternal, Ref: key, Default: def, HasDefault: true}
}

// ServiceRef builds a reference to another service's network address.
// Port zero selects the referenced service's first declared container port.
func ServiceRef(service string, port uint32) EnvValue {
	return EnvValue{Kind: EnvServiceRef, Ref: service, RefPort: port}
}

// =============================================================================
// Port and Volume Bindings
// =============================================================================

// PortBinding maps a host port to a container port.
type PortBinding struct {
	HostPort      uint32 `json:"host_port,omitempty"` // 0 = dynamic
	ContainerPort uint32 `json:"container_port"`
	Protocol      string `json:"protocol,omitempty"` // tcp, udp
	HostIP        string `json:"host_ip,omitempty"`
}

// VolumeBindingKind discriminates the kinds of volume binding.
type VolumeBindingKind string

const (
	MountNamed VolumeBindingKind = "named"
	MountBind  VolumeBindingKind = "bind"
	MountTmpfs VolumeBindingKind = "tmpfs"
)

// VolumeBinding mounts a named volume or host path into a service.
// Consistency carries the cached/no-cache hint (e.g. "cached", "delegated").
type VolumeBinding struct {
	Kind        VolumeBindingKind `json:"kind"`
	Source      string            `json:"source,omitempty"` // volume name or host path
	Target      string            `json:"target"`           // container path
	ReadOnly    bool              `json:"readonly,omitempty"`
	Consistency string            `json:"consistency,omitempty"`
}

// =============================================================================
// Volume Types
// =============================================================================

// Volume is a named volume whose lifecycle is tied to the environment.
// Host-path binds appear only as service bindings and need no declaration.
type Volume struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver,omitempty"`
	External bool              `json:"external,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}
