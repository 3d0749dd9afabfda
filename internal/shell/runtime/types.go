// Package runtime activates topology plans against a container runtime.
package runtime

import (
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name           string
	Image          string
	Command        []string
	Entrypoint     []string
	Env            map[string]string
	Labels         map[string]string
	Ports          []PortBinding
	Mounts         []Mount
	Network        string
	NetworkAliases []string // DNS aliases on Network (the service name)
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// Mount defines a filesystem mount.
type Mount struct {
	Type     MountType
	Source   string // Volume name or host path
	Target   string // Container path
	ReadOnly bool
}

// MountType represents the backing store of a mount.
type MountType string

const (
	MountTypeVolume MountType = "volume"
	MountTypeBind   MountType = "bind"
	MountTypeTmpfs  MountType = "tmpfs"
)

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Status    ContainerStatus
	Health    string // "healthy", "unhealthy", "starting", ""
	CreatedAt time.Time
	Ports     []PortBinding
	Labels    map[string]string
	ExitCode  int
}

// =============================================================================
// Network and Volume Types
// =============================================================================

// NetworkSpec defines the specification for creating a network.
type NetworkSpec struct {
	Name   string
	Driver string // "bridge" when empty
	Labels map[string]string
}

// VolumeSpec defines the specification for creating a volume.
type VolumeSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "io.envup.environment=twin"}
}

// PullOptions defines options for pulling images.
type PullOptions struct {
	Platform string // e.g., "linux/amd64"
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the container runtime interface the activator needs.
type Client interface {
	// Container operations
	CreateContainer(spec ContainerSpec) (containerID string, err error)
	StartContainer(containerID string) error
	StopContainer(containerID string, timeout *time.Duration) error
	RemoveContainer(containerID string, opts RemoveOptions) error
	InspectContainer(containerID string) (*ContainerInfo, error)
	ListContainers(opts ListOptions) ([]ContainerInfo, error)

	// Network operations
	CreateNetwork(spec NetworkSpec) (networkID string, err error)
	RemoveNetwork(networkID string) error

	// Volume operations
	CreateVolume(spec VolumeSpec) (volumeName string, err error)
	RemoveVolume(volumeName string, force bool) error

	// Image operations
	PullImage(image string, opts PullOptions) error
	ImageExists(image string) (bool, error)

	// Health operations
	Ping() error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged     = "io.envup.managed"
	LabelEnvironment = "io.envup.environment"
	LabelService     = "io.envup.service"
)
