package topology

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the network name for an environment.
// Pattern: envup_{environment}
//
// Example:
//
//	NetworkName("twin") // returns "envup_twin"
func NetworkName(environment string) string {
	return fmt.Sprintf("envup_%s", environment)
}

// VolumeName generates the runtime name for a named volume.
// Pattern: envup_{environment}_{volume}
//
// Example:
//
//	VolumeName("twin", "pgdata") // returns "envup_twin_pgdata"
func VolumeName(environment, volume string) string {
	return fmt.Sprintf("envup_%s_%s", environment, volume)
}

// ContainerName generates the container name for a service.
// Pattern: envup_{environment}_{service}
//
// Example:
//
//	ContainerName("twin", "db") // returns "envup_twin_db"
func ContainerName(environment, service string) string {
	return fmt.Sprintf("envup_%s_%s", environment, service)
}

// LocalBuildTag generates the image tag expected for a service that is
// declared with a build context but no image reference.
// Pattern: envup_{environment}_{service}:latest
func LocalBuildTag(environment, service string) string {
	return fmt.Sprintf("envup_%s_%s:latest", environment, service)
}
