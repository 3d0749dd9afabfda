package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Naming Tests
// =============================================================================

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "envup_twin", NetworkName("twin"))
}

func TestVolumeName(t *testing.T) {
	assert.Equal(t, "envup_twin_pgdata", VolumeName("twin", "pgdata"))
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "envup_twin_db", ContainerName("twin", "db"))
}

func TestLocalBuildTag(t *testing.T) {
	assert.Equal(t, "envup_twin_backend:latest", LocalBuildTag("twin", "backend"))
}
