package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envup/envup/internal/shell/runtime"
	"github.com/envup/envup/internal/shell/state"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeDockerClient is a runtime.Client that records removals, for
// exercising the teardown path without a daemon.
type fakeDockerClient struct {
	removedContainers []string
	removedNetworks   []string
	removedVolumes    []string
	removeNetworkErr  error
}

func (f *fakeDockerClient) CreateContainer(spec runtime.ContainerSpec) (string, error) {
	return "", nil
}
func (f *fakeDockerClient) StartContainer(containerID string) error { return nil }
func (f *fakeDockerClient) StopContainer(containerID string, timeout *time.Duration) error {
	return nil
}

func (f *fakeDockerClient) RemoveContainer(containerID string, opts runtime.RemoveOptions) error {
	f.removedContainers = append(f.removedContainers, containerID)
	return nil
}

func (f *fakeDockerClient) InspectContainer(containerID string) (*runtime.ContainerInfo, error) {
	return &runtime.ContainerInfo{ID: containerID, Status: runtime.ContainerStatusRunning}, nil
}

func (f *fakeDockerClient) ListContainers(opts runtime.ListOptions) ([]runtime.ContainerInfo, error) {
	return nil, nil
}
func (f *fakeDockerClient) CreateNetwork(spec runtime.NetworkSpec) (string, error) { return "", nil }

func (f *fakeDockerClient) RemoveNetwork(networkID string) error {
	if f.removeNetworkErr != nil {
		return f.removeNetworkErr
	}
	f.removedNetworks = append(f.removedNetworks, networkID)
	return nil
}

func (f *fakeDockerClient) CreateVolume(spec runtime.VolumeSpec) (string, error) { return "", nil }

func (f *fakeDockerClient) RemoveVolume(volumeName string, force bool) error {
	f.removedVolumes = append(f.removedVolumes, volumeName)
	return nil
}

func (f *fakeDockerClient) PullImage(image string, opts runtime.PullOptions) error { return nil }
func (f *fakeDockerClient) ImageExists(image string) (bool, error)                 { return false, nil }
func (f *fakeDockerClient) Ping() error                                           { return nil }
func (f *fakeDockerClient) Close() error                                          { return nil }

// =============================================================================
// Test Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestStore(t *testing.T) state.Store {
	t.Helper()
	store, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func restoredTestHandle(client runtime.Client) *runtime.Handle {
	return runtime.RestoreHandle(client, testLogger(), "twin", "net-1", "envup_twin",
		[]runtime.HandleContainer{
			{Service: "db", ContainerID: "ctr-1", Name: "envup_twin_db"},
			{Service: "backend", ContainerID: "ctr-2", Name: "envup_twin_backend"},
		},
		[]string{"envup_twin_pgdata"},
	)
}

func seedEnvironment(t *testing.T, store state.Store) *state.Environment {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	env := &state.Environment{
		ID:          state.NewEnvironmentID(),
		Name:        "twin",
		Status:      state.StatusRunning,
		NetworkID:   "net-1",
		NetworkName: "envup_twin",
		Manifest:    "services:\n  db:\n    image: postgres:16\n",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateEnvironment(ctx, env))
	require.NoError(t, store.ReplaceContainers(ctx, env.ID, []state.Container{
		{Service: "db", ContainerID: "ctr-1", Name: "envup_twin_db"},
		{Service: "backend", ContainerID: "ctr-2", Name: "envup_twin_backend"},
	}))
	require.NoError(t, store.ReplaceVolumes(ctx, env.ID, []state.Volume{
		{Name: "envup_twin_pgdata"},
	}))
	return env
}

// =============================================================================
// persistHandle Tests
// =============================================================================

func TestPersistHandle_RecordsRunningEnvironment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	handle := restoredTestHandle(nil)
	rawManifest := "services:\n  db:\n    image: postgres:16\n"
	require.NoError(t, persistHandle(ctx, store, handle, rawManifest))

	env, err := store.GetEnvironment(ctx, "twin")
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, env.Status)
	assert.Equal(t, "net-1", env.NetworkID)
	assert.Equal(t, "envup_twin", env.NetworkName)
	assert.Equal(t, rawManifest, env.Manifest)

	containers, err := store.ListContainers(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Equal(t, "db", containers[0].Service)
	assert.Equal(t, "backend", containers[1].Service)

	volumes, err := store.ListVolumes(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, "envup_twin_pgdata", volumes[0].Name)
}

// =============================================================================
// teardownEnvironment Tests
// =============================================================================

func TestTeardownEnvironment_RemovesResourcesAndRecord(t *testing.T) {
	store := newTestStore(t)
	client := &fakeDockerClient{}
	seedEnvironment(t, store)

	require.NoError(t, teardownEnvironment(context.Background(), store, client, testLogger(), "twin"))

	// Containers removed in reverse activation order, then network and volume.
	assert.Equal(t, []string{"ctr-2", "ctr-1"}, client.removedContainers)
	assert.Equal(t, []string{"net-1"}, client.removedNetworks)
	assert.Equal(t, []string{"envup_twin_pgdata"}, client.removedVolumes)

	_, err := store.GetEnvironment(context.Background(), "twin")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestTeardownEnvironment_FailureLeavesStoppedRecord(t *testing.T) {
	store := newTestStore(t)
	client := &fakeDockerClient{removeNetworkErr: errors.New("network has active endpoints")}
	seedEnvironment(t, store)

	err := teardownEnvironment(context.Background(), store, client, testLogger(), "twin")
	require.Error(t, err)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ExitDockerError, appErr.ExitCode)

	// The record survives, marked stopped, so down can be retried.
	env, getErr := store.GetEnvironment(context.Background(), "twin")
	require.NoError(t, getErr)
	assert.Equal(t, state.StatusStopped, env.Status)
}

func TestTeardownEnvironment_NotRecorded(t *testing.T) {
	store := newTestStore(t)

	err := teardownEnvironment(context.Background(), store, &fakeDockerClient{}, testLogger(), "missing")
	require.Error(t, err)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ExitStateError, appErr.ExitCode)
}
