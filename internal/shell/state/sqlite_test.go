package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEnvironment(name string) *Environment {
	now := time.Now().UTC().Truncate(time.Second)
	return &Environment{
		ID:          NewEnvironmentID(),
		Name:        name,
		Status:      StatusPending,
		NetworkName: "envup_" + name,
		Manifest:    "services:\n  app:\n    image: nginx:latest\n",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// =============================================================================
// Environment Tests
// =============================================================================

func TestSQLiteStore_CreateAndGetEnvironment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	env := testEnvironment("twin")
	require.NoError(t, store.CreateEnvironment(ctx, env))

	got, err := store.GetEnvironment(ctx, "twin")
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Name, got.Name)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, env.NetworkName, got.NetworkName)
	assert.Equal(t, env.Manifest, got.Manifest)
	assert.Equal(t, env.CreatedAt, got.CreatedAt)
}

func TestSQLiteStore_GetEnvironmentNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEnvironment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DuplicateName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEnvironment(ctx, testEnvironment("twin")))
	err := store.CreateEnvironment(ctx, testEnvironment("twin"))
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestSQLiteStore_ListEnvironments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEnvironment(ctx, testEnvironment("alpha")))
	require.NoError(t, store.CreateEnvironment(ctx, testEnvironment("beta")))

	envs, err := store.ListEnvironments(ctx)
	require.NoError(t, err)
	assert.Len(t, envs, 2)
}

func TestSQLiteStore_UpdateEnvironmentStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEnvironment(ctx, testEnvironment("twin")))
	require.NoError(t, store.UpdateEnvironmentStatus(ctx, "twin", StatusRunning))

	got, err := store.GetEnvironment(ctx, "twin")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestSQLiteStore_UpdateStatusNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateEnvironmentStatus(context.Background(), "missing", StatusRunning)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DeleteEnvironment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEnvironment(ctx, testEnvironment("twin")))
	require.NoError(t, store.DeleteEnvironment(ctx, "twin"))

	_, err := store.GetEnvironment(ctx, "twin")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteEnvironment(ctx, "twin")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Container Tests
// =============================================================================

func TestSQLiteStore_ReplaceAndListContainers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	env := testEnvironment("twin")
	require.NoError(t, store.CreateEnvironment(ctx, env))

	containers := []Container{
		{Service: "db", ContainerID: "ctr-1", Name: "envup_twin_db"},
		{Service: "backend", ContainerID: "ctr-2", Name: "envup_twin_backend"},
	}
	require.NoError(t, store.ReplaceContainers(ctx, env.ID, containers))

	got, err := store.ListContainers(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Order of activation is preserved.
	assert.Equal(t, "db", got[0].Service)
	assert.Equal(t, "backend", got[1].Service)
	assert.Equal(t, 0, got[0].Ordinal)
	assert.Equal(t, 1, got[1].Ordinal)
}

func TestSQLiteStore_ReplaceContainersOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	env := testEnvironment("twin")
	require.NoError(t, store.CreateEnvironment(ctx, env))

	require.NoError(t, store.ReplaceContainers(ctx, env.ID, []Container{
		{Service: "db", ContainerID: "ctr-1", Name: "envup_twin_db"},
	}))
	require.NoError(t, store.ReplaceContainers(ctx, env.ID, []Container{
		{Service: "redis", ContainerID: "ctr-2", Name: "envup_twin_redis"},
	}))

	got, err := store.ListContainers(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "redis", got[0].Service)
}

func TestSQLiteStore_DeleteEnvironmentCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	env := testEnvironment("twin")
	require.NoError(t, store.CreateEnvironment(ctx, env))
	require.NoError(t, store.ReplaceContainers(ctx, env.ID, []Container{
		{Service: "db", ContainerID: "ctr-1", Name: "envup_twin_db"},
	}))
	require.NoError(t, store.ReplaceVolumes(ctx, env.ID, []Volume{
		{Name: "envup_twin_pgdata"},
	}))

	require.NoError(t, store.DeleteEnvironment(ctx, "twin"))

	containers, err := store.ListContainers(ctx, env.ID)
	require.NoError(t, err)
	assert.Empty(t, containers)

	volumes, err := store.ListVolumes(ctx, env.ID)
	require.NoError(t, err)
	assert.Empty(t, volumes)
}

// =============================================================================
// Volume Tests
// =============================================================================

func TestSQLiteStore_ReplaceAndListVolumes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	env := testEnvironment("twin")
	require.NoError(t, store.CreateEnvironment(ctx, env))

	require.NoError(t, store.ReplaceVolumes(ctx, env.ID, []Volume{
		{Name: "envup_twin_pgdata"},
		{Name: "envup_twin_graphdata"},
	}))

	got, err := store.ListVolumes(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "envup_twin_graphdata", got[0].Name)
	assert.Equal(t, "envup_twin_pgdata", got[1].Name)
}
