// Package e2e provides end-to-end tests for envup.
//
// These tests require a running Docker daemon and will create/destroy
// real containers. Run with:
//
//	go test -v -timeout 10m ./tests/e2e/...
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/envup/envup/internal/core/manifest"
	"github.com/envup/envup/internal/core/topology"
	"github.com/envup/envup/internal/shell/api"
	"github.com/envup/envup/internal/shell/runtime"
	"github.com/envup/envup/internal/shell/state"
)

// =============================================================================
// Test Globals
// =============================================================================

var (
	testStore   state.Store
	testClient  runtime.Client
	dockerUp    bool
	baseURL     string
	testServer  *http.Server
	testHTTP    = &http.Client{Timeout: 10 * time.Second}
	testTempDir string
)

// =============================================================================
// TestMain Setup
// =============================================================================

func TestMain(m *testing.M) {
	code := setup()
	if code != 0 {
		os.Exit(code)
	}

	result := m.Run()

	teardown()
	os.Exit(result)
}

func setup() int {
	var err error

	testTempDir, err = os.MkdirTemp("", "envup-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: temp dir: %v\n", err)
		return 1
	}

	testStore, err = state.NewSQLiteStore(filepath.Join(testTempDir, "state.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: store: %v\n", err)
		return 1
	}

	testClient, err = runtime.NewDockerClient("")
	if err == nil && testClient.Ping() == nil {
		dockerUp = true
	}
	if !dockerUp {
		// Tests that need the daemon skip themselves.
		return 0
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: listener: %v\n", err)
		return 1
	}
	baseURL = "http://" + listener.Addr().String()

	handler := api.NewHandler(testStore, testClient, nil)
	testServer = &http.Server{Handler: handler.Routes()}
	go testServer.Serve(listener)

	return 0
}

func teardown() {
	if testServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		testServer.Shutdown(ctx)
		cancel()
	}
	if testClient != nil {
		testClient.Close()
	}
	if testStore != nil {
		testStore.Close()
	}
	if testTempDir != "" {
		os.RemoveAll(testTempDir)
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if !dockerUp {
		t.Skip("docker daemon not available")
	}
}

// =============================================================================
// Smoke Test
// =============================================================================

const smokeManifest = `
services:
  cache:
    image: redis:7-alpine
  app:
    image: alpine:3.20
    command: ["sleep", "300"]
    environment:
      CACHE_ADDR: svc://cache:6379
    depends_on:
      - cache
`

func TestActivateInspectTeardown(t *testing.T) {
	requireDocker(t)

	ctx := context.Background()
	envName := fmt.Sprintf("e2e-%d", time.Now().UnixNano()%1e9)

	env, err := manifest.Parse(envName, smokeManifest)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	plan, err := topology.Resolve(env, topology.ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := plan.ServiceNames(); len(got) != 2 || got[0] != "cache" || got[1] != "app" {
		t.Fatalf("unexpected plan order: %v", got)
	}

	activator := runtime.NewActivator(testClient, nil)
	handle, err := activator.Activate(ctx, plan)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	defer func() {
		if err := handle.Teardown(ctx); err != nil {
			t.Errorf("teardown: %v", err)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := handle.WaitReady(waitCtx, time.Second); err != nil {
		t.Fatalf("wait ready: %v", err)
	}

	// Record it the way the up command does, then read it back over HTTP.
	now := time.Now().UTC()
	record := &state.Environment{
		ID:          state.NewEnvironmentID(),
		Name:        envName,
		Status:      state.StatusRunning,
		NetworkID:   handle.NetworkID,
		NetworkName: handle.NetworkName,
		Manifest:    smokeManifest,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := testStore.CreateEnvironment(ctx, record); err != nil {
		t.Fatalf("record environment: %v", err)
	}
	defer testStore.DeleteEnvironment(ctx, envName)

	var containers []state.Container
	for _, c := range handle.Containers {
		containers = append(containers, state.Container{
			Service:     c.Service,
			ContainerID: c.ContainerID,
			Name:        c.Name,
		})
	}
	if err := testStore.ReplaceContainers(ctx, record.ID, containers); err != nil {
		t.Fatalf("record containers: %v", err)
	}

	resp, err := testHTTP.Get(baseURL + "/api/v1/environments/" + envName)
	if err != nil {
		t.Fatalf("get environment: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get environment: status %d", resp.StatusCode)
	}

	var detail api.EnvironmentDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Name != envName {
		t.Errorf("name = %q, want %q", detail.Name, envName)
	}
	if len(detail.Containers) != 2 {
		t.Fatalf("containers = %d, want 2", len(detail.Containers))
	}
	for _, c := range detail.Containers {
		if c.Status != "running" {
			t.Errorf("container %s status = %q, want running", c.Service, c.Status)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	requireDocker(t)

	resp, err := testHTTP.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d", resp.StatusCode)
	}
}
