package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/envup/envup/internal/core/envfile"
	"github.com/envup/envup/internal/core/manifest"
	"github.com/envup/envup/internal/core/topology"
	"github.com/envup/envup/internal/shell/api"
	"github.com/envup/envup/internal/shell/runtime"
	"github.com/envup/envup/internal/shell/state"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitResolutionError = 2
	ExitStateError      = 3
	ExitDockerError     = 4
	ExitHTTPServerError = 5
)

// AppError represents a command failure with its exit code.
type AppError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *AppError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// report logs an error and maps it to its exit code.
func report(logger *slog.Logger, err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		logger.Error(appErr.Op+" failed", "error", appErr.Err)
		return appErr.ExitCode
	}
	logger.Error("command failed", "error", err)
	return ExitConfigError
}

// =============================================================================
// Resolution
// =============================================================================

// resolveManifest loads the manifest and external sources named by the
// flags and resolves them into an activation plan.
func resolveManifest(flags *commandFlags) (*topology.ActivationPlan, string, error) {
	raw, err := os.ReadFile(flags.manifestPath)
	if err != nil {
		return nil, "", &AppError{Op: "read manifest", Err: err, ExitCode: ExitConfigError}
	}

	name, err := environmentName(flags)
	if err != nil {
		return nil, "", err
	}

	env, err := manifest.Parse(name, string(raw))
	if err != nil {
		return nil, "", &AppError{Op: "parse manifest", Err: err, ExitCode: ExitResolutionError}
	}

	external, err := loadExternalSources(flags.envFiles)
	if err != nil {
		return nil, "", err
	}

	overrides, err := parseOverrides(flags.overrides)
	if err != nil {
		return nil, "", err
	}

	plan, err := topology.Resolve(env, topology.ResolveOptions{
		Overrides: overrides,
		External:  external,
	})
	if err != nil {
		return nil, "", &AppError{Op: "resolve", Err: err, ExitCode: ExitResolutionError}
	}

	return plan, string(raw), nil
}

// environmentName returns the explicit name or derives one from the
// manifest's directory, the way people expect from compose tooling.
func environmentName(flags *commandFlags) (string, error) {
	if flags.name != "" {
		return flags.name, nil
	}
	abs, err := filepath.Abs(flags.manifestPath)
	if err != nil {
		return "", &AppError{Op: "derive environment name", Err: err, ExitCode: ExitConfigError}
	}
	return filepath.Base(filepath.Dir(abs)), nil
}

// loadExternalSources reads each env file in order; later files win.
func loadExternalSources(paths []string) (map[string]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	merged := make(map[string]string)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, &AppError{Op: "read env file", Err: err, ExitCode: ExitConfigError}
		}
		vars, err := envfile.Parse(f)
		f.Close()
		if err != nil {
			return nil, &AppError{Op: "parse env file", Err: err, ExitCode: ExitConfigError}
		}
		for k, v := range vars {
			merged[k] = v
		}
	}
	return merged, nil
}

// parseOverrides parses repeated -set KEY=VALUE flags.
func parseOverrides(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, &AppError{
				Op:       "parse overrides",
				Err:      fmt.Errorf("invalid -set value %q, expected KEY=VALUE", pair),
				ExitCode: ExitConfigError,
			}
		}
		overrides[key] = value
	}
	return overrides, nil
}

// =============================================================================
// plan
// =============================================================================

func runPlan(args []string) int {
	var flags commandFlags
	fs := newFlagSet("plan", &flags)
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	cfg, err := LoadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	plan, _, err := resolveManifest(&flags)
	if err != nil {
		return report(logger, err)
	}

	out, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return report(logger, err)
	}
	fmt.Println(string(out))

	return ExitSuccess
}

// =============================================================================
// up
// =============================================================================

func runUp(args []string) int {
	var flags commandFlags
	fs := newFlagSet("up", &flags)
	fs.DurationVar(&flags.wait, "wait", 0, "wait for all services to be running, 0 disables")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	cfg, err := LoadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	plan, rawManifest, err := resolveManifest(&flags)
	if err != nil {
		return report(logger, err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return report(logger, err)
	}
	defer store.Close()

	ctx := context.Background()

	if _, err := store.GetEnvironment(ctx, plan.Environment); err == nil {
		return report(logger, &AppError{
			Op:       "up",
			Err:      fmt.Errorf("environment %q already exists, run down first", plan.Environment),
			ExitCode: ExitStateError,
		})
	} else if !errors.Is(err, state.ErrNotFound) {
		return report(logger, &AppError{Op: "up", Err: err, ExitCode: ExitStateError})
	}

	client, err := openDocker(cfg)
	if err != nil {
		return report(logger, err)
	}
	defer client.Close()

	activator := runtime.NewActivator(client, logger)
	handle, err := activator.Activate(ctx, plan)
	if err != nil {
		return report(logger, &AppError{Op: "activate", Err: err, ExitCode: ExitDockerError})
	}

	if err := persistHandle(ctx, store, handle, rawManifest); err != nil {
		// The record is the only way down finds the environment later,
		// so a failed write means the activation must not stay up.
		logger.Error("failed to record environment, tearing down", "error", err)
		if tdErr := handle.Teardown(ctx); tdErr != nil {
			logger.Error("teardown after failed record also failed", "error", tdErr)
		}
		return report(logger, &AppError{Op: "record environment", Err: err, ExitCode: ExitStateError})
	}

	if flags.wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, flags.wait)
		defer cancel()
		if err := handle.WaitReady(waitCtx, time.Second); err != nil {
			// The containers stay up for inspection; the record says the
			// environment never became ready so status shows it honestly.
			if stErr := store.UpdateEnvironmentStatus(ctx, plan.Environment, state.StatusFailed); stErr != nil {
				logger.Error("failed to mark environment failed", "error", stErr)
			}
			return report(logger, &AppError{Op: "wait for services", Err: err, ExitCode: ExitDockerError})
		}
	}

	fmt.Printf("environment %s is up (%d services)\n", plan.Environment, len(plan.Services))
	return ExitSuccess
}

// persistHandle stores the activated environment and its resources. The
// record starts pending and flips to running only once the containers and
// volumes are written, so a crash mid-write never leaves a row that claims
// more than the store knows.
func persistHandle(ctx context.Context, store state.Store, handle *runtime.Handle, rawManifest string) error {
	now := time.Now().UTC()
	env := &state.Environment{
		ID:          state.NewEnvironmentID(),
		Name:        handle.Environment,
		Status:      state.StatusPending,
		NetworkID:   handle.NetworkID,
		NetworkName: handle.NetworkName,
		Manifest:    rawManifest,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.CreateEnvironment(ctx, env); err != nil {
		return err
	}

	containers := make([]state.Container, 0, len(handle.Containers))
	for _, c := range handle.Containers {
		containers = append(containers, state.Container{
			Service:     c.Service,
			ContainerID: c.ContainerID,
			Name:        c.Name,
		})
	}
	if err := store.ReplaceContainers(ctx, env.ID, containers); err != nil {
		return err
	}

	volumes := make([]state.Volume, 0, len(handle.Volumes))
	for _, v := range handle.Volumes {
		volumes = append(volumes, state.Volume{Name: v})
	}
	if err := store.ReplaceVolumes(ctx, env.ID, volumes); err != nil {
		return err
	}

	return store.UpdateEnvironmentStatus(ctx, env.Name, state.StatusRunning)
}

// =============================================================================
// down
// =============================================================================

func runDown(args []string) int {
	var flags commandFlags
	fs := newFlagSet("down", &flags)
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	cfg, err := LoadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	name, err := environmentName(&flags)
	if err != nil {
		return report(logger, err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return report(logger, err)
	}
	defer store.Close()

	client, err := openDocker(cfg)
	if err != nil {
		return report(logger, err)
	}
	defer client.Close()

	if err := teardownEnvironment(context.Background(), store, client, logger, name); err != nil {
		return report(logger, err)
	}

	fmt.Printf("environment %s is down\n", name)
	return ExitSuccess
}

// teardownEnvironment restores the handle from the record, tears the
// environment down, and removes the record. The record is marked stopped
// before teardown begins, so a teardown that fails partway leaves a row
// that no longer claims the environment is serving.
func teardownEnvironment(ctx context.Context, store state.Store, client runtime.Client, logger *slog.Logger, name string) error {
	env, err := store.GetEnvironment(ctx, name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return &AppError{
				Op:       "down",
				Err:      fmt.Errorf("environment %q is not recorded", name),
				ExitCode: ExitStateError,
			}
		}
		return &AppError{Op: "down", Err: err, ExitCode: ExitStateError}
	}

	containers, err := store.ListContainers(ctx, env.ID)
	if err != nil {
		return &AppError{Op: "down", Err: err, ExitCode: ExitStateError}
	}
	volumes, err := store.ListVolumes(ctx, env.ID)
	if err != nil {
		return &AppError{Op: "down", Err: err, ExitCode: ExitStateError}
	}

	if err := store.UpdateEnvironmentStatus(ctx, name, state.StatusStopped); err != nil {
		return &AppError{Op: "down", Err: err, ExitCode: ExitStateError}
	}

	handleContainers := make([]runtime.HandleContainer, 0, len(containers))
	for _, c := range containers {
		handleContainers = append(handleContainers, runtime.HandleContainer{
			Service:     c.Service,
			ContainerID: c.ContainerID,
			Name:        c.Name,
		})
	}
	volumeNames := make([]string, 0, len(volumes))
	for _, v := range volumes {
		volumeNames = append(volumeNames, v.Name)
	}

	handle := runtime.RestoreHandle(client, logger, env.Name, env.NetworkID, env.NetworkName, handleContainers, volumeNames)
	if err := handle.Teardown(ctx); err != nil {
		return &AppError{Op: "teardown", Err: err, ExitCode: ExitDockerError}
	}

	if err := store.DeleteEnvironment(ctx, name); err != nil {
		return &AppError{Op: "delete record", Err: err, ExitCode: ExitStateError}
	}
	return nil
}

// =============================================================================
// status
// =============================================================================

func runStatus(args []string) int {
	var flags commandFlags
	fs := newFlagSet("status", &flags)
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	cfg, err := LoadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	store, err := openStore(cfg)
	if err != nil {
		return report(logger, err)
	}
	defer store.Close()

	ctx := context.Background()

	if flags.name != "" {
		env, err := store.GetEnvironment(ctx, flags.name)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return report(logger, &AppError{
					Op:       "status",
					Err:      fmt.Errorf("environment %q is not recorded", flags.name),
					ExitCode: ExitStateError,
				})
			}
			return report(logger, &AppError{Op: "status", Err: err, ExitCode: ExitStateError})
		}
		containers, err := store.ListContainers(ctx, env.ID)
		if err != nil {
			return report(logger, &AppError{Op: "status", Err: err, ExitCode: ExitStateError})
		}
		out, _ := json.MarshalIndent(map[string]any{
			"environment": env,
			"containers":  containers,
		}, "", "  ")
		fmt.Println(string(out))
		return ExitSuccess
	}

	envs, err := store.ListEnvironments(ctx)
	if err != nil {
		return report(logger, &AppError{Op: "status", Err: err, ExitCode: ExitStateError})
	}
	out, _ := json.MarshalIndent(envs, "", "  ")
	fmt.Println(string(out))
	return ExitSuccess
}

// =============================================================================
// serve
// =============================================================================

func runServe(args []string) int {
	var flags commandFlags
	fs := newFlagSet("serve", &flags)
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	cfg, err := LoadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	store, err := openStore(cfg)
	if err != nil {
		return report(logger, err)
	}
	defer store.Close()

	client, err := openDocker(cfg)
	if err != nil {
		return report(logger, err)
	}
	defer client.Close()

	handler := api.NewHandler(store, client, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "address", cfg.Server.Address())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return report(logger, &AppError{Op: "serve", Err: err, ExitCode: ExitHTTPServerError})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return ExitSuccess
}

// =============================================================================
// Wiring Helpers
// =============================================================================

func openStore(cfg *Config) (state.Store, error) {
	if dir := filepath.Dir(cfg.State.DSN); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &AppError{Op: "create state directory", Err: err, ExitCode: ExitStateError}
		}
	}
	store, err := state.NewSQLiteStore(cfg.State.DSN)
	if err != nil {
		return nil, &AppError{Op: "open state store", Err: err, ExitCode: ExitStateError}
	}
	return store, nil
}

func openDocker(cfg *Config) (runtime.Client, error) {
	client, err := runtime.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		return nil, &AppError{Op: "connect to docker", Err: err, ExitCode: ExitDockerError}
	}
	if err := client.Ping(); err != nil {
		client.Close()
		return nil, &AppError{Op: "ping docker", Err: err, ExitCode: ExitDockerError}
	}
	return client, nil
}
