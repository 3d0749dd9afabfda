package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/envup/envup/internal/core/topology"
)

// =============================================================================
// Activator
// =============================================================================

// Activator turns activation plans into running containers. It owns no
// state of its own; everything it creates is handed back in a Handle.
type Activator struct {
	client Client
	logger *slog.Logger
}

// NewActivator creates a new Activator.
func NewActivator(client Client, logger *slog.Logger) *Activator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activator{
		client: client,
		logger: logger,
	}
}

// Handle tracks the resources created for one activated environment.
// The caller owns the handle and is responsible for calling Teardown.
type Handle struct {
	Environment string
	NetworkID   string
	NetworkName string
	Containers  []HandleContainer // in activation order
	Volumes     []string          // created volume names, externals excluded

	client Client
	logger *slog.Logger
}

// HandleContainer identifies one started container.
type HandleContainer struct {
	Service     string
	ContainerID string
	Name        string
}

// RestoreHandle rebuilds a handle from persisted state so a previously
// activated environment can be stopped or torn down by a later process.
func RestoreHandle(client Client, logger *slog.Logger, environment, networkID, networkName string, containers []HandleContainer, volumes []string) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		Environment: environment,
		NetworkID:   networkID,
		NetworkName: networkName,
		Containers:  containers,
		Volumes:     volumes,
		client:      client,
		logger:      logger,
	}
}

// Activate creates the network, volumes, and containers for a plan, in the
// plan's order. On any failure every resource created so far is removed and
// no handle is returned.
func (a *Activator) Activate(ctx context.Context, plan *topology.ActivationPlan) (*Handle, error) {
	handle := &Handle{
		Environment: plan.Environment,
		NetworkName: topology.NetworkName(plan.Environment),
		client:      a.client,
		logger:      a.logger,
	}

	a.logger.Info("activating environment",
		"environment", plan.Environment,
		"services", len(plan.Services))

	networkID, err := a.client.CreateNetwork(NetworkSpec{
		Name:   handle.NetworkName,
		Labels: environmentLabels(plan.Environment, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("create network %s: %w", handle.NetworkName, err)
	}
	handle.NetworkID = networkID

	external := make(map[string]bool, len(plan.Volumes))
	for _, vol := range plan.Volumes {
		external[vol.Name] = vol.External
	}

	for _, vol := range plan.Volumes {
		if vol.External {
			continue
		}
		name := topology.VolumeName(plan.Environment, vol.Name)
		if _, err := a.client.CreateVolume(VolumeSpec{
			Name:   name,
			Driver: vol.Driver,
			Labels: mergeLabels(environmentLabels(plan.Environment, ""), vol.Labels),
		}); err != nil {
			a.cleanup(handle)
			return nil, fmt.Errorf("create volume %s: %w", name, err)
		}
		handle.Volumes = append(handle.Volumes, name)
	}

	for _, svc := range plan.Services {
		if err := ctx.Err(); err != nil {
			a.cleanup(handle)
			return nil, err
		}

		if err := a.startService(plan, svc, external, handle); err != nil {
			a.cleanup(handle)
			return nil, err
		}
	}

	a.logger.Info("environment activated",
		"environment", plan.Environment,
		"network", handle.NetworkName,
		"containers", len(handle.Containers))

	return handle, nil
}

// startService pulls the image if needed, then creates and starts one
// container, recording it in the handle.
func (a *Activator) startService(plan *topology.ActivationPlan, svc topology.ResolvedService, external map[string]bool, handle *Handle) error {
	img := svc.Image
	if svc.Build != nil {
		// Locally built images are tagged by the builder; never pulled.
		img = topology.LocalBuildTag(plan.Environment, svc.Name)
	} else {
		exists, err := a.client.ImageExists(img)
		if err != nil {
			return fmt.Errorf("inspect image %s: %w", img, err)
		}
		if !exists {
			a.logger.Info("pulling image", "service", svc.Name, "image", img)
			if err := a.client.PullImage(img, PullOptions{}); err != nil {
				return fmt.Errorf("pull image %s: %w", img, err)
			}
		}
	}

	name := topology.ContainerName(plan.Environment, svc.Name)

	spec := ContainerSpec{
		Name:           name,
		Image:          img,
		Command:        svc.Command,
		Entrypoint:     svc.Entrypoint,
		Env:            svc.Env,
		Labels:         environmentLabels(plan.Environment, svc.Name),
		Network:        handle.NetworkName,
		NetworkAliases: []string{svc.Name},
	}

	for _, p := range svc.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: int(p.ContainerPort),
			HostPort:      int(p.HostPort),
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, m := range svc.Mounts {
		spec.Mounts = append(spec.Mounts, resolveMount(plan.Environment, m, external))
	}

	containerID, err := a.client.CreateContainer(spec)
	if err != nil {
		return fmt.Errorf("create container %s: %w", name, err)
	}
	handle.Containers = append(handle.Containers, HandleContainer{
		Service:     svc.Name,
		ContainerID: containerID,
		Name:        name,
	})

	if err := a.client.StartContainer(containerID); err != nil {
		return fmt.Errorf("start container %s: %w", name, err)
	}

	a.logger.Info("service started",
		"service", svc.Name,
		"container", name)

	return nil
}

// cleanup removes everything the handle tracks after a failed activation.
// Errors are logged and swallowed; the original failure is what matters.
func (a *Activator) cleanup(handle *Handle) {
	a.logger.Warn("activation failed, removing partial environment",
		"environment", handle.Environment)

	for i := len(handle.Containers) - 1; i >= 0; i-- {
		c := handle.Containers[i]
		if err := a.client.RemoveContainer(c.ContainerID, RemoveOptions{Force: true}); err != nil {
			a.logger.Warn("cleanup: remove container failed", "container", c.Name, "error", err)
		}
	}
	if handle.NetworkID != "" {
		if err := a.client.RemoveNetwork(handle.NetworkID); err != nil {
			a.logger.Warn("cleanup: remove network failed", "network", handle.NetworkName, "error", err)
		}
	}
	for _, v := range handle.Volumes {
		if err := a.client.RemoveVolume(v, true); err != nil {
			a.logger.Warn("cleanup: remove volume failed", "volume", v, "error", err)
		}
	}
}

// resolveMount maps a plan mount to a runtime mount, expanding named
// volumes to their per-environment names. External volumes keep their
// declared name.
func resolveMount(environment string, m topology.VolumeBinding, external map[string]bool) Mount {
	switch m.Kind {
	case topology.MountBind:
		return Mount{
			Type:     MountTypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
	case topology.MountTmpfs:
		return Mount{
			Type:   MountTypeTmpfs,
			Target: m.Target,
		}
	default:
		source := m.Source
		if !external[m.Source] {
			source = topology.VolumeName(environment, m.Source)
		}
		return Mount{
			Type:     MountTypeVolume,
			Source:   source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
	}
}

func environmentLabels(environment, service string) map[string]string {
	labels := map[string]string{
		LabelManaged:     "true",
		LabelEnvironment: environment,
	}
	if service != "" {
		labels[LabelService] = service
	}
	return labels
}

func mergeLabels(base, extra map[string]string) map[string]string {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// =============================================================================
// Handle Operations
// =============================================================================

// defaultStopTimeout is how long a container gets to exit gracefully.
const defaultStopTimeout = 10 * time.Second

// Stop stops all containers in reverse activation order. Resources stay in
// place; the environment can be inspected or torn down afterwards.
func (h *Handle) Stop(ctx context.Context) error {
	timeout := defaultStopTimeout

	var firstErr error
	for i := len(h.Containers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := h.Containers[i]
		if err := h.client.StopContainer(c.ContainerID, &timeout); err != nil {
			// A container that already exited is fine.
			if !isIgnorableStopError(err) {
				h.logger.Warn("stop container failed", "container", c.Name, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// Teardown stops and removes all containers in reverse activation order,
// then removes the network and the volumes the activation created.
// External volumes are never touched.
func (h *Handle) Teardown(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	timeout := defaultStopTimeout
	for i := len(h.Containers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := h.Containers[i]
		if err := h.client.StopContainer(c.ContainerID, &timeout); err != nil && !isIgnorableStopError(err) {
			h.logger.Warn("teardown: stop container failed", "container", c.Name, "error", err)
			record(err)
		}
		if err := h.client.RemoveContainer(c.ContainerID, RemoveOptions{Force: true}); err != nil && !isNotFound(err) {
			h.logger.Warn("teardown: remove container failed", "container", c.Name, "error", err)
			record(err)
		}
	}

	if h.NetworkID != "" {
		if err := h.client.RemoveNetwork(h.NetworkID); err != nil && !isNotFound(err) {
			h.logger.Warn("teardown: remove network failed", "network", h.NetworkName, "error", err)
			record(err)
		}
	}

	for _, v := range h.Volumes {
		if err := h.client.RemoveVolume(v, false); err != nil && !isNotFound(err) {
			h.logger.Warn("teardown: remove volume failed", "volume", v, "error", err)
			record(err)
		}
	}

	h.logger.Info("environment torn down", "environment", h.Environment)
	return firstErr
}

// WaitReady polls until every container is running, and healthy if it
// defines a health check, or the context expires.
func (h *Handle) WaitReady(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ready, err := h.checkReady()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for environment %s: %w", h.Environment, ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (h *Handle) checkReady() (bool, error) {
	for _, c := range h.Containers {
		info, err := h.client.InspectContainer(c.ContainerID)
		if err != nil {
			return false, fmt.Errorf("inspect container %s: %w", c.Name, err)
		}
		if info.Status == ContainerStatusExited || info.Status == ContainerStatusDead {
			return false, NewRuntimeError("WaitReady", "container", c.Name,
				fmt.Sprintf("container exited with code %d", info.ExitCode), ErrContainerUnhealthy)
		}
		if info.Status != ContainerStatusRunning {
			return false, nil
		}
		if info.Health == "unhealthy" {
			return false, NewRuntimeError("WaitReady", "container", c.Name, "health check failing", ErrContainerUnhealthy)
		}
		if info.Health == "starting" {
			return false, nil
		}
	}
	return true, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrContainerNotFound) ||
		errors.Is(err, ErrNetworkNotFound) ||
		errors.Is(err, ErrVolumeNotFound)
}

func isIgnorableStopError(err error) bool {
	return errors.Is(err, ErrContainerNotRunning) || errors.Is(err, ErrContainerNotFound)
}
