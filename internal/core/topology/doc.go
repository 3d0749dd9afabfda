// Package topology provides pure functions for resolving a declarative
// environment description into an activation plan.
//
// This package is part of the Functional Core - all functions are pure with
// no I/O. The input is an immutable Environment (services plus named
// volumes); the output is an ActivationPlan whose service order is a valid
// linearization of the dependency partial order and whose per-service
// configuration (environment variables, ports, mounts) is fully resolved.
//
// # Functions
//
//   - Resolve: validate the declaration, order services, resolve bindings
//   - Naming: generate runtime resource names (NetworkName, VolumeName,
//     ContainerName, LocalBuildTag)
//
// The imperative shell (internal/shell/runtime) consumes the plan and
// activates it against a container runtime.
package topology
