package topology

import (
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Resolve Options
// =============================================================================

// ResolveOptions carries the caller-supplied value sources for environment
// binding resolution. Precedence, highest first: Overrides, External, then
// the value embedded in the declaration.
type ResolveOptions struct {
	// Overrides are runtime overrides supplied by the caller.
	Overrides map[string]string

	// External is the parsed external key-value source (see envfile).
	External map[string]string
}

// lookup resolves a variable name against the option sources.
func (o ResolveOptions) lookup(key string) (string, bool) {
	if v, ok := o.Overrides[key]; ok {
		return v, true
	}
	if v, ok := o.External[key]; ok {
		return v, true
	}
	return "", false
}

// =============================================================================
// Resolve
// =============================================================================

// Resolve transforms a static environment declaration into an activation
// plan: a valid startup order plus per-service resolved configuration.
//
// Resolve is pure and reentrant. It performs no I/O; the external key-value
// source is supplied already parsed via opts. On any error no plan is
// returned.
//
// Ordering is deterministic: among services with no ordering constraint
// between them, the one declared earliest comes first, so identical input
// always yields an identical plan.
func Resolve(env *Environment, opts ResolveOptions) (*ActivationPlan, error) {
	if err := validate(env); err != nil {
		return nil, err
	}

	ordered, err := sortServices(env.Services)
	if err != nil {
		return nil, err
	}

	plan := &ActivationPlan{
		Environment: env.Name,
		Services:    make([]ResolvedService, 0, len(ordered)),
		Volumes:     append([]Volume(nil), env.Volumes...),
	}

	for _, svc := range ordered {
		resolved, err := resolveService(env, svc, opts)
		if err != nil {
			return nil, err
		}
		plan.Services = append(plan.Services, resolved)
	}

	return plan, nil
}

// =============================================================================
// Declaration Validation
// =============================================================================

// validate checks the structural invariants of the declaration set.
func validate(env *Environment) error {
	seen := make(map[string]bool, len(env.Services))
	for _, svc := range env.Services {
		if svc.Name == "" {
			return &MalformedDeclarationError{Reason: "service has empty identifier"}
		}
		if seen[svc.Name] {
			return &MalformedDeclarationError{
				Subject: "services." + svc.Name,
				Reason:  "duplicate service identifier",
			}
		}
		seen[svc.Name] = true

		if svc.Image == "" && svc.Build == nil {
			return &MalformedDeclarationError{
				Subject: "services." + svc.Name,
				Reason:  "service must have an image or a build context",
			}
		}
	}

	// Dependencies must point at declared services.
	for _, svc := range env.Services {
		for _, dep := range svc.DependsOn {
			if !seen[dep] {
				return &MalformedDeclarationError{
					Subject: "services." + svc.Name,
					Reason:  fmt.Sprintf("depends on undeclared service %q", dep),
				}
			}
		}
	}

	seenVol := make(map[string]bool, len(env.Volumes))
	for _, vol := range env.Volumes {
		if vol.Name == "" {
			return &MalformedDeclarationError{Reason: "volume has empty identifier"}
		}
		if seenVol[vol.Name] {
			return &MalformedDeclarationError{
				Subject: "volumes." + vol.Name,
				Reason:  "duplicate volume identifier",
			}
		}
		seenVol[vol.Name] = true
	}

	return nil
}

// =============================================================================
// Service Ordering
// =============================================================================

// sortServices orders services so that every dependency precedes its
// dependents (Kahn's algorithm). Among ready services the earliest declared
// is always picked, which makes the order a deterministic function of the
// declaration.
func sortServices(services []Service) ([]Service, error) {
	done := make(map[string]bool, len(services))
	ordered := make([]Service, 0, len(services))

	for len(ordered) < len(services) {
		progressed := false
		for _, svc := range services {
			if done[svc.Name] {
				continue
			}
			ready := true
			for _, dep := range svc.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				ordered = append(ordered, svc)
				done[svc.Name] = true
				progressed = true
				break // restart the scan so earlier-declared services go first
			}
		}
		if !progressed {
			return nil, &CyclicDependencyError{Services: cycleServices(services, done)}
		}
	}

	return ordered, nil
}

// cycleServices returns, in declaration order, every service that lies on a
// dependency cycle among the services not yet ordered. Services that merely
// depend on a cycle without being part of one are excluded.
func cycleServices(services []Service, done map[string]bool) []string {
	remaining := make(map[string][]string)
	for _, svc := range services {
		if done[svc.Name] {
			continue
		}
		var deps []string
		for _, dep := range svc.DependsOn {
			if !done[dep] {
				deps = append(deps, dep)
			}
		}
		remaining[svc.Name] = deps
	}

	// Tarjan's strongly connected components over the remaining subgraph.
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	onCycle := make(map[string]bool)

	var strongconnect func(node string)
	strongconnect = func(node string) {
		indices[node] = index
		lowlink[node] = index
		index++
		stack = append(stack, node)
		onStack[node] = true

		for _, dep := range remaining[node] {
			if _, visited := indices[dep]; !visited {
				strongconnect(dep)
				if lowlink[dep] < lowlink[node] {
					lowlink[node] = lowlink[dep]
				}
			} else if onStack[dep] {
				if indices[dep] < lowlink[node] {
					lowlink[node] = indices[dep]
				}
			}
		}

		if lowlink[node] == indices[node] {
			var component []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				component = append(component, top)
				if top == node {
					break
				}
			}
			if len(component) > 1 {
				for _, member := range component {
					onCycle[member] = true
				}
			} else {
				// Single node: on a cycle only if it depends on itself.
				for _, dep := range remaining[component[0]] {
					if dep == component[0] {
						onCycle[component[0]] = true
					}
				}
			}
		}
	}

	for _, svc := range services {
		if done[svc.Name] {
			continue
		}
		if _, visited := indices[svc.Name]; !visited {
			strongconnect(svc.Name)
		}
	}

	var members []string
	for _, svc := range services {
		if onCycle[svc.Name] {
			members = append(members, svc.Name)
		}
	}
	return members
}

// =============================================================================
// Binding Resolution
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} placeholders
// embedded in literal values.
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// resolveService materializes one service's runtime configuration.
func resolveService(env *Environment, svc Service, opts ResolveOptions) (ResolvedService, error) {
	resolved := ResolvedService{
		Name:       svc.Name,
		Image:      svc.Image,
		Build:      copyBuild(svc.Build),
		Command:    append([]string(nil), svc.Runtime.Command...),
		Entrypoint: append([]string(nil), svc.Runtime.Entrypoint...),
		Ports:      append([]PortBinding(nil), svc.Runtime.Ports...),
		Mounts:     append([]VolumeBinding(nil), svc.Runtime.Mounts...),
		DependsOn:  append([]string(nil), svc.DependsOn...),
	}

	if len(svc.Runtime.Environment) > 0 {
		resolved.Env = make(map[string]string, len(svc.Runtime.Environment))
		for _, ev := range svc.Runtime.Environment {
			value, err := resolveEnvValue(env, svc, ev, opts)
			if err != nil {
				return ResolvedService{}, err
			}
			resolved.Env[ev.Name] = value
		}
	}

	for _, mount := range svc.Runtime.Mounts {
		if mount.Kind != MountNamed {
			continue
		}
		if _, ok := env.Volume(mount.Source); !ok {
			return ResolvedService{}, &UnknownVolumeError{Service: svc.Name, Volume: mount.Source}
		}
	}

	return resolved, nil
}

// resolveEnvValue resolves one binding with the spec'd precedence:
// runtime override, external source, then the declared value.
func resolveEnvValue(env *Environment, svc Service, ev EnvVar, opts ResolveOptions) (string, error) {
	switch ev.Value.Kind {
	case EnvExternal:
		if v, ok := opts.lookup(ev.Value.Ref); ok {
			return v, nil
		}
		if ev.Value.HasDefault {
			return ev.Value.Default, nil
		}
		return "", &UnresolvedReferenceError{Service: svc.Name, Name: ev.Name, Target: ev.Value.Ref}

	case EnvServiceRef:
		// Runtime overrides can pin the address of a referenced service.
		if v, ok := opts.Overrides[ev.Name]; ok {
			return v, nil
		}
		return serviceAddress(env, svc, ev)

	default: // EnvLiteral
		if v, ok := opts.lookup(ev.Name); ok {
			return v, nil
		}
		return substitutePlaceholders(svc, ev, opts)
	}
}

// serviceAddress resolves an EnvServiceRef to the referenced service's
// network address: its name (the DNS alias on the environment network),
// suffixed with a port when one is declared or explicitly requested.
func serviceAddress(env *Environment, svc Service, ev EnvVar) (string, error) {
	target, ok := env.Service(ev.Value.Ref)
	if !ok {
		return "", &UnresolvedReferenceError{Service: svc.Name, Name: ev.Name, Target: ev.Value.Ref}
	}

	port := ev.Value.RefPort
	if port == 0 && len(target.Runtime.Ports) > 0 {
		port = target.Runtime.Ports[0].ContainerPort
	}
	if port == 0 {
		return target.Name, nil
	}
	return fmt.Sprintf("%s:%d", target.Name, port), nil
}

// substitutePlaceholders expands ${VAR} and ${VAR:-default} placeholders in
// a literal value. A placeholder that resolves to nothing and carries no
// default is an unresolved reference, not a pass-through.
func substitutePlaceholders(svc Service, ev EnvVar, opts ResolveOptions) (string, error) {
	var firstErr error

	result := varPlaceholderRegex.ReplaceAllStringFunc(ev.Value.Literal, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		name := submatch[1]
		if v, ok := opts.lookup(name); ok {
			return v
		}
		if strings.Contains(match, ":-") {
			return submatch[2]
		}
		if firstErr == nil {
			firstErr = &UnresolvedReferenceError{Service: svc.Name, Name: ev.Name, Target: name}
		}
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// copyBuild returns an independent copy of a build spec.
func copyBuild(b *BuildSpec) *BuildSpec {
	if b == nil {
		return nil
	}
	copied := *b
	return &copied
}
