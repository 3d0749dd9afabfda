package manifest

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/envup/envup/internal/core/topology"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses a Compose-style manifest into a topology environment.
// This is a pure function - no I/O, no side effects.
//
// Interpolation is deliberately skipped so that ${VAR} placeholders survive
// into external-reference bindings; resolving them (with the override /
// external-source / declared-value precedence) is topology.Resolve's job.
// Custom network declarations are ignored: every environment gets exactly
// one network, and services reach each other by service name on it.
func Parse(name, yamlContent string) (*topology.Environment, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	env := &topology.Environment{
		Name:     name,
		Services: make([]topology.Service, 0, len(project.Services)),
		Volumes:  make([]topology.Volume, 0, len(project.Volumes)),
	}

	// compose-go hands services back as a map; recover declaration order
	// from the raw YAML so resolution stays deterministic.
	hints := collectRawHints(yamlContent)
	for _, svcName := range sectionKeyOrder(yamlContent, "services", serviceNames(project)) {
		converted, err := convertService(project.Services[svcName], hints[svcName])
		if err != nil {
			return nil, err
		}
		env.Services = append(env.Services, converted)
	}

	for _, volName := range sectionKeyOrder(yamlContent, "volumes", volumeNames(project)) {
		env.Volumes = append(env.Volumes, convertVolume(volName, project.Volumes[volName]))
	}

	return env, nil
}

// loadProject loads the manifest using compose-go.
func loadProject(yamlContent string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("envup-manifest", false)
		// compose-go's own validation and consistency checks are skipped:
		// they fail fast on dependency cycles and missing images, and those
		// conditions must surface as typed resolution errors, not parse
		// failures. The structural checks that remain here plus
		// topology.Resolve's validation cover the same ground.
		opts.SkipValidation = true
		opts.SkipConsistencyCheck = true
		opts.SkipInterpolation = true // Placeholders are resolved by topology.Resolve
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures rejects manifest features outside the model.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// =============================================================================
// Service Conversion
// =============================================================================

// convertService converts a compose-go service into a topology service.
func convertService(svc types.ServiceConfig, hints rawHints) (topology.Service, error) {
	service := topology.Service{
		Name:  svc.Name,
		Image: svc.Image,
		Runtime: topology.RuntimeSpec{
			Command:    svc.Command,
			Entrypoint: svc.Entrypoint,
		},
	}

	if svc.Build != nil {
		// compose-go cleans the context path ("./backend" becomes
		// "backend"); the declared form is kept.
		buildContext := svc.Build.Context
		if hints.buildContext != "" {
			buildContext = hints.buildContext
		}
		service.Build = &topology.BuildSpec{
			Context:    buildContext,
			Dockerfile: svc.Build.Dockerfile,
		}
	}

	if service.Image == "" && service.Build == nil {
		return topology.Service{}, NewParseError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	envVars, err := convertEnvironment(svc)
	if err != nil {
		return topology.Service{}, err
	}
	service.Runtime.Environment = envVars

	ports, err := convertPorts(svc)
	if err != nil {
		return topology.Service{}, err
	}
	service.Runtime.Ports = ports

	for _, v := range svc.Volumes {
		service.Runtime.Mounts = append(service.Runtime.Mounts, convertMount(v, hints.mountModes[v.Target]))
	}

	// compose-go collapses depends_on into a map; sorted keys keep the
	// declaration deterministic (activation order is decided by the
	// resolver, not by dependency order).
	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	return service, nil
}

// wholeValuePlaceholderRegex matches values that consist of exactly one
// ${VAR} or ${VAR:-default} placeholder.
var wholeValuePlaceholderRegex = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-)([^}]*))?\}$`)

// serviceRefScheme marks an environment value as a reference to another
// service's network address, e.g. "svc://db" or "svc://db:5432".
const serviceRefScheme = "svc://"

// convertEnvironment classifies each environment entry into one of the
// three binding kinds: literal, external reference, or service reference.
func convertEnvironment(svc types.ServiceConfig) ([]topology.EnvVar, error) {
	if len(svc.Environment) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(svc.Environment))
	for name := range svc.Environment {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]topology.EnvVar, 0, len(names))
	for _, name := range names {
		raw := svc.Environment[name]

		// "KEY:" with no value passes the key through from the
		// external source.
		if raw == nil {
			vars = append(vars, topology.EnvVar{Name: name, Value: topology.External(name)})
			continue
		}

		value, err := classifyEnvValue(svc.Name, name, *raw)
		if err != nil {
			return nil, err
		}
		vars = append(vars, topology.EnvVar{Name: name, Value: value})
	}

	return vars, nil
}

// classifyEnvValue maps one raw environment value to a binding kind.
func classifyEnvValue(serviceName, name, raw string) (topology.EnvValue, error) {
	if strings.HasPrefix(raw, serviceRefScheme) {
		target := strings.TrimPrefix(raw, serviceRefScheme)
		host, portText, hasPort := strings.Cut(target, ":")
		if host == "" {
			return topology.EnvValue{}, NewParseError(
				"services."+serviceName+".environment."+name,
				"service reference must name a service",
				ErrInvalidServiceRef,
			)
		}
		var port uint64
		if hasPort {
			var err error
			port, err = strconv.ParseUint(portText, 10, 32)
			if err != nil || port == 0 || port > 65535 {
				return topology.EnvValue{}, NewParseError(
					"services."+serviceName+".environment."+name,
					"service reference port must be between 1 and 65535",
					ErrInvalidServiceRef,
				)
			}
		}
		return topology.ServiceRef(host, uint32(port)), nil
	}

	if m := wholeValuePlaceholderRegex.FindStringSubmatch(raw); m != nil {
		if m[2] == ":-" {
			return topology.ExternalWithDefault(m[1], m[3]), nil
		}
		return topology.External(m[1]), nil
	}

	return topology.Literal(raw), nil
}

// convertPorts converts compose-go port configurations.
func convertPorts(svc types.ServiceConfig) ([]topology.PortBinding, error) {
	var ports []topology.PortBinding
	for i, p := range svc.Ports {
		if p.Target == 0 || p.Target > 65535 {
			return nil, NewParseError(
				"services."+svc.Name+".ports["+strconv.Itoa(i)+"]",
				"target port must be between 1 and 65535",
				ErrServiceInvalidPort,
			)
		}
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err != nil || pub > 65535 {
				return nil, NewParseError(
					"services."+svc.Name+".ports["+strconv.Itoa(i)+"]",
					"published port must be between 0 and 65535",
					ErrServiceInvalidPort,
				)
			}
			published = uint32(pub)
		}
		ports = append(ports, topology.PortBinding{
			HostPort:      published,
			ContainerPort: p.Target,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}
	return ports, nil
}

// convertMount converts a compose-go volume entry, inferring the binding
// kind from the source shape when the manifest leaves it untyped.
// compose-go drops the consistency flag when expanding the short syntax,
// so it arrives separately, recovered from the raw document.
func convertMount(v types.ServiceVolumeConfig, consistency string) topology.VolumeBinding {
	mount := topology.VolumeBinding{
		Source:      v.Source,
		Target:      v.Target,
		ReadOnly:    v.ReadOnly,
		Consistency: string(v.Consistency),
	}
	if mount.Consistency == "" {
		mount.Consistency = consistency
	}

	switch v.Type {
	case "bind":
		mount.Kind = topology.MountBind
	case "volume":
		mount.Kind = topology.MountNamed
	case "tmpfs":
		mount.Kind = topology.MountTmpfs
	default:
		if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
			mount.Kind = topology.MountBind
		} else {
			mount.Kind = topology.MountNamed
		}
	}

	return mount
}

// convertVolume converts a compose-go top-level volume.
func convertVolume(name string, vol types.VolumeConfig) topology.Volume {
	return topology.Volume{
		Name:     name,
		Driver:   vol.Driver,
		External: bool(vol.External),
		Labels:   vol.Labels,
	}
}

// =============================================================================
// Raw Declaration Recovery
// =============================================================================

// rawHints carries declaration details compose-go rewrites or drops while
// expanding the short forms: the build context exactly as declared, and the
// consistency flag of short-syntax mounts keyed by container path.
type rawHints struct {
	buildContext string
	mountModes   map[string]string
}

// consistencyFlags are the cache-coherence hints a short-syntax mount can
// carry in its trailing options field.
var consistencyFlags = map[string]bool{
	"cached":     true,
	"consistent": true,
	"delegated":  true,
}

// collectRawHints walks the raw document and gathers, per service, the
// declared build context and short-syntax mount consistency flags.
func collectRawHints(yamlContent string) map[string]rawHints {
	hints := make(map[string]rawHints)

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil || len(doc.Content) == 0 {
		return hints
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return hints
	}
	services := mappingValue(root, "services")
	if services == nil || services.Kind != yaml.MappingNode {
		return hints
	}

	for i := 0; i+1 < len(services.Content); i += 2 {
		svcNode := services.Content[i+1]
		if svcNode.Kind != yaml.MappingNode {
			continue
		}
		var h rawHints

		if build := mappingValue(svcNode, "build"); build != nil {
			switch build.Kind {
			case yaml.ScalarNode:
				h.buildContext = build.Value
			case yaml.MappingNode:
				if ctxNode := mappingValue(build, "context"); ctxNode != nil && ctxNode.Kind == yaml.ScalarNode {
					h.buildContext = ctxNode.Value
				}
			}
		}

		if volumes := mappingValue(svcNode, "volumes"); volumes != nil && volumes.Kind == yaml.SequenceNode {
			for _, item := range volumes.Content {
				if item.Kind != yaml.ScalarNode {
					continue
				}
				target, mode := shortMountMode(item.Value)
				if mode == "" {
					continue
				}
				if h.mountModes == nil {
					h.mountModes = make(map[string]string)
				}
				h.mountModes[target] = mode
			}
		}

		hints[services.Content[i].Value] = h
	}
	return hints
}

// mappingValue returns the value node for key in a mapping node, or nil.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// shortMountMode extracts the consistency flag from a short-syntax volume
// entry like "./backend:/app:cached" or "./src:/app:ro,cached".
func shortMountMode(entry string) (target, mode string) {
	parts := strings.Split(entry, ":")
	if len(parts) < 3 {
		return "", ""
	}
	for _, opt := range strings.Split(parts[len(parts)-1], ",") {
		if consistencyFlags[opt] {
			return parts[len(parts)-2], opt
		}
	}
	return "", ""
}

// =============================================================================
// Declaration Order Recovery
// =============================================================================

// sectionKeyOrder returns the keys of a top-level mapping section in the
// order they appear in the YAML source. Keys absent from known are dropped;
// known keys missing from the document (never the case for well-formed
// input) are appended sorted, so every known key appears exactly once.
func sectionKeyOrder(yamlContent, section string, known map[string]bool) []string {
	var doc yaml.Node
	ordered := make([]string, 0, len(known))
	emitted := make(map[string]bool, len(known))

	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err == nil && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind == yaml.MappingNode {
			for i := 0; i+1 < len(root.Content); i += 2 {
				if root.Content[i].Value != section || root.Content[i+1].Kind != yaml.MappingNode {
					continue
				}
				mapping := root.Content[i+1]
				for j := 0; j+1 < len(mapping.Content); j += 2 {
					key := mapping.Content[j].Value
					if known[key] && !emitted[key] {
						ordered = append(ordered, key)
						emitted[key] = true
					}
				}
			}
		}
	}

	var missing []string
	for key := range known {
		if !emitted[key] {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return append(ordered, missing...)
}

func serviceNames(project *types.Project) map[string]bool {
	names := make(map[string]bool, len(project.Services))
	for name := range project.Services {
		names[name] = true
	}
	return names
}

func volumeNames(project *types.Project) map[string]bool {
	names := make(map[string]bool, len(project.Volumes))
	for name := range project.Volumes {
		names[name] = true
	}
	return names
}
