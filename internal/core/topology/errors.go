package topology

import (
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================
//
// All resolution errors are detected during Resolve and are non-retriable
// without correcting the declaration. Resolve fails closed: no partial plan
// is ever returned alongside an error.

// CyclicDependencyError reports that the dependency graph contains at least
// one cycle. Services lists every service lying on a cycle, in declaration
// order.
type CyclicDependencyError struct {
	Services []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle among services: %s", strings.Join(e.Services, ", "))
}

// UnknownVolumeError reports a service binding that references a volume
// absent from the environment's volume set.
type UnknownVolumeError struct {
	Service string
	Volume  string
}

func (e *UnknownVolumeError) Error() string {
	return fmt.Sprintf("service %q references undeclared volume %q", e.Service, e.Volume)
}

// UnresolvedReferenceError reports an environment binding that references a
// nonexistent service or a missing external key. Name is the binding's
// variable name; Target is the referenced service or key.
type UnresolvedReferenceError struct {
	Service string
	Name    string
	Target  string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("service %q: binding %q references unresolved %q", e.Service, e.Name, e.Target)
}

// MalformedDeclarationError reports a structurally invalid declaration,
// such as a duplicate service identifier or a dependency on an undeclared
// service.
type MalformedDeclarationError struct {
	Subject string
	Reason  string
}

func (e *MalformedDeclarationError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s", e.Subject, e.Reason)
	}
	return e.Reason
}
