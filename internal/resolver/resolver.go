// Package resolver implements the routing resolver: the step between
// ingress and the per-listener preprocessing pipelines that consults the
// registry to turn a payload's root tag into the set of target
// listeners a message fans out to. Adapted from an ingredient-resolution
// pass that accumulates validation state against a store; here the
// accumulation is trivial (root-tag lookup) but the shape — a single
// Resolve entry point returning either a resolved target set or a
// collapsed, non-revealing error — is kept.
package resolver

import (
	"fmt"

	"github.com/xmlpipeline/organism/internal/registry"
)

// ErrUnknownRoot is returned when no listener's derived root tag matches
// the inbound payload's root element name. The pump maps this to the
// same canned <huh> text as a schema violation.
var ErrUnknownRoot = fmt.Errorf("resolver: unknown root tag")

// Resolver looks up target listeners for an inbound payload root tag.
type Resolver struct {
	reg *registry.Registry
}

// New creates a Resolver bound to reg.
func New(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve returns every listener whose derived root tag matches rootTag:
// zero listeners is ErrUnknownRoot, one listener is the common case, and
// more than one listener only ever occurs for a broadcast group.
func (r *Resolver) Resolve(rootTag string) ([]*registry.Listener, error) {
	targets := r.reg.LookupByRoot(rootTag)
	if len(targets) == 0 {
		return nil, ErrUnknownRoot
	}
	return targets, nil
}

// ResolveExplicitTarget resolves an envelope's optional `to` field
// against the registry, for a message that names a specific listener
// rather than relying purely on root-tag routing. The pump does not call
// it: its Ingest routes by root tag only and its internal hops look
// listeners up in the registry directly. It does not consult broadcast
// groups — an explicit `to` always means exactly one listener.
func (r *Resolver) ResolveExplicitTarget(name string) (*registry.Listener, error) {
	return r.reg.LookupByName(name)
}
