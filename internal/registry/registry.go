// Package registry implements the autonomous registry: the authoritative
// mapping from listener names and derived root tags to listener records,
// with all derived schema/example/prompt artifacts materialized at
// registration time. Modeled on the thread-safe, auto-refreshing catalog
// pattern (register/lookup/list behind a single RWMutex, deterministic
// derived-field synthesis up front) used elsewhere in this lineage for
// capability catalogs.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
	"github.com/xmlpipeline/organism/internal/descriptor"
)

// ErrNotFound is returned by lookups that miss. It is never surfaced to
// handlers directly — the pump collapses it into the generic
// topology-privacy-preserving SystemError/huh before it leaves the core.
var ErrNotFound = fmt.Errorf("registry: listener not found")

// Registry owns the listener catalog. Reads are lock-free-cheap (RWMutex
// read lock); writes are rare. Register and Unregister are each
// transactional — no partial state is ever visible on a failed call.
// Reconcile is a sequence of such calls and is not atomic as a whole.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*Listener
	byRootTag map[string][]*Listener // len > 1 only for broadcast groups
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byName:    make(map[string]*Listener),
		byRootTag: make(map[string][]*Listener),
	}
}

// Spec is the input to Register: everything the caller supplies before
// the registry derives RootTag and synthesizes cached artifacts.
type Spec struct {
	Name        string
	Payload     descriptor.Payload
	Handler     Handler
	Description string
	IsAgent     bool
	Peers       []string
	Broadcast   bool
	PeersExpr   string
}

// deriveRootTag implements SPEC_FULL §6: lower(name) + "." + lower(payload_type_name).
func deriveRootTag(name, payloadTypeName string) string {
	return strings.ToLower(name) + "." + strings.ToLower(payloadTypeName)
}

// Register validates spec, derives the root tag, synthesizes the cached
// schema/example/prompt-fragment artifacts, and atomically inserts the
// listener. No partial state is left behind on any validation failure.
func (r *Registry) Register(spec Spec) (*Listener, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("registry: register %q: name is required", spec.Name)
	}
	if spec.Description == "" {
		return nil, fmt.Errorf("registry: register %q: description is required", spec.Name)
	}
	if spec.Handler == nil {
		return nil, fmt.Errorf("registry: register %q: handler is required", spec.Name)
	}
	if spec.Broadcast && spec.IsAgent {
		return nil, fmt.Errorf("registry: register %q: broadcast is forbidden for is_agent listeners", spec.Name)
	}
	if err := spec.Payload.Validate(); err != nil {
		return nil, fmt.Errorf("registry: register %q: %w", spec.Name, err)
	}

	rootTag := deriveRootTag(spec.Name, spec.Payload.TypeName)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[spec.Name]; exists {
		return nil, fmt.Errorf("registry: register %q: name already registered", spec.Name)
	}

	for _, peer := range spec.Peers {
		if _, ok := r.byName[peer]; !ok {
			return nil, fmt.Errorf("registry: register %q: peer %q is not registered", spec.Name, peer)
		}
	}

	existing := r.byRootTag[rootTag]
	if len(existing) > 0 {
		if spec.IsAgent {
			return nil, fmt.Errorf("registry: register %q: root tag %q already in use", spec.Name, rootTag)
		}
		if !spec.Broadcast {
			return nil, fmt.Errorf("registry: register %q: root tag %q collides with a non-broadcast listener", spec.Name, rootTag)
		}
		for _, other := range existing {
			if !other.Broadcast {
				return nil, fmt.Errorf("registry: register %q: root tag %q collides with non-broadcast listener %q", spec.Name, rootTag, other.Name)
			}
			if !descriptor.StructurallyEqual(spec.Payload, other.Payload) {
				return nil, fmt.Errorf("registry: register %q: broadcast payload shape mismatch with %q", spec.Name, other.Name)
			}
		}
	}

	var program *vm.Program
	if spec.PeersExpr != "" {
		compiled, err := expr.Compile(spec.PeersExpr, expr.Env(peerExprEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("registry: register %q: peers_expr: %w", spec.Name, err)
		}
		program = compiled
	}

	l := &Listener{
		Name:        spec.Name,
		Payload:     spec.Payload,
		Handler:     spec.Handler,
		Description: spec.Description,
		IsAgent:     spec.IsAgent,
		Peers:       append([]string(nil), spec.Peers...),
		Broadcast:   spec.Broadcast,
		PeersExpr:   spec.PeersExpr,
		peerProgram: program,
		RootTag:     rootTag,
	}
	l.CachedSchema = descriptor.SynthesizeXSD(rootTag, spec.Payload)
	l.CachedExample = descriptor.SynthesizeExample(rootTag, spec.Payload)
	l.CachedPromptFragment = descriptor.PromptFragment(l.Name, l.Description, rootTag, spec.Payload)

	r.byName[l.Name] = l
	r.byRootTag[rootTag] = append(r.byRootTag[rootTag], l)
	r.invalidateUsageInstructionsLocked()

	log.Info().Str("listener", l.Name).Str("root_tag", rootTag).Bool("is_agent", l.IsAgent).Bool("broadcast", l.Broadcast).Msg("registry: listener registered")
	return l, nil
}

// Unregister removes a listener atomically. Subsequent lookups miss
// immediately; in-flight chain entries referencing the name are left
// alone (the pump fails safe on routing attempts against them).
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.byName, name)
	group := r.byRootTag[l.RootTag]
	for i, other := range group {
		if other == l {
			group = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(group) == 0 {
		delete(r.byRootTag, l.RootTag)
	} else {
		r.byRootTag[l.RootTag] = group
	}
	r.invalidateUsageInstructionsLocked()

	log.Info().Str("listener", name).Msg("registry: listener unregistered")
	return nil
}

func (r *Registry) invalidateUsageInstructionsLocked() {
	for _, l := range r.byName {
		l.cachedUsageInstructions = ""
	}
}

// LookupByName returns the listener registered under name, or ErrNotFound.
func (r *Registry) LookupByName(name string) (*Listener, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return l, nil
}

// LookupByRoot returns zero, one, or (for a broadcast group) multiple
// listeners sharing the given derived root tag.
func (r *Registry) LookupByRoot(rootTag string) []*Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group := r.byRootTag[rootTag]
	out := make([]*Listener, len(group))
	copy(out, group)
	return out
}

// List returns every registered listener, ordered by name for
// deterministic introspection output.
func (r *Registry) List() []*Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Listener, 0, len(r.byName))
	for _, l := range r.byName {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildUsageInstructions concatenates the cached prompt fragments of
// every listener named in l.Peers, in deterministic (declaration) order,
// plus the fixed response-semantics warning. The result is cached on the
// listener until the next registry mutation invalidates it.
func (r *Registry) BuildUsageInstructions(l *Listener) string {
	r.mu.RLock()
	if l.cachedUsageInstructions != "" {
		cached := l.cachedUsageInstructions
		r.mu.RUnlock()
		return cached
	}
	r.mu.RUnlock()

	var b strings.Builder
	r.mu.RLock()
	for _, peerName := range l.Peers {
		if peer, ok := r.byName[peerName]; ok {
			b.WriteString(peer.CachedPromptFragment)
			b.WriteString("\n")
		}
	}
	r.mu.RUnlock()
	b.WriteString(descriptor.UsageInstructionsWarning)

	r.mu.Lock()
	l.cachedUsageInstructions = b.String()
	r.mu.Unlock()
	return l.cachedUsageInstructions
}

// ReconcileResult summarizes what a Reconcile call changed.
type ReconcileResult struct {
	Registered   []string
	Unregistered []string
	Failed       map[string]error
}

// Reconcile diffs a desired listener set against the current one inside
// a single pass: every name present in specs but missing from the
// registry is registered; every registered name absent from specs is
// unregistered. Each change is applied on its own; a failed change is
// recorded in Failed and does not undo the others. This is the
// hot-reload-style operability surface a
// trusted controller uses instead of issuing Register/Unregister calls
// one at a time — modeled on a catalog's refresh-and-merge pass that
// reconciles a freshly fetched set against what's cached.
func (r *Registry) Reconcile(specs []Spec) ReconcileResult {
	result := ReconcileResult{Failed: make(map[string]error)}

	desired := make(map[string]bool, len(specs))
	for _, s := range specs {
		desired[s.Name] = true
	}

	for _, name := range r.namesSnapshot() {
		if !desired[name] {
			if err := r.Unregister(name); err != nil {
				result.Failed[name] = err
				continue
			}
			result.Unregistered = append(result.Unregistered, name)
		}
	}

	for _, s := range specs {
		if _, err := r.LookupByName(s.Name); err == nil {
			continue // already present, left untouched
		}
		if _, err := r.Register(s); err != nil {
			result.Failed[s.Name] = err
			continue
		}
		result.Registered = append(result.Registered, s.Name)
	}

	return result
}

func (r *Registry) namesSnapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
