// Package threadreg implements the thread registry: the opaque-UUID to
// private-call-chain mapping that is the sole authority for response
// routing. It is pump-internal only — no handler ever reads or writes
// it directly — and mediates chain extension/pruning with a
// cancellation-token map per chain node, modeled on a workflow engine's
// run-ID-to-cancel-func registry.
package threadreg

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrUnknownThread is returned by any operation against a UUID the
// registry has no record of (already pruned, or never issued).
var ErrUnknownThread = fmt.Errorf("threadreg: unknown thread")

// ErrBudgetExhausted is returned by ReportUsage once the thread's token
// budget has been fully consumed.
var ErrBudgetExhausted = fmt.Errorf("threadreg: token budget exhausted")

type node struct {
	chain    []string
	parent   string // "" for a chain root
	children map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
	budget   *int64 // shared across every node of the same root conversation
}

// Registry maps thread UUIDs to private call chains. Every method locks
// the whole table: writes are pump-only and rare relative to dispatch
// volume, so a single mutex (rather than per-UUID sharding) keeps the
// parent/child bookkeeping trivially consistent.
type Registry struct {
	mu    sync.Mutex
	nodes map[string]*node
}

// New creates an empty thread registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*node)}
}

// StartChain allocates a new UUID and a two-element call chain
// [sender, initialTarget], with defaultBudget tokens available to every
// descendant of this conversation. ctx is the dispatch context for this
// first hop; its cancel function is retained for later pruning.
func (r *Registry) StartChain(ctx context.Context, sender, initialTarget string, defaultBudget int64) (string, context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	budget := defaultBudget

	r.mu.Lock()
	r.nodes[id] = &node{
		chain:    []string{sender, initialTarget},
		children: make(map[string]bool),
		ctx:      dctx,
		cancel:   cancel,
		budget:   &budget,
	}
	r.mu.Unlock()

	log.Debug().Str("thread", id).Str("sender", sender).Str("target", initialTarget).Msg("threadreg: chain started")
	return id, dctx, cancel
}

// ExtendChain allocates a new UUID for the next hop, guaranteeing
// opacity across hops: a handler can never correlate the UUID it
// received with the UUID delivered to whatever it forwards to.
func (r *Registry) ExtendChain(ctx context.Context, parent, nextListener string) (string, context.Context, context.CancelFunc, error) {
	r.mu.Lock()
	p, ok := r.nodes[parent]
	if !ok {
		r.mu.Unlock()
		return "", nil, nil, fmt.Errorf("%w: %s", ErrUnknownThread, parent)
	}
	newChain := append(append([]string(nil), p.chain...), nextListener)
	r.mu.Unlock()

	dctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()

	r.mu.Lock()
	r.nodes[id] = &node{
		chain:    newChain,
		parent:   parent,
		children: make(map[string]bool),
		cancel:   cancel,
		budget:   p.budget,
		ctx:      dctx,
	}
	p.children[id] = true
	r.mu.Unlock()

	log.Debug().Str("parent_thread", parent).Str("thread", id).Str("next", nextListener).Msg("threadreg: chain extended")
	return id, dctx, cancel, nil
}

// PruneForResponse pops the tail of the chain at id (the responder) and
// returns the parent thread UUID and the new-tail listener name (the
// caller) that the response should be routed toward. Any sub-chains
// created below the responder (child UUIDs forked while it was the
// tail) are pruned and their handlers cancelled, per the respond()
// cancellation rule in SPEC_FULL §5.
func (r *Registry) PruneForResponse(id string) (callerThread, callerName string, err error) {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return "", "", fmt.Errorf("%w: %s", ErrUnknownThread, id)
	}
	children := make([]string, 0, len(n.children))
	for c := range n.children {
		children = append(children, c)
	}
	r.mu.Unlock()

	for _, c := range children {
		r.pruneSubtreeLocked(c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok = r.nodes[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownThread, id)
	}
	if len(n.chain) < 2 {
		// chain has collapsed to its origin: terminate this thread entirely.
		delete(r.nodes, id)
		if n.parent != "" {
			if p, ok := r.nodes[n.parent]; ok {
				delete(p.children, id)
			}
		}
		return "", "", nil
	}

	caller := n.chain[len(n.chain)-2]
	parent := n.parent
	delete(r.nodes, id)
	if parent != "" {
		if p, ok := r.nodes[parent]; ok {
			delete(p.children, id)
		}
	}
	log.Debug().Str("thread", id).Str("caller", caller).Msg("threadreg: pruned for response")
	return parent, caller, nil
}

// PruneSubtree deletes id and every descendant chain rooted at it,
// invoking each node's cancellation function so in-flight handlers are
// cancelled rather than left to complete into a discarded chain.
func (r *Registry) PruneSubtree(id string) {
	r.pruneSubtreeLocked(id)
}

func (r *Registry) pruneSubtreeLocked(id string) {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	children := make([]string, 0, len(n.children))
	for c := range n.children {
		children = append(children, c)
	}
	if n.parent != "" {
		if p, ok := r.nodes[n.parent]; ok {
			delete(p.children, id)
		}
	}
	delete(r.nodes, id)
	cancel := n.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, c := range children {
		r.pruneSubtreeLocked(c)
	}
	log.Debug().Str("thread", id).Msg("threadreg: subtree pruned")
}

// Context returns the per-hop context allocated for id by StartChain or
// ExtendChain, so the pump can derive a handler-timeout context from it.
func (r *Registry) Context(id string) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	return n.ctx, true
}

// Lookup returns a copy of the call chain for id, pump-internal only.
func (r *Registry) Lookup(id string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), n.chain...), true
}

// ReportUsage decrements id's shared token budget by tokens. It returns
// ErrBudgetExhausted once the budget reaches zero or below, which the
// pump maps to SystemError(code=budget, retry-allowed=false) redelivered
// to the same listener on the same thread; the pump does not prune the
// chain itself. This is the out-of-band usage callback (SPEC_FULL §9
// open question 2), never reachable from a handler's return value.
func (r *Registry) ReportUsage(id string, tokens int) error {
	r.mu.Lock()
	n, ok := r.nodes[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownThread, id)
	}
	remaining := atomic.AddInt64(n.budget, -int64(tokens))
	if remaining <= 0 {
		return ErrBudgetExhausted
	}
	return nil
}

// Count returns the number of live thread entries, for diagnostics.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}
