package registry

import (
	"context"

	"github.com/expr-lang/expr/vm"
	"github.com/xmlpipeline/organism/internal/descriptor"
)

// HandlerMetadata is the trusted-scope bundle a handler receives
// alongside its typed payload. Every field is captured by the pump
// before the handler is invoked; nothing here is ever sourced from a
// handler's own return value.
type HandlerMetadata struct {
	ThreadID         string
	FromID           string
	OwnName          string // populated only when the listener is_agent
	IsSelfCall       bool
	UsageInstructions string

	// ReportUsage is the out-of-band token-usage callback (SPEC_FULL §9
	// open question 2): handlers report LLM usage through it, never
	// through their return value, so usage can never influence routing.
	ReportUsage func(tokens int)
}

// DispositionKind tags the Disposition sum type mapped from the source
// HandlerResponse|None return polymorphism (SPEC_FULL §9).
type DispositionKind int

const (
	// Terminate ends the chain branch for this dispatch; the thread
	// registry prunes the tail.
	Terminate DispositionKind = iota
	// Forward extends the call chain toward a declared peer (or self).
	Forward
	// Respond pops the call chain tail and routes payload to the caller.
	Respond
)

// Disposition is a handler's return value: the tagged sum type
// Forward{payload,to} | Respond{payload} | Terminate. Payload is a
// generic value tree (map[string]interface{} for a record, matching the
// target listener's field descriptors) that the pump serializes to XML
// only when it actually crosses the wire.
type Disposition struct {
	Kind    DispositionKind
	Payload interface{}
	To      string // meaningful only for Forward
}

// Handler is the asynchronous callable a listener registers. It receives
// its deserialized payload instance (a map[string]interface{} shaped by
// its own field descriptors, or a core-primitive value for SystemError/huh
// redelivery) and trusted metadata, and must not block past the pump's
// handler timeout; the pump cancels ctx when that timeout elapses. The
// timeout is the pump's Config.HandlerTimeoutDefault, the same for every
// listener; there is no per-listener setting.
type Handler func(ctx context.Context, payload interface{}, meta HandlerMetadata) (Disposition, error)

// Listener is a registered capability.
type Listener struct {
	Name        string
	Payload     descriptor.Payload
	Handler     Handler
	Description string
	IsAgent     bool
	Peers       []string
	Broadcast   bool

	// PeersExpr is an optional expr-lang boolean expression evaluated
	// against a candidate target's descriptor, as a dynamic alternative
	// to a static Peers set. Compiled once at registration.
	PeersExpr   string
	peerProgram *vm.Program

	// RootTag is derived at registration: lower(Name) + "." + lower(Payload.TypeName).
	RootTag string

	CachedSchema            string
	CachedExample            string
	CachedPromptFragment     string
	cachedUsageInstructions  string // built lazily, depends on peer registry state
}

// peerExprEnv is the evaluation environment exposed to a PeersExpr
// expression: the candidate forward target's own descriptor fields.
type peerExprEnv struct {
	Name      string
	IsAgent   bool
	Broadcast bool
	RootTag   string
}

// HasPeer reports whether name is a declared static peer of this listener.
// It does not evaluate PeersExpr, which needs the candidate's full
// descriptor — see MatchesPeerExpr.
func (l *Listener) HasPeer(name string) bool {
	for _, p := range l.Peers {
		if p == name {
			return true
		}
	}
	return false
}

// MatchesPeerExpr evaluates l's compiled PeersExpr (if any) against
// target's descriptor, returning false if no expression was declared or
// evaluation fails or doesn't yield a bool true.
func (l *Listener) MatchesPeerExpr(target *Listener) bool {
	if l.peerProgram == nil || target == nil {
		return false
	}
	out, err := vm.Run(l.peerProgram, peerExprEnv{
		Name:      target.Name,
		IsAgent:   target.IsAgent,
		Broadcast: target.Broadcast,
		RootTag:   target.RootTag,
	})
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}
