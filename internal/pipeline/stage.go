// Package pipeline implements the per-listener preprocessing pipeline:
// repair → canonicalize → envelope-validate → extract → schema-validate
// → deserialize, short-circuiting to a <huh> on any stage failure. Repair
// and canonicalize are pluggable Stage values run in order by Chain — a
// provider-chain pattern, tried in sequence, any one of which may
// short-circuit the rest. Envelope-validate and payload-extract run as
// direct calls in Ingress, and schema-validate and deserialize as direct
// calls in PerListener; they are not Stage values.
package pipeline

import "context"

// State threads through every stage of both the shared ingress chain and
// the per-listener chain.
type State struct {
	Raw       []byte
	Repaired  []byte
	Canonical []byte

	// Fixes records repair-stage recoverable corrections. Ingress does not
	// return or log them, and they are not attached to the envelope or to
	// any <huh>.
	Fixes []string

	// RootName is not set by any stage in this package; Ingress reports
	// the payload root's local name through the returned envelope.
	RootName string
}

// Stage is one step of a preprocessing chain. Run either advances st or
// returns an error that causes the chain to short-circuit to a <huh>.
type Stage interface {
	Name() string
	Run(ctx context.Context, st *State) error
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, st *State) error
}

func (s StageFunc) Name() string { return s.StageName }
func (s StageFunc) Run(ctx context.Context, st *State) error {
	return s.Fn(ctx, st)
}

// Chain runs an ordered list of stages against st, stopping at the first
// error. Failures in one message's chain never affect any other
// message's chain — each call owns an independent *State.
func Chain(ctx context.Context, st *State, stages []Stage) (failedStage string, err error) {
	for _, s := range stages {
		if err := s.Run(ctx, st); err != nil {
			return s.Name(), err
		}
	}
	return "", nil
}
