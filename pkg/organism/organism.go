// Package organism is the public composition root for the message
// organism: it constructs the registry, thread registry, and pump, and
// exposes Register/Unregister/Reconcile/Ingest/Shutdown as the only
// methods a trusted controller calls. Modeled on the teacher's pkg/server.New /
// buildServer pattern — an exported struct with fields a caller may
// extend or replace, plus a single Shutdown(ctx) entry point.
package organism

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xmlpipeline/organism/internal/audit"
	"github.com/xmlpipeline/organism/internal/config"
	"github.com/xmlpipeline/organism/internal/pump"
	"github.com/xmlpipeline/organism/internal/registry"
	"github.com/xmlpipeline/organism/internal/resolver"
	"github.com/xmlpipeline/organism/internal/telemetry"
	"github.com/xmlpipeline/organism/internal/threadreg"
)

// Organism holds every initialized subsystem of a single organism
// instance. Multiple independent instances may coexist in one process
// (SPEC_FULL §9: "avoid ambient global state to permit multiple
// independent organisms in one process").
type Organism struct {
	// Registry is the listener catalog. Exposed so a controller or test
	// harness can call Registry.List()/LookupByName() directly for
	// read-only introspection beyond the meta-namespace surface.
	Registry *registry.Registry

	// Threads is the thread registry. Not exposed for external writes —
	// it is pump-internal per SPEC_FULL §4.4 — but kept here for
	// diagnostics (Threads.Count()).
	Threads *threadreg.Registry

	// Pump is the central message pump.
	Pump *pump.Pump

	// Config is the loaded external configuration.
	Config *config.Config

	shutdownTelemetry func(context.Context) error
}

// New builds an Organism from environment-sourced configuration.
func New(ctx context.Context, egress pump.Egress) (*Organism, error) {
	return NewWithConfig(ctx, config.Load(), egress)
}

// NewWithConfig builds an Organism from an explicit configuration,
// useful for tests that want deterministic timeouts/budgets.
func NewWithConfig(ctx context.Context, cfg *config.Config, egress pump.Egress) (*Organism, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("organism: init telemetry: %w", err)
	}

	reg := registry.New()
	threads := threadreg.New()
	res := resolver.New(reg)

	sink, err := buildAuditSink(ctx, cfg.Audit)
	if err != nil {
		log.Warn().Err(err).Msg("organism: audit sink init failed, falling back to no-op")
		sink = audit.NoopSink{}
	}

	pumpCfg := pump.Config{
		Scheduling:               schedulingPolicy(cfg.Scheduling),
		HandlerTimeoutDefault:    cfg.HandlerTimeoutDefault,
		ThreadTokenBudgetDefault: cfg.ThreadTokenBudgetDefault,
		FairnessWindow:           cfg.FairnessWindow,
		MaxConcurrentDispatch:    cfg.MaxConcurrentDispatch,
		Meta: pump.MetaPolicy{
			List:    cfg.Meta.List,
			Schema:  accessLevel(cfg.Meta.Schema),
			Example: accessLevel(cfg.Meta.Example),
			Prompt:  accessLevel(cfg.Meta.Prompt),
		},
	}

	p := pump.New(pumpCfg, reg, threads, res, sink, egress)
	p.Run(ctx)

	log.Info().Msg("organism: subsystems initialized")

	return &Organism{
		Registry:          reg,
		Threads:           threads,
		Pump:              p,
		Config:            cfg,
		shutdownTelemetry: shutdown,
	}, nil
}

func buildAuditSink(ctx context.Context, cfg config.AuditConfig) (audit.Sink, error) {
	if cfg.DSN == "" {
		return audit.NoopSink{}, nil
	}
	return audit.NewPostgresSink(ctx, cfg.DSN)
}

func schedulingPolicy(s string) pump.SchedulingPolicy {
	if s == string(pump.DepthFirst) {
		return pump.DepthFirst
	}
	return pump.BreadthFirst
}

func accessLevel(s string) pump.AccessLevel {
	switch s {
	case string(pump.AccessAdmin):
		return pump.AccessAdmin
	case string(pump.AccessNone):
		return pump.AccessNone
	default:
		return pump.AccessAuthenticated
	}
}

// Register registers a new listener. With Unregister and Reconcile, it is
// one of the structural-mutation entry points exposed to a trusted
// controller (SPEC_FULL §1).
func (o *Organism) Register(spec registry.Spec) (*registry.Listener, error) {
	return o.Registry.Register(spec)
}

// Unregister removes a listener by name.
func (o *Organism) Unregister(name string) error {
	return o.Registry.Unregister(name)
}

// Reconcile diffs a desired listener set against the current one.
func (o *Organism) Reconcile(specs []registry.Spec) registry.ReconcileResult {
	return o.Registry.Reconcile(specs)
}

// Ingest submits raw envelope bytes for processing.
func (o *Organism) Ingest(ctx context.Context, raw []byte) {
	o.Pump.Ingest(ctx, raw)
}

// Shutdown stops the pump's scheduling loop, waits for in-flight
// dispatches to drain, and flushes telemetry.
func (o *Organism) Shutdown(ctx context.Context) error {
	o.Pump.Shutdown()
	if o.shutdownTelemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return o.shutdownTelemetry(shutdownCtx)
	}
	return nil
}
