// Package pump implements the central message pump: the sole trusted
// component that schedules ready messages, captures security-critical
// metadata before invoking handlers, enforces peer constraints, and
// coordinates thread registry updates. No handler-asserted value (from,
// thread, to) is ever trusted past validation; see dispatch.go.
package pump

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xmlpipeline/organism/internal/audit"
	"github.com/xmlpipeline/organism/internal/descriptor"
	"github.com/xmlpipeline/organism/internal/envelope"
	"github.com/xmlpipeline/organism/internal/pipeline"
	"github.com/xmlpipeline/organism/internal/registry"
	"github.com/xmlpipeline/organism/internal/resolver"
	"github.com/xmlpipeline/organism/internal/threadreg"
)

// Egress emits fully canonicalized outbound envelope bytes to whatever
// external transport the privileged layer wires in (SPEC_FULL §1: the
// core ingests and emits byte sequences, transport is out of scope). A
// nil Egress means outbound messages with no internal recipient are
// logged and dropped — acceptable for tests and organisms that never
// route back out of process.
type Egress func(ctx context.Context, raw []byte) error

// Pump owns the ready-queue, the worker pool, and the wiring to the
// registry, resolver, and thread registry it coordinates.
type Pump struct {
	cfg      Config
	reg      *registry.Registry
	resolver *resolver.Resolver
	threads  *threadreg.Registry
	queue    *readyQueue
	trace    *traceRecorder
	audit    audit.Sink
	egress   Egress

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Pump. sink may be nil (defaults to audit.NoopSink);
// egress may be nil (outbound-with-no-internal-recipient messages are
// dropped with a debug-level log entry).
func New(cfg Config, reg *registry.Registry, threads *threadreg.Registry, res *resolver.Resolver, sink audit.Sink, egress Egress) *Pump {
	if sink == nil {
		sink = audit.NoopSink{}
	}
	return &Pump{
		cfg:      cfg,
		reg:      reg,
		resolver: res,
		threads:  threads,
		queue:    newReadyQueue(cfg.Scheduling, cfg.FairnessWindow),
		trace:    newTraceRecorder(),
		audit:    sink,
		egress:   egress,
		sem:      make(chan struct{}, cfg.MaxConcurrentDispatch),
	}
}

// Run starts the pump's scheduling loop in the background. Call Shutdown
// to stop it and wait for in-flight dispatches to drain.
func (p *Pump) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(ctx)
}

// Shutdown cancels the scheduling loop and waits for every in-flight
// dispatch goroutine to return.
func (p *Pump) Shutdown() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pump) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		for {
			j, ok := p.queue.pop()
			if !ok {
				break
			}
			p.dispatchAsync(ctx, j)
		}
		select {
		case <-ctx.Done():
			return
		case <-p.queue.notify:
		}
	}
}

func (p *Pump) dispatchAsync(ctx context.Context, j job) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.dispatch(ctx, j)
	}()
}

func (p *Pump) enqueue(j job) {
	p.queue.push(j)
}

// Trace returns the recorded dispatch hops for a thread, for diagnostics.
func (p *Pump) Trace(threadID string) []Hop { return p.trace.Trace(threadID) }

// Cost returns the accumulated token-usage summary for a thread.
func (p *Pump) Cost(threadID string) CostSummary { return p.trace.Cost(threadID) }

// Ingest is the sole external entrypoint: raw envelope bytes from any
// source (transport layer, an internal re-entry test harness) run the
// shared ingress pipeline, resolve against the registry, and either
// start a fresh call chain per target listener or — for core-namespace
// requests — are answered synchronously without touching the thread
// registry at all.
func (p *Pump) Ingest(ctx context.Context, raw []byte) {
	env, failure := pipeline.Ingress(ctx, raw)
	if failure != nil {
		from := envelope.BestEffortFrom(raw)
		if from == "" {
			log.Debug().Str("stage", failure.Stage).Err(failure.Cause).Msg("pump: unrecoverable ingress failure, dropping")
			return
		}
		p.sendHuh(ctx, from, failure.CannedMessage(), raw)
		return
	}

	if env.Payload.Namespace == envelope.NSCore {
		p.handleMeta(ctx, env)
		return
	}

	targets, err := p.resolver.Resolve(env.Payload.LocalName)
	if err != nil {
		p.sendHuh(ctx, env.From, envelope.ErrUnknownRootTag, raw)
		return
	}

	for _, target := range targets {
		value, failure := pipeline.PerListener(ctx, target, env.Payload)
		if failure != nil {
			p.sendHuh(ctx, env.From, failure.CannedMessage(), raw)
			continue
		}
		threadID, _, _ := p.threads.StartChain(ctx, env.From, target.Name, p.cfg.ThreadTokenBudgetDefault)
		p.enqueue(job{
			threadID: threadID,
			listener: target,
			fromID:   env.From,
			payload:  value,
			selfCall: env.From == target.Name,
		})
	}
}

// sendHuh routes a pipeline/ingress failure's canned diagnostic to the
// offending sender: internally, if it names a currently registered
// listener, otherwise via egress.
func (p *Pump) sendHuh(ctx context.Context, to, cannedError string, raw []byte) {
	if to == "" {
		log.Debug().Msg("pump: huh target unknown, dropping")
		return
	}
	encoded, truncated := envelope.EncodeOriginalAttempt(raw)
	h := envelope.Huh{Error: cannedError, OriginalAttempt: encoded, Truncated: truncated}

	if target, err := p.reg.LookupByName(to); err == nil {
		threadID, _, _ := p.threads.StartChain(ctx, envelope.FromCore, target.Name, p.cfg.ThreadTokenBudgetDefault)
		p.enqueue(job{threadID: threadID, listener: target, fromID: envelope.FromCore, payload: h, selfCall: false})
		return
	}
	p.marshalAndSend(ctx, envelope.FromCore, to, "", envelope.MarshalHuh(h))
}

// sendExternal serializes a respond()-terminal payload against its
// producing listener's own field descriptors and ships it out via
// egress, used when the call chain's new tail is the original external
// sender rather than a still-registered listener.
func (p *Pump) sendExternal(ctx context.Context, fromName, to, threadID string, payload interface{}) {
	var fields []descriptor.Field
	localName := fromName
	if responder, err := p.reg.LookupByName(fromName); err == nil {
		fields = responder.Payload.Fields
		localName = responder.RootTag
	}
	children, err := pipeline.Serialize(fields, payload)
	if err != nil {
		log.Error().Err(err).Str("listener", fromName).Msg("pump: failed to serialize outbound response")
		return
	}
	p.marshalAndSend(ctx, fromName, to, threadID, &envelope.PayloadElement{LocalName: localName, Children: children})
}

// marshalAndSend builds, canonicalizes, and emits an envelope via
// egress. If egress is nil the message is logged and dropped — this
// pump has no internal recipient for it.
func (p *Pump) marshalAndSend(ctx context.Context, from, to, threadID string, payloadEl *envelope.PayloadElement) {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	env := &envelope.Envelope{From: from, Thread: threadID, To: to, Payload: payloadEl}
	raw, err := envelope.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("pump: failed to marshal outbound envelope")
		return
	}
	canon, err := envelope.Canonicalize(raw)
	if err != nil {
		canon = raw
	}
	if p.egress == nil {
		log.Debug().Str("to", to).Msg("pump: no egress configured, dropping outbound message")
		return
	}
	if err := p.egress(ctx, canon); err != nil {
		log.Warn().Err(err).Str("to", to).Msg("pump: egress failed")
	}
}

func fieldText(p *envelope.PayloadElement, name string) string {
	f := p.Find(name)
	if f == nil {
		return ""
	}
	return f.Text
}
