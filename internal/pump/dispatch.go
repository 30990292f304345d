package pump

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xmlpipeline/organism/internal/audit"
	"github.com/xmlpipeline/organism/internal/envelope"
	"github.com/xmlpipeline/organism/internal/registry"
	"github.com/xmlpipeline/organism/internal/telemetry"
	"github.com/xmlpipeline/organism/internal/threadreg"
)

// dispatch runs the full per-message dispatch sequence against one
// target listener, per SPEC_FULL §4.3. It never lets a handler panic or
// a handler-return value decide from/thread/to.
func (p *Pump) dispatch(ctx context.Context, j job) {
	nodeCtx, ok := p.threads.Context(j.threadID)
	if !ok {
		log.Warn().Str("thread", j.threadID).Str("listener", j.listener.Name).Msg("pump: dispatch against unknown thread, dropping")
		return
	}

	hctx, cancel := context.WithTimeout(nodeCtx, p.cfg.HandlerTimeoutDefault)
	defer cancel()

	start := time.Now()
	var budgetExhausted bool
	meta := registry.HandlerMetadata{
		ThreadID:          j.threadID,
		FromID:            j.fromID,
		IsSelfCall:        j.selfCall,
		UsageInstructions: p.reg.BuildUsageInstructions(j.listener),
		ReportUsage: func(tokens int) {
			p.trace.reportUsage(j.threadID, tokens)
			if err := p.threads.ReportUsage(j.threadID, tokens); err != nil {
				if err == threadreg.ErrBudgetExhausted {
					budgetExhausted = true
				}
			}
		},
	}
	if j.listener.IsAgent {
		meta.OwnName = j.listener.Name
	}

	spanCtx, span := telemetry.StartDispatchSpan(hctx, j.threadID, j.listener.Name)
	disp, herr := p.invokeHandler(spanCtx, j, meta)

	if budgetExhausted {
		telemetry.EndDispatchSpan(span, "budget")
		log.Info().Str("thread", j.threadID).Str("listener", j.listener.Name).Msg("pump: thread token budget exhausted")
		p.emitSystemError(j.threadID, j.listener, envelope.CodeBudget)
		p.trace.record(j.threadID, j.listener.Name, start, "budget")
		p.audit.Record(ctx, audit.Record{ThreadID: j.threadID, Listener: j.listener.Name, Outcome: "budget", Timestamp: time.Now()})
		return
	}

	if hctx.Err() == context.DeadlineExceeded {
		telemetry.EndDispatchSpan(span, "timeout")
		log.Info().Str("thread", j.threadID).Str("listener", j.listener.Name).Msg("pump: handler timeout")
		p.emitSystemError(j.threadID, j.listener, envelope.CodeTimeout)
		p.trace.record(j.threadID, j.listener.Name, start, "timeout")
		p.audit.Record(ctx, audit.Record{ThreadID: j.threadID, Listener: j.listener.Name, Outcome: "timeout", Timestamp: time.Now()})
		return
	}

	if herr != nil {
		telemetry.EndDispatchSpan(span, "error")
		log.Error().Err(herr).Str("thread", j.threadID).Str("listener", j.listener.Name).Msg("pump: handler error")
		p.emitSystemError(j.threadID, j.listener, envelope.CodeValidation)
		p.trace.record(j.threadID, j.listener.Name, start, "error")
		p.audit.Record(ctx, audit.Record{ThreadID: j.threadID, Listener: j.listener.Name, Outcome: "error", Timestamp: time.Now()})
		return
	}

	outcome := p.processDisposition(ctx, j, disp)
	telemetry.EndDispatchSpan(span, outcome)
	p.trace.record(j.threadID, j.listener.Name, start, outcome)
	p.audit.Record(ctx, audit.Record{ThreadID: j.threadID, Listener: j.listener.Name, Outcome: outcome, Timestamp: time.Now()})
}

// invokeHandler recovers a handler panic into a generic error, so a
// misbehaving listener can never crash the dispatch loop.
func (p *Pump) invokeHandler(ctx context.Context, j job, meta registry.HandlerMetadata) (disp registry.Disposition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pump: handler %q panicked: %v", j.listener.Name, r)
		}
	}()
	return j.listener.Handler(ctx, j.payload, meta)
}

// processDisposition implements dispatch sequence step 4: interpreting
// the handler's tagged-union return and acting only on the pump's own
// trusted bookkeeping, never on handler-asserted from/thread.
func (p *Pump) processDisposition(ctx context.Context, j job, disp registry.Disposition) (outcome string) {
	switch disp.Kind {
	case registry.Terminate:
		p.threads.PruneSubtree(j.threadID)
		return "terminate"

	case registry.Respond:
		parentThread, caller, err := p.threads.PruneForResponse(j.threadID)
		if err != nil {
			log.Warn().Err(err).Str("thread", j.threadID).Msg("pump: respond against unknown thread")
			return "respond"
		}
		if caller == "" {
			return "respond" // chain had already collapsed to its origin
		}
		p.deliverResponse(ctx, j.listener.Name, parentThread, caller, disp.Payload)
		return "respond"

	case registry.Forward:
		return p.forward(ctx, j, disp)

	default:
		log.Warn().Str("listener", j.listener.Name).Msg("pump: unrecognized disposition kind, terminating")
		p.threads.PruneSubtree(j.threadID)
		return "terminate"
	}
}

// deliverResponse routes a responder's payload to the caller that is now
// the chain tail. If parentThread is empty the caller was the original
// external sender (not a registered listener) and the response leaves
// the process via egress instead of internal re-dispatch.
func (p *Pump) deliverResponse(ctx context.Context, fromName, parentThread, caller string, payload interface{}) {
	target, err := p.reg.LookupByName(caller)
	if err != nil || parentThread == "" {
		p.sendExternal(ctx, fromName, caller, parentThread, payload)
		return
	}
	p.enqueue(job{
		threadID: parentThread,
		listener: target,
		fromID:   fromName,
		payload:  payload,
		selfCall: false,
	})
}

// forward implements Forward / self-iteration, with peer enforcement for
// agent listeners. A non-peer target never reaches the thread registry;
// it produces a routing SystemError back to the same listener/thread
// instead, leaving the chain alive for retry (topology-privacy rule:
// this is identical whether the target never existed, isn't a
// registered peer, or the target's payload would fail validation).
func (p *Pump) forward(ctx context.Context, j job, disp registry.Disposition) string {
	to := disp.To
	selfCall := to == "" || to == "self" || to == j.listener.Name
	if selfCall {
		to = j.listener.Name
	}

	target, err := p.reg.LookupByName(to)
	if err != nil {
		p.emitSystemError(j.threadID, j.listener, envelope.CodeRouting)
		return "routing-error"
	}

	if j.listener.IsAgent && !selfCall && !j.listener.HasPeer(to) && !j.listener.MatchesPeerExpr(target) {
		log.Info().Str("listener", j.listener.Name).Msg("pump: forward rejected, target is not a declared peer")
		p.emitSystemError(j.threadID, j.listener, envelope.CodeRouting)
		return "routing-rejected"
	}

	newThread, _, _, err := p.threads.ExtendChain(ctx, j.threadID, target.Name)
	if err != nil {
		p.emitSystemError(j.threadID, j.listener, envelope.CodeRouting)
		return "routing-error"
	}

	p.enqueue(job{
		threadID: newThread,
		listener: target,
		fromID:   j.listener.Name,
		payload:  disp.Payload,
		selfCall: selfCall,
	})
	if selfCall {
		return "self-iterate"
	}
	return "forward"
}

// emitSystemError redelivers a SystemError to the same listener within
// the same thread, per the error taxonomy in SPEC_FULL §7: the listener
// that caused (or suffered) the failure receives it as its next message
// on the thread it already holds open.
func (p *Pump) emitSystemError(threadID string, listener *registry.Listener, code envelope.SystemErrorCode) {
	p.enqueue(job{
		threadID: threadID,
		listener: listener,
		fromID:   envelope.FromCore,
		payload:  envelope.NewSystemError(code),
		selfCall: false,
	})
}
