package pump

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/xmlpipeline/organism/internal/envelope"
)

// CapabilitySummary is the list-capabilities response shape: just enough
// to let a controller or operator decide which capability to inspect
// further via request-schema/-example/-prompt.
type CapabilitySummary struct {
	Name        string
	Description string
	RootTag     string
	IsAgent     bool
	Broadcast   bool
}

func (p *Pump) allowed(level, required AccessLevel) bool {
	switch required {
	case AccessNone:
		return true
	case AccessAuthenticated:
		return level == AccessAuthenticated || level == AccessAdmin
	case AccessAdmin:
		return level == AccessAdmin
	default:
		return false
	}
}

// ListCapabilities returns every registered listener's summary, gated by
// Config.Meta.List. Exported for the meta-namespace HTTP surface as well
// as inbound core-namespace <list-capabilities/> requests.
func (p *Pump) ListCapabilities(level AccessLevel) ([]CapabilitySummary, bool) {
	if !p.cfg.Meta.List {
		return nil, false
	}
	listeners := p.reg.List()
	out := make([]CapabilitySummary, 0, len(listeners))
	for _, l := range listeners {
		out = append(out, CapabilitySummary{
			Name:        l.Name,
			Description: l.Description,
			RootTag:     l.RootTag,
			IsAgent:     l.IsAgent,
			Broadcast:   l.Broadcast,
		})
	}
	return out, true
}

// Schema returns a listener's cached XSD, gated by Config.Meta.Schema.
func (p *Pump) Schema(level AccessLevel, name string) (string, bool) {
	if !p.allowed(level, p.cfg.Meta.Schema) {
		return "", false
	}
	l, err := p.reg.LookupByName(name)
	if err != nil {
		return "", false
	}
	return l.CachedSchema, true
}

// Example returns a listener's cached example instance, gated by
// Config.Meta.Example.
func (p *Pump) Example(level AccessLevel, name string) (string, bool) {
	if !p.allowed(level, p.cfg.Meta.Example) {
		return "", false
	}
	l, err := p.reg.LookupByName(name)
	if err != nil {
		return "", false
	}
	return l.CachedExample, true
}

// Prompt returns a listener's cached prompt fragment, gated by
// Config.Meta.Prompt.
func (p *Pump) Prompt(level AccessLevel, name string) (string, bool) {
	if !p.allowed(level, p.cfg.Meta.Prompt) {
		return "", false
	}
	l, err := p.reg.LookupByName(name)
	if err != nil {
		return "", false
	}
	return l.CachedPromptFragment, true
}

// handleMeta answers an inbound core-namespace request synchronously,
// outside the thread registry entirely — meta introspection never
// starts a call chain. The envelope channel is assumed authenticated by
// the transport layer (out of scope, §1), so inbound requests are
// treated as AccessAuthenticated.
func (p *Pump) handleMeta(ctx context.Context, env *envelope.Envelope) {
	const level = AccessAuthenticated

	switch env.Payload.LocalName {
	case "list-capabilities":
		caps, ok := p.ListCapabilities(level)
		if !ok {
			return
		}
		p.marshalAndSend(ctx, envelope.FromCore, env.From, env.Thread, marshalCapabilityList(caps))

	case "request-schema":
		name := fieldText(env.Payload, "capability")
		schema, ok := p.Schema(level, name)
		if !ok {
			return
		}
		p.marshalAndSend(ctx, envelope.FromCore, env.From, env.Thread, &envelope.PayloadElement{
			LocalName: "schema-response",
			Namespace: envelope.NSCore,
			Children: []envelope.PayloadField{
				{Name: "capability", Text: name},
				{Name: "schema", Text: schema},
			},
		})

	case "request-example":
		name := fieldText(env.Payload, "capability")
		example, ok := p.Example(level, name)
		if !ok {
			return
		}
		p.marshalAndSend(ctx, envelope.FromCore, env.From, env.Thread, &envelope.PayloadElement{
			LocalName: "example-response",
			Namespace: envelope.NSCore,
			Children: []envelope.PayloadField{
				{Name: "capability", Text: name},
				{Name: "example", Text: example},
			},
		})

	case "request-prompt":
		name := fieldText(env.Payload, "capability")
		prompt, ok := p.Prompt(level, name)
		if !ok {
			return
		}
		p.marshalAndSend(ctx, envelope.FromCore, env.From, env.Thread, &envelope.PayloadElement{
			LocalName: "prompt-response",
			Namespace: envelope.NSCore,
			Children: []envelope.PayloadField{
				{Name: "capability", Text: name},
				{Name: "prompt", Text: prompt},
			},
		})

	default:
		log.Debug().Str("root", env.Payload.LocalName).Msg("pump: unrecognized core-namespace request")
	}
}

func marshalCapabilityList(caps []CapabilitySummary) *envelope.PayloadElement {
	children := make([]envelope.PayloadField, 0, len(caps))
	for _, c := range caps {
		children = append(children, envelope.PayloadField{
			Name: "capability",
			Children: []envelope.PayloadField{
				{Name: "name", Text: c.Name},
				{Name: "description", Text: c.Description},
				{Name: "root-tag", Text: c.RootTag},
				{Name: "is-agent", Text: boolText(c.IsAgent)},
				{Name: "broadcast", Text: boolText(c.Broadcast)},
			},
		})
	}
	return &envelope.PayloadElement{LocalName: "capabilities-response", Namespace: envelope.NSCore, Children: children}
}

func boolText(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
