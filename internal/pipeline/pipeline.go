package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/xmlpipeline/organism/internal/descriptor"
	"github.com/xmlpipeline/organism/internal/envelope"
	"github.com/xmlpipeline/organism/internal/registry"
)

// FailureKind tags which canned <huh> error string a pipeline failure
// maps to. The taxonomy of internal causes is deliberately collapsed:
// schema violation and unknown root both surface as the identical
// "Invalid payload structure" text (topology-privacy rule).
type FailureKind int

const (
	FailureEnvelopeMalformed FailureKind = iota
	FailureInvalidPayload
)

// Failure is returned by Ingress/PerListener when a stage short-circuits.
// Internal detail (Cause) is logged, never surfaced; only Kind drives the
// canned external <huh> text.
type Failure struct {
	Kind  FailureKind
	Stage string
	Cause error
}

func (f *Failure) Error() string { return fmt.Sprintf("pipeline: stage %s: %v", f.Stage, f.Cause) }

// CannedMessage returns the externally-visible, non-revealing error
// string for this failure.
func (f *Failure) CannedMessage() string {
	if f.Kind == FailureEnvelopeMalformed {
		return envelope.ErrEnvelopeMalformed
	}
	return envelope.ErrInvalidPayloadStructure
}

// IngressStages returns the shared, listener-independent chain: repair
// and canonicalize. Its output is the canonical bytes in State.Canonical;
// Ingress then runs envelope-validate and payload-extract on them.
func IngressStages() []Stage {
	return []Stage{
		StageFunc{StageName: "repair", Fn: repairStage},
		StageFunc{StageName: "canonicalize", Fn: canonicalizeStage},
	}
}

func repairStage(_ context.Context, st *State) error {
	result := envelope.Repair(st.Raw)
	st.Fixes = result.FixesApplied
	if result.Fatal != nil {
		return &Failure{Kind: FailureEnvelopeMalformed, Stage: "repair", Cause: result.Fatal}
	}
	st.Repaired = result.Bytes
	return nil
}

func canonicalizeStage(_ context.Context, st *State) error {
	canon, err := envelope.Canonicalize(st.Repaired)
	if err != nil {
		return &Failure{Kind: FailureEnvelopeMalformed, Stage: "canonicalize", Cause: err}
	}
	st.Canonical = canon
	return nil
}

// Ingress runs the repair/canonicalize stages and then the envelope
// validate + payload extract stages (stages 3-4), returning the parsed
// envelope or a Failure ready for <huh> synthesis.
func Ingress(ctx context.Context, raw []byte) (*envelope.Envelope, *Failure) {
	st := &State{Raw: raw}
	if stage, err := Chain(ctx, st, IngressStages()); err != nil {
		if f, ok := err.(*Failure); ok {
			return nil, f
		}
		return nil, &Failure{Kind: FailureEnvelopeMalformed, Stage: stage, Cause: err}
	}

	env, err := envelope.Parse(st.Canonical)
	if err != nil {
		return nil, &Failure{Kind: FailureEnvelopeMalformed, Stage: "envelope-validate", Cause: err}
	}
	if env.Payload == nil || env.Payload.LocalName == "" {
		return nil, &Failure{Kind: FailureEnvelopeMalformed, Stage: "payload-extract", Cause: fmt.Errorf("empty payload root")}
	}
	return env, nil
}

// Value is the deserialized typed instance of a payload, a generic
// nested value tree shaped by the listener's field descriptors: scalars
// become string/int64/float64/bool, records become map[string]interface{},
// lists become []interface{}.
type Value = interface{}

// PerListener runs schema-validate (stage 5) and deserialize (stage 6)
// against the listener's cached descriptor, returning the typed Value
// tree or a Failure.
func PerListener(ctx context.Context, l *registry.Listener, payload *envelope.PayloadElement) (Value, *Failure) {
	v, err := deserializeRecord(l.Payload.Fields, payload.Children)
	if err != nil {
		log.Debug().Str("listener", l.Name).Err(err).Msg("pipeline: schema validation failed")
		return nil, &Failure{Kind: FailureInvalidPayload, Stage: "schema-validate", Cause: err}
	}
	return v, nil
}

func deserializeRecord(fields []descriptor.Field, children []envelope.PayloadField) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(fields))
	byName := make(map[string]envelope.PayloadField, len(children))
	for _, c := range children {
		byName[c.Name] = c
	}
	for _, f := range fields {
		child, present := byName[f.Name]
		if !present {
			if f.Required() {
				return nil, fmt.Errorf("missing required field %q", f.Name)
			}
			out[f.Name] = f.ZeroValue()
			continue
		}
		val, err := deserializeField(f, child)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out[f.Name] = val
	}
	return out, nil
}

func deserializeField(f descriptor.Field, child envelope.PayloadField) (interface{}, error) {
	switch f.Kind {
	case descriptor.KindRecord:
		return deserializeRecord(f.Fields, child.Children)
	case descriptor.KindList:
		if f.Elem == nil {
			return nil, fmt.Errorf("list field has no element descriptor")
		}
		items := make([]interface{}, 0, len(child.Children))
		for _, c := range child.Children {
			v, err := deserializeField(*f.Elem, c)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	default:
		return deserializeScalar(f, child.Text)
	}
}

// Serialize is the inverse of deserialize: given an outbound handler
// value (expected to be a map[string]interface{} matching fields) it
// builds the envelope.PayloadField tree the pump marshals into XML. It
// is forgiving of missing optional fields (substituting ZeroValue) since
// the value came from a handler's own Disposition, not the wire.
func Serialize(fields []descriptor.Field, value interface{}) ([]envelope.PayloadField, error) {
	m, ok := value.(map[string]interface{})
	if !ok {
		if value == nil {
			m = map[string]interface{}{}
		} else {
			return nil, fmt.Errorf("serialize: expected map[string]interface{}, got %T", value)
		}
	}
	out := make([]envelope.PayloadField, 0, len(fields))
	for _, f := range fields {
		v, present := m[f.Name]
		if !present {
			v = f.ZeroValue()
		}
		pf, err := serializeField(f, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out = append(out, pf)
	}
	return out, nil
}

func serializeField(f descriptor.Field, v interface{}) (envelope.PayloadField, error) {
	switch f.Kind {
	case descriptor.KindRecord:
		children, err := Serialize(f.Fields, v)
		if err != nil {
			return envelope.PayloadField{}, err
		}
		return envelope.PayloadField{Name: f.Name, Children: children}, nil
	case descriptor.KindList:
		items, ok := v.([]interface{})
		if !ok && v != nil {
			return envelope.PayloadField{}, fmt.Errorf("expected []interface{} for list field")
		}
		var children []envelope.PayloadField
		for _, item := range items {
			if f.Elem != nil && f.Elem.Kind == descriptor.KindRecord {
				elFields, err := Serialize(f.Elem.Fields, item)
				if err != nil {
					return envelope.PayloadField{}, err
				}
				children = append(children, envelope.PayloadField{Name: f.Elem.Name, Children: elFields})
			} else {
				children = append(children, envelope.PayloadField{Name: elemName(f), Text: fmt.Sprintf("%v", item)})
			}
		}
		return envelope.PayloadField{Name: f.Name, Children: children}, nil
	default:
		return envelope.PayloadField{Name: f.Name, Text: fmt.Sprintf("%v", v)}, nil
	}
}

func elemName(f descriptor.Field) string {
	if f.Elem != nil && f.Elem.Name != "" {
		return f.Elem.Name
	}
	return "item"
}

func deserializeScalar(f descriptor.Field, text string) (interface{}, error) {
	switch f.Kind {
	case descriptor.KindString:
		return text, nil
	case descriptor.KindInteger:
		var n int64
		if _, err := fmt.Sscanf(text, "%d", &n); err != nil {
			return nil, fmt.Errorf("%q is not an integer", text)
		}
		return n, nil
	case descriptor.KindFloat:
		var n float64
		if _, err := fmt.Sscanf(text, "%g", &n); err != nil {
			return nil, fmt.Errorf("%q is not a number", text)
		}
		return n, nil
	case descriptor.KindBoolean:
		switch text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return nil, fmt.Errorf("%q is not a boolean", text)
		}
	default:
		return nil, fmt.Errorf("unrepresentable field kind %v", f.Kind)
	}
}
