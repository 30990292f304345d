// Package descriptor implements the statically-typed replacement for
// dynamic attribute introspection: listeners declare their payload shape
// as an explicit FieldDescriptor tree at registration time, instead of
// the runtime relying on reflection over a dynamically-typed record.
package descriptor

import "fmt"

// Kind enumerates the primitive and structural field kinds a listener
// payload can be built from.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindFloat
	KindBoolean
	KindRecord
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindRecord:
		return "record"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Field describes a single named field of a payload record. For scalar
// kinds, required vs. optional is determined by whether Default is nil:
// a present default makes the field optional, its absence makes it
// required. Record and list fields are never required.
type Field struct {
	Name string
	Kind Kind
	Doc  string

	// Default holds the zero/default value for this field when Kind is a
	// scalar kind. A non-nil Default marks the field optional.
	Default interface{}

	// Elem describes the element kind for a KindList field.
	Elem *Field

	// Fields describes the nested fields for a KindRecord (or the record
	// element of a KindList of records).
	Fields []Field
}

// Required reports whether a field must always be present: a scalar
// field with no default value supplied at registration. Record and list
// fields always report false.
func (f Field) Required() bool {
	return f.Default == nil && f.Kind != KindRecord && f.Kind != KindList
}

// ZeroValue returns the schema-synthesis default for a scalar field kind,
// used both by example synthesis and by the deserializer when an
// optional element is absent.
func (f Field) ZeroValue() interface{} {
	if f.Default != nil {
		return f.Default
	}
	switch f.Kind {
	case KindString:
		return ""
	case KindInteger:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindBoolean:
		return false
	default:
		return nil
	}
}

// Payload is the schema-of-record for a listener: a named root type
// (used to derive the root tag) plus its field descriptors.
type Payload struct {
	// TypeName is the payload type name, e.g. "GreetingPayload". Its
	// lowercased form participates in the derived root tag.
	TypeName string
	Fields   []Field
}

// Validate performs the representability checks the registry requires
// before accepting a payload descriptor: a type name must be present,
// every field must have a non-empty name, and record/list fields must
// carry the nested descriptors they need.
func (p Payload) Validate() error {
	if p.TypeName == "" {
		return fmt.Errorf("descriptor: payload type name is required")
	}
	seen := make(map[string]bool, len(p.Fields))
	for _, f := range p.Fields {
		if err := f.validate(); err != nil {
			return fmt.Errorf("descriptor: field %q: %w", f.Name, err)
		}
		if seen[f.Name] {
			return fmt.Errorf("descriptor: duplicate field name %q", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

func (f Field) validate() error {
	if f.Name == "" {
		return fmt.Errorf("field name is required")
	}
	switch f.Kind {
	case KindRecord:
		if len(f.Fields) == 0 {
			return fmt.Errorf("record field requires nested Fields")
		}
		for _, nested := range f.Fields {
			if err := nested.validate(); err != nil {
				return err
			}
		}
	case KindList:
		if f.Elem == nil {
			return fmt.Errorf("list field requires an Elem descriptor")
		}
		if err := f.Elem.validate(); err != nil {
			return err
		}
	case KindString, KindInteger, KindFloat, KindBoolean:
		// scalar, nothing further to check
	default:
		return fmt.Errorf("unrepresentable field kind %v", f.Kind)
	}
	return nil
}

// StructurallyEqual reports whether two payload descriptors describe the
// identical field shape, ignoring TypeName. Used by broadcast
// registration to enforce that every listener sharing a root tag agrees
// on the wire structure.
func StructurallyEqual(a, b Payload) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if !fieldsEqual(a.Fields[i], b.Fields[i]) {
			return false
		}
	}
	return true
}

func fieldsEqual(a, b Field) bool {
	if a.Name != b.Name || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindRecord:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if !fieldsEqual(a.Fields[i], b.Fields[i]) {
				return false
			}
		}
	case KindList:
		if a.Elem == nil || b.Elem == nil {
			return a.Elem == b.Elem
		}
		return fieldsEqual(*a.Elem, *b.Elem)
	}
	return true
}
