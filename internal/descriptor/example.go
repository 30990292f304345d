package descriptor

import "fmt"

// SynthesizeExample builds a default-valued example XML instance for a
// listener payload, rooted at rootTag. Scalars use their ZeroValue;
// records and lists recurse; a list example contains exactly one element.
func SynthesizeExample(rootTag string, p Payload) string {
	inner := ""
	for _, f := range p.Fields {
		inner += fieldExample(f, 2)
	}
	return fmt.Sprintf("<%s>\n%s</%s>", rootTag, inner, rootTag)
}

func fieldExample(f Field, indent int) string {
	pad := ""
	for i := 0; i < indent; i++ {
		pad += " "
	}
	switch f.Kind {
	case KindRecord:
		inner := ""
		for _, nested := range f.Fields {
			inner += fieldExample(nested, indent+2)
		}
		return fmt.Sprintf("%s<%s>\n%s%s</%s>\n", pad, f.Name, inner, pad, f.Name)
	case KindList:
		if f.Elem != nil && f.Elem.Kind == KindRecord {
			inner := ""
			for _, nested := range f.Elem.Fields {
				inner += fieldExample(nested, indent+2)
			}
			return fmt.Sprintf("%s<%s>\n%s%s</%s>\n", pad, f.Name, inner, pad, f.Name)
		}
		var zero interface{}
		if f.Elem != nil {
			zero = f.Elem.ZeroValue()
		}
		return fmt.Sprintf("%s<%s>%v</%s>\n", pad, f.Name, zero, f.Name)
	default:
		return fmt.Sprintf("%s<%s>%v</%s>\n", pad, f.Name, f.ZeroValue(), f.Name)
	}
}
