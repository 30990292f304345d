package descriptor

import "fmt"

// XSDType maps a descriptor.Kind to its synthesized XSD primitive, per
// the schema synthesis rules: integer -> xs:integer, float -> xs:decimal,
// boolean -> xs:boolean, string -> xs:string.
func (k Kind) XSDType() string {
	switch k {
	case KindInteger:
		return "xs:integer"
	case KindFloat:
		return "xs:decimal"
	case KindBoolean:
		return "xs:boolean"
	default:
		return "xs:string"
	}
}

// SynthesizeXSD builds the XML Schema document for a listener's payload,
// rooted at rootTag. Field order is the declaration order of p.Fields,
// which is deterministic and stable across calls.
func SynthesizeXSD(rootTag string, p Payload) string {
	var buf []byte
	buf = append(buf, []byte(`<?xml version="1.0" encoding="UTF-8"?>`+"\n")...)
	buf = append(buf, []byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">`+"\n")...)
	buf = append(buf, []byte(fmt.Sprintf("  <xs:element name=%q>\n", rootTag))...)
	buf = append(buf, []byte("    <xs:complexType>\n      <xs:sequence>\n")...)
	for _, f := range p.Fields {
		buf = append(buf, fieldXSD(f, 8)...)
	}
	buf = append(buf, []byte("      </xs:sequence>\n    </xs:complexType>\n  </xs:element>\n</xs:schema>\n")...)
	return string(buf)
}

func fieldXSD(f Field, indent int) []byte {
	pad := make([]byte, indent)
	for i := range pad {
		pad[i] = ' '
	}
	var b []byte
	switch f.Kind {
	case KindList:
		b = append(b, pad...)
		b = append(b, []byte(fmt.Sprintf("<xs:element name=%q maxOccurs=\"unbounded\">\n", f.Name))...)
		if f.Elem != nil && f.Elem.Kind == KindRecord {
			b = append(b, pad...)
			b = append(b, []byte("  <xs:complexType>\n")...)
			b = append(b, pad...)
			b = append(b, []byte("    <xs:sequence>\n")...)
			for _, nested := range f.Elem.Fields {
				b = append(b, fieldXSD(nested, indent+6)...)
			}
			b = append(b, pad...)
			b = append(b, []byte("    </xs:sequence>\n")...)
			b = append(b, pad...)
			b = append(b, []byte("  </xs:complexType>\n")...)
		} else if f.Elem != nil {
			b = append(b, pad...)
			b = append(b, []byte(fmt.Sprintf("  <xs:simpleType><xs:restriction base=%q/></xs:simpleType>\n", f.Elem.Kind.XSDType()))...)
		}
		b = append(b, pad...)
		b = append(b, []byte("</xs:element>\n")...)
	case KindRecord:
		b = append(b, pad...)
		b = append(b, []byte(fmt.Sprintf("<xs:element name=%q>\n", f.Name))...)
		b = append(b, pad...)
		b = append(b, []byte("  <xs:complexType>\n")...)
		b = append(b, pad...)
		b = append(b, []byte("    <xs:sequence>\n")...)
		for _, nested := range f.Fields {
			b = append(b, fieldXSD(nested, indent+6)...)
		}
		b = append(b, pad...)
		b = append(b, []byte("    </xs:sequence>\n")...)
		b = append(b, pad...)
		b = append(b, []byte("  </xs:complexType>\n")...)
		b = append(b, pad...)
		b = append(b, []byte("</xs:element>\n")...)
	default:
		minOccurs := ""
		if !f.Required() {
			minOccurs = ` minOccurs="0"`
		}
		doc := ""
		if f.Doc != "" {
			doc = fmt.Sprintf(`<xs:annotation><xs:documentation>%s</xs:documentation></xs:annotation>`, f.Doc)
		}
		b = append(b, pad...)
		if doc != "" {
			b = append(b, []byte(fmt.Sprintf("<xs:element name=%q type=%q%s>%s</xs:element>\n", f.Name, f.Kind.XSDType(), minOccurs, doc))...)
		} else {
			b = append(b, []byte(fmt.Sprintf("<xs:element name=%q type=%q%s/>\n", f.Name, f.Kind.XSDType(), minOccurs))...)
		}
	}
	return b
}
