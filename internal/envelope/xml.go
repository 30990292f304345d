package envelope

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Parse builds an Envelope from raw, already-canonicalized XML bytes. It
// performs the envelope-validate and payload-extract stages: presence of
// from/thread, exactly one payload root.
func Parse(canonical []byte) (*Envelope, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(canonical); err != nil {
		return nil, fmt.Errorf("envelope: %s: %w", ErrEnvelopeMalformed, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "message" {
		return nil, fmt.Errorf("envelope: %s: missing <message> root", ErrEnvelopeMalformed)
	}

	from := childText(root, "from")
	thread := childText(root, "thread")
	to := childText(root, "to")
	if from == "" || thread == "" {
		return nil, fmt.Errorf("envelope: %s: from/thread required", ErrEnvelopeMalformed)
	}

	payloadEl := root.SelectElement("payload")
	if payloadEl == nil {
		return nil, fmt.Errorf("envelope: %s: missing <payload>", ErrEnvelopeMalformed)
	}
	roots := payloadEl.ChildElements()
	if len(roots) != 1 {
		return nil, fmt.Errorf("envelope: %s: payload must contain exactly one root element, found %d", ErrEnvelopeMalformed, len(roots))
	}

	return &Envelope{
		From:    from,
		Thread:  thread,
		To:      to,
		Payload: elementToPayload(roots[0]),
		Raw:     canonical,
	}, nil
}

func childText(el *etree.Element, name string) string {
	c := el.SelectElement(name)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

func elementToPayload(el *etree.Element) *PayloadElement {
	p := &PayloadElement{
		LocalName: el.Tag,
		Namespace: el.NamespaceURI(),
	}
	for _, child := range el.ChildElements() {
		p.Children = append(p.Children, elementToField(child))
	}
	return p
}

func elementToField(el *etree.Element) PayloadField {
	f := PayloadField{Name: el.Tag}
	children := el.ChildElements()
	if len(children) == 0 {
		f.Text = strings.TrimSpace(el.Text())
		return f
	}
	for _, child := range children {
		f.Children = append(f.Children, elementToField(child))
	}
	return f
}

// Marshal serializes an Envelope back into XML bytes, ready for
// canonicalization by the caller before it re-enters ingress.
func Marshal(e *Envelope) ([]byte, error) {
	doc := etree.NewDocument()
	msg := doc.CreateElement("message")
	msg.CreateAttr("xmlns", NSEnvelope)
	msg.CreateElement("from").SetText(e.From)
	msg.CreateElement("thread").SetText(e.Thread)
	if e.To != "" {
		msg.CreateElement("to").SetText(e.To)
	}
	payload := msg.CreateElement("payload")
	if e.Payload != nil {
		root := payload.CreateElement(e.Payload.LocalName)
		if e.Payload.Namespace != "" {
			root.CreateAttr("xmlns", e.Payload.Namespace)
		}
		for _, child := range e.Payload.Children {
			appendField(root, child)
		}
	}
	doc.Indent(2)
	return doc.WriteToBytes()
}

func appendField(parent *etree.Element, f PayloadField) {
	el := parent.CreateElement(f.Name)
	if len(f.Children) > 0 {
		for _, child := range f.Children {
			appendField(el, child)
		}
		return
	}
	el.SetText(f.Text)
}

// BestEffortFrom tries to recover a sender name from bytes that failed
// full envelope validation, so a <huh> can still be routed rather than
// silently dropped. It tolerates anything etree can parse at all; on
// any failure it returns "".
func BestEffortFrom(raw []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return ""
	}
	root := doc.Root()
	if root == nil {
		return ""
	}
	if root.Tag == "message" {
		return childText(root, "from")
	}
	return ""
}

// EncodeOriginalAttempt base64-encodes raw bytes for a <huh> companion,
// truncating to MaxOriginalAttemptBytes before encoding so the
// diagnostic payload itself never grows unbounded.
func EncodeOriginalAttempt(raw []byte) (encoded string, truncated bool) {
	if len(raw) > MaxOriginalAttemptBytes {
		raw = raw[:MaxOriginalAttemptBytes]
		truncated = true
	}
	return base64.StdEncoding.EncodeToString(raw), truncated
}

// MarshalHuh builds the <huh> payload element for a pipeline/pump failure.
func MarshalHuh(h Huh) *PayloadElement {
	return &PayloadElement{
		LocalName: "huh",
		Namespace: NSCore,
		Children: []PayloadField{
			{Name: "error", Text: h.Error},
			{Name: "original-attempt", Text: h.OriginalAttempt},
		},
	}
}

// MarshalSystemError builds the <SystemError> payload element.
func MarshalSystemError(e SystemError) *PayloadElement {
	retry := "false"
	if e.RetryAllowed {
		retry = "true"
	}
	return &PayloadElement{
		LocalName: "SystemError",
		Namespace: NSCore,
		Children: []PayloadField{
			{Name: "code", Text: string(e.Code)},
			{Name: "message", Text: e.Message},
			{Name: "retry-allowed", Text: retry},
		},
	}
}
