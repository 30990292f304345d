// Package envelope implements the outer <message> container that wraps
// every in-flight payload: parsing, repair, exclusive C14N
// canonicalization, and the core/meta namespace primitives (<huh>,
// <SystemError>, meta-request elements).
package envelope

const (
	// NSEnvelope is the namespace of the outer <message> container.
	NSEnvelope = "https://xml-pipeline.org/ns/envelope/v1"
	// NSCore is the reserved namespace for system primitives and
	// meta-namespace introspection requests.
	NSCore = "https://xml-pipeline.org/ns/core/v1"

	// FromCore and FromSystem are the two literal sender identities the
	// pump may use for messages it originates itself.
	FromCore   = "core"
	FromSystem = "system"
)

// Envelope is the parsed, in-memory form of a <message> element.
type Envelope struct {
	From    string
	Thread  string
	To      string // empty when unset
	Payload *PayloadElement

	// Raw carries the canonicalized bytes this envelope was built from,
	// the only representation ever logged, compared, or (eventually)
	// signed by the privileged transport layer.
	Raw []byte
}

// PayloadElement is the single root element inside <payload>, kept as a
// generic XML tree until the per-listener pipeline deserializes it into
// a typed instance.
type PayloadElement struct {
	// LocalName is the root tag, e.g. "greeter.greetingpayload" or a core
	// namespace element name such as "huh".
	LocalName string
	Namespace string
	Children  []PayloadField
}

// PayloadField is a single child element of the payload root, kept as
// text content plus optional nested children (for record/list fields).
type PayloadField struct {
	Name     string
	Text     string
	Children []PayloadField
}

// Find returns the first direct child field with the given name, or nil.
func (p *PayloadElement) Find(name string) *PayloadField {
	if p == nil {
		return nil
	}
	for i := range p.Children {
		if p.Children[i].Name == name {
			return &p.Children[i]
		}
	}
	return nil
}

// FindAll returns every direct child field with the given name, in
// document order.
func (p *PayloadElement) FindAll(name string) []*PayloadField {
	if p == nil {
		return nil
	}
	var out []*PayloadField
	for i := range p.Children {
		if p.Children[i].Name == name {
			out = append(out, &p.Children[i])
		}
	}
	return out
}

// Huh is the pump/pipeline-emitted diagnostic payload for processing
// failures. error is always one of the canned abstract strings; the
// taxonomy of internal causes is deliberately collapsed before this
// struct is ever built.
type Huh struct {
	Error            string
	OriginalAttempt  string // base64, truncated if the source exceeded MaxOriginalAttemptBytes
	Truncated        bool
}

// Canned abstract error strings for <huh>. Reusing the exact same string
// for schema failure and unknown-root failure is intentional: it is the
// topology-privacy rule in action.
const (
	ErrInvalidPayloadStructure = "Invalid payload structure"
	ErrUnknownRootTag          = "Invalid payload structure"
	ErrEnvelopeMalformed       = "Envelope malformed"
)

// MaxOriginalAttemptBytes bounds the base64-encoded original bytes
// attached to a <huh>; larger payloads are truncated before encoding.
const MaxOriginalAttemptBytes = 4096

// SystemErrorCode enumerates the pump-level runtime error kinds.
type SystemErrorCode string

const (
	CodeRouting    SystemErrorCode = "routing"
	CodeValidation SystemErrorCode = "validation"
	CodeTimeout    SystemErrorCode = "timeout"
	CodeBudget     SystemErrorCode = "budget"
)

// SystemError is the pump-emitted payload for routing violations,
// timeouts, handler exceptions, and budget exhaustion. Message is always
// a generic, non-revealing string; RetryAllowed tells the handler/thread
// whether the same operation may be retried.
type SystemError struct {
	Code         SystemErrorCode
	Message      string
	RetryAllowed bool
}

// genericMessage returns the fixed, non-revealing message text for a
// SystemErrorCode, never including any detail about the cause.
func genericMessage(code SystemErrorCode) string {
	switch code {
	case CodeRouting:
		return "Request could not be routed"
	case CodeTimeout:
		return "Handler did not respond in time"
	case CodeBudget:
		return "Thread token budget exhausted"
	default:
		return "Handler could not process the request"
	}
}

// NewSystemError builds a SystemError with the generic message for code
// and the retry policy the error taxonomy (SPEC_FULL §7) assigns it.
func NewSystemError(code SystemErrorCode) SystemError {
	retry := code != CodeBudget
	return SystemError{Code: code, Message: genericMessage(code), RetryAllowed: retry}
}
