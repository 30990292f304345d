package descriptor

import (
	"fmt"
	"strings"
)

// PromptFragment synthesizes the per-listener text block that participates
// in a peer's usage instructions: capability name, description, a field
// table, one example payload, and the fixed response-semantics warning.
func PromptFragment(name, description, rootTag string, p Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, description)
	b.WriteString("Fields:\n")
	for _, f := range p.Fields {
		doc := f.Doc
		if doc == "" {
			doc = "-"
		}
		optional := ""
		if !f.Required() {
			optional = " (optional)"
		}
		fmt.Fprintf(&b, "- %s: %s%s — %s\n", f.Name, f.Kind.String(), optional, doc)
	}
	b.WriteString("\nExample:\n```xml\n")
	b.WriteString(SynthesizeExample(rootTag, p))
	b.WriteString("\n```\n\n")
	b.WriteString("A response from this capability terminates its own sub-chain; it does not resume your turn directly.\n")
	return b.String()
}

// UsageInstructionsWarning is the fixed trailer appended once to every
// assembled usage-instructions string, regardless of which peers it lists.
const UsageInstructionsWarning = "\nResponses you receive from peers close out the peer's branch of this conversation; they never grant the peer further visibility into your own chain.\n"
