package descriptor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmlpipeline/organism/internal/descriptor"
)

func TestFieldRequiredness(t *testing.T) {
	required := descriptor.Field{Name: "x", Kind: descriptor.KindString}
	optional := descriptor.Field{Name: "y", Kind: descriptor.KindString, Default: "fallback"}
	assert.True(t, required.Required())
	assert.False(t, optional.Required())
	assert.Equal(t, "fallback", optional.ZeroValue())
	assert.Equal(t, "", required.ZeroValue())
}

func TestPayloadValidateRejectsDuplicateFields(t *testing.T) {
	p := descriptor.Payload{
		TypeName: "Dup",
		Fields: []descriptor.Field{
			{Name: "a", Kind: descriptor.KindString},
			{Name: "a", Kind: descriptor.KindInteger},
		},
	}
	assert.Error(t, p.Validate())
}

func TestPayloadValidateRequiresListElem(t *testing.T) {
	p := descriptor.Payload{
		TypeName: "NoElem",
		Fields:   []descriptor.Field{{Name: "items", Kind: descriptor.KindList}},
	}
	assert.Error(t, p.Validate())
}

func TestPayloadValidateAcceptsNestedRecord(t *testing.T) {
	p := descriptor.Payload{
		TypeName: "Nested",
		Fields: []descriptor.Field{
			{Name: "addr", Kind: descriptor.KindRecord, Fields: []descriptor.Field{
				{Name: "city", Kind: descriptor.KindString},
			}},
		},
	}
	require.NoError(t, p.Validate())
}

func TestStructurallyEqual(t *testing.T) {
	a := descriptor.Payload{TypeName: "A", Fields: []descriptor.Field{{Name: "x", Kind: descriptor.KindString}}}
	b := descriptor.Payload{TypeName: "B", Fields: []descriptor.Field{{Name: "x", Kind: descriptor.KindString}}}
	c := descriptor.Payload{TypeName: "C", Fields: []descriptor.Field{{Name: "x", Kind: descriptor.KindInteger}}}

	assert.True(t, descriptor.StructurallyEqual(a, b), "type name is ignored by structural equality")
	assert.False(t, descriptor.StructurallyEqual(a, c))
}

func TestSynthesizeXSDIncludesRootTagAndFields(t *testing.T) {
	p := descriptor.Payload{TypeName: "GreetingPayload", Fields: []descriptor.Field{{Name: "name", Kind: descriptor.KindString}}}
	xsd := descriptor.SynthesizeXSD("greeter.greetingpayload", p)
	assert.Contains(t, xsd, "greeter.greetingpayload")
	assert.Contains(t, xsd, `name="name"`)
}

func TestSynthesizeExampleRoundTripsRootTag(t *testing.T) {
	p := descriptor.Payload{TypeName: "GreetingPayload", Fields: []descriptor.Field{{Name: "name", Kind: descriptor.KindString}}}
	example := descriptor.SynthesizeExample("greeter.greetingpayload", p)
	assert.Contains(t, example, "<greeter.greetingpayload>")
	assert.Contains(t, example, "</greeter.greetingpayload>")
}

func TestPromptFragmentListsFieldsAndExample(t *testing.T) {
	p := descriptor.Payload{TypeName: "GreetingPayload", Fields: []descriptor.Field{{Name: "name", Kind: descriptor.KindString, Doc: "who to greet"}}}
	fragment := descriptor.PromptFragment("greeter", "says hello", "greeter.greetingpayload", p)
	assert.Contains(t, fragment, "greeter")
	assert.Contains(t, fragment, "says hello")
	assert.Contains(t, fragment, "who to greet")
	assert.Contains(t, fragment, "```xml")
}
