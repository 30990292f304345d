package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmlpipeline/organism/internal/descriptor"
	"github.com/xmlpipeline/organism/internal/envelope"
	"github.com/xmlpipeline/organism/internal/pipeline"
	"github.com/xmlpipeline/organism/internal/registry"
)

func greeterListener(t *testing.T) *registry.Listener {
	t.Helper()
	r := registry.New()
	l, err := r.Register(registry.Spec{
		Name: "greeter",
		Payload: descriptor.Payload{
			TypeName: "GreetingPayload",
			Fields:   []descriptor.Field{{Name: "name", Kind: descriptor.KindString}},
		},
		Handler:     func(context.Context, interface{}, registry.HandlerMetadata) (registry.Disposition, error) { return registry.Disposition{Kind: registry.Terminate}, nil },
		Description: "says hello",
	})
	require.NoError(t, err)
	return l
}

func TestIngressParsesWellFormedMessage(t *testing.T) {
	raw := []byte(`<message><from>caller</from><thread>t1</thread><payload><greeter.greetingpayload><name>Ada</name></greeter.greetingpayload></payload></message>`)
	env, failure := pipeline.Ingress(context.Background(), raw)
	require.Nil(t, failure)
	assert.Equal(t, "caller", env.From)
	assert.Equal(t, "greeter.greetingpayload", env.Payload.LocalName)
}

func TestIngressRecoversBareAmpersand(t *testing.T) {
	raw := []byte(`<message><from>caller</from><thread>t1</thread><payload><p><n>Ben & Co</n></p></payload></message>`)
	env, failure := pipeline.Ingress(context.Background(), raw)
	require.Nil(t, failure)
	assert.Equal(t, "Ben & Co", env.Payload.Find("n").Text)
}

func TestIngressFailsOnUnrecoverableMalformed(t *testing.T) {
	raw := []byte(`not xml at all {{{`)
	_, failure := pipeline.Ingress(context.Background(), raw)
	require.NotNil(t, failure)
	assert.Equal(t, envelope.ErrEnvelopeMalformed, failure.CannedMessage())
}

func TestPerListenerDeserializesRequiredField(t *testing.T) {
	l := greeterListener(t)
	payload := &envelope.PayloadElement{LocalName: l.RootTag, Children: []envelope.PayloadField{{Name: "name", Text: "Ada"}}}

	v, failure := pipeline.PerListener(context.Background(), l, payload)
	require.Nil(t, failure)
	m, ok := v.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Ada", m["name"])
}

func TestPerListenerFailsOnMissingRequiredField(t *testing.T) {
	l := greeterListener(t)
	payload := &envelope.PayloadElement{LocalName: l.RootTag}

	_, failure := pipeline.PerListener(context.Background(), l, payload)
	require.NotNil(t, failure)
	assert.Equal(t, envelope.ErrInvalidPayloadStructure, failure.CannedMessage())
}

func TestSchemaViolationAndUnknownRootShareCannedText(t *testing.T) {
	// topology-privacy rule: a schema violation and an unknown root tag
	// must be indistinguishable to an external observer.
	assert.Equal(t, envelope.ErrUnknownRootTag, envelope.ErrInvalidPayloadStructure)
}

func TestSerializeIsInverseOfDeserialize(t *testing.T) {
	fields := []descriptor.Field{{Name: "name", Kind: descriptor.KindString}}
	value := map[string]interface{}{"name": "Ada"}

	out, err := pipeline.Serialize(fields, value)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "name", out[0].Name)
	assert.Equal(t, "Ada", out[0].Text)
}
