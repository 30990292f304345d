package resolver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmlpipeline/organism/internal/descriptor"
	"github.com/xmlpipeline/organism/internal/registry"
	"github.com/xmlpipeline/organism/internal/resolver"
)

func noop(context.Context, interface{}, registry.HandlerMetadata) (registry.Disposition, error) {
	return registry.Disposition{Kind: registry.Terminate}, nil
}

func TestResolveFindsRegisteredListener(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register(registry.Spec{
		Name:        "greeter",
		Payload:     descriptor.Payload{TypeName: "GreetingPayload", Fields: []descriptor.Field{{Name: "name", Kind: descriptor.KindString}}},
		Handler:     noop,
		Description: "d",
	})
	require.NoError(t, err)

	res := resolver.New(reg)
	targets, err := res.Resolve("greeter.greetingpayload")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "greeter", targets[0].Name)
}

func TestResolveUnknownRootTag(t *testing.T) {
	reg := registry.New()
	res := resolver.New(reg)
	_, err := res.Resolve("nobody.nothing")
	assert.ErrorIs(t, err, resolver.ErrUnknownRoot)
}

func TestResolveBroadcastGroupReturnsAll(t *testing.T) {
	reg := registry.New()
	p := descriptor.Payload{TypeName: "EventPayload", Fields: []descriptor.Field{{Name: "x", Kind: descriptor.KindString}}}
	// "a" and "A" are distinct names that derive the same root tag.
	_, err := reg.Register(registry.Spec{Name: "a", Payload: p, Handler: noop, Description: "d", Broadcast: true})
	require.NoError(t, err)
	_, err = reg.Register(registry.Spec{Name: "A", Payload: p, Handler: noop, Description: "d", Broadcast: true})
	require.NoError(t, err)

	res := resolver.New(reg)
	targets, err := res.Resolve("a.eventpayload")
	require.NoError(t, err)
	assert.Len(t, targets, 2)
}

func TestResolveExplicitTarget(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register(registry.Spec{
		Name:        "echo",
		Payload:     descriptor.Payload{TypeName: "EchoPayload", Fields: []descriptor.Field{{Name: "x", Kind: descriptor.KindString}}},
		Handler:     noop,
		Description: "d",
	})
	require.NoError(t, err)

	res := resolver.New(reg)
	l, err := res.ResolveExplicitTarget("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", l.Name)

	_, err = res.ResolveExplicitTarget("nobody")
	assert.Error(t, err)
}
