package metahttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmlpipeline/organism/internal/descriptor"
	"github.com/xmlpipeline/organism/internal/metahttp"
	"github.com/xmlpipeline/organism/internal/pump"
	"github.com/xmlpipeline/organism/internal/registry"
	"github.com/xmlpipeline/organism/internal/resolver"
	"github.com/xmlpipeline/organism/internal/threadreg"
)

func TestListCapabilitiesEndpoint(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register(registry.Spec{
		Name:        "greeter",
		Description: "says hello",
		Payload:     descriptor.Payload{TypeName: "GreetingPayload", Fields: []descriptor.Field{{Name: "name", Kind: descriptor.KindString}}},
		Handler:     func(context.Context, interface{}, registry.HandlerMetadata) (registry.Disposition, error) { return registry.Disposition{Kind: registry.Terminate}, nil },
	})
	require.NoError(t, err)

	p := pump.New(pump.DefaultConfig(), reg, threadreg.New(), resolver.New(reg), nil, nil)
	handler := metahttp.NewRouter(p, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/meta/capabilities", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var caps []pump.CapabilitySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &caps))
	require.Len(t, caps, 1)
	assert.Equal(t, "greeter", caps[0].Name)
}

func TestSchemaEndpointNotFoundForUnknownCapability(t *testing.T) {
	reg := registry.New()
	p := pump.New(pump.DefaultConfig(), reg, threadreg.New(), resolver.New(reg), nil, nil)
	handler := metahttp.NewRouter(p, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/meta/capabilities/nobody/schema", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	reg := registry.New()
	p := pump.New(pump.DefaultConfig(), reg, threadreg.New(), resolver.New(reg), nil, nil)
	handler := metahttp.NewRouter(p, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
