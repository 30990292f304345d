package organism_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmlpipeline/organism/internal/config"
	"github.com/xmlpipeline/organism/internal/descriptor"
	"github.com/xmlpipeline/organism/internal/registry"
	"github.com/xmlpipeline/organism/pkg/organism"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.HandlerTimeoutDefault = 2 * time.Second
	cfg.Telemetry.Enabled = false
	cfg.Audit.DSN = ""
	return cfg
}

func TestNewWithConfigBuildsWorkingOrganism(t *testing.T) {
	org, err := organism.NewWithConfig(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { org.Shutdown(context.Background()) })

	var wg sync.WaitGroup
	wg.Add(1)
	_, err = org.Register(registry.Spec{
		Name:        "greeter",
		Description: "says hello",
		Payload:     descriptor.Payload{TypeName: "GreetingPayload", Fields: []descriptor.Field{{Name: "name", Kind: descriptor.KindString}}},
		Handler: func(ctx context.Context, payload interface{}, meta registry.HandlerMetadata) (registry.Disposition, error) {
			defer wg.Done()
			return registry.Disposition{Kind: registry.Terminate}, nil
		},
	})
	require.NoError(t, err)

	raw := []byte(`<message><from>caller</from><thread>t1</thread><payload><greeter.greetingpayload><name>Ada</name></greeter.greetingpayload></payload></message>`)
	org.Ingest(context.Background(), raw)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestReconcileThroughOrganism(t *testing.T) {
	org, err := organism.NewWithConfig(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { org.Shutdown(context.Background()) })

	handler := func(context.Context, interface{}, registry.HandlerMetadata) (registry.Disposition, error) {
		return registry.Disposition{Kind: registry.Terminate}, nil
	}
	result := org.Reconcile([]registry.Spec{
		{Name: "a", Description: "d", Payload: descriptor.Payload{TypeName: "APayload", Fields: []descriptor.Field{{Name: "x", Kind: descriptor.KindString}}}, Handler: handler},
	})
	assert.Contains(t, result.Registered, "a")

	require.NoError(t, org.Unregister("a"))
}
