package threadreg_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmlpipeline/organism/internal/threadreg"
)

func TestStartChainAndLookup(t *testing.T) {
	r := threadreg.New()
	id, ctx, cancel := r.StartChain(context.Background(), "caller", "target", 1000)
	defer cancel()

	require.NotEmpty(t, id)
	require.NotNil(t, ctx)

	chain, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, []string{"caller", "target"}, chain)
}

func TestExtendChainAllocatesOpaqueUUID(t *testing.T) {
	r := threadreg.New()
	id, ctx, cancel := r.StartChain(context.Background(), "caller", "a", 1000)
	defer cancel()

	next, nextCtx, nextCancel, err := r.ExtendChain(ctx, id, "b")
	require.NoError(t, err)
	defer nextCancel()

	assert.NotEqual(t, id, next, "each hop must get a fresh, unlinkable UUID")
	require.NotNil(t, nextCtx)

	chain, ok := r.Lookup(next)
	require.True(t, ok)
	assert.Equal(t, []string{"caller", "a", "b"}, chain)
}

func TestExtendChainUnknownParent(t *testing.T) {
	r := threadreg.New()
	_, _, _, err := r.ExtendChain(context.Background(), "does-not-exist", "x")
	assert.ErrorIs(t, err, threadreg.ErrUnknownThread)
}

func TestPruneForResponsePopsTail(t *testing.T) {
	r := threadreg.New()
	id, ctx, cancel := r.StartChain(context.Background(), "caller", "a", 1000)
	defer cancel()
	next, _, nextCancel, err := r.ExtendChain(ctx, id, "b")
	require.NoError(t, err)
	defer nextCancel()

	parentThread, caller, err := r.PruneForResponse(next)
	require.NoError(t, err)
	assert.Equal(t, id, parentThread)
	assert.Equal(t, "a", caller)

	_, ok := r.Lookup(next)
	assert.False(t, ok, "a pruned node must no longer be looked up")
}

func TestPruneForResponseCollapsedToOrigin(t *testing.T) {
	r := threadreg.New()
	id, _, cancel := r.StartChain(context.Background(), "caller", "a", 1000)
	defer cancel()

	parentThread, caller, err := r.PruneForResponse(id)
	require.NoError(t, err)
	assert.Equal(t, "", parentThread)
	assert.Equal(t, "caller", caller, "a root chain's new tail is its origin, the original sender")
}

func TestPruneSubtreeCancelsDescendants(t *testing.T) {
	r := threadreg.New()
	id, ctx, cancel := r.StartChain(context.Background(), "caller", "a", 1000)
	defer cancel()
	child, childCtx, childCancel, err := r.ExtendChain(ctx, id, "b")
	require.NoError(t, err)
	defer childCancel()

	r.PruneSubtree(id)

	_, ok := r.Lookup(id)
	assert.False(t, ok)
	_, ok = r.Lookup(child)
	assert.False(t, ok)
	assert.Error(t, childCtx.Err(), "descendant context must be cancelled when an ancestor subtree is pruned")
}

func TestReportUsageExhaustsBudget(t *testing.T) {
	r := threadreg.New()
	id, _, cancel := r.StartChain(context.Background(), "caller", "a", 100)
	defer cancel()

	require.NoError(t, r.ReportUsage(id, 40))
	err := r.ReportUsage(id, 70)
	assert.ErrorIs(t, err, threadreg.ErrBudgetExhausted)
}

func TestReportUsageSharesBudgetAcrossDescendants(t *testing.T) {
	r := threadreg.New()
	id, ctx, cancel := r.StartChain(context.Background(), "caller", "a", 100)
	defer cancel()
	child, _, childCancel, err := r.ExtendChain(ctx, id, "b")
	require.NoError(t, err)
	defer childCancel()

	require.NoError(t, r.ReportUsage(id, 60))
	err = r.ReportUsage(child, 60)
	assert.ErrorIs(t, err, threadreg.ErrBudgetExhausted, "budget is shared across the whole conversation, not per-hop")
}

func TestContextReturnsAllocatedContext(t *testing.T) {
	r := threadreg.New()
	id, ctx, cancel := r.StartChain(context.Background(), "caller", "a", 100)
	defer cancel()

	got, ok := r.Context(id)
	require.True(t, ok)
	assert.Equal(t, ctx, got)

	_, ok = r.Context("unknown")
	assert.False(t, ok)
}
