package provenance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/id"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/kg/memstore"
	"kce.dev/kce/internal/provenance"
)

func init() {
	_ = id.Init(1)
}

func TestRecorder_BeginEmitEndRun(t *testing.T) {
	ctx := context.Background()
	store := kg.New(memstore.New())
	rec := provenance.New(store)

	goal := domain.TargetDescription{AskQuery: "ASK { ?x <urn:kce:prop:done> \"true\"^^<http://www.w3.org/2001/XMLSchema#boolean> }"}
	run, err := rec.BeginRun(ctx, goal, "urn:kce:ctx:run1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.NotEmpty(t, run.RunID)

	node, err := rec.Emit(ctx, run, domain.NodeStarted, "urn:kce:node:fetch", "", map[string]string{"id": "42"}, nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, node.URI)
	assert.NotEmpty(t, node.InputSnapshotRef)

	node2, err := rec.Emit(ctx, run, domain.NodeSucceeded, "urn:kce:node:fetch", node.URI, nil, map[string]string{"value": "7"}, "")
	require.NoError(t, err)
	assert.Equal(t, node.URI, node2.PreviousState)
	assert.NotEmpty(t, node2.OutputSnapshotRef)

	require.NoError(t, rec.LinkWasGeneratedBy(ctx, "urn:kce:entity:thing1", node2.URI))

	require.NoError(t, rec.EndRun(ctx, run, domain.RunSucceeded, ""))
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.NotNil(t, run.EndedAt)

	summary, err := rec.DescribeRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, summary.Run.Status)
	assert.Equal(t, goal.AskQuery, summary.Run.Goal.AskQuery)
	require.Len(t, summary.States, 2)
	assert.Equal(t, domain.NodeStarted, summary.States[0].EventKind)
	assert.Equal(t, domain.NodeSucceeded, summary.States[1].EventKind)
	assert.Equal(t, summary.States[0].URI, summary.States[1].PreviousState)
}

func TestRecorder_DescribeRun_UnknownRunErrors(t *testing.T) {
	ctx := context.Background()
	store := kg.New(memstore.New())
	rec := provenance.New(store)

	_, err := rec.DescribeRun(ctx, "does-not-exist")
	assert.Error(t, err)
}
