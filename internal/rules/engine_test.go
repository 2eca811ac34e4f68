package rules_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/kg/memstore"
	"kce.dev/kce/internal/rules"
)

func newStore(t *testing.T) *kg.Store {
	t.Helper()
	return kg.New(memstore.New())
}

func TestApply_FiresMatchingRuleOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI("urn:kce:ctx:r1"), Predicate: domain.IRI("urn:kce:prop:hasValue"), Object: domain.Literal("5", domain.XSDInteger)},
	}))

	rule := domain.Rule{
		URI:        "urn:kce:rule:large",
		Antecedent: "{ ?ctx <urn:kce:prop:hasValue> ?v . FILTER(?v > 1) }",
		Consequent: "INSERT DATA { ?ctx <urn:kce:prop:isLarge> \"true\"^^<http://www.w3.org/2001/XMLSchema#boolean> }",
		Priority:   5,
	}

	fired := map[string]bool{}
	applied, err := rules.Apply(ctx, store, []domain.Rule{rule}, fired)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	ok, err := store.Ask(ctx, "ASK { <urn:kce:ctx:r1> <urn:kce:prop:isLarge> \"true\"^^<http://www.w3.org/2001/XMLSchema#boolean> }")
	require.NoError(t, err)
	assert.True(t, ok)

	// second Apply with the same fired cache must not re-fire.
	applied, err = rules.Apply(ctx, store, []domain.Rule{rule}, fired)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestApply_PriorityOrder(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI("urn:kce:ctx:r1"), Predicate: domain.IRI("urn:kce:prop:hasValue"), Object: domain.Literal("5", domain.XSDInteger)},
	}))

	low := domain.Rule{
		URI:        "urn:kce:rule:low",
		Antecedent: "{ ?ctx <urn:kce:prop:hasValue> ?v }",
		Consequent: "INSERT DATA { ?ctx <urn:kce:prop:seenBy> <urn:kce:rule:low> }",
		Priority:   1,
	}
	high := domain.Rule{
		URI:        "urn:kce:rule:high",
		Antecedent: "{ ?ctx <urn:kce:prop:hasValue> ?v }",
		Consequent: "INSERT DATA { ?ctx <urn:kce:prop:seenBy> <urn:kce:rule:high> }",
		Priority:   10,
	}

	fired := map[string]bool{}
	applied, err := rules.Apply(ctx, store, []domain.Rule{low, high}, fired)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	// The higher-priority rule fires first, so its triple is inserted first.
	res, err := store.Query(ctx, "SELECT ?by WHERE { <urn:kce:ctx:r1> <urn:kce:prop:seenBy> ?by }")
	require.NoError(t, err)
	require.Len(t, res.Bindings, 2)
	assert.Equal(t, "urn:kce:rule:high", res.Bindings[0]["by"].Value)
	assert.Equal(t, "urn:kce:rule:low", res.Bindings[1]["by"].Value)
}

func TestApply_NonCriticalFailureContinues(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI("urn:kce:ctx:r1"), Predicate: domain.IRI("urn:kce:prop:hasValue"), Object: domain.Literal("5", domain.XSDInteger)},
	}))

	badRule := domain.Rule{
		URI:        "urn:kce:rule:bad",
		Antecedent: "{ ?ctx <urn:kce:prop:hasValue> ?v }",
		Consequent: "this is not a valid update",
		Priority:   5,
		Critical:   false,
	}

	fired := map[string]bool{}
	applied, err := rules.Apply(ctx, store, []domain.Rule{badRule}, fired)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestApply_CriticalFailureAborts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI("urn:kce:ctx:r1"), Predicate: domain.IRI("urn:kce:prop:hasValue"), Object: domain.Literal("5", domain.XSDInteger)},
	}))

	badRule := domain.Rule{
		URI:        "urn:kce:rule:bad-critical",
		Antecedent: "{ ?ctx <urn:kce:prop:hasValue> ?v }",
		Consequent: "this is not a valid update",
		Priority:   5,
		Critical:   true,
	}

	fired := map[string]bool{}
	_, err := rules.Apply(ctx, store, []domain.Rule{badRule}, fired)
	require.Error(t, err)
}
