package catalogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kce.dev/kce/internal/domain"
)

func TestLoadInitialState(t *testing.T) {
	doc := InitialStateDocument{
		Entities: []EntityDoc{
			{
				URI:  "urn:kce:entity:thing1",
				Type: "urn:kce:class:Thing",
				Properties: map[string]ValueDoc{
					"urn:kce:prop:hasLabel": {Value: "Thing One"},
					"urn:kce:prop:hasCount": {Value: "3", Type: domain.XSDInteger},
				},
			},
			{
				URI: "urn:kce:entity:thing2",
				Properties: map[string]ValueDoc{
					"urn:kce:prop:linksTo": {Ref: "urn:kce:entity:thing1"},
				},
			},
		},
	}

	triples, err := LoadInitialState(doc, "urn:kce:ctx:run1")
	require.NoError(t, err)
	require.Len(t, triples, 4)

	for _, tr := range triples {
		assert.Equal(t, "urn:kce:ctx:run1", tr.Context)
	}

	var foundType, foundCount, foundRef bool
	for _, tr := range triples {
		switch {
		case tr.Predicate.Value == domain.RDFType:
			foundType = true
			assert.Equal(t, "urn:kce:class:Thing", tr.Object.Value)
		case tr.Predicate.Value == "urn:kce:prop:hasCount":
			foundCount = true
			assert.Equal(t, domain.XSDInteger, tr.Object.Datatype)
		case tr.Predicate.Value == "urn:kce:prop:linksTo":
			foundRef = true
			assert.True(t, tr.Object.IsIRI())
			assert.Equal(t, "urn:kce:entity:thing1", tr.Object.Value)
		}
	}
	assert.True(t, foundType)
	assert.True(t, foundCount)
	assert.True(t, foundRef)
}

func TestLoadInitialState_DuplicateEntityErrors(t *testing.T) {
	doc := InitialStateDocument{
		Entities: []EntityDoc{
			{URI: "urn:kce:entity:dup"},
			{URI: "urn:kce:entity:dup"},
		},
	}
	_, err := LoadInitialState(doc, "urn:kce:ctx:run1")
	require.Error(t, err)
}

func TestLoadInitialState_MissingURIErrors(t *testing.T) {
	doc := InitialStateDocument{Entities: []EntityDoc{{Type: "urn:kce:class:Thing"}}}
	_, err := LoadInitialState(doc, "urn:kce:ctx:run1")
	require.Error(t, err)
}
