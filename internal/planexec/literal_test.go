package planexec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kce.dev/kce/internal/domain"
)

func TestLiteralFromAny_StringURIBecomesIRI(t *testing.T) {
	term := literalFromAny("http://example.org/widgets/1")
	assert.True(t, term.IsIRI())
	assert.Equal(t, "http://example.org/widgets/1", term.Value)

	term = literalFromAny("ex:Panel")
	assert.True(t, term.IsIRI())
	assert.Equal(t, "ex:Panel", term.Value)
}

func TestLiteralFromAny_PlainStringStaysLiteral(t *testing.T) {
	term := literalFromAny("Conference Room")
	assert.False(t, term.IsIRI())
	assert.Equal(t, domain.XSDString, term.Datatype)
	assert.Equal(t, "Conference Room", term.Value)
}

func TestLiteralFromAny_NonStringTypes(t *testing.T) {
	assert.Equal(t, domain.XSDBoolean, literalFromAny(true).Datatype)
	assert.Equal(t, domain.XSDDouble, literalFromAny(3.5).Datatype)
}
