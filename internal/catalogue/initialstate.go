package catalogue

import (
	"fmt"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kerrors"
)

// LoadInitialState converts an InitialStateDocument into ground triples
// scoped to workflowContext (§4.B step 6): every entity gets its rdf:type
// triple plus one triple per declared property, with literal or reference
// values resolved according to ValueDoc.IsRef.
func LoadInitialState(doc InitialStateDocument, workflowContext string) ([]domain.Triple, error) {
	seen := map[string]bool{}
	var triples []domain.Triple

	for _, ent := range doc.Entities {
		if ent.URI == "" {
			return nil, &kerrors.DefinitionError{Detail: "initial state entity missing uri"}
		}
		if seen[ent.URI] {
			return nil, &kerrors.DefinitionError{Detail: fmt.Sprintf("duplicate entity %q in initial state", ent.URI)}
		}
		seen[ent.URI] = true

		subject := domain.IRI(ent.URI)

		if ent.Type != "" {
			triples = append(triples, domain.Triple{
				Subject: subject, Predicate: domain.IRI(domain.RDFType), Object: domain.IRI(ent.Type),
				Context: workflowContext,
			})
		}

		for property, val := range ent.Properties {
			var object domain.Term
			if val.IsRef() {
				object = domain.IRI(val.Ref)
			} else {
				object = domain.Literal(val.Value, val.Type)
			}
			triples = append(triples, domain.Triple{
				Subject: subject, Predicate: domain.IRI(property), Object: object,
				Context: workflowContext,
			})
		}
	}

	return triples, nil
}
