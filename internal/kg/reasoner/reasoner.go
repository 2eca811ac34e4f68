// Package reasoner implements a small, explicitly-bounded OWL-RL-style
// forward-chaining closure: rdfs:subClassOf transitivity and rdf:type
// propagation, rdfs:domain/rdfs:range type inference, and owl:sameAs
// symmetry. It is idempotent -- running it again over its own output adds
// nothing -- which is what lets the kernel call it freely after bulk loads
// and at planner-declared checkpoints (§4.A).
package reasoner

import (
	"context"
	"fmt"

	"kce.dev/kce/internal/domain"
)

const (
	rdfsSubClassOf = "http://www.w3.org/2000/01/rdf-schema#subClassOf"
	rdfsDomain     = "http://www.w3.org/2000/01/rdf-schema#domain"
	rdfsRange      = "http://www.w3.org/2000/01/rdf-schema#range"
	owlSameAs      = "http://www.w3.org/2002/07/owl#sameAs"
)

// maxIterations bounds the forward-chaining fixed-point loop so a
// malformed or cyclic ontology can never hang a run.
const maxIterations = 50

// Backend is the subset of kg.Backend the reasoner needs; kept as its own
// interface so this package has no dependency on the kg package.
type Backend interface {
	MatchTriples(ctx context.Context, pattern domain.MatchPattern) ([]domain.Triple, error)
	AddTriples(ctx context.Context, triples []domain.Triple) error
}

// Reason runs the forward closure to a fixed point (or maxIterations,
// whichever comes first) and returns how many new triples were inserted.
func Reason(ctx context.Context, backend Backend) (int, error) {
	all, err := backend.MatchTriples(ctx, domain.MatchPattern{})
	if err != nil {
		return 0, fmt.Errorf("reasoner: load graph: %w", err)
	}

	known := make(map[string]domain.Triple, len(all))
	for _, t := range all {
		known[tripleKey(t)] = t
	}

	totalNew := 0
	for iter := 0; iter < maxIterations; iter++ {
		derived := deriveOnce(known)
		if len(derived) == 0 {
			break
		}
		var toAdd []domain.Triple
		for key, t := range derived {
			if _, exists := known[key]; !exists {
				known[key] = t
				toAdd = append(toAdd, t)
			}
		}
		if len(toAdd) == 0 {
			break
		}
		if err := backend.AddTriples(ctx, toAdd); err != nil {
			return totalNew, fmt.Errorf("reasoner: persist derived triples: %w", err)
		}
		totalNew += len(toAdd)
	}
	return totalNew, nil
}

func tripleKey(t domain.Triple) string {
	return t.Subject.String() + "|" + t.Predicate.String() + "|" + t.Object.String() + "|" + t.Context
}

// deriveOnce applies one round of inference rules over the known triple set
// and returns the resulting triples (including already-known ones; the
// caller filters for novelty).
func deriveOnce(known map[string]domain.Triple) map[string]domain.Triple {
	var subClassOf []domain.Triple  // (sub, super)
	var typeOf []domain.Triple      // (entity, class)
	var domainDecl []domain.Triple  // (property, class)
	var rangeDecl []domain.Triple   // (property, class)
	var propertyUse []domain.Triple // (s, p, o) for domain/range inference
	var sameAs []domain.Triple

	for _, t := range known {
		switch t.Predicate.Value {
		case rdfsSubClassOf:
			subClassOf = append(subClassOf, t)
		case domain.RDFType:
			typeOf = append(typeOf, t)
		case rdfsDomain:
			domainDecl = append(domainDecl, t)
		case rdfsRange:
			rangeDecl = append(rangeDecl, t)
		case owlSameAs:
			sameAs = append(sameAs, t)
		default:
			propertyUse = append(propertyUse, t)
		}
	}

	out := make(map[string]domain.Triple, len(known))
	for k, t := range known {
		out[k] = t
	}

	add := func(t domain.Triple) {
		out[tripleKey(t)] = t
	}

	// rdfs:subClassOf transitivity.
	for _, a := range subClassOf {
		for _, b := range subClassOf {
			if a.Object.Equal(b.Subject) {
				add(domain.Triple{Subject: a.Subject, Predicate: a.Predicate, Object: b.Object})
			}
		}
	}

	// rdf:type propagation up the class hierarchy.
	for _, t := range typeOf {
		for _, sc := range subClassOf {
			if t.Object.Equal(sc.Subject) {
				add(domain.Triple{Subject: t.Subject, Predicate: domain.IRI(domain.RDFType), Object: sc.Object})
			}
		}
	}

	// rdfs:domain / rdfs:range inference from property use.
	for _, use := range propertyUse {
		for _, d := range domainDecl {
			if use.Predicate.Equal(d.Subject) {
				add(domain.Triple{Subject: use.Subject, Predicate: domain.IRI(domain.RDFType), Object: d.Object})
			}
		}
		for _, r := range rangeDecl {
			if use.Predicate.Equal(r.Subject) && use.Object.IsIRI() {
				add(domain.Triple{Subject: use.Object, Predicate: domain.IRI(domain.RDFType), Object: r.Object})
			}
		}
	}

	// owl:sameAs symmetry.
	for _, s := range sameAs {
		add(domain.Triple{Subject: s.Object, Predicate: s.Predicate, Object: s.Subject})
	}

	return out
}
