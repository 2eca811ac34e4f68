package sparql

import (
	"context"
	"fmt"
	"strconv"

	"kce.dev/kce/internal/domain"
)

// Matcher is the minimal capability the evaluator needs from a Knowledge
// Layer backend: resolve a wildcard-able triple pattern to matching triples.
type Matcher interface {
	MatchTriples(ctx context.Context, pattern domain.MatchPattern) ([]domain.Triple, error)
}

// Binding maps a WHERE-clause variable name to the term it is bound to.
type Binding map[string]domain.Term

// EvalWhere evaluates a GraphPattern against matcher, returning every
// satisfying binding set (index-nested-loop join over the triple patterns,
// then FILTER applied as a post-selection).
func EvalWhere(ctx context.Context, matcher Matcher, gp GraphPattern) ([]Binding, error) {
	bindings := []Binding{{}}

	for _, tp := range gp.Triples {
		var next []Binding
		for _, b := range bindings {
			pattern := patternFor(tp, b)
			triples, err := matcher.MatchTriples(ctx, pattern)
			if err != nil {
				return nil, fmt.Errorf("match triples: %w", err)
			}
			for _, t := range triples {
				extended, ok := extend(b, tp, t)
				if ok {
					next = append(next, extended)
				}
			}
		}
		bindings = next
		if len(bindings) == 0 {
			return nil, nil
		}
	}

	var filtered []Binding
	for _, b := range bindings {
		if satisfiesAll(gp.Filters, b) {
			filtered = append(filtered, b)
		}
	}
	return filtered, nil
}

// patternFor builds a concrete MatchPattern for a triple pattern given the
// bindings accumulated so far: bound variables become exact-term
// constraints, unbound variables and literal/IRI pattern terms pass through
// as-is (literal/IRI terms are always exact constraints).
func patternFor(tp TriplePattern, b Binding) domain.MatchPattern {
	return domain.MatchPattern{
		Subject:   termConstraint(tp.Subject, b),
		Predicate: termConstraint(tp.Predicate, b),
		Object:    termConstraint(tp.Object, b),
	}
}

func termConstraint(t Term, b Binding) *domain.Term {
	if t.Kind == TermVar {
		if bound, ok := b[t.Value]; ok {
			return &bound
		}
		return nil
	}
	dt := toDomainTerm(t)
	return &dt
}

// extend checks a candidate triple against a triple pattern and the current
// bindings, extending the binding set if consistent (repeated variables
// within one triple, or across triples already bound, must agree).
func extend(b Binding, tp TriplePattern, t domain.Triple) (Binding, bool) {
	out := make(Binding, len(b)+3)
	for k, v := range b {
		out[k] = v
	}
	if !unify(tp.Subject, t.Subject, out) {
		return nil, false
	}
	if !unify(tp.Predicate, t.Predicate, out) {
		return nil, false
	}
	if !unify(tp.Object, t.Object, out) {
		return nil, false
	}
	return out, true
}

func unify(patternTerm Term, actual domain.Term, b Binding) bool {
	if patternTerm.Kind == TermVar {
		if existing, ok := b[patternTerm.Value]; ok {
			return existing.Equal(actual)
		}
		b[patternTerm.Value] = actual
		return true
	}
	return toDomainTerm(patternTerm).Equal(actual)
}

func toDomainTerm(t Term) domain.Term {
	if t.Kind == TermIRI {
		return domain.IRI(t.Value)
	}
	return domain.Literal(t.Value, t.Datatype)
}

func satisfiesAll(filters []Filter, b Binding) bool {
	for _, f := range filters {
		if !satisfies(f, b) {
			return false
		}
	}
	return true
}

func satisfies(f Filter, b Binding) bool {
	left, lok := resolveFilterTerm(f.Left, b)
	right, rok := resolveFilterTerm(f.Right, b)
	if !lok || !rok {
		return false
	}

	lf, lIsNum := asFloat(left)
	rf, rIsNum := asFloat(right)
	if lIsNum && rIsNum {
		switch f.Op {
		case OpEq:
			return lf == rf
		case OpNeq:
			return lf != rf
		case OpLt:
			return lf < rf
		case OpLte:
			return lf <= rf
		case OpGt:
			return lf > rf
		case OpGte:
			return lf >= rf
		}
		return false
	}

	switch f.Op {
	case OpEq:
		return left.Equal(right)
	case OpNeq:
		return !left.Equal(right)
	default:
		return left.Value < right.Value && f.Op == OpLt ||
			left.Value <= right.Value && f.Op == OpLte ||
			left.Value > right.Value && f.Op == OpGt ||
			left.Value >= right.Value && f.Op == OpGte
	}
}

func resolveFilterTerm(t Term, b Binding) (domain.Term, bool) {
	if t.Kind == TermVar {
		v, ok := b[t.Value]
		return v, ok
	}
	return toDomainTerm(t), true
}

func asFloat(t domain.Term) (float64, bool) {
	if !t.IsLiteral() {
		return 0, false
	}
	switch t.Datatype {
	case domain.XSDInteger, domain.XSDDouble:
		f, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// GroundTriples resolves a template (INSERT/DELETE clause) against a single
// binding into concrete triples. Used for QueryModify; for QueryInsertData /
// QueryDeleteData the template already has no variables, so it is called
// with an empty Binding.
func GroundTriples(template []TriplePattern, b Binding) ([]domain.Triple, error) {
	out := make([]domain.Triple, 0, len(template))
	for _, tp := range template {
		s, err := groundTerm(tp.Subject, b)
		if err != nil {
			return nil, err
		}
		p, err := groundTerm(tp.Predicate, b)
		if err != nil {
			return nil, err
		}
		o, err := groundTerm(tp.Object, b)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Triple{Subject: s, Predicate: p, Object: o})
	}
	return out, nil
}

func groundTerm(t Term, b Binding) (domain.Term, error) {
	if t.Kind == TermVar {
		v, ok := b[t.Value]
		if !ok {
			return domain.Term{}, fmt.Errorf("unbound variable %q in template", t.Value)
		}
		return v, nil
	}
	return toDomainTerm(t), nil
}
