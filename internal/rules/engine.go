// Package rules implements the Rule Engine (§4.C): it evaluates each
// catalogue Rule's antecedent against the Knowledge
// Layer, and for every matching binding substitutes the bound values into
// the consequent and applies it as a graph update.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kerrors"
	"kce.dev/kce/internal/kg"
)

// Store is the subset of kg.Store the rule engine needs.
type Store interface {
	Query(ctx context.Context, sparqlText string) (kg.QueryResult, error)
	Update(ctx context.Context, sparqlText string) error
}

var varPattern = regexp.MustCompile(`\?[A-Za-z_][A-Za-z0-9_]*`)

// Apply evaluates every rule's antecedent once against the current graph
// state and fires each newly-matched binding's consequent, in priority
// order (highest first, lexical URI tiebreak). It returns the number of
// consequent updates applied.
//
// fired tracks (ruleURI, binding) pairs already applied across the calling
// run, so a rule that keeps matching its own output doesn't refire forever;
// callers should pass the same map across repeated Apply calls within one
// solve so the cache persists for the run's lifetime.
func Apply(ctx context.Context, store Store, catalogueRules []domain.Rule, fired map[string]bool) (int, error) {
	ordered := make([]domain.Rule, len(catalogueRules))
	copy(ordered, catalogueRules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].URI < ordered[j].URI
	})

	applied := 0
	for _, rule := range ordered {
		res, err := store.Query(ctx, "SELECT * WHERE "+rule.Antecedent)
		if err != nil {
			return applied, &kerrors.QueryError{Query: rule.Antecedent, Cause: err}
		}

		for _, binding := range res.Bindings {
			key := fireKey(rule.URI, binding)
			if fired[key] {
				continue
			}

			consequent, err := substitute(rule.Consequent, binding)
			if err != nil {
				return applied, &kerrors.RuleError{RuleURI: rule.URI, Critical: rule.Critical, Cause: err}
			}

			if err := store.Update(ctx, consequent); err != nil {
				if rule.Critical {
					return applied, &kerrors.RuleError{RuleURI: rule.URI, Critical: true, Cause: err}
				}
				slog.WarnContext(ctx, "non-critical rule consequent failed", "rule", rule.URI, "error", err)
				continue
			}

			fired[key] = true
			applied++
		}
	}
	return applied, nil
}

// substitute replaces every ?var token in text with the SPARQL literal
// syntax of its bound term. An unbound variable is left untouched --
// callers constructing a consequent from an antecedent's own variables
// will never hit this, but a hand-authored consequent referencing an
// unmatched name fails loudly at Update time as a QueryError instead of
// silently here.
func substitute(text string, binding map[string]domain.Term) (string, error) {
	var substErr error
	out := varPattern.ReplaceAllStringFunc(text, func(tok string) string {
		name := strings.TrimPrefix(tok, "?")
		term, ok := binding[name]
		if !ok {
			return tok
		}
		rendered, err := renderTerm(term)
		if err != nil {
			substErr = err
			return tok
		}
		return rendered
	})
	if substErr != nil {
		return "", substErr
	}
	return out, nil
}

func renderTerm(t domain.Term) (string, error) {
	if t.IsIRI() {
		return fmt.Sprintf("<%s>", t.Value), nil
	}
	escaped := strings.ReplaceAll(t.Value, `"`, `\"`)
	return fmt.Sprintf("\"%s\"^^<%s>", escaped, t.Datatype), nil
}

func fireKey(ruleURI string, binding map[string]domain.Term) string {
	names := make([]string, 0, len(binding))
	for name := range binding {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(ruleURI)
	for _, name := range names {
		term := binding[name]
		b.WriteString("|")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(term.Value)
		b.WriteString("^^")
		b.WriteString(term.Datatype)
	}
	return b.String()
}
