package catalogue

import (
	"os"

	"gopkg.in/yaml.v3"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kerrors"
)

// LoadTarget decodes a target-description document from path into a
// domain.TargetDescription (§6: `{askQuery}` or `{pattern}`).
func LoadTarget(path string) (domain.TargetDescription, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.TargetDescription{}, &kerrors.DefinitionError{Detail: "read target document: " + err.Error()}
	}

	var doc TargetDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return domain.TargetDescription{}, &kerrors.DefinitionError{Detail: "parse target document: " + err.Error()}
	}

	target := domain.TargetDescription{AskQuery: doc.AskQuery}
	for _, p := range doc.Pattern {
		target.Pattern = append(target.Pattern, domain.PatternTriple{Subject: p.Subject, Predicate: p.Predicate, Object: p.Object})
	}
	if target.IsEmpty() {
		return domain.TargetDescription{}, &kerrors.DefinitionError{Detail: "target document has neither askQuery nor pattern"}
	}
	return target, nil
}

// LoadInitialStateFile decodes an initial-state document from path and
// projects it into ground triples scoped to workflowContext.
func LoadInitialStateFile(path, workflowContext string) ([]domain.Triple, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &kerrors.DefinitionError{Detail: "read initial state document: " + err.Error()}
	}

	var doc InitialStateDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, &kerrors.DefinitionError{Detail: "parse initial state document: " + err.Error()}
	}

	return LoadInitialState(doc, workflowContext)
}
