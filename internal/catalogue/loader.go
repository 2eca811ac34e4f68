package catalogue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kerrors"
	"kce.dev/kce/internal/kg/sparql"
)

// Loaded is the fully-parsed, validated catalogue produced by Load.
type Loaded struct {
	Nodes     []domain.AtomicNode
	Rules     []domain.Rule
	Templates []domain.CapabilityTemplate
	Workflows []domain.Workflow
}

var recognizedKinds = map[string]bool{
	"AtomicNode":         true,
	"Rule":               true,
	"CapabilityTemplate": true,
	"Workflow":           true,
}

// Load reads every *.yaml/*.yml file in dir (in deterministic, sorted
// order), validates and normalizes each item, and returns the combined
// catalogue. Any DefinitionError aborts the entire load (§4.B step 1-5).
func Load(dir string) (*Loaded, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &kerrors.DefinitionError{Detail: fmt.Sprintf("read catalogue directory %q", dir), Cause: err}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	out := &Loaded{}
	seen := map[string]bool{} // dedup key: kind + "|" + uri
	gen := &uriGenerator{}

	for _, path := range files {
		if err := loadFile(path, out, seen, gen); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func loadFile(path string, out *Loaded, seen map[string]bool, gen *uriGenerator) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &kerrors.DefinitionError{Detail: fmt.Sprintf("read %q", path), Cause: err}
	}

	var doc DefinitionDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return &kerrors.DefinitionError{Detail: fmt.Sprintf("parse %q", path), Cause: err}
	}

	baseDir := filepath.Dir(path)

	for i, item := range doc.Items {
		if item.Kind == "" || !recognizedKinds[item.Kind] {
			return &kerrors.DefinitionError{Detail: fmt.Sprintf("%s item %d: unrecognized kind %q", path, i, item.Kind)}
		}

		uri := item.URI
		if uri == "" {
			uri = gen.next(item.Kind)
		}
		key := item.Kind + "|" + uri
		if seen[key] {
			return &kerrors.DefinitionError{Detail: fmt.Sprintf("%s item %d: duplicate %s %q within this load", path, i, item.Kind, uri)}
		}
		seen[key] = true

		switch item.Kind {
		case "AtomicNode":
			node, err := buildAtomicNode(item, uri, baseDir)
			if err != nil {
				return err
			}
			out.Nodes = append(out.Nodes, node)
		case "Rule":
			rule, err := buildRule(item, uri)
			if err != nil {
				return err
			}
			out.Rules = append(out.Rules, rule)
		case "CapabilityTemplate":
			out.Templates = append(out.Templates, domain.CapabilityTemplate{
				URI: uri, Label: item.Label,
				InputNames: item.InputNames, OutputNames: item.OutputNames,
			})
		case "Workflow":
			wf := domain.Workflow{URI: uri, Label: item.Label, WorkflowContext: item.WorkflowContext}
			for _, s := range item.Steps {
				wf.Steps = append(wf.Steps, domain.WorkflowStep{NodeURI: s.NodeURI, Order: s.Order})
			}
			out.Workflows = append(out.Workflows, wf)
		}
	}
	return nil
}

func buildAtomicNode(item DefinitionItem, uri, baseDir string) (domain.AtomicNode, error) {
	node := domain.AtomicNode{
		URI:                   uri,
		Label:                 item.Label,
		HasExternalSideEffect: item.HasExternalSideEffect,
	}

	for _, in := range item.Inputs {
		node.Inputs = append(node.Inputs, domain.Parameter{Name: in.Name, MapsToRdfProperty: in.Property, DataType: in.DataType, IsRequired: in.Required})
	}
	for _, o := range item.Outputs {
		node.Outputs = append(node.Outputs, domain.Parameter{Name: o.Name, MapsToRdfProperty: o.Property, DataType: o.DataType, IsRequired: o.Required})
	}

	for _, ask := range item.Preconditions {
		// A precondition may be written as a full "ASK { ... }" query or as
		// just its "{ ... }" body, the two shapes the planner evaluates.
		_, err := sparql.Parse(ask)
		if err != nil {
			_, err = sparql.Parse("ASK " + ask)
		}
		if err != nil {
			return domain.AtomicNode{}, &kerrors.DefinitionError{Detail: fmt.Sprintf("node %s: unparsable precondition", uri), Cause: err}
		}
		node.Preconditions = append(node.Preconditions, domain.Precondition{AskQuery: ask})
	}

	for _, e := range item.Effects {
		node.Effects = append(node.Effects, domain.Effect{
			Kind: domain.EffectKind(e.Kind), OnEntity: e.OnEntity, Property: e.Property, ValueFromOutput: e.ValueFromOutput,
		})
	}

	for _, cb := range item.ImplementsCapability {
		node.ImplementsCapability = append(node.ImplementsCapability, domain.CapabilityBinding{TemplateURI: cb.TemplateURI, ParamMap: cb.ParamMap})
	}

	if item.Invocation == nil {
		return domain.AtomicNode{}, &kerrors.DefinitionError{Detail: fmt.Sprintf("node %s: missing invocation spec", uri)}
	}
	if item.Invocation.Kind != string(domain.SubprocessScript) {
		return domain.AtomicNode{}, &kerrors.DefinitionError{Detail: fmt.Sprintf("node %s: unsupported invocation kind %q", uri, item.Invocation.Kind)}
	}

	scriptPath := item.Invocation.ScriptPath
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(baseDir, scriptPath)
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return domain.AtomicNode{}, &kerrors.DefinitionError{Detail: fmt.Sprintf("node %s: script %q does not exist", uri, scriptPath), Cause: err}
	}

	node.Invocation = domain.InvocationSpec{
		Kind:                 domain.SubprocessScript,
		ScriptPath:           scriptPath,
		ArgumentPassingStyle: domain.ArgumentPassingStyle(item.Invocation.ArgumentPassingStyle),
		OutputParsingStyle:   domain.OutputParsingStyle(item.Invocation.OutputParsingStyle),
	}

	for _, in := range node.Inputs {
		if in.MapsToRdfProperty == "" {
			return domain.AtomicNode{}, &kerrors.DefinitionError{Detail: fmt.Sprintf("node %s: input %q missing mapsToRdfProperty", uri, in.Name)}
		}
	}

	return node, nil
}

func buildRule(item DefinitionItem, uri string) (domain.Rule, error) {
	if _, err := sparql.Parse("SELECT * WHERE " + item.Antecedent); err != nil {
		return domain.Rule{}, &kerrors.DefinitionError{Detail: fmt.Sprintf("rule %s: unparsable antecedent", uri), Cause: err}
	}
	return domain.Rule{
		URI: uri, Antecedent: item.Antecedent, Consequent: item.Consequent,
		Priority: item.Priority, Critical: item.Critical,
	}, nil
}

// uriGenerator mints deterministic URIs for items with no authored uri:,
// scoped to a single Load call so that repeated loads of the same
// catalogue (e.g. a reload, or two processes loading the same directory)
// produce identical generated URIs instead of drifting with process state.
type uriGenerator struct {
	counts map[string]int
}

func (g *uriGenerator) next(kind string) string {
	if g.counts == nil {
		g.counts = map[string]int{}
	}
	g.counts[kind]++
	return fmt.Sprintf("urn:kce:generated:%s:%d", kind, g.counts[kind])
}
