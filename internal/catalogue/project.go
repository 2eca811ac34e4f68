package catalogue

import (
	"fmt"

	"kce.dev/kce/internal/domain"
)

// Catalogue predicate/class vocabulary (§3/§4.B step 3): every catalogue
// entity loaded from YAML is mirrored into the graph under these URIs so
// the `query` and `show-log` surfaces can inspect a loaded catalogue the
// same way they inspect runtime state. The planner and rule engine never
// read this projection back -- they operate on the Go structs Load already
// produced -- so this exists purely for persistence and introspection.
const (
	classAtomicNode         = "urn:kce:cat:class:AtomicNode"
	classRule               = "urn:kce:cat:class:Rule"
	classCapabilityTemplate = "urn:kce:cat:class:CapabilityTemplate"
	classWorkflow           = "urn:kce:cat:class:Workflow"
	classParameter          = "urn:kce:cat:class:Parameter"
	classPrecondition       = "urn:kce:cat:class:Precondition"
	classEffect             = "urn:kce:cat:class:Effect"
	classWorkflowStep       = "urn:kce:cat:class:WorkflowStep"

	predLabel                 = "urn:kce:cat:label"
	predHasInput              = "urn:kce:cat:hasInput"
	predHasOutput             = "urn:kce:cat:hasOutput"
	predParamName             = "urn:kce:cat:paramName"
	predMapsToProperty        = "urn:kce:cat:mapsToRdfProperty"
	predDataType              = "urn:kce:cat:dataType"
	predIsRequired            = "urn:kce:cat:isRequired"
	predHasPrecondition       = "urn:kce:cat:hasPrecondition"
	predAskQuery              = "urn:kce:cat:askQuery"
	predHasEffect             = "urn:kce:cat:hasEffect"
	predEffectKind            = "urn:kce:cat:effectKind"
	predOnEntity              = "urn:kce:cat:onEntity"
	predProperty              = "urn:kce:cat:property"
	predValueFromOutput       = "urn:kce:cat:valueFromOutput"
	predInvocationKind        = "urn:kce:cat:invocationKind"
	predScriptPath            = "urn:kce:cat:scriptPath"
	predArgStyle              = "urn:kce:cat:argumentPassingStyle"
	predOutputStyle           = "urn:kce:cat:outputParsingStyle"
	predHasExternalSideEffect = "urn:kce:cat:hasExternalSideEffect"
	predImplementsCapability  = "urn:kce:cat:implementsCapability"
	predAntecedent            = "urn:kce:cat:antecedent"
	predConsequent            = "urn:kce:cat:consequent"
	predPriority              = "urn:kce:cat:priority"
	predCritical              = "urn:kce:cat:critical"
	predInputName             = "urn:kce:cat:inputName"
	predOutputName            = "urn:kce:cat:outputName"
	predWorkflowContext       = "urn:kce:cat:workflowContext"
	predHasStep               = "urn:kce:cat:hasStep"
	predStepNode              = "urn:kce:cat:stepNode"
	predStepOrder             = "urn:kce:cat:stepOrder"

	catalogueContext = "urn:kce:cat:definitions"
)

// ProjectToTriples mirrors a loaded catalogue into ground triples, under
// the fixed catalogueContext graph. Sub-entities without an authored URI
// (parameters, preconditions, effects, steps) get a URI deterministically
// derived from their owning entity's URI and position, so reloading the
// same documents twice on a clean store produces an identical triple set.
func ProjectToTriples(loaded *Loaded) ([]domain.Triple, error) {
	var out []domain.Triple

	for _, n := range loaded.Nodes {
		out = append(out, projectAtomicNode(n)...)
	}
	for _, r := range loaded.Rules {
		out = append(out, projectRule(r)...)
	}
	for _, t := range loaded.Templates {
		out = append(out, projectCapabilityTemplate(t)...)
	}
	for _, w := range loaded.Workflows {
		out = append(out, projectWorkflow(w)...)
	}
	return out, nil
}

func typeTriple(uri, class string) domain.Triple {
	return domain.Triple{Subject: domain.IRI(uri), Predicate: domain.IRI(domain.RDFType), Object: domain.IRI(class), Context: catalogueContext}
}

func labelTriple(uri, label string) domain.Triple {
	return domain.Triple{Subject: domain.IRI(uri), Predicate: domain.IRI(predLabel), Object: domain.Literal(label, domain.XSDString), Context: catalogueContext}
}

func boolTriple(uri, pred string, v bool) domain.Triple {
	return domain.Triple{Subject: domain.IRI(uri), Predicate: domain.IRI(pred), Object: domain.Literal(fmt.Sprintf("%t", v), domain.XSDBoolean), Context: catalogueContext}
}

func intTriple(uri, pred string, v int) domain.Triple {
	return domain.Triple{Subject: domain.IRI(uri), Predicate: domain.IRI(pred), Object: domain.Literal(fmt.Sprintf("%d", v), domain.XSDInteger), Context: catalogueContext}
}

func strTriple(uri, pred, v string) domain.Triple {
	return domain.Triple{Subject: domain.IRI(uri), Predicate: domain.IRI(pred), Object: domain.Literal(v, domain.XSDString), Context: catalogueContext}
}

func linkTriple(uri, pred, object string) domain.Triple {
	return domain.Triple{Subject: domain.IRI(uri), Predicate: domain.IRI(pred), Object: domain.IRI(object), Context: catalogueContext}
}

func projectParameter(nodeURI, pred string, idx int, p domain.Parameter) (string, []domain.Triple) {
	uri := fmt.Sprintf("%s#param:%d", nodeURI, idx)
	triples := []domain.Triple{
		linkTriple(nodeURI, pred, uri),
		typeTriple(uri, classParameter),
		strTriple(uri, predParamName, p.Name),
		strTriple(uri, predMapsToProperty, p.MapsToRdfProperty),
		strTriple(uri, predDataType, p.DataType),
		boolTriple(uri, predIsRequired, p.IsRequired),
	}
	return uri, triples
}

func projectAtomicNode(n domain.AtomicNode) []domain.Triple {
	out := []domain.Triple{
		typeTriple(n.URI, classAtomicNode),
		labelTriple(n.URI, n.Label),
		boolTriple(n.URI, predHasExternalSideEffect, n.HasExternalSideEffect),
		strTriple(n.URI, predInvocationKind, string(n.Invocation.Kind)),
		strTriple(n.URI, predScriptPath, n.Invocation.ScriptPath),
		strTriple(n.URI, predArgStyle, string(n.Invocation.ArgumentPassingStyle)),
		strTriple(n.URI, predOutputStyle, string(n.Invocation.OutputParsingStyle)),
	}

	for i, p := range n.Inputs {
		_, triples := projectParameter(n.URI, predHasInput, i, p)
		out = append(out, triples...)
	}
	for i, p := range n.Outputs {
		_, triples := projectParameter(n.URI, predHasOutput, i, p)
		out = append(out, triples...)
	}

	for i, pre := range n.Preconditions {
		preURI := fmt.Sprintf("%s#precondition:%d", n.URI, i)
		out = append(out,
			linkTriple(n.URI, predHasPrecondition, preURI),
			typeTriple(preURI, classPrecondition),
			strTriple(preURI, predAskQuery, pre.AskQuery),
		)
	}

	for i, eff := range n.Effects {
		effURI := fmt.Sprintf("%s#effect:%d", n.URI, i)
		out = append(out,
			linkTriple(n.URI, predHasEffect, effURI),
			typeTriple(effURI, classEffect),
			strTriple(effURI, predEffectKind, string(eff.Kind)),
			strTriple(effURI, predOnEntity, eff.OnEntity),
		)
		if eff.Property != "" {
			out = append(out, strTriple(effURI, predProperty, eff.Property))
		}
		if eff.ValueFromOutput != "" {
			out = append(out, strTriple(effURI, predValueFromOutput, eff.ValueFromOutput))
		}
	}

	for _, bind := range n.ImplementsCapability {
		out = append(out, linkTriple(n.URI, predImplementsCapability, bind.TemplateURI))
	}

	return out
}

func projectRule(r domain.Rule) []domain.Triple {
	return []domain.Triple{
		typeTriple(r.URI, classRule),
		strTriple(r.URI, predAntecedent, r.Antecedent),
		strTriple(r.URI, predConsequent, r.Consequent),
		intTriple(r.URI, predPriority, r.Priority),
		boolTriple(r.URI, predCritical, r.Critical),
	}
}

func projectCapabilityTemplate(t domain.CapabilityTemplate) []domain.Triple {
	out := []domain.Triple{
		typeTriple(t.URI, classCapabilityTemplate),
		labelTriple(t.URI, t.Label),
	}
	for _, name := range t.InputNames {
		out = append(out, strTriple(t.URI, predInputName, name))
	}
	for _, name := range t.OutputNames {
		out = append(out, strTriple(t.URI, predOutputName, name))
	}
	return out
}

func projectWorkflow(w domain.Workflow) []domain.Triple {
	out := []domain.Triple{
		typeTriple(w.URI, classWorkflow),
		labelTriple(w.URI, w.Label),
		strTriple(w.URI, predWorkflowContext, w.WorkflowContext),
	}
	for i, step := range w.Steps {
		stepURI := fmt.Sprintf("%s#step:%d", w.URI, i)
		out = append(out,
			linkTriple(w.URI, predHasStep, stepURI),
			typeTriple(stepURI, classWorkflowStep),
			linkTriple(stepURI, predStepNode, step.NodeURI),
			intTriple(stepURI, predStepOrder, step.Order),
		)
	}
	return out
}
