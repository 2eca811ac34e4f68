package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"

	"kce.dev/kce/internal/planner"
)

// decisionSchema is the JSON shape an LLM must return: either
// {"accept": true, "chosen_uri": "..."} or {"accept": false}.
type decisionSchema struct {
	Accept    bool   `json:"accept" jsonschema:"required"`
	ChosenURI string `json:"chosen_uri,omitempty"`
}

const systemPrompt = `You are the expert-mode decision oracle for a goal-directed planner.
You will be given a list of candidate operation URIs that are all equally
ranked by the planner's own tie-break rules (workflow order and
newly-satisfied-goal-atom count). Pick the single best candidate to execute
next, or decline if none should run. Respond only via the decision tool.`

// LLMOracle implements planner.Oracle by asking an LLM to break a tie among
// candidates the planner's own ranking could not separate. Any error talking
// to the model, or a response outside the candidate set, falls back to
// planner.DefaultOracle rather than failing the run.
type LLMOracle struct {
	client   Client
	fallback planner.Oracle
}

// NewLLMOracle wraps client as a planner.Oracle, falling back to
// planner.DefaultOracle{} on any decode or transport failure.
func NewLLMOracle(client Client) *LLMOracle {
	return &LLMOracle{client: client, fallback: planner.DefaultOracle{}}
}

func (o *LLMOracle) ChooseCandidate(ctx context.Context, candidates []string, stateSnapshot map[string]any) (planner.Decision, error) {
	if len(candidates) == 0 {
		return planner.Decision{Kind: planner.DecisionAbort}, nil
	}

	snapshot, _ := json.Marshal(stateSnapshot)
	userPrompt := fmt.Sprintf("Candidates:\n%s\n\nState snapshot:\n%s", candidateList(candidates), string(snapshot))

	var decoded decisionSchema
	_, err := o.client.Chat(ctx, Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		SchemaName:   "planner_decision",
		Schema:       generateSchema[decisionSchema](),
		Temperature:  Temp(0),
	}, &decoded)
	if err != nil {
		slog.WarnContext(ctx, "oracle llm call failed, falling back to default oracle", "error", err)
		return o.fallback.ChooseCandidate(ctx, candidates, stateSnapshot)
	}

	if !decoded.Accept {
		return planner.Decision{Kind: planner.DecisionAbort}, nil
	}
	if !contains(candidates, decoded.ChosenURI) {
		slog.WarnContext(ctx, "oracle chose a URI outside the candidate set, falling back to default oracle", "chosen", decoded.ChosenURI)
		return o.fallback.ChooseCandidate(ctx, candidates, stateSnapshot)
	}
	return planner.Decision{Kind: planner.DecisionAccept, URI: decoded.ChosenURI}, nil
}

func candidateList(candidates []string) string {
	out := ""
	for _, c := range candidates {
		out += "- " + c + "\n"
	}
	return out
}

func contains(candidates []string, uri string) bool {
	for _, c := range candidates {
		if c == uri {
			return true
		}
	}
	return false
}

func generateSchema[T any]() any {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	var v T
	return reflector.Reflect(v)
}
