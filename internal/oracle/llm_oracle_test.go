package oracle_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kce.dev/kce/internal/oracle"
	"kce.dev/kce/internal/planner"
)

type stubClient struct {
	response any
	err      error
}

func (s *stubClient) Chat(_ context.Context, _ oracle.Request, result any) (*oracle.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	b, _ := json.Marshal(s.response)
	if err := json.Unmarshal(b, result); err != nil {
		return nil, err
	}
	return &oracle.Response{}, nil
}

func (s *stubClient) Model() string { return "stub" }

func TestLLMOracle_AcceptsChosenCandidate(t *testing.T) {
	stub := &stubClient{response: map[string]any{"accept": true, "chosen_uri": "urn:kce:node:b"}}
	o := oracle.NewLLMOracle(stub)

	decision, err := o.ChooseCandidate(context.Background(), []string{"urn:kce:node:a", "urn:kce:node:b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.DecisionAccept, decision.Kind)
	assert.Equal(t, "urn:kce:node:b", decision.URI)
}

func TestLLMOracle_AbortWhenDeclined(t *testing.T) {
	stub := &stubClient{response: map[string]any{"accept": false}}
	o := oracle.NewLLMOracle(stub)

	decision, err := o.ChooseCandidate(context.Background(), []string{"urn:kce:node:a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.DecisionAbort, decision.Kind)
}

func TestLLMOracle_FallsBackToDefaultOnTransportError(t *testing.T) {
	stub := &stubClient{err: assert.AnError}
	o := oracle.NewLLMOracle(stub)

	decision, err := o.ChooseCandidate(context.Background(), []string{"urn:kce:node:b", "urn:kce:node:a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.DecisionAccept, decision.Kind)
	assert.Equal(t, "urn:kce:node:a", decision.URI) // DefaultOracle picks lexically first
}

func TestLLMOracle_FallsBackWhenChosenURIOutsideCandidates(t *testing.T) {
	stub := &stubClient{response: map[string]any{"accept": true, "chosen_uri": "urn:kce:node:not-a-candidate"}}
	o := oracle.NewLLMOracle(stub)

	decision, err := o.ChooseCandidate(context.Background(), []string{"urn:kce:node:b", "urn:kce:node:a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.DecisionAccept, decision.Kind)
	assert.Equal(t, "urn:kce:node:a", decision.URI)
}

func TestLLMOracle_NoCandidatesAborts(t *testing.T) {
	o := oracle.NewLLMOracle(&stubClient{})
	decision, err := o.ChooseCandidate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.DecisionAbort, decision.Kind)
}
