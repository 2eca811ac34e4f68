package planner_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/id"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/kg/memstore"
	"kce.dev/kce/internal/nodeexec"
	"kce.dev/kce/internal/planexec"
	"kce.dev/kce/internal/planner"
	"kce.dev/kce/internal/provenance"
)

func writePlannerScript(body string) string {
	dir, err := os.MkdirTemp("", "planner-script")
	Expect(err).NotTo(HaveOccurred())
	path := filepath.Join(dir, "run.sh")
	Expect(os.WriteFile(path, []byte(body), 0o755)).To(Succeed())
	return path
}

var _ = Describe("Planner", func() {
	var (
		ctx             context.Context
		store           *kg.Store
		workflowContext string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = kg.New(memstore.New())
		workflowContext = "urn:kce:ctx:plan1"
		Expect(id.Init(3)).To(Succeed())
	})

	buildPlanner := func(nodes map[string]domain.AtomicNode, cfg planner.Config) *planner.Planner {
		nx := nodeexec.New(store, nodeexec.Config{Timeout: 5 * time.Second})
		rec := provenance.New(store)
		exec := planexec.New(store, nx, rec, planexec.Catalogue{Nodes: nodes})
		return planner.New(store, planner.Catalogue{Nodes: nodes}, exec, rec, nil, cfg)
	}

	Context("when a single node satisfies the goal", func() {
		It("reaches the goal and returns a succeeded run", func() {
			script := writePlannerScript("#!/bin/sh\necho '{\"ready\": true}'\n")

			node := domain.AtomicNode{
				URI: "urn:kce:node:mark-ready",
				Outputs: []domain.Parameter{
					{Name: "ready", MapsToRdfProperty: "urn:kce:prop:isReady", DataType: domain.XSDBoolean},
				},
				Effects: []domain.Effect{
					{Kind: domain.EffectAssertProperty, Property: "urn:kce:prop:isReady", ValueFromOutput: "ready"},
				},
				Invocation: domain.InvocationSpec{Kind: domain.SubprocessScript, ScriptPath: script, OutputParsingStyle: domain.JSONStdout},
			}

			p := buildPlanner(map[string]domain.AtomicNode{node.URI: node}, planner.Config{})
			goal := domain.TargetDescription{AskQuery: "ASK { <urn:kce:ctx:plan1> <urn:kce:prop:isReady> ?v }"}

			run, err := p.Solve(ctx, goal, workflowContext)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Status).To(Equal(domain.RunSucceeded))
		})
	})

	Context("when no node in the catalogue can contribute to the goal", func() {
		It("fails with no progress and executes no nodes", func() {
			node := domain.AtomicNode{
				URI:     "urn:kce:node:irrelevant",
				Effects: []domain.Effect{{Kind: domain.EffectAssertProperty, Property: "urn:kce:prop:unrelated"}},
			}

			p := buildPlanner(map[string]domain.AtomicNode{node.URI: node}, planner.Config{})
			goal := domain.TargetDescription{AskQuery: "ASK { <urn:kce:ctx:plan1> <urn:kce:prop:isReady> ?v }"}

			run, err := p.Solve(ctx, goal, workflowContext)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Status).To(Equal(domain.RunFailed))
			Expect(run.FailureReason).To(ContainSubstring("NoProgress"))
		})
	})

	Context("when the catalogue has no nodes at all", func() {
		It("fails with no progress immediately", func() {
			p := buildPlanner(map[string]domain.AtomicNode{}, planner.Config{})
			goal := domain.TargetDescription{AskQuery: "ASK { <urn:kce:ctx:plan1> <urn:kce:prop:isReady> ?v }"}

			run, err := p.Solve(ctx, goal, workflowContext)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Status).To(Equal(domain.RunFailed))
		})
	})
})
