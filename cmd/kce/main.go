// Command kce is the CLI front-end to the Knowledge CAD Engine kernel: it
// wires configuration, the Knowledge Layer backend, the catalogue loader,
// and the planner/executor/recorder triad behind the subcommands sketched
// in the external interface design (init-db, load-defs, solve-problem,
// query, show-log), plus an optional introspection HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"kce.dev/kce/internal/catalogue"
	"kce.dev/kce/internal/config"
	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/httpapi"
	"kce.dev/kce/internal/id"
	"kce.dev/kce/internal/kerrors"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/kg/arango"
	"kce.dev/kce/internal/kg/memstore"
	"kce.dev/kce/internal/kg/sqlitestore"
	"kce.dev/kce/internal/nodeexec"
	"kce.dev/kce/internal/obs/logger"
	"kce.dev/kce/internal/obs/otelinit"
	"kce.dev/kce/internal/oracle"
	"kce.dev/kce/internal/planexec"
	"kce.dev/kce/internal/planner"
	"kce.dev/kce/internal/provenance"
	"kce.dev/kce/internal/runbus"
)

// Exit codes per the external interface's error-handling design: 0 success,
// 1 definition error, 2 planning failure, 3 execution failure, 4 cancelled.
const (
	exitOK               = 0
	exitDefinitionError  = 1
	exitPlanningFailure  = 2
	exitExecutionFailure = 3
	exitCancelled        = 4
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx := context.Background()

	telemetry, err := otelinit.Setup(ctx, cfg.OTel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize otel: "+err.Error())
		os.Exit(1)
	}
	logger.Setup(cfg)
	if telemetry != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(shutdownCtx)
		}()
	}

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "kce",
		Short: "Knowledge CAD Engine: a goal-directed planner over an RDF knowledge graph",
	}

	root.AddCommand(
		newInitDBCommand(cfg),
		newLoadDefsCommand(cfg),
		newSolveProblemCommand(cfg),
		newQueryCommand(cfg),
		newShowLogCommand(cfg),
		newServeCommand(cfg),
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitFor(err))
	}
}

// openBackend opens the configured Knowledge Layer backend.
func openBackend(ctx context.Context, cfg config.Config) (kg.Backend, error) {
	switch cfg.Knowledge.Backend {
	case "memory":
		return memstore.New(), nil
	case "arangodb":
		return arango.Open(ctx, arango.Config{
			URL:      cfg.Knowledge.Arango.Endpoint,
			Username: cfg.Knowledge.Arango.User,
			Password: cfg.Knowledge.Arango.Password,
			Database: cfg.Knowledge.Arango.Database,
		})
	default:
		return sqlitestore.Open(cfg.Knowledge.Path)
	}
}

func newInitDBCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Initialize the configured Knowledge Layer backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			slog.InfoContext(ctx, "knowledge layer initialized", "backend", cfg.Knowledge.Backend)
			return nil
		},
	}
}

func newLoadDefsCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "load-defs <dir>",
		Short: "Load a catalogue of AtomicNode/Rule/CapabilityTemplate/Workflow definitions into the graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loaded, err := catalogue.Load(args[0])
			if err != nil {
				return err
			}

			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			store := kg.New(backend)

			triples, err := catalogue.ProjectToTriples(loaded)
			if err != nil {
				return err
			}
			if err := store.AddTriples(ctx, triples); err != nil {
				return err
			}
			if err := store.Reason(ctx); err != nil {
				return err
			}

			slog.InfoContext(ctx, "catalogue loaded",
				"nodes", len(loaded.Nodes), "rules", len(loaded.Rules),
				"templates", len(loaded.Templates), "workflows", len(loaded.Workflows))
			return nil
		},
	}
}

func newSolveProblemCommand(cfg config.Config) *cobra.Command {
	var (
		defsDir      string
		targetPath   string
		initialState string
		runID        string
		mode         string
	)

	cmd := &cobra.Command{
		Use:   "solve-problem",
		Short: "Run the goal-directed planner against a target description",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			loaded, err := catalogue.Load(defsDir)
			if err != nil {
				return err
			}
			target, err := catalogue.LoadTarget(targetPath)
			if err != nil {
				return err
			}

			if runID == "" {
				runID = id.NewString()
			}
			workflowContext := "urn:kce:ctx:" + runID

			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			store := kg.New(backend)

			catalogueTriples, err := catalogue.ProjectToTriples(loaded)
			if err != nil {
				return err
			}
			if err := store.AddTriples(ctx, catalogueTriples); err != nil {
				return err
			}

			if initialState != "" {
				stateTriples, err := catalogue.LoadInitialStateFile(initialState, workflowContext)
				if err != nil {
					return err
				}
				if err := store.AddTriples(ctx, stateTriples); err != nil {
					return err
				}
			}
			if err := store.Reason(ctx); err != nil {
				return err
			}

			nodes := map[string]domain.AtomicNode{}
			for _, n := range loaded.Nodes {
				nodes[n.URI] = n
			}
			ruleMap := map[string]domain.Rule{}
			for _, r := range loaded.Rules {
				ruleMap[r.URI] = r
			}
			workflows := map[string]domain.Workflow{}
			for _, w := range loaded.Workflows {
				workflows[w.WorkflowContext] = w
			}

			nx := nodeexec.New(store, nodeexec.Config{
				Timeout:      cfg.NodeExec.DefaultTimeout,
				EnvAllowlist: cfg.NodeExec.EnvAllowlist,
				KillGrace:    cfg.NodeExec.KillGrace,
			})
			recorder := provenance.New(store)

			bus, err := runbus.New(runbus.Config{
				Enabled: cfg.RunBus.Enabled,
				RedisURL: "redis://" + cfg.RunBus.Addr,
				Stream:   cfg.RunBus.Stream,
			})
			if err != nil {
				slog.WarnContext(ctx, "runbus disabled", "error", err)
			}
			if bus != nil {
				recorder.SetPublisher(bus)
				defer bus.Close()
			}

			exec := planexec.New(store, nx, recorder, planexec.Catalogue{Nodes: nodes, Rules: ruleMap})

			var orc planner.Oracle
			plannerMode := planner.ModeUser
			if mode == "expert" || cfg.Planner.Mode == "expert" {
				plannerMode = planner.ModeExpert
				if cfg.Oracle.Kind == "llm" {
					client, err := oracle.New(oracle.Config{
						Provider: cfg.Oracle.Provider,
						APIKey:   cfg.Oracle.APIKey,
						Model:    cfg.Oracle.Model,
					})
					if err != nil {
						slog.WarnContext(ctx, "oracle client unavailable, using default oracle", "error", err)
					} else {
						orc = oracle.NewLLMOracle(client)
					}
				}
			}

			p := planner.New(store, planner.Catalogue{Nodes: nodes, Rules: ruleMap, Workflows: workflows}, exec, recorder, orc, planner.Config{
				DepthBudget: cfg.Planner.DepthBudget,
				Mode:        plannerMode,
			})

			run, err := p.Solve(ctx, target, workflowContext)
			if err != nil {
				return err
			}

			printRun(run)
			if run.Status == domain.RunFailed {
				return runFailureError(run)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&defsDir, "defs", "", "catalogue definitions directory")
	cmd.Flags().StringVar(&targetPath, "target", "", "target description document path")
	cmd.Flags().StringVar(&initialState, "initial-state", "", "initial state document path")
	cmd.Flags().StringVar(&runID, "run-id", "", "id naming the run's workflow context urn:kce:ctx:<id> (default: generated); the recorded run id is always generated")
	cmd.Flags().StringVar(&mode, "mode", "user", "planner decision mode: user|expert")
	_ = cmd.MarkFlagRequired("defs")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func newQueryCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sparql>",
		Short: "Evaluate a SPARQL-lite ASK or SELECT query against the graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			store := kg.New(backend)

			result, err := store.Query(ctx, args[0])
			if err != nil {
				return err
			}
			return printQueryResult(result)
		},
	}
}

func newShowLogCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show-log <run-id>",
		Short: "Print the recorded provenance trail for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			store := kg.New(backend)
			recorder := provenance.New(store)

			summary, err := recorder.DescribeRun(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}

func newServeCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only introspection HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cfg.HTTP.Addr == "" {
				return fmt.Errorf("KCE_HTTP_ADDR is not configured")
			}

			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			store := kg.New(backend)
			recorder := provenance.New(store)

			router := httpapi.NewRouter(store, recorder, httpapi.Config{
				ServiceName:  cfg.OTel.ServiceName,
				IsProduction: cfg.IsProduction(),
			})

			server := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			slog.InfoContext(ctx, "introspection server starting", "addr", cfg.HTTP.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func printRun(run *domain.ExecutionRun) {
	fmt.Fprintf(os.Stdout, "run %s: %s\n", run.RunID, run.Status)
	if run.FailureReason != "" {
		fmt.Fprintf(os.Stdout, "reason: %s\n", run.FailureReason)
	}
}

func printQueryResult(result kg.QueryResult) error {
	switch result.Kind {
	case kg.ResultBool:
		fmt.Fprintf(os.Stdout, "%t\n", result.Bool)
		return nil
	case kg.ResultBindings:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		rows := make([]map[string]string, 0, len(result.Bindings))
		for _, b := range result.Bindings {
			row := map[string]string{}
			for k, v := range b {
				row[k] = v.String()
			}
			rows = append(rows, row)
		}
		return enc.Encode(rows)
	default:
		return fmt.Errorf("unsupported result kind")
	}
}

// runFailureError turns a failed run's FailureReason back into a sentinel
// error exitFor can classify, so solve-problem's process exit code matches
// §7 regardless of how deep in the call stack the failure originated.
func runFailureError(run *domain.ExecutionRun) error {
	return fmt.Errorf("%s", run.FailureReason)
}

// exitFor maps a returned error to the documented process exit code.
func exitFor(err error) int {
	if err == nil {
		return exitOK
	}

	var defErr *kerrors.DefinitionError
	if as(err, &defErr) {
		return exitDefinitionError
	}
	var queryErr *kerrors.QueryError
	if as(err, &queryErr) {
		return exitDefinitionError
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "cancelled"):
		return exitCancelled
	case strings.Contains(msg, "PlanningFailure"):
		return exitPlanningFailure
	case strings.Contains(msg, "definition error"):
		return exitDefinitionError
	default:
		return exitExecutionFailure
	}
}

func as[T error](err error, target *T) bool {
	for err != nil {
		if t, ok := err.(T); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
