package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fancyfn/fancy/internal/engine"
	"github.com/fancyfn/fancy/internal/function"
	"github.com/fancyfn/fancy/internal/store"
	"github.com/fancyfn/fancy/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Validate, inspect, and run workflow definitions",
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a workflow definition and check its wiring",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowValidate,
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "List a workflow's steps and their wiring",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowShow,
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a workflow definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowRun,
}

func init() {
	workflowCmd.AddCommand(workflowValidateCmd)
	workflowCmd.AddCommand(workflowShowCmd)
	workflowCmd.AddCommand(workflowRunCmd)
}

// loadDefinition parses the workflow file against the builtin registry.
func loadDefinition(path string) (*workflow.ParseResult, *function.Registry, error) {
	registry := function.NewRegistry()
	if err := function.RegisterBuiltins(registry); err != nil {
		return nil, nil, err
	}
	result, err := workflow.LoadYAMLFile(path, registry)
	if err != nil {
		return nil, nil, err
	}
	return result, registry, nil
}

func runWorkflowValidate(cmd *cobra.Command, args []string) error {
	result, registry, err := loadDefinition(args[0])
	if err != nil {
		return err
	}
	if err := workflow.NewValidator(registry).Validate(result.Workflow); err != nil {
		return err
	}
	cmd.Printf("workflow %q is valid: %d step(s)\n", result.Workflow.Name, result.Workflow.Len())
	return nil
}

func runWorkflowShow(cmd *cobra.Command, args []string) error {
	result, _, err := loadDefinition(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tFUNCTION\tINPUTS\tCONFIG\tOUTPUTS")
	for i, step := range result.Workflow.Steps {
		inputs := make(map[string]any, len(step.Inputs))
		for name, id := range step.Inputs {
			inputs[name] = shortID(id.String())
		}
		outputs := make(map[string]any, len(step.Outputs))
		for name, id := range step.Outputs {
			outputs[name] = shortID(id.String())
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			i, step.FunctionSlug,
			formatPairs(inputs), formatPairs(step.Config), formatPairs(outputs))
	}
	return w.Flush()
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	result, registry, err := loadDefinition(args[0])
	if err != nil {
		return err
	}

	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Engine.StrictShapes {
		opts = append(opts, engine.WithStrictShapes())
	}
	if cfg.Tracing.Enabled {
		tp, shutdown, err := newTracerProvider()
		if err != nil {
			return err
		}
		defer shutdown()
		opts = append(opts, engine.WithTracer(tp.Tracer("fancy/engine")))
	}

	eng := engine.New(registry, opts...)
	runResult, runErr := eng.Run(ctx, result.Workflow, st, result.Cells)

	summary := buildSummary(ctx, st, result, runResult)
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))

	return runErr
}

// runSummary is the JSON shape printed after a run.
type runSummary struct {
	Workflow      string         `json:"workflow"`
	Status        string         `json:"status"`
	StepsExecuted int            `json:"steps_executed"`
	Duration      string         `json:"duration"`
	Error         string         `json:"error,omitempty"`
	Results       map[string]any `json:"results,omitempty"`
}

// buildSummary resolves every aliased cell that finished so the printed
// result shows values by the names the definition gave them.
func buildSummary(ctx context.Context, st store.Store, parsed *workflow.ParseResult, runResult *engine.RunResult) runSummary {
	summary := runSummary{
		Workflow:      parsed.Workflow.Name,
		Status:        runResult.Status.String(),
		StepsExecuted: runResult.StepsExecuted,
		Duration:      runResult.Duration.String(),
	}
	if runResult.Error != nil {
		summary.Error = runResult.Error.Error()
	}

	results := make(map[string]any)
	for alias, c := range parsed.Aliases {
		if c.IsPending() {
			continue
		}
		value, err := st.Resolve(ctx, c, true)
		if err != nil {
			continue
		}
		results[alias] = value
	}
	if len(results) > 0 {
		summary.Results = results
	}
	return summary
}

// openStore builds the configured storage backend.
func openStore() (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		st, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

// newTracerProvider sets up span export to stderr.
func newTracerProvider() (*sdktrace.TracerProvider, func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	shutdown := func() {
		_ = tp.Shutdown(context.Background())
	}
	return tp, shutdown, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatPairs renders a small key=value set in sorted order, or "-"
// when empty.
func formatPairs(m map[string]any) string {
	if len(m) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(m))
	for name, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%v", name, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
