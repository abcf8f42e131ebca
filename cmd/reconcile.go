package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"plangov/internal/reconciler"
)

var (
	reconcilePlanID string
	reconcileAll    bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Evaluate usage plans and correct drift",
	Long: `Runs a one-shot reconciliation pass. With --plan a single identity
is evaluated; with --all every governed record and every unclaimed live
plan is evaluated. Drift is corrected attribute by attribute, deleted
plans are recreated, and results are printed as a table.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if (reconcilePlanID == "") == (!reconcileAll) {
		return fmt.Errorf("exactly one of --plan or --all must be given")
	}

	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	if reconcilePlanID != "" {
		ev, err := a.reconciler.Evaluate(ctx, reconcilePlanID)
		if err != nil {
			return fmt.Errorf("evaluation of %s failed: %w", reconcilePlanID, err)
		}
		printEvaluations([]reconciler.Evaluation{ev}, nil)
		return nil
	}

	result, err := a.reconciler.EvaluateAll(ctx)
	if err != nil {
		return fmt.Errorf("evaluation sweep failed: %w", err)
	}
	printEvaluations(result.Evaluations, result.Failures)
	return nil
}

func printEvaluations(evaluations []reconciler.Evaluation, failures map[string]error) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"IDENTITY", "CLASSIFICATION", "OUTCOME", "DETAIL"})

	sort.Slice(evaluations, func(i, j int) bool {
		return evaluations[i].Identity < evaluations[j].Identity
	})
	for _, ev := range evaluations {
		t.AppendRow(table.Row{ev.Identity, string(ev.Classification), string(ev.Outcome), evaluationDetail(ev)})
	}

	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t.AppendRow(table.Row{id, "-", "error", failures[id].Error()})
	}

	t.Render()
}

func evaluationDetail(ev reconciler.Evaluation) string {
	switch {
	case ev.NewIdentity != "":
		return fmt.Sprintf("recreated as %s", ev.NewIdentity)
	case len(ev.Failures) > 0:
		return fmt.Sprintf("%d corrected, %d failed", len(ev.Corrected), len(ev.Failures))
	case len(ev.Corrected) > 0:
		return fmt.Sprintf("%d attributes corrected", len(ev.Corrected))
	case ev.Annotation != "":
		return ev.Annotation
	default:
		return ""
	}
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcilePlanID, "plan", "", "Identity of a single usage plan to evaluate")
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "Evaluate every known usage plan")
	rootCmd.AddCommand(reconcileCmd)
}
