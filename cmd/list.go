package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"plangov/internal/plan"
)

// listShowDeleted includes tombstoned records in the output. Tombstones
// carry the lineage pointer to their successor.
var listShowDeleted bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List governed usage plans",
	Long: `Prints the governed usage plans from the desired-state store as a
table. Tombstoned records are hidden unless --show-deleted is given.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.manager.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list usage plans: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "NAME", "TIER", "RATE", "BURST", "QUOTA", "STATE", "STAGES"})

	shown := 0
	for _, rec := range records {
		if rec.Deleted && !listShowDeleted {
			continue
		}
		t.AppendRow(table.Row{
			rec.PlanID,
			rec.Name,
			string(rec.Tier),
			rec.RateLimit,
			rec.BurstLimit,
			fmt.Sprintf("%d/%s", rec.QuotaLimit, rec.QuotaPeriod),
			recordState(rec),
			strings.Join(rec.Stages, ", "),
		})
		shown++
	}
	t.Render()
	fmt.Fprintf(os.Stdout, "%d usage plan(s)\n", shown)
	return nil
}

func recordState(rec plan.GovernanceRecord) string {
	if rec.Deleted {
		if rec.RecreatedAs != "" {
			return fmt.Sprintf("deleted -> %s", rec.RecreatedAs)
		}
		return "deleted"
	}
	return strings.ToLower(string(rec.LifecycleState))
}

func init() {
	listCmd.Flags().BoolVar(&listShowDeleted, "show-deleted", false, "Include tombstoned records")
	rootCmd.AddCommand(listCmd)
}
