package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"plangov/internal/bootstrap"
	"plangov/pkg/logging"
)

// seedImport additionally adopts live plans no governance record claims.
var seedImport bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the sample usage-plan tiers",
	Long: `Creates the five sample tiers (Free, Basic, Premium, Enterprise and
the deprecated Legacy tier) in the gateway and the governance store.
Tiers whose name already has a record are skipped, so the command can
be re-run safely.

With --import, live gateway plans no governance record claims are
adopted into the store as imported records.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	created, err := bootstrap.Seed(ctx, a.manager, a.store)
	if err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	logging.Info("Seed", "Created %d sample tier(s)", created)

	if seedImport {
		adopted, err := bootstrap.Import(ctx, a.store, a.gateway, a.cfg.Region)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		logging.Info("Seed", "Imported %d unmanaged plan(s)", len(adopted))
		for _, id := range adopted {
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", id)
		}
	}
	return nil
}

func init() {
	seedCmd.Flags().BoolVar(&seedImport, "import", false, "Adopt unmanaged live plans into the governance store")
	rootCmd.AddCommand(seedCmd)
}
