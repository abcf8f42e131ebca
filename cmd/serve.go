package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"plangov/internal/reconciler"
	"plangov/internal/server"
	"plangov/pkg/logging"
)

// serveSkipInitialScan disables the full evaluation sweep that normally
// runs once at startup. Useful when a large plan population would delay
// readiness of the HTTP surface.
var serveSkipInitialScan bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the governance server with background reconciliation",
	Long: `Starts the plangov HTTP server and the background reconciliation
workers. The server exposes usage-plan CRUD, reconciliation triggers,
gateway change notifications and Prometheus metrics.

On startup every known identity (governed records plus unclaimed live
plans) is queued for evaluation unless --skip-initial-scan is set.
Failed evaluations are retried with exponential backoff.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := reconciler.NewManager(a.reconciler, a.metrics, reconciler.ManagerConfig{
		WorkerCount:    a.cfg.Reconciler.WorkerCount,
		MaxRetries:     a.cfg.Reconciler.MaxRetries,
		InitialBackoff: a.cfg.Reconciler.InitialBackoff.Std(),
		MaxBackoff:     a.cfg.Reconciler.MaxBackoff.Std(),
	})
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciliation manager: %w", err)
	}
	defer func() {
		_ = mgr.Stop()
	}()

	if !serveSkipInitialScan {
		n, err := mgr.TriggerEvaluateAll(ctx)
		if err != nil {
			logging.Error("Serve", err, "Initial evaluation sweep could not be queued")
		} else {
			logging.Info("Serve", "Queued %d usage plans for evaluation", n)
		}
	}

	srv := server.New(a.manager, a.reconciler)
	logging.Info("Serve", "Listening on %s (region %s, gateway mode %s)", a.cfg.Server.Addr, a.cfg.Region, a.cfg.Gateway.Mode)
	return srv.ListenAndServe(ctx, a.cfg.Server.Addr)
}

func init() {
	serveCmd.Flags().BoolVar(&serveSkipInitialScan, "skip-initial-scan", false, "Do not queue a full evaluation sweep on startup")
	rootCmd.AddCommand(serveCmd)
}
