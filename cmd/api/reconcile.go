package main

import (
	"fmt"

	"atlas/api/internal/app"
	"atlas/api/internal/config"
	"atlas/api/internal/store"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Point metadata at the newest commit of each scope",
	Long: `Scans every scope configuration and moves its metadata to the newest
commit in the content store. Repairs saves whose content was written but whose
metadata update failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(cfg config.Config, db *store.PostgresStore) error {
			ctx := cmd.Context()
			// Reconcile compares against the host's own log, never a cached page.
			content, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			publisher, err := openPublisher(cfg)
			if err != nil {
				return err
			}
			defer publisher.Close()

			report, err := app.New(cfg, db, content, publisher).Reconcile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d, repaired %d, failed %d\n", report.Checked, report.Repaired, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d scope(s) could not be reconciled", report.Failed)
			}
			return nil
		})
	},
}
