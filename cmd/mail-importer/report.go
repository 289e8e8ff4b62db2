package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/google/mail-importer/internal/ledger"
	"github.com/google/mail-importer/internal/report"
)

func newReportCmd(a *app) *cobra.Command {
	var runID, jsonOut string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the outcomes of an import run from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Ledger == "" {
				return fmt.Errorf("no ledger configured")
			}
			store, err := ledger.Open(a.cfg.Ledger)
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := report.Build(cmd.Context(), store, runID)
			if err != nil {
				return fmt.Errorf("build report: %w", err)
			}
			if err := report.PrintHuman(rep, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("print report: %w", err)
			}
			if jsonOut == "" {
				return nil
			}
			if err := report.WriteJSON(rep, jsonOut); err != nil {
				return fmt.Errorf("write json: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to report on (default latest)")
	cmd.Flags().StringVar(&jsonOut, "json", "", "also write the report as JSON to this relative path")
	return cmd
}
