package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single ingestion cycle and exit",
		Long: `Imports seed files, runs one cycle over every configured source, rewrites
the snapshot, and prints the cycle report as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app App) error {
				report, err := app.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				return nil
			})
		},
	}
}
