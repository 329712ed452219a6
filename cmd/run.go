package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run ingestion cycles continuously",
		Long: `Imports seed files, then loops: one cycle over every configured source,
a snapshot rewrite, and a rest interval. The ops server (/healthz, /readyz,
/metrics) runs alongside. Stops cleanly on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app App) error {
				if err := app.Run(cmd.Context()); err != nil {
					return fmt.Errorf("run: %w", err)
				}
				return nil
			})
		},
	}
}
