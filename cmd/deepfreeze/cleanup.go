package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/deepfreeze/pkg/controller"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reconcile drift between recorded metadata and live cluster/object state",
	RunE: func(cmd *cobra.Command, args []string) error {
		porcelain, _ := cmd.Flags().GetBool("porcelain")

		d, err := buildDeps(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer d.shutdownMetrics()

		c := controller.NewCleanup(d.Deps)
		report, err := c.Run(cmd.Context())
		if err != nil {
			return err
		}
		renderReport(report, porcelain)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Bool("porcelain", false, "Emit tab-separated machine-parseable output")
}
