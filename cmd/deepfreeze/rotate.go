package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/deepfreeze/pkg/controller"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Promote a new repository and demote everything beyond the keep-window",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		year, _ := cmd.Flags().GetInt("year")
		month, _ := cmd.Flags().GetInt("month")
		porcelain, _ := cmd.Flags().GetBool("porcelain")

		d, err := buildDeps(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer d.shutdownMetrics()

		r := controller.NewRotate(d.Deps, controller.RotateOptions{Year: year, Month: month, Keep: keep})
		report, err := r.Run(cmd.Context())
		if err != nil {
			return err
		}
		renderReport(report, porcelain)
		return nil
	},
}

func init() {
	rotateCmd.Flags().Int("keep", 0, "Repositories to keep mounted-or-frozen before demoting (default 6)")
	rotateCmd.Flags().Int("year", 0, "Year for date-style suffixes")
	rotateCmd.Flags().Int("month", 0, "Month for date-style suffixes")
	rotateCmd.Flags().Bool("porcelain", false, "Emit tab-separated machine-parseable output")
}
