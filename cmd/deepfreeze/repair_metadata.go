package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/deepfreeze/pkg/controller"
)

var repairMetadataCmd = &cobra.Command{
	Use:   "repair-metadata",
	Short: "Reconcile recorded thaw state against actual object-store storage class",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		porcelain, _ := cmd.Flags().GetBool("porcelain")

		d, err := buildDeps(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer d.shutdownMetrics()

		m := controller.NewRepairMetadata(d.Deps, controller.RepairMetadataOptions{DryRun: dryRun})
		summary, _, err := m.Run(cmd.Context())
		if err != nil {
			return err
		}
		renderRepairSummary(summary, porcelain)
		return nil
	},
}

func init() {
	repairMetadataCmd.Flags().Bool("dry-run", false, "Report discrepancies without correcting them")
	repairMetadataCmd.Flags().Bool("porcelain", false, "Emit machine-parseable summary lines")
}

func renderRepairSummary(summary *controller.RepairMetadataSummary, porcelain bool) {
	if porcelain {
		fmt.Printf("TOTAL=%d\n", summary.TotalRepos)
		fmt.Printf("CORRECT=%d\n", summary.Correct)
		fmt.Printf("DISCREPANCIES=%d\n", len(summary.Discrepancies))
		fmt.Printf("FIXED=%d\n", summary.Fixed)
		fmt.Printf("FAILED=%d\n", summary.Failed)
		for _, name := range summary.Errors {
			fmt.Printf("ERROR\t%s\n", name)
		}
		return
	}

	fmt.Printf("scanned %d repositories: %d correct, %d discrepancies\n", summary.TotalRepos, summary.Correct, len(summary.Discrepancies))
	for _, d := range summary.Discrepancies {
		fmt.Printf("  %-28s recorded=%-10s actual=%-10s mounted=%v\n", d.Repository, d.MetadataState, d.ActualStorage, d.Mounted)
	}
	if len(summary.Errors) > 0 {
		fmt.Printf("\n%d repositories could not be classified:\n", len(summary.Errors))
		for _, name := range summary.Errors {
			fmt.Printf("  %s\n", name)
		}
	}
	if summary.Fixed > 0 || summary.Failed > 0 {
		fmt.Printf("\n%d fixed, %d failed\n", summary.Fixed, summary.Failed)
	}
}
