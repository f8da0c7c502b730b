package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/deepfreeze/pkg/controller"
)

var refreezeCmd = &cobra.Command{
	Use:   "refreeze",
	Short: "Force thawed repositories back to Glacier ahead of their scheduled expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID, _ := cmd.Flags().GetString("thaw-request-id")
		yes, _ := cmd.Flags().GetBool("yes")
		porcelain, _ := cmd.Flags().GetBool("porcelain")

		d, err := buildDeps(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer d.shutdownMetrics()

		opts := controller.RefreezeOptions{RepoID: repoID}
		if !yes {
			opts.Confirm = confirmRefreeze
		}

		r := controller.NewRefreeze(d.Deps, opts)
		report, err := r.Run(cmd.Context())
		if err != nil {
			return err
		}
		renderReport(report, porcelain)
		return nil
	},
}

func init() {
	refreezeCmd.Flags().String("thaw-request-id", "", "Refreeze only the repositories of this thaw request and mark it refrozen, skipping the confirmation prompt")
	refreezeCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
	refreezeCmd.Flags().Bool("porcelain", false, "Emit tab-separated machine-parseable output")
}

// confirmRefreeze renders the repository/index preview and asks the
// operator to confirm before anything is deleted.
func confirmRefreeze(previews []controller.RefreezePreview) bool {
	fmt.Println("\nThe following repositories will be refrozen:")
	for _, p := range previews {
		fmt.Printf("\nRepository: %s\n", p.Repository)
		if len(p.Indices) == 0 {
			fmt.Println("  (no indices to delete)")
			continue
		}
		fmt.Println("  Indices to be deleted:")
		for _, idx := range p.Indices {
			fmt.Printf("    - %s\n", idx)
		}
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nDo you want to proceed? [y/N]: ")
	response, _ := reader.ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
