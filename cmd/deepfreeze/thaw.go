package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/deepfreeze/pkg/controller"
	"github.com/cuemby/deepfreeze/pkg/types"
)

var thawCmd = &cobra.Command{
	Use:   "thaw",
	Short: "Restore repositories overlapping a date range from Glacier",
	RunE: func(cmd *cobra.Command, args []string) error {
		checkStatusID, _ := cmd.Flags().GetString("check-status")
		list, _ := cmd.Flags().GetBool("list")
		porcelain, _ := cmd.Flags().GetBool("porcelain")

		d, err := buildDeps(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer d.shutdownMetrics()

		if list {
			return runThawList(cmd, d)
		}
		if checkStatusID != "" {
			return runThawCheckStatus(cmd, d, checkStatusID, porcelain)
		}
		return runThawInitiate(cmd, d, porcelain)
	},
}

func init() {
	thawCmd.Flags().String("start-date", "", "Start of the date range to thaw (YYYY-MM-DD or RFC3339)")
	thawCmd.Flags().String("end-date", "", "End of the date range to thaw (YYYY-MM-DD or RFC3339)")
	thawCmd.Flags().Bool("sync", false, "Wait for the restore to complete and mount each repository before returning")
	thawCmd.Flags().Int32("duration", 7, "Number of days the restored copy stays available")
	thawCmd.Flags().String("retrieval-tier", "Standard", "Glacier retrieval tier: Standard, Expedited, or Bulk")
	thawCmd.Flags().String("check-status", "", "Poll an existing thaw request by ID")
	thawCmd.Flags().Bool("list", false, "List thaw requests")
	thawCmd.Flags().Bool("porcelain", false, "Emit tab-separated machine-parseable output")
}

func parseDateFlag(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, &types.InvalidConfigError{Field: "date", Value: value}
	}
	return t, nil
}

func runThawInitiate(cmd *cobra.Command, d *deps, porcelain bool) error {
	startStr, _ := cmd.Flags().GetString("start-date")
	endStr, _ := cmd.Flags().GetString("end-date")
	if startStr == "" || endStr == "" {
		return &types.InvalidConfigError{Field: "start-date/end-date", Value: "both are required unless --check-status or --list is given"}
	}
	start, err := parseDateFlag(startStr)
	if err != nil {
		return err
	}
	end, err := parseDateFlag(endStr)
	if err != nil {
		return err
	}

	sync, _ := cmd.Flags().GetBool("sync")
	duration, _ := cmd.Flags().GetInt32("duration")
	tier, _ := cmd.Flags().GetString("retrieval-tier")

	t := controller.NewThaw(d.Deps, controller.ThawOptions{
		StartDate:     start,
		EndDate:       end,
		Sync:          sync,
		DurationDays:  duration,
		RetrievalTier: types.RetrievalTier(tier),
	})
	report, err := t.Run(cmd.Context())
	if err != nil {
		return err
	}
	renderReport(report, porcelain)
	return nil
}

func runThawCheckStatus(cmd *cobra.Command, d *deps, requestID string, porcelain bool) error {
	t := controller.NewThaw(d.Deps, controller.ThawOptions{})
	report, err := t.CheckStatus(cmd.Context(), requestID)
	if err != nil {
		return err
	}
	renderReport(report, porcelain)
	return nil
}

func runThawList(cmd *cobra.Command, d *deps) error {
	requests, err := d.Store.ListThawRequests(cmd.Context())
	if err != nil {
		return err
	}
	for _, req := range requests {
		fmt.Printf("%s\t%s\t%s\t%s\n", req.RequestID, req.Status, req.CreatedAt.Format(time.RFC3339), strings.Join(req.Repos, ","))
	}
	return nil
}
