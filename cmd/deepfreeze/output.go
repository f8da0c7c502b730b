package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/deepfreeze/pkg/events"
	"github.com/cuemby/deepfreeze/pkg/types"
)

// renderReport prints a controller run report either as rich grouped
// panels (default) or as tab-separated porcelain records, one per result.
func renderReport(report *events.Report, porcelain bool) {
	if report == nil {
		return
	}
	if porcelain {
		for _, res := range report.Results {
			detail := res.Reason
			if res.Err != nil {
				detail = res.Err.Error()
			}
			fmt.Printf("%s\t%s\t%s\t%s\n", res.Outcome, res.Type, res.ID, detail)
		}
		return
	}

	ok, skipped, failed := report.Counts()
	for _, res := range report.Results {
		switch res.Outcome {
		case events.OutcomeOK:
			fmt.Printf("  [ok]      %-28s %s\n", res.Type, res.ID)
		case events.OutcomeSkipped:
			fmt.Printf("  [skip]    %-28s %s (%s)\n", res.Type, res.ID, res.Reason)
		case events.OutcomeFailed:
			fmt.Printf("  [failed]  %-28s %s: %v\n", res.Type, res.ID, res.Err)
		}
	}
	fmt.Printf("\n%d ok, %d skipped, %d failed\n", ok, skipped, failed)
}

// renderError prints a precondition error as "issue + solution" panels
// when possible, falling back to a plain message otherwise.
func renderError(err error) {
	var precond *types.PreconditionError
	if errors.As(err, &precond) {
		fmt.Fprintf(os.Stderr, "preconditions failed for %s:\n", precond.Action)
		for _, issue := range precond.Issues {
			fmt.Fprintf(os.Stderr, "  issue:    %s\n", issue.Problem)
			fmt.Fprintf(os.Stderr, "  solution: %s\n\n", issue.Solution)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
