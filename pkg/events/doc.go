/*
Package events is the per-item result broker every controller in
pkg/controller publishes through: rather than a bare "catch exception,
log, continue" loop, each repository/policy/index/thaw-request handled
during a run gets one explicit Result (ok, skipped, or failed) appended to
a Report.

	report := events.NewReport()
	report.Add(events.Result{ID: repoName, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeOK})
	ok, skipped, failed := report.Counts()

The optional Broker fans Results out to subscribers as they're published,
for callers that want to react to individual results as a run progresses
rather than waiting for the final Report.
*/
package events
