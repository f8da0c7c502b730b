package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/deepfreeze/pkg/events"
	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/metrics"
	"github.com/cuemby/deepfreeze/pkg/objectstore"
	"github.com/cuemby/deepfreeze/pkg/types"
)

// Cleanup is the expiry/retirement controller (C8): detects thawed
// repositories whose restore window has lapsed, unmounts and refreezes
// them, deletes indices orphaned by that unmount, and retires old thaw
// requests and orphaned thawed ILM policies per the configured retention.
type Cleanup struct {
	Deps
}

// NewCleanup constructs a Cleanup controller.
func NewCleanup(deps Deps) *Cleanup {
	return &Cleanup{Deps: deps}
}

// Run executes one cleanup pass.
func (c *Cleanup) Run(ctx context.Context) (*events.Report, error) {
	defer runTimer("cleanup")()
	report := events.NewReport()

	settings, err := c.Store.GetSettings(ctx)
	if err != nil {
		return report, fmt.Errorf("loading settings: %w", err)
	}

	expired, err := c.detectAndMarkExpired(ctx, settings, report)
	if err != nil {
		log.Logger.Error().Err(err).Msg("detecting expired repositories")
	}

	retiredRepos := c.retireExpired(ctx, expired, report)

	if len(retiredRepos) > 0 {
		names := make([]string, len(retiredRepos))
		for i, r := range retiredRepos {
			names[i] = r.Name
		}
		toDelete, err := indicesExclusiveToRepos(ctx, c.Cluster, names)
		if err != nil {
			log.Logger.Error().Err(err).Msg("finding indices orphaned by cleanup")
		} else {
			recordIndexDeletions(ctx, c.Cluster, report, toDelete)
		}
	}

	c.retireThawRequests(ctx, settings, report)
	c.retireOrphanedThawedPolicies(ctx, settings, report)

	return report, nil
}

// detectAndMarkExpired marks thawed repositories whose ExpiresAt has
// passed, and mounted repositories whose objects have already reverted to
// Glacier (observed directly via S3), as expired.
func (c *Cleanup) detectAndMarkExpired(ctx context.Context, settings types.Settings, report *events.Report) ([]types.Repository, error) {
	all, err := c.Registry.MatchingReposByPrefix(ctx, settings.RepoNamePrefix)
	if err != nil {
		return nil, err
	}

	now := nowUTC()
	seen := map[string]bool{}
	var expired []types.Repository

	for i := range all {
		repo := &all[i]
		if repo.ThawState == types.ThawStateThawed && repo.ExpiresAt == nil {
			log.WithRepository(repo.Name).Warn().Msg("thawed repository has no expires_at; skipping expiry check")
		}
		if repo.ThawState != types.ThawStateThawed || repo.ExpiresAt == nil || seen[repo.Name] {
			continue
		}
		if now.Before(*repo.ExpiresAt) {
			seen[repo.Name] = true
			continue
		}
		repo.MarkExpired()
		if err := c.Store.PersistRepository(ctx, repo); err != nil {
			report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		metrics.RepositoriesExpiredTotal.Inc()
		seen[repo.Name] = true
		expired = append(expired, *repo)
	}

	for i := range all {
		repo := &all[i]
		if !repo.IsMounted || seen[repo.Name] {
			continue
		}
		status, err := objectstore.CheckRestoreStatus(ctx, c.Objects, repo.Bucket, repo.BasePath)
		if err != nil {
			continue
		}
		if status.NotRestored > 0 && status.Restored == 0 && status.InProgress == 0 {
			repo.MarkExpired()
			if err := c.Store.PersistRepository(ctx, repo); err != nil {
				report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeFailed, Err: err})
				continue
			}
			metrics.RepositoriesExpiredTotal.Inc()
			seen[repo.Name] = true
			expired = append(expired, *repo)
		}
	}

	return expired, nil
}

// retireExpired unmounts every expired repository (tolerating one already
// unmounted at the cluster level) and resets it to frozen.
func (c *Cleanup) retireExpired(ctx context.Context, expired []types.Repository, report *events.Report) []types.Repository {
	var retired []types.Repository
	for i := range expired {
		repo := &expired[i]

		if mounted, err := c.Cluster.RepositoryExists(ctx, repo.Name); err == nil && mounted {
			if err := c.Cluster.DeleteRepository(ctx, repo.Name); err != nil {
				report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeFailed, Err: err})
				continue
			}
		}

		repo.ResetToFrozen()
		if err := c.Store.PersistRepository(ctx, repo); err != nil {
			report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeOK})
		retired = append(retired, *repo)
	}
	return retired
}

// retireThawRequests deletes completed/failed/refrozen requests older than
// their configured retention, and stale in-progress requests whose repos
// have all left the thawing/thawed states.
func (c *Cleanup) retireThawRequests(ctx context.Context, settings types.Settings, report *events.Report) {
	requests, err := c.Store.ListThawRequests(ctx)
	if err != nil {
		log.Logger.Error().Err(err).Msg("listing thaw requests for retirement")
		return
	}

	now := nowUTC()
	for _, req := range requests {
		ageDays := int(now.Sub(req.CreatedAt).Hours() / 24)
		shouldDelete := false
		reason := ""

		switch req.Status {
		case types.ThawRequestCompleted:
			shouldDelete = ageDays > settings.ThawRequestRetentionDaysCompleted
			reason = "completed retention exceeded"
		case types.ThawRequestFailed:
			shouldDelete = ageDays > settings.ThawRequestRetentionDaysFailed
			reason = "failed retention exceeded"
		case types.ThawRequestRefrozen:
			shouldDelete = ageDays > settings.ThawRequestRetentionDaysRefrozen
			reason = "refrozen retention exceeded"
		case types.ThawRequestInProgress:
			shouldDelete = c.allReposSettled(ctx, req.Repos)
			reason = "no active repos remain"
		}

		if !shouldDelete {
			continue
		}
		if err := c.Store.DeleteThawRequest(ctx, req.RequestID); err != nil {
			report.Add(events.Result{ID: req.RequestID, Type: events.EventThawRequestUpdated, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		report.Add(events.Result{ID: req.RequestID, Type: events.EventThawRequestUpdated, Outcome: events.OutcomeOK, Reason: reason})
		metrics.ThawRequestsRetiredTotal.Inc()
	}
}

func (c *Cleanup) allReposSettled(ctx context.Context, names []string) bool {
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		repo, err := c.Store.GetRepository(ctx, name)
		if err != nil {
			return false
		}
		if repo.ThawState == types.ThawStateThawing || repo.ThawState == types.ThawStateThawed {
			return false
		}
	}
	return true
}

// retireOrphanedThawedPolicies deletes every "<prefix>...-thawed" ILM
// policy that no longer has any index, data stream, or template
// referencing it.
func (c *Cleanup) retireOrphanedThawedPolicies(ctx context.Context, settings types.Settings, report *events.Report) {
	names, err := c.Policy.PoliciesWithSuffix(ctx, "thawed")
	if err != nil {
		log.Logger.Error().Err(err).Msg("listing thawed ilm policies")
		return
	}
	for _, name := range names {
		if !strings.HasPrefix(name, settings.RepoNamePrefix+"-") {
			continue
		}
		deleted, err := c.Policy.DeleteOrphanedPolicy(ctx, name)
		if err != nil {
			report.Add(events.Result{ID: name, Type: events.EventPolicyDeleted, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		if deleted {
			report.Add(events.Result{ID: name, Type: events.EventPolicyDeleted, Outcome: events.OutcomeOK})
			metrics.PoliciesDeletedTotal.Inc()
		}
	}
}
