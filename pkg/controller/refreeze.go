package controller

import (
	"context"
	"fmt"

	"github.com/cuemby/deepfreeze/pkg/events"
	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/metrics"
	"github.com/cuemby/deepfreeze/pkg/objectstore"
	"github.com/cuemby/deepfreeze/pkg/types"
)

// RefreezePreview is one repository's candidate refreeze work, surfaced to
// a confirmation callback before anything is deleted.
type RefreezePreview struct {
	Repository string
	Indices    []string
}

// RefreezeOptions configures a Refreeze invocation.
type RefreezeOptions struct {
	// RepoID is a thaw request ID that scopes refreeze to the repositories
	// of that request; the request is then marked refrozen. When empty,
	// every thawed-and-mounted repository matching the configured prefix
	// is refrozen.
	RepoID string

	// Confirm is consulted once, with a preview of every repository and
	// the indices that would be deleted, before any mutation happens. It
	// is skipped entirely when RepoID is set, mirroring refreeze.py's
	// rule that an explicitly-named thaw request needs no prompt.
	// A nil Confirm always proceeds (suitable for non-interactive callers
	// that already decided, e.g. a --yes flag at the CLI layer).
	Confirm func(previews []RefreezePreview) bool
}

// Refreeze is the early-refreeze controller: forces thawed repositories
// back to Glacier ahead of their scheduled expiry, deleting the live
// indices that hold their searchable-snapshot data (the S3 snapshots
// themselves are untouched) and pushing the objects back to cold storage.
type Refreeze struct {
	Deps
	opts RefreezeOptions
}

// NewRefreeze constructs a Refreeze controller.
func NewRefreeze(deps Deps, opts RefreezeOptions) *Refreeze {
	return &Refreeze{Deps: deps, opts: opts}
}

// reposToProcess returns every thawed-and-mounted repository matching the
// configured prefix, or, when opts.RepoID names a thaw request, only those
// that belong to that request.
func (r *Refreeze) reposToProcess(ctx context.Context, prefix string) ([]types.Repository, error) {
	all, err := r.Registry.MatchingReposByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var thawed []types.Repository
	for _, repo := range all {
		if repo.IsThawed && repo.IsMounted {
			thawed = append(thawed, repo)
		}
	}

	if r.opts.RepoID == "" {
		return thawed, nil
	}
	req, err := r.Store.GetThawRequest(ctx, r.opts.RepoID)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(req.Repos))
	for _, name := range req.Repos {
		wanted[name] = true
	}
	var selected []types.Repository
	for _, repo := range thawed {
		if wanted[repo.Name] {
			selected = append(selected, repo)
		}
	}
	return selected, nil
}

// indicesToDelete returns the indices referenced by repo's snapshots that
// still exist in the cluster and are not also held by a snapshot in any
// other repository.
func (r *Refreeze) indicesToDelete(ctx context.Context, repo types.Repository) []string {
	toDelete, err := indicesExclusiveToRepos(ctx, r.Cluster, []string{repo.Name})
	if err != nil {
		log.WithRepository(repo.Name).Warn().Err(err).Msg("finding indices exclusive to repository")
		return nil
	}
	return toDelete
}

// Run refreezes every matching thawed repository: deletes its indices,
// unmounts it, and pushes its objects back to Glacier.
func (r *Refreeze) Run(ctx context.Context) (*events.Report, error) {
	defer runTimer("refreeze")()
	report := events.NewReport()

	settings, err := r.Store.GetSettings(ctx)
	if err != nil {
		return report, fmt.Errorf("loading settings: %w", err)
	}

	repos, err := r.reposToProcess(ctx, settings.RepoNamePrefix)
	if err != nil {
		return report, fmt.Errorf("finding thawed repositories: %w", err)
	}
	if len(repos) == 0 {
		return report, nil
	}

	previews := make([]RefreezePreview, 0, len(repos))
	perRepoIndices := make(map[string][]string, len(repos))
	for _, repo := range repos {
		indices := r.indicesToDelete(ctx, repo)
		perRepoIndices[repo.Name] = indices
		previews = append(previews, RefreezePreview{Repository: repo.Name, Indices: indices})
	}

	if r.opts.RepoID == "" && r.opts.Confirm != nil && !r.opts.Confirm(previews) {
		report.Add(events.Result{ID: "refreeze", Type: events.EventRepositoryDemoted, Outcome: events.OutcomeSkipped, Reason: "cancelled by operator"})
		return report, nil
	}

	for i := range repos {
		repo := repos[i]
		if err := r.refreezeOne(ctx, &repo, perRepoIndices[repo.Name]); err != nil {
			report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeFailed, Err: err})
			log.WithRepository(repo.Name).Error().Err(err).Msg("refreezing repository")
			continue
		}
		report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeOK})
		metrics.RepositoriesDemotedTotal.Inc()
	}

	if r.opts.RepoID != "" {
		if err := r.Store.UpdateThawRequest(ctx, r.opts.RepoID, types.ThawRequestRefrozen, nil); err != nil {
			report.Add(events.Result{ID: r.opts.RepoID, Type: events.EventThawRequestUpdated, Outcome: events.OutcomeFailed, Err: err})
		} else {
			report.Add(events.Result{ID: r.opts.RepoID, Type: events.EventThawRequestUpdated, Outcome: events.OutcomeOK})
		}
	}

	return report, nil
}

// refreezeOne deletes repo's snapshot-referenced indices, unmounts it,
// pushes its objects back to Glacier, and marks it refrozen -- not a full
// ResetToFrozen, since a forced early refreeze preserves ThawedAt/ExpiresAt
// history and recorded lifecycle state rather than resetting them the way
// the scheduled cleanup path does.
func (r *Refreeze) refreezeOne(ctx context.Context, repo *types.Repository, indices []string) error {
	for _, idx := range indices {
		if err := r.Cluster.DeleteIndex(ctx, idx); err != nil {
			log.WithRepository(repo.Name).Error().Err(err).Str("index", idx).Msg("deleting index")
			continue
		}
		metrics.IndicesDeletedTotal.Inc()
	}

	if mounted, err := r.Cluster.RepositoryExists(ctx, repo.Name); err == nil && mounted {
		if err := r.Cluster.DeleteRepository(ctx, repo.Name); err != nil {
			return fmt.Errorf("unmounting repository %s: %w", repo.Name, err)
		}
	}

	objects, err := r.Objects.ListObjects(ctx, repo.Bucket, objectstore.NormalizePrefix(repo.BasePath))
	if err != nil {
		return fmt.Errorf("listing objects in %s: %w", repo.Name, err)
	}
	for _, obj := range objects {
		if err := r.Objects.CopyObjectInPlace(ctx, repo.Bucket, obj.Key, "GLACIER"); err != nil {
			return fmt.Errorf("demoting object %s: %w", obj.Key, err)
		}
	}

	repo.MarkRefrozen()
	return r.Store.PersistRepository(ctx, repo)
}
