package controller

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuemby/deepfreeze/pkg/cluster"
	"github.com/cuemby/deepfreeze/pkg/events"
	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/metrics"
	"github.com/cuemby/deepfreeze/pkg/objectstore"
	"github.com/cuemby/deepfreeze/pkg/registry"
	"github.com/cuemby/deepfreeze/pkg/types"
)

// defaultKeep mirrors rotate.py's default retention window: the most
// recent 6 repositories matching the prefix stay mounted/untouched.
const defaultKeep = 6

// RotateOptions configures a Rotate invocation.
type RotateOptions struct {
	Year, Month int // only consulted when Style == date

	// Keep is how many of the most recent repositories (by name, sorted
	// descending) are left alone; every older one is a demotion
	// candidate. Zero falls back to defaultKeep.
	Keep int
}

// Rotate is the rotation controller (C6): mints the next repository,
// versions every referencing ILM policy onto it, retargets templates, and
// demotes every repository beyond the keep-window to cold storage.
type Rotate struct {
	Deps
	opts RotateOptions
}

// NewRotate constructs a Rotate controller.
func NewRotate(deps Deps, opts RotateOptions) *Rotate {
	if opts.Keep == 0 {
		opts.Keep = defaultKeep
	}
	return &Rotate{Deps: deps, opts: opts}
}

// Run executes one rotation: allocates the next repository, versions
// referencing ILM policies and templates onto it, updates the recorded date
// range of every repository matching the prefix, demotes every repository
// beyond the keep-window to cold storage and unmounts it, and finishes with
// a cleanup pass.
func (r *Rotate) Run(ctx context.Context) (*events.Report, error) {
	defer runTimer("rotate")()
	report := events.NewReport()

	settings, err := r.Store.GetSettings(ctx)
	if err != nil {
		metrics.RotationsTotal.WithLabelValues(string(events.OutcomeFailed)).Inc()
		return report, fmt.Errorf("loading settings: %w", err)
	}

	oldRepoPattern := "^" + settings.RepoNamePrefix
	oldRepoName, err := r.Registry.LatestMatchingRepo(ctx, oldRepoPattern)
	if err != nil {
		metrics.RotationsTotal.WithLabelValues(string(events.OutcomeFailed)).Inc()
		return report, fmt.Errorf("finding current repository: %w", err)
	}
	if oldRepoName == "" {
		metrics.RotationsTotal.WithLabelValues(string(events.OutcomeFailed)).Inc()
		return report, &types.RepositoryError{Msg: "no existing repository matches prefix; run setup first"}
	}

	referencing, err := r.Policy.PoliciesReferencing(ctx, oldRepoName)
	if err != nil {
		metrics.RotationsTotal.WithLabelValues(string(events.OutcomeFailed)).Inc()
		return report, fmt.Errorf("checking policies referencing %s: %w", oldRepoName, err)
	}
	if len(referencing) == 0 {
		metrics.RotationsTotal.WithLabelValues(string(events.OutcomeFailed)).Inc()
		return report, &types.PreconditionError{Action: "rotate", Issues: []types.Issue{{
			Problem:  fmt.Sprintf("no lifecycle policy references the latest repository %q", oldRepoName),
			Solution: "attach a searchable_snapshot lifecycle policy to the latest repository before rotating",
		}}}
	}
	basePolicyNames := dedupeBaseNames(referencing)

	suffix, err := registry.NextSuffix(settings.Style, settings.LastSuffix, r.opts.Year, r.opts.Month)
	if err != nil {
		metrics.RotationsTotal.WithLabelValues(string(events.OutcomeFailed)).Inc()
		return report, err
	}
	newRepoName := fmt.Sprintf("%s-%s", settings.RepoNamePrefix, suffix)

	// Defensive check before anything is created: the new repository name
	// must not already be registered.
	if exists, err := r.Cluster.RepositoryExists(ctx, newRepoName); err != nil {
		return report, fmt.Errorf("checking new repository %s: %w", newRepoName, err)
	} else if exists {
		return report, &types.RepositoryError{Repository: newRepoName, Msg: "already exists"}
	}

	bucketName := settings.BucketNamePrefix
	basePath := fmt.Sprintf("%s-%s", settings.BasePathPrefix, suffix)
	if settings.RotateBy == types.RotateByBucket {
		bucketName = fmt.Sprintf("%s-%s", settings.BucketNamePrefix, suffix)
		basePath = settings.BasePathPrefix
		if err := r.Objects.CreateBucket(ctx, bucketName); err != nil {
			return report, fmt.Errorf("creating bucket %s: %w", bucketName, err)
		}
	}

	if err := r.Cluster.CreateRepository(ctx, newRepoName, cluster.RepositorySettings{
		Bucket:       bucketName,
		BasePath:     basePath,
		CannedACL:    settings.CannedACL,
		StorageClass: settings.StorageClass,
	}); err != nil {
		return report, fmt.Errorf("creating repository %s: %w", newRepoName, err)
	}
	newRepo := types.NewRepository(newRepoName, bucketName, basePath)
	if err := r.Store.PersistRepository(ctx, &newRepo); err != nil {
		return report, fmt.Errorf("persisting new repository record: %w", err)
	}
	report.Add(events.Result{ID: newRepoName, Type: events.EventRepositoryMounted, Outcome: events.OutcomeOK})

	settings.LastSuffix = suffix
	if err := r.Store.SaveSettings(ctx, settings); err != nil {
		return report, fmt.Errorf("saving updated settings: %w", err)
	}

	allRepos, err := r.Registry.MatchingReposByPrefix(ctx, settings.RepoNamePrefix)
	if err != nil {
		return report, fmt.Errorf("listing repositories matching prefix: %w", err)
	}
	for i := range allRepos {
		repo := &allRepos[i]
		if changed, err := r.Registry.UpdateRepositoryDateRange(ctx, repo); err != nil {
			log.WithRepository(repo.Name).Warn().Err(err).Msg("updating repository date range")
		} else if changed {
			report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryMounted, Outcome: events.OutcomeOK, Reason: "date range updated"})
		}
	}

	r.versionPolicies(ctx, basePolicyNames, newRepoName, suffix, report)

	r.demoteBeyondKeep(ctx, allRepos, newRepoName, report)

	cleanupReport, err := NewCleanup(r.Deps).Run(ctx)
	if err != nil {
		log.Logger.Error().Err(err).Msg("cleanup reaper invoked from rotate")
	} else {
		report.Results = append(report.Results, cleanupReport.Results...)
	}

	metrics.RotationsTotal.WithLabelValues(string(events.OutcomeOK)).Inc()
	return report, nil
}

// dedupeBaseNames strips the trailing "-<suffix>" segment from each
// policy name and returns the unique base names, mirroring
// update_ilm_policies' base-name extraction before re-versioning.
func dedupeBaseNames(names []string) []string {
	seen := map[string]bool{}
	var bases []string
	for _, name := range names {
		base := registry.StripSuffix(name)
		if seen[base] {
			continue
		}
		seen[base] = true
		bases = append(bases, base)
	}
	return bases
}

// versionPolicies creates a versioned copy of each base ILM policy
// currently referencing the outgoing repository and retargets any
// template pointing at it onto the new version.
func (r *Rotate) versionPolicies(ctx context.Context, basePolicyNames []string, newRepoName, suffix string, report *events.Report) {
	for _, base := range basePolicyNames {
		newPolicy, err := r.Policy.CreateVersionedPolicy(ctx, base, newRepoName, suffix)
		if err != nil {
			report.Add(events.Result{ID: base, Type: events.EventPolicyVersioned, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		report.Add(events.Result{ID: newPolicy, Type: events.EventPolicyVersioned, Outcome: events.OutcomeOK})
		metrics.PoliciesVersionedTotal.Inc()

		retargeted, err := r.Policy.RetargetTemplates(ctx, base, newPolicy)
		if err != nil {
			report.Add(events.Result{ID: base, Type: events.EventTemplateRetargeted, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		for _, tmpl := range retargeted {
			report.Add(events.Result{ID: tmpl, Type: events.EventTemplateRetargeted, Outcome: events.OutcomeOK})
			metrics.TemplatesRetargetedTotal.Inc()
		}
	}
}

// demoteBeyondKeep sorts every repository matching the prefix (except the
// brand new one, which is always kept and does not count toward Keep)
// descending by name and demotes
// every repository past the keep-window: unmounts it, pushes its objects
// to Glacier, resets it to frozen, and deletes any policy sharing its
// suffix that is no longer referenced. A repository whose thaw state is
// thawing or thawed is skipped -- and per rotate.py's is_thawed guard, a
// repository whose thaw state can't be freshly confirmed is also treated
// as thawed and skipped, rather than risking an unmount of live data.
func (r *Rotate) demoteBeyondKeep(ctx context.Context, repos []types.Repository, newRepoName string, report *events.Report) {
	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		if repo.Name != newRepoName {
			names = append(names, repo.Name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if len(names) <= r.opts.Keep {
		return
	}

	for _, name := range names[r.opts.Keep:] {
		repo, err := r.Store.GetRepository(ctx, name)
		if err != nil {
			log.WithRepository(name).Warn().Err(err).Msg("confirming thaw state before demotion; treating as thawed")
			report.Add(events.Result{ID: name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeSkipped, Reason: "could not confirm thaw state"})
			continue
		}
		if repo.ThawState == types.ThawStateThawing || repo.ThawState == types.ThawStateThawed {
			report.Add(events.Result{ID: name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeSkipped, Reason: "repository is thawed"})
			continue
		}

		if err := r.demoteAndUnmount(ctx, &repo); err != nil {
			report.Add(events.Result{ID: name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		report.Add(events.Result{ID: name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeOK})
		metrics.RepositoriesDemotedTotal.Inc()

		r.cleanupSuffixPolicies(ctx, repo.Suffix(), report)
	}
}

// cleanupSuffixPolicies deletes every policy sharing suffix that is no
// longer referenced by any index, data stream, or template.
func (r *Rotate) cleanupSuffixPolicies(ctx context.Context, suffix string, report *events.Report) {
	if suffix == "" {
		return
	}
	names, err := r.Policy.PoliciesWithSuffix(ctx, suffix)
	if err != nil {
		log.Logger.Warn().Err(err).Str("suffix", suffix).Msg("listing policies by suffix")
		return
	}
	for _, name := range names {
		deleted, err := r.Policy.DeleteOrphanedPolicy(ctx, name)
		if err != nil {
			report.Add(events.Result{ID: name, Type: events.EventPolicyDeleted, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		if deleted {
			report.Add(events.Result{ID: name, Type: events.EventPolicyDeleted, Outcome: events.OutcomeOK})
			metrics.PoliciesDeletedTotal.Inc()
		} else {
			report.Add(events.Result{ID: name, Type: events.EventPolicyDeleted, Outcome: events.OutcomeSkipped, Reason: "still in use"})
		}
	}
}

// demoteAndUnmount pushes every object in repo to the GLACIER storage
// class, unmounts it from the cluster, and persists it as frozen.
func (r *Rotate) demoteAndUnmount(ctx context.Context, repo *types.Repository) error {
	objects, err := r.Objects.ListObjects(ctx, repo.Bucket, objectstore.NormalizePrefix(repo.BasePath))
	if err != nil {
		return fmt.Errorf("listing objects in %s: %w", repo.Name, err)
	}
	for _, obj := range objects {
		if err := r.Objects.CopyObjectInPlace(ctx, repo.Bucket, obj.Key, "GLACIER"); err != nil {
			return fmt.Errorf("demoting object %s: %w", obj.Key, err)
		}
	}

	if mounted, err := r.Cluster.RepositoryExists(ctx, repo.Name); err == nil && mounted {
		if err := r.Cluster.DeleteRepository(ctx, repo.Name); err != nil {
			return fmt.Errorf("unmounting repository %s: %w", repo.Name, err)
		}
	}

	repo.ResetToFrozen()
	return r.Store.PersistRepository(ctx, repo)
}

