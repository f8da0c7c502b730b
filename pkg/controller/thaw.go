package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/deepfreeze/pkg/cluster"
	"github.com/cuemby/deepfreeze/pkg/events"
	"github.com/cuemby/deepfreeze/pkg/health"
	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/metrics"
	"github.com/cuemby/deepfreeze/pkg/objectstore"
	"github.com/cuemby/deepfreeze/pkg/types"
	"github.com/google/uuid"
)

func clusterRepoSettingsFromRepo(repo *types.Repository, settings types.Settings) cluster.RepositorySettings {
	return cluster.RepositorySettings{
		Bucket:       repo.Bucket,
		BasePath:     repo.BasePath,
		CannedACL:    settings.CannedACL,
		StorageClass: settings.StorageClass,
	}
}

// ThawOptions configures a Thaw invocation.
type ThawOptions struct {
	StartDate, EndDate time.Time
	Sync               bool
	DurationDays       int32
	RetrievalTier      types.RetrievalTier
	PollInterval       time.Duration
	MaxPollAttempts    int
}

// Thaw is the thaw controller (C7): restores the repositories overlapping
// a date range from Glacier, either waiting synchronously for the restore
// and mount, or returning a request ID to poll later.
type Thaw struct {
	Deps
	opts ThawOptions
}

// NewThaw constructs a Thaw controller, filling in the documented poll
// defaults (30s interval, 1200 attempts = 10 hours) when unset.
func NewThaw(deps Deps, opts ThawOptions) *Thaw {
	if opts.PollInterval == 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.MaxPollAttempts == 0 {
		opts.MaxPollAttempts = 1200
	}
	if opts.RetrievalTier == "" {
		opts.RetrievalTier = types.RetrievalTierStandard
	}
	if opts.DurationDays == 0 {
		opts.DurationDays = 7
	}
	return &Thaw{Deps: deps, opts: opts}
}

// Run initiates (or, in sync mode, completes) a thaw of every repository
// whose recorded date range overlaps [StartDate, EndDate].
func (t *Thaw) Run(ctx context.Context) (*events.Report, error) {
	defer runTimer("thaw")()
	report := events.NewReport()

	repos, err := t.Store.FindRepositoriesOverlapping(ctx, t.opts.StartDate.Format(time.RFC3339), t.opts.EndDate.Format(time.RFC3339))
	if err != nil {
		return report, fmt.Errorf("finding repositories for date range: %w", err)
	}
	if len(repos) == 0 {
		return report, nil
	}

	var initiated []types.Repository
	for i := range repos {
		repo := &repos[i]
		if repo.IsThawed && repo.IsMounted {
			report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryThawed, Outcome: events.OutcomeSkipped, Reason: "already thawed and mounted"})
			continue
		}
		if err := t.initiateThaw(ctx, repo); err != nil {
			report.Add(events.Result{ID: repo.Name, Type: events.EventObjectRestored, Outcome: events.OutcomeFailed, Err: err})
			metrics.ThawRequestsTotal.WithLabelValues(string(events.OutcomeFailed)).Inc()
			continue
		}
		report.Add(events.Result{ID: repo.Name, Type: events.EventObjectRestored, Outcome: events.OutcomeOK})
		initiated = append(initiated, *repo)
	}

	if len(initiated) == 0 {
		return report, nil
	}

	if t.opts.Sync {
		t.runSync(ctx, initiated, report)
		return report, nil
	}

	requestID := uuid.NewString()
	names := make([]string, len(initiated))
	for i, r := range initiated {
		names[i] = r.Name
	}
	req := types.ThawRequest{
		RequestID: requestID,
		Status:    types.ThawRequestInProgress,
		CreatedAt: nowUTC(),
		StartDate: &t.opts.StartDate,
		EndDate:   &t.opts.EndDate,
		Repos:     names,
	}
	if err := t.Store.SaveThawRequest(ctx, req); err != nil {
		return report, fmt.Errorf("saving thaw request: %w", err)
	}
	metrics.ThawRequestsTotal.WithLabelValues(string(events.OutcomeOK)).Inc()
	report.Add(events.Result{ID: requestID, Type: events.EventThawRequestUpdated, Outcome: events.OutcomeOK, Reason: "in_progress"})
	return report, nil
}

// initiateThaw restores every object under a repository's bucket/base_path
// and records the expected expiry on the repository record.
func (t *Thaw) initiateThaw(ctx context.Context, repo *types.Repository) error {
	objects, err := t.Objects.ListObjects(ctx, repo.Bucket, objectstore.NormalizePrefix(repo.BasePath))
	if err != nil {
		return fmt.Errorf("listing objects in %s: %w", repo.Name, err)
	}
	for _, obj := range objects {
		if err := t.Objects.RestoreObject(ctx, repo.Bucket, obj.Key, t.opts.DurationDays, t.opts.RetrievalTier); err != nil {
			return fmt.Errorf("restoring object %s: %w", obj.Key, err)
		}
	}
	metrics.ObjectsRestoredTotal.WithLabelValues(string(t.opts.RetrievalTier)).Add(float64(len(objects)))

	expiresAt := nowUTC().AddDate(0, 0, int(t.opts.DurationDays))
	repo.StartThawing(expiresAt)
	return t.Store.PersistRepository(ctx, repo)
}

// runSync polls restore status for each initiated repository up to
// MaxPollAttempts times, mounting and marking thawed those that complete.
// A repository that does not complete within that budget is reported as
// skipped and left in the thawing state; sync mode records no thaw request
// for it.
func (t *Thaw) runSync(ctx context.Context, repos []types.Repository, report *events.Report) {
	for i := range repos {
		repo := &repos[i]
		completed := t.waitForRestore(ctx, repo)
		metrics.ThawPollsTotal.Inc()

		if !completed {
			report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryThawed, Outcome: events.OutcomeSkipped, Reason: "restore did not complete within poll budget"})
			continue
		}

		if err := t.mount(ctx, repo); err != nil {
			report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryThawed, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryThawed, Outcome: events.OutcomeOK})
	}
}

// restoreChecker adapts a repository's restore status to health.Checker so
// waitForRestore can drive it through the same consecutive-failure
// threshold model the health package uses for container checks: here
// "unhealthy" means "not yet restored", and the threshold is the poll
// budget rather than a liveness cutoff.
type restoreChecker struct {
	objects objectstore.Store
	repo    *types.Repository
}

func (c *restoreChecker) Type() health.CheckType { return health.CheckTypeExec }

func (c *restoreChecker) Check(ctx context.Context) health.Result {
	start := time.Now()
	status, err := objectstore.CheckRestoreStatus(ctx, c.objects, c.repo.Bucket, c.repo.BasePath)
	if err != nil {
		return health.Result{Healthy: false, Message: err.Error(), CheckedAt: time.Now(), Duration: time.Since(start)}
	}
	return health.Result{Healthy: status.Complete(), CheckedAt: time.Now(), Duration: time.Since(start)}
}

func (t *Thaw) waitForRestore(ctx context.Context, repo *types.Repository) bool {
	checker := &restoreChecker{objects: t.Objects, repo: repo}
	cfg := health.Config{Interval: t.opts.PollInterval, Retries: t.opts.MaxPollAttempts}
	status := health.NewStatus()

	for attempt := 0; attempt < t.opts.MaxPollAttempts; attempt++ {
		result := checker.Check(ctx)
		if !result.Healthy && result.Message != "" {
			log.WithRepository(repo.Name).Warn().Str("detail", result.Message).Msg("checking restore status")
		}
		status.Update(result, cfg)
		if result.Healthy {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(t.opts.PollInterval):
		}
	}
	return false
}

// CheckStatus re-checks an async thaw request's restore progress, mounting
// any repository whose objects have finished restoring, and marks the
// request completed once every referenced repository is mounted.
func (t *Thaw) CheckStatus(ctx context.Context, requestID string) (*events.Report, error) {
	report := events.NewReport()

	req, err := t.Store.GetThawRequest(ctx, requestID)
	if err != nil {
		return report, fmt.Errorf("fetching thaw request %s: %w", requestID, err)
	}

	allComplete := true
	for _, name := range req.Repos {
		repo, err := t.Store.GetRepository(ctx, name)
		if err != nil {
			report.Add(events.Result{ID: name, Type: events.EventRepositoryThawed, Outcome: events.OutcomeFailed, Err: err})
			allComplete = false
			continue
		}
		if repo.IsMounted {
			continue
		}

		status, err := objectstore.CheckRestoreStatus(ctx, t.Objects, repo.Bucket, repo.BasePath)
		metrics.ThawPollsTotal.Inc()
		if err != nil {
			report.Add(events.Result{ID: name, Type: events.EventRepositoryThawed, Outcome: events.OutcomeFailed, Err: err})
			allComplete = false
			continue
		}
		if !status.Complete() {
			report.Add(events.Result{ID: name, Type: events.EventRepositoryThawed, Outcome: events.OutcomeSkipped, Reason: "restore still in progress"})
			allComplete = false
			continue
		}

		if err := t.mount(ctx, &repo); err != nil {
			report.Add(events.Result{ID: name, Type: events.EventRepositoryThawed, Outcome: events.OutcomeFailed, Err: err})
			allComplete = false
			continue
		}
		report.Add(events.Result{ID: name, Type: events.EventRepositoryThawed, Outcome: events.OutcomeOK})
	}

	if allComplete {
		if err := t.Store.UpdateThawRequest(ctx, requestID, types.ThawRequestCompleted, nil); err != nil {
			return report, fmt.Errorf("marking thaw request %s completed: %w", requestID, err)
		}
		report.Add(events.Result{ID: requestID, Type: events.EventThawRequestUpdated, Outcome: events.OutcomeOK, Reason: "completed"})
	}
	return report, nil
}

// mount registers the repository with the cluster and marks it thawed,
// mirroring thaw.py's mount_repo + MarkThawed sequence.
func (t *Thaw) mount(ctx context.Context, repo *types.Repository) error {
	settings, err := t.Store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if err := t.Cluster.CreateRepository(ctx, repo.Name, clusterRepoSettingsFromRepo(repo, settings)); err != nil {
		return fmt.Errorf("mounting repository %s: %w", repo.Name, err)
	}
	repo.MarkThawed(nowUTC())
	return t.Store.PersistRepository(ctx, repo)
}
