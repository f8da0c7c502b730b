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

// Discrepancy is one repository whose recorded thaw_state disagrees with
// its actual S3 storage-class mix.
type Discrepancy struct {
	Repository    string
	MetadataState types.ThawState
	ActualStorage types.MetadataClass
	Mounted       bool
}

// RepairMetadataOptions configures a RepairMetadata invocation.
type RepairMetadataOptions struct {
	// DryRun reports discrepancies without correcting them.
	DryRun bool
}

// RepairMetadataSummary reports what one repair-metadata pass found and
// fixed.
type RepairMetadataSummary struct {
	TotalRepos    int
	Correct       int
	Discrepancies []Discrepancy
	Errors        []string
	Fixed         int
	Failed        int
}

// RepairMetadata scans every recorded repository, compares its recorded
// thaw_state against the storage class its objects actually carry in the
// object store, and corrects drift: a repository wholly in Glacier is
// reset to frozen; a repository recorded frozen but actually in an
// instant-access class is reset to active. Mixed or empty storage is
// reported but never auto-corrected, since neither state alone proves
// what the repository should be.
type RepairMetadata struct {
	Deps
	opts RepairMetadataOptions
}

// NewRepairMetadata constructs a RepairMetadata controller.
func NewRepairMetadata(deps Deps, opts RepairMetadataOptions) *RepairMetadata {
	return &RepairMetadata{Deps: deps, opts: opts}
}

// Run scans every repository, classifies its actual storage, and -- unless
// DryRun -- corrects any drift found.
func (m *RepairMetadata) Run(ctx context.Context) (*RepairMetadataSummary, *events.Report, error) {
	defer runTimer("repair-metadata")()
	report := events.NewReport()
	summary := &RepairMetadataSummary{}

	repos, err := m.Store.AllRepositories(ctx, "", nil)
	if err != nil {
		return summary, report, fmt.Errorf("listing repositories: %w", err)
	}
	summary.TotalRepos = len(repos)

	for i := range repos {
		repo := repos[i]
		if repo.Bucket == "" || repo.BasePath == "" {
			continue
		}

		class, err := m.classify(ctx, repo.Bucket, repo.BasePath)
		if err != nil {
			summary.Errors = append(summary.Errors, repo.Name)
			report.Add(events.Result{ID: repo.Name, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeFailed, Err: err})
			continue
		}
		metrics.MetadataDriftDetectedTotal.WithLabelValues(string(class)).Inc()

		expectedFrozen := repo.ThawState == types.ThawStateFrozen
		actuallyFrozen := class == types.MetadataClassGlacier
		if expectedFrozen == actuallyFrozen {
			summary.Correct++
			continue
		}

		summary.Discrepancies = append(summary.Discrepancies, Discrepancy{
			Repository:    repo.Name,
			MetadataState: repo.ThawState,
			ActualStorage: class,
			Mounted:       repo.IsMounted,
		})
	}

	if m.opts.DryRun || len(summary.Discrepancies) == 0 {
		return summary, report, nil
	}

	for _, d := range summary.Discrepancies {
		if d.ActualStorage == types.MetadataClassMixed || d.ActualStorage == types.MetadataClassEmpty {
			log.WithRepository(d.Repository).Warn().Str("storage", string(d.ActualStorage)).Msg("mixed or empty storage; not auto-correcting")
			continue
		}
		if err := m.fix(ctx, d); err != nil {
			summary.Failed++
			report.Add(events.Result{ID: d.Repository, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeFailed, Err: err})
			log.WithRepository(d.Repository).Error().Err(err).Msg("fixing metadata drift")
			continue
		}
		summary.Fixed++
		metrics.MetadataDriftFixedTotal.Inc()
		report.Add(events.Result{ID: d.Repository, Type: events.EventRepositoryDemoted, Outcome: events.OutcomeOK})
	}

	return summary, report, nil
}

// classify pages through the repository's objects and reduces their
// storage classes to a single MetadataClass.
func (m *RepairMetadata) classify(ctx context.Context, bucket, basePath string) (types.MetadataClass, error) {
	objects, err := m.Objects.ListObjects(ctx, bucket, objectstore.NormalizePrefix(basePath))
	if err != nil {
		return "", err
	}
	return objectstore.ClassifyStorage(objects), nil
}

// fix corrects one discrepancy in the state store. GLACIER storage with a
// non-frozen record resets to frozen; STANDARD storage recorded as frozen
// resets to active. MIXED/EMPTY are left alone -- neither proves a
// direction to correct in, only that a rotation or thaw is mid-flight.
func (m *RepairMetadata) fix(ctx context.Context, d Discrepancy) error {
	switch d.ActualStorage {
	case types.MetadataClassGlacier:
		repo, err := m.Store.GetRepository(ctx, d.Repository)
		if err != nil {
			return err
		}
		repo.ResetToFrozen()
		return m.Store.PersistRepository(ctx, &repo)
	case types.MetadataClassStandard:
		if d.MetadataState != types.ThawStateFrozen {
			return nil
		}
		repo, err := m.Store.GetRepository(ctx, d.Repository)
		if err != nil {
			return err
		}
		repo.ResetToActive()
		return m.Store.PersistRepository(ctx, &repo)
	default:
		log.WithRepository(d.Repository).Warn().Str("storage", string(d.ActualStorage)).Msg("skipping repository with mixed or empty storage")
		return nil
	}
}
