// Package controller implements the lifecycle controllers (C5-C8 plus
// setup/refreeze/repair-metadata): the orchestration layer that drives the
// object store, state store, registry, and policy mutator through one
// archival lifecycle operation and returns a run report.
package controller

import (
	"context"
	"time"

	"github.com/cuemby/deepfreeze/pkg/cluster"
	"github.com/cuemby/deepfreeze/pkg/events"
	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/metrics"
	"github.com/cuemby/deepfreeze/pkg/objectstore"
	"github.com/cuemby/deepfreeze/pkg/policy"
	"github.com/cuemby/deepfreeze/pkg/registry"
	"github.com/cuemby/deepfreeze/pkg/statestore"
)

// Deps bundles the components every controller is built from.
type Deps struct {
	Store    *statestore.Store
	Registry *registry.Registry
	Policy   *policy.Policy
	Objects  objectstore.Store
	Cluster  *cluster.Cluster
}

// runTimer times a controller invocation and records it under the given
// controller label when it completes.
func runTimer(name string) func() {
	timer := metrics.NewTimer()
	return func() {
		timer.ObserveDurationVec(metrics.ControllerRunDuration, name)
	}
}

// recordIndexDeletions deletes each index in names, adding one result per
// index to report and incrementing the indices-deleted counter on success.
func recordIndexDeletions(ctx context.Context, cl *cluster.Cluster, report *events.Report, names []string) {
	for _, name := range names {
		if err := cl.DeleteIndex(ctx, name); err != nil {
			report.Add(events.Result{ID: name, Type: events.EventIndexDeleted, Outcome: events.OutcomeFailed, Err: err})
			log.Logger.Error().Err(err).Str("index", name).Msg("deleting index")
			continue
		}
		report.Add(events.Result{ID: name, Type: events.EventIndexDeleted, Outcome: events.OutcomeOK})
		metrics.IndicesDeletedTotal.Inc()
	}
}

// indicesExclusiveToRepos returns every index referenced by snapshots in
// repoNames that is NOT also referenced by a snapshot in some other
// registered repository, and that currently exists in the cluster —
// mirroring cleanup.py/refreeze.py's "only delete if no other repo holds a
// snapshot of this index" rule.
func indicesExclusiveToRepos(ctx context.Context, cl *cluster.Cluster, repoNames []string) ([]string, error) {
	cleanupSet := make(map[string]bool, len(repoNames))
	for _, name := range repoNames {
		cleanupSet[name] = true
	}

	candidateSet := map[string]bool{}
	for _, name := range repoNames {
		indices, err := cl.AllIndicesInRepo(ctx, name)
		if err != nil {
			log.Logger.Warn().Err(err).Str("repository", name).Msg("listing indices in repository")
			continue
		}
		for _, idx := range indices {
			candidateSet[idx] = true
		}
	}
	if len(candidateSet) == 0 {
		return nil, nil
	}

	allRepoNames, err := cl.SnapshotRepositoryNames(ctx)
	if err != nil {
		return nil, err
	}
	var otherRepos []string
	for _, name := range allRepoNames {
		if !cleanupSet[name] {
			otherRepos = append(otherRepos, name)
		}
	}

	var toDelete []string
	for idx := range candidateSet {
		exists, err := cl.IndexExists(ctx, idx)
		if err != nil || !exists {
			continue
		}
		heldElsewhere := false
		for _, other := range otherRepos {
			indices, err := cl.AllIndicesInRepo(ctx, other)
			if err != nil {
				continue
			}
			for _, held := range indices {
				if held == idx {
					heldElsewhere = true
					break
				}
			}
			if heldElsewhere {
				break
			}
		}
		if !heldElsewhere {
			toDelete = append(toDelete, idx)
		}
	}
	return toDelete, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
