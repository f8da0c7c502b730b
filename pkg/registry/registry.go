// Package registry implements the repository registry (C3): suffix
// allocation, repository name matching, and index date-range maintenance.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/statestore"
	"github.com/cuemby/deepfreeze/pkg/types"
)

// ClusterAPI is the subset of Elasticsearch snapshot/index operations the
// registry needs, narrowed for testability.
type ClusterAPI interface {
	// SnapshotRepositoryNames lists every registered snapshot repository
	// name currently known to the cluster.
	SnapshotRepositoryNames(ctx context.Context) ([]string, error)

	// IndexTimestampRange returns the min/max @timestamp values across the
	// given index pattern. ok is false when the pattern matches no index
	// or the index has no documents.
	IndexTimestampRange(ctx context.Context, indexPattern string) (min, max time.Time, ok bool, err error)
}

// Registry is the repository registry (C3).
type Registry struct {
	store   *statestore.Store
	cluster ClusterAPI
}

// New constructs a Registry.
func New(store *statestore.Store, cluster ClusterAPI) *Registry {
	return &Registry{store: store, cluster: cluster}
}

// suffixPattern matches a trailing "-<suffix>" segment shaped like either
// a zero-padded oneup integer (>=6 digits) or a YYYY.MM date stamp.
var suffixPattern = regexp.MustCompile(`-(\d{6,}|\d{4}\.\d{2})$`)

// MatchingNamesByPattern returns every snapshot repository name registered
// in the cluster whose name matches the given regular expression,
// mirroring get_matching_repo_names's regex search (distinct from
// MatchingReposByPrefix's plain prefix filter over status-index records).
func (r *Registry) MatchingNamesByPattern(ctx context.Context, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &types.InvalidConfigError{Field: "pattern", Value: pattern}
	}
	names, err := r.cluster.SnapshotRepositoryNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot repositories: %w", err)
	}
	var matched []string
	for _, name := range names {
		if re.MatchString(name) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// MatchingReposByPrefix returns every repository record in the state store
// whose name begins with prefix, mirroring get_matching_repos's plain
// str.startswith() filter (distinct from MatchingNamesByPattern's regex
// match against the live cluster's repository list).
func (r *Registry) MatchingReposByPrefix(ctx context.Context, prefix string) ([]types.Repository, error) {
	return r.store.AllRepositories(ctx, prefix, nil)
}

// NextSuffix computes the next repository-name suffix for the configured
// style. For oneup, lastSuffix is parsed as an integer and incremented,
// zero-padded to at least 6 digits; an empty or unparsable lastSuffix
// starts from 0. For date, the suffix is the given year/month formatted
// as "YYYY.MM", regardless of lastSuffix — months are never incremented
// arithmetically, they are read from the clock (or override) directly.
func NextSuffix(style types.SuffixStyle, lastSuffix string, year, month int) (string, error) {
	switch style {
	case types.SuffixStyleOneup:
		n := int64(0)
		if lastSuffix != "" {
			parsed, err := strconv.ParseInt(lastSuffix, 10, 64)
			if err != nil {
				return "", &types.InvalidConfigError{Field: "last_suffix", Value: lastSuffix}
			}
			n = parsed
		}
		n++
		s := strconv.FormatInt(n, 10)
		if len(s) < 6 {
			s = strings.Repeat("0", 6-len(s)) + s
		}
		return s, nil
	case types.SuffixStyleDate:
		return fmt.Sprintf("%04d.%02d", year, month), nil
	default:
		return "", &types.InvalidConfigError{Field: "style", Value: string(style)}
	}
}

// StripSuffix removes a trailing "-<suffix>" segment from a policy or
// repository name, returning the base name, mirroring update_ilm_policies'
// base-name extraction when versioning a policy.
func StripSuffix(name string) string {
	return suffixPattern.ReplaceAllString(name, "")
}

// UpdateRepositoryDateRange queries the cluster for the searchable-snapshot
// index backing repo (trying the bare name, then "partial-"+name, then
// "restored-"+name, matching the naming variants a mounted searchable
// snapshot index can take) and replaces (never widens) the repository's
// recorded [Start,End] range with what the cluster currently reports.
// Returns true if the record changed and was persisted.
func (r *Registry) UpdateRepositoryDateRange(ctx context.Context, repo *types.Repository) (bool, error) {
	candidates := []string{repo.Name, "partial-" + repo.Name, "restored-" + repo.Name}

	var min, max time.Time
	var found bool
	for _, candidate := range candidates {
		lo, hi, ok, err := r.cluster.IndexTimestampRange(ctx, candidate)
		if err != nil {
			log.WithRepository(repo.Name).Warn().Err(err).Str("index", candidate).Msg("checking index timestamp range")
			continue
		}
		if ok {
			min, max, found = lo, hi, true
			break
		}
	}
	if !found {
		return false, nil
	}

	changed := repo.Start == nil || repo.End == nil || !repo.Start.Equal(min) || !repo.End.Equal(max)
	if !changed {
		return false, nil
	}
	repo.Start = &min
	repo.End = &max
	if err := r.store.PersistRepository(ctx, repo); err != nil {
		return false, fmt.Errorf("persisting repository %s date range: %w", repo.Name, err)
	}
	return true, nil
}

// LatestMatchingRepo returns the lexicographically-last snapshot repository
// name matching pattern, used by Rotate to identify the repository it is
// rotating away from.
func (r *Registry) LatestMatchingRepo(ctx context.Context, pattern string) (string, error) {
	names, err := r.MatchingNamesByPattern(ctx, pattern)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	latest := names[0]
	for _, n := range names[1:] {
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}
