package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/deepfreeze/pkg/types"
)

type fakeCluster struct {
	repoNames     []string
	repoNamesErr  error
	timestampMin  time.Time
	timestampMax  time.Time
	timestampOK   bool
	timestampErr  error
}

func (f *fakeCluster) SnapshotRepositoryNames(ctx context.Context) ([]string, error) {
	return f.repoNames, f.repoNamesErr
}

func (f *fakeCluster) IndexTimestampRange(ctx context.Context, indexPattern string) (time.Time, time.Time, bool, error) {
	return f.timestampMin, f.timestampMax, f.timestampOK, f.timestampErr
}

func TestNextSuffixOneup(t *testing.T) {
	tests := []struct {
		name       string
		lastSuffix string
		want       string
	}{
		{"first rotation", "", "000001"},
		{"increments", "000007", "000008"},
		{"grows past six digits", "999999", "1000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextSuffix(types.SuffixStyleOneup, tt.lastSuffix, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextSuffixOneupInvalidLastSuffix(t *testing.T) {
	_, err := NextSuffix(types.SuffixStyleOneup, "not-a-number", 0, 0)
	assert.Error(t, err)
	assert.IsType(t, &types.InvalidConfigError{}, err)
}

func TestNextSuffixDateIgnoresLastSuffix(t *testing.T) {
	got, err := NextSuffix(types.SuffixStyleDate, "2025.12", 2026, 1)
	require.NoError(t, err)
	assert.Equal(t, "2026.01", got)
}

func TestNextSuffixUnknownStyle(t *testing.T) {
	_, err := NextSuffix(types.SuffixStyle("bogus"), "", 0, 0)
	assert.Error(t, err)
}

func TestStripSuffix(t *testing.T) {
	tests := []struct{ in, want string }{
		{"deepfreeze-000007", "deepfreeze"},
		{"deepfreeze-ilm-000007", "deepfreeze-ilm"},
		{"deepfreeze-2026.01", "deepfreeze"},
		{"deepfreeze", "deepfreeze"},
		{"short-1", "short-1"}, // below the 6-digit minimum, left alone
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripSuffix(tt.in))
	}
}

func TestMatchingNamesByPattern(t *testing.T) {
	cluster := &fakeCluster{repoNames: []string{"deepfreeze-000001", "deepfreeze-000002", "other-repo"}}
	r := New(nil, cluster)

	matched, err := r.MatchingNamesByPattern(context.Background(), "^deepfreeze-")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"deepfreeze-000001", "deepfreeze-000002"}, matched)
}

func TestMatchingNamesByPatternInvalidRegex(t *testing.T) {
	r := New(nil, &fakeCluster{})
	_, err := r.MatchingNamesByPattern(context.Background(), "(unterminated")
	assert.Error(t, err)
	assert.IsType(t, &types.InvalidConfigError{}, err)
}

func TestLatestMatchingRepo(t *testing.T) {
	cluster := &fakeCluster{repoNames: []string{"deepfreeze-000002", "deepfreeze-000010", "deepfreeze-000001"}}
	r := New(nil, cluster)

	latest, err := r.LatestMatchingRepo(context.Background(), "^deepfreeze-")
	require.NoError(t, err)
	// Lexicographic; the zero padding makes "000010" sort after "000002".
	assert.Equal(t, "deepfreeze-000010", latest)
}

func TestLatestMatchingRepoNoMatches(t *testing.T) {
	r := New(nil, &fakeCluster{repoNames: nil})
	latest, err := r.LatestMatchingRepo(context.Background(), "^deepfreeze-")
	require.NoError(t, err)
	assert.Equal(t, "", latest)
}
