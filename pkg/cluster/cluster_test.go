package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/deepfreeze/pkg/escli"
)

// fakeDoer is an in-memory escli.Doer backing the handful of snapshot and
// index operations Cluster drives.
type fakeDoer struct {
	repos   map[string]bool
	indices map[string]bool
	// snapshotsByRepo maps repository name to the indices its snapshots
	// reference, for AllIndicesInRepo.
	snapshotsByRepo map[string][]string
	timestamps      map[string][2]string // index -> [min, max]
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{
		repos:           map[string]bool{},
		indices:         map[string]bool{},
		snapshotsByRepo: map[string][]string{},
		timestamps:      map[string][2]string{},
	}
}

func (f *fakeDoer) Do(ctx context.Context, req esapi.Request) (*escli.Response, error) {
	switch r := req.(type) {
	case esapi.SnapshotCreateRepositoryRequest:
		f.repos[r.Repository] = true
		return &escli.Response{StatusCode: 200}, nil

	case esapi.SnapshotDeleteRepositoryRequest:
		for _, name := range r.Repository {
			delete(f.repos, name)
		}
		return &escli.Response{StatusCode: 200}, nil

	case esapi.SnapshotGetRepositoryRequest:
		if len(r.Repository) == 0 {
			body, _ := json.Marshal(f.reposMap())
			return &escli.Response{StatusCode: 200, Body: body}, nil
		}
		name := r.Repository[0]
		if !f.repos[name] {
			return &escli.Response{StatusCode: 404}, nil
		}
		body, _ := json.Marshal(map[string]any{name: map[string]any{}})
		return &escli.Response{StatusCode: 200, Body: body}, nil

	case esapi.IndicesExistsRequest:
		if f.indices[r.Index[0]] {
			return &escli.Response{StatusCode: 200}, nil
		}
		return &escli.Response{StatusCode: 404}, nil

	case esapi.IndicesDeleteRequest:
		for _, idx := range r.Index {
			delete(f.indices, idx)
		}
		return &escli.Response{StatusCode: 200}, nil

	case esapi.SnapshotGetRequest:
		indices, ok := f.snapshotsByRepo[r.Repository]
		if !ok {
			return &escli.Response{StatusCode: 404}, nil
		}
		result := struct {
			Snapshots []struct {
				Indices []string `json:"indices"`
			} `json:"snapshots"`
		}{}
		result.Snapshots = append(result.Snapshots, struct {
			Indices []string `json:"indices"`
		}{Indices: indices})
		body, _ := json.Marshal(result)
		return &escli.Response{StatusCode: 200, Body: body}, nil

	case esapi.SearchRequest:
		pair, ok := f.timestamps[r.Index[0]]
		if !ok {
			return &escli.Response{StatusCode: 200, Body: []byte(`{"aggregations":{}}`)}, nil
		}
		result := map[string]any{
			"aggregations": map[string]any{
				"min_ts": map[string]any{"value_as_string": pair[0]},
				"max_ts": map[string]any{"value_as_string": pair[1]},
			},
		}
		body, _ := json.Marshal(result)
		return &escli.Response{StatusCode: 200, Body: body}, nil
	}
	return &escli.Response{StatusCode: 200}, nil
}

func (f *fakeDoer) reposMap() map[string]any {
	out := map[string]any{}
	for name := range f.repos {
		out[name] = map[string]any{}
	}
	return out
}

func TestCreateAndDeleteRepository(t *testing.T) {
	doer := newFakeDoer()
	c := New(doer)

	require.NoError(t, c.CreateRepository(context.Background(), "deepfreeze-000001", RepositorySettings{Bucket: "b", BasePath: "p"}))
	exists, err := c.RepositoryExists(context.Background(), "deepfreeze-000001")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.DeleteRepository(context.Background(), "deepfreeze-000001"))
	exists, err = c.RepositoryExists(context.Background(), "deepfreeze-000001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSnapshotRepositoryNames(t *testing.T) {
	doer := newFakeDoer()
	doer.repos["deepfreeze-000001"] = true
	doer.repos["deepfreeze-000002"] = true
	c := New(doer)

	names, err := c.SnapshotRepositoryNames(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"deepfreeze-000001", "deepfreeze-000002"}, names)
}

func TestIndexExistsAndDelete(t *testing.T) {
	doer := newFakeDoer()
	doer.indices["logs-000001"] = true
	c := New(doer)

	exists, err := c.IndexExists(context.Background(), "logs-000001")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.DeleteIndex(context.Background(), "logs-000001"))
	exists, err = c.IndexExists(context.Background(), "logs-000001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAllIndicesInRepo(t *testing.T) {
	doer := newFakeDoer()
	doer.snapshotsByRepo["deepfreeze-000001"] = []string{"logs-000001", "logs-000002", "logs-000001"}
	c := New(doer)

	indices, err := c.AllIndicesInRepo(context.Background(), "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs-000001", "logs-000002"}, indices)
}

func TestAllIndicesInRepoMissing(t *testing.T) {
	c := New(newFakeDoer())
	indices, err := c.AllIndicesInRepo(context.Background(), "no-such-repo")
	require.NoError(t, err)
	assert.Nil(t, indices)
}

func TestIndexTimestampRange(t *testing.T) {
	doer := newFakeDoer()
	doer.indices["logs-000001"] = true
	doer.timestamps["logs-000001"] = [2]string{"2026-01-01T00:00:00Z", "2026-01-31T00:00:00Z"}
	c := New(doer)

	min, max, ok, err := c.IndexTimestampRange(context.Background(), "logs-000001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), min)
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), max)
}

func TestIndexTimestampRangeMissingIndex(t *testing.T) {
	c := New(newFakeDoer())
	_, _, ok, err := c.IndexTimestampRange(context.Background(), "no-such-index")
	require.NoError(t, err)
	assert.False(t, ok)
}
