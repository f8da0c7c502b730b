package statestore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/deepfreeze/pkg/escli"
	"github.com/cuemby/deepfreeze/pkg/types"
)

// fakeDoer is an in-memory escli.Doer backing one status index: a settings
// doc, a set of repository docs keyed by generated ID, and a set of
// thaw-request docs keyed by request ID.
type fakeDoer struct {
	indexMissing bool
	settings     *types.Settings
	repos        map[string]types.Repository
	thawReqs     map[string]types.ThawRequest
	nextID       int
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{
		repos:    map[string]types.Repository{},
		thawReqs: map[string]types.ThawRequest{},
	}
}

func readBody(r io.Reader) []byte {
	if r == nil {
		return nil
	}
	b, _ := io.ReadAll(r)
	return b
}

func (f *fakeDoer) Do(ctx context.Context, req esapi.Request) (*escli.Response, error) {
	switch r := req.(type) {
	case esapi.IndicesExistsRequest:
		if f.indexMissing {
			return &escli.Response{StatusCode: 404}, nil
		}
		return &escli.Response{StatusCode: 200}, nil

	case esapi.IndicesCreateRequest:
		f.indexMissing = false
		return &escli.Response{StatusCode: 200}, nil

	case esapi.GetRequest:
		if r.DocumentID == types.SettingsID {
			if f.settings == nil {
				return &escli.Response{StatusCode: 404}, nil
			}
			body, _ := json.Marshal(map[string]any{"_source": f.settings})
			return &escli.Response{StatusCode: 200, Body: body}, nil
		}
		if tr, ok := f.thawReqs[r.DocumentID]; ok {
			body, _ := json.Marshal(map[string]any{"_source": tr})
			return &escli.Response{StatusCode: 200, Body: body}, nil
		}
		return &escli.Response{StatusCode: 404}, nil

	case esapi.IndexRequest:
		if r.DocumentID == types.SettingsID {
			var s types.Settings
			_ = json.Unmarshal(readBody(r.Body), &s)
			f.settings = &s
			return &escli.Response{StatusCode: 200}, nil
		}
		if r.DocumentID != "" {
			var tr types.ThawRequest
			_ = json.Unmarshal(readBody(r.Body), &tr)
			f.thawReqs[r.DocumentID] = tr
			return &escli.Response{StatusCode: 200}, nil
		}
		f.nextID++
		id := "generated-" + itoa(f.nextID)
		var repo types.Repository
		_ = json.Unmarshal(readBody(r.Body), &repo)
		repo.DocID = id
		f.repos[id] = repo
		body, _ := json.Marshal(map[string]any{"_id": id})
		return &escli.Response{StatusCode: 201, Body: body}, nil

	case esapi.UpdateRequest:
		var wrapper struct {
			Doc json.RawMessage `json:"doc"`
		}
		_ = json.Unmarshal(readBody(r.Body), &wrapper)
		if existing, ok := f.repos[r.DocumentID]; ok {
			var patch map[string]any
			_ = json.Unmarshal(wrapper.Doc, &patch)
			merged, _ := json.Marshal(existing)
			var existingMap map[string]any
			_ = json.Unmarshal(merged, &existingMap)
			for k, v := range patch {
				existingMap[k] = v
			}
			remarshaled, _ := json.Marshal(existingMap)
			var updated types.Repository
			_ = json.Unmarshal(remarshaled, &updated)
			updated.DocID = r.DocumentID
			f.repos[r.DocumentID] = updated
			return &escli.Response{StatusCode: 200}, nil
		}
		if _, ok := f.thawReqs[r.DocumentID]; ok {
			var patch struct {
				Status types.ThawRequestStatus `json:"status"`
				Repos  []string                 `json:"repos"`
			}
			_ = json.Unmarshal(wrapper.Doc, &patch)
			tr := f.thawReqs[r.DocumentID]
			if patch.Status != "" {
				tr.Status = patch.Status
			}
			if patch.Repos != nil {
				tr.Repos = patch.Repos
			}
			f.thawReqs[r.DocumentID] = tr
			return &escli.Response{StatusCode: 200}, nil
		}
		return &escli.Response{StatusCode: 404}, nil

	case esapi.DeleteRequest:
		if _, ok := f.thawReqs[r.DocumentID]; ok {
			delete(f.thawReqs, r.DocumentID)
			return &escli.Response{StatusCode: 200}, nil
		}
		return &escli.Response{StatusCode: 404}, nil

	case esapi.SearchRequest:
		body := readBody(r.Body)
		if bytes.Contains(body, []byte(types.DoctypeThawRequest)) {
			return f.searchThawRequests()
		}
		return f.searchRepos(body)
	}
	return nil, nil
}

func (f *fakeDoer) searchRepos(query []byte) (*escli.Response, error) {
	type hit struct {
		ID     string           `json:"_id"`
		Source types.Repository `json:"_source"`
	}
	var hits []hit
	// "name" match queries (GetRepository) carry the exact name; detect via
	// substring search against each candidate repo's name.
	for id, repo := range f.repos {
		if bytes.Contains(query, []byte(`"match"`)) && !bytes.Contains(query, []byte(repo.Name)) {
			continue
		}
		hits = append(hits, hit{ID: id, Source: repo})
	}
	resp := struct {
		Hits struct {
			Hits []hit `json:"hits"`
		} `json:"hits"`
	}{}
	resp.Hits.Hits = hits
	body, _ := json.Marshal(resp)
	return &escli.Response{StatusCode: 200, Body: body}, nil
}

func (f *fakeDoer) searchThawRequests() (*escli.Response, error) {
	type hit struct {
		ID     string          `json:"_id"`
		Source types.ThawRequest `json:"_source"`
	}
	var hits []hit
	for id, tr := range f.thawReqs {
		hits = append(hits, hit{ID: id, Source: tr})
	}
	resp := struct {
		Hits struct {
			Hits []hit `json:"hits"`
		} `json:"hits"`
	}{}
	resp.Hits.Hits = hits
	body, _ := json.Marshal(resp)
	return &escli.Response{StatusCode: 200, Body: body}, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestGetSettingsMissingIndex(t *testing.T) {
	doer := newFakeDoer()
	doer.indexMissing = true
	s := New(doer, "deepfreeze-status")

	_, err := s.GetSettings(context.Background())
	assert.IsType(t, &types.MissingIndexError{}, err)
}

func TestSaveAndGetSettings(t *testing.T) {
	doer := newFakeDoer()
	s := New(doer, "deepfreeze-status")

	want := types.DefaultSettings()
	want.RepoNamePrefix = "deepfreeze"
	require.NoError(t, s.SaveSettings(context.Background(), want))

	got, err := s.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deepfreeze", got.RepoNamePrefix)
}

func TestPersistRepositoryCreateThenUpdate(t *testing.T) {
	doer := newFakeDoer()
	s := New(doer, "deepfreeze-status")

	repo := types.NewRepository("deepfreeze-000001", "bucket", "snapshots-000001")
	require.NoError(t, s.PersistRepository(context.Background(), &repo))
	assert.NotEmpty(t, repo.DocID)

	repo.ThawState = types.ThawStateFrozen
	require.NoError(t, s.PersistRepository(context.Background(), &repo))

	assert.Equal(t, types.ThawStateFrozen, doer.repos[repo.DocID].ThawState)
}

func TestGetRepositoryNotFoundReturnsBareRecord(t *testing.T) {
	doer := newFakeDoer()
	s := New(doer, "deepfreeze-status")

	repo, err := s.GetRepository(context.Background(), "deepfreeze-000099")
	require.NoError(t, err)
	assert.Equal(t, "deepfreeze-000099", repo.Name)
	assert.Empty(t, repo.DocID)
}

func TestAllRepositoriesFiltersByPrefix(t *testing.T) {
	doer := newFakeDoer()
	doer.repos["a"] = types.NewRepository("deepfreeze-000001", "bucket", "snapshots-000001")
	doer.repos["b"] = types.NewRepository("other-prefix-000001", "bucket", "snapshots-x")
	s := New(doer, "deepfreeze-status")

	repos, err := s.AllRepositories(context.Background(), "deepfreeze", nil)
	require.NoError(t, err)
	assert.Len(t, repos, 1)
	assert.Equal(t, "deepfreeze-000001", repos[0].Name)
}

func TestThawRequestLifecycle(t *testing.T) {
	doer := newFakeDoer()
	s := New(doer, "deepfreeze-status")

	req := types.ThawRequest{RequestID: "req-1", Status: types.ThawRequestInProgress, Repos: []string{"deepfreeze-000001"}}
	require.NoError(t, s.SaveThawRequest(context.Background(), req))

	got, err := s.GetThawRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.ThawRequestInProgress, got.Status)

	require.NoError(t, s.UpdateThawRequest(context.Background(), "req-1", types.ThawRequestCompleted, nil))
	got, err = s.GetThawRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.ThawRequestCompleted, got.Status)

	all, err := s.ListThawRequests(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteThawRequest(context.Background(), "req-1"))
	all, err = s.ListThawRequests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}
