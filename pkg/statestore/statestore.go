// Package statestore implements the state store (C2): all lifecycle
// documents (settings, repository, thaw_request) live in one cluster-side
// index, discriminated by doctype.
package statestore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"

	"github.com/cuemby/deepfreeze/pkg/escli"
	"github.com/cuemby/deepfreeze/pkg/types"
)

// Store is the state store (C2), backed by a single Elasticsearch index.
type Store struct {
	client escli.Doer
	index  string
}

// New constructs a Store bound to the given status index name (normally
// types.StatusIndex).
func New(client escli.Doer, index string) *Store {
	if index == "" {
		index = types.StatusIndex
	}
	return &Store{client: client, index: index}
}

// EnsureIndex checks (and, if createIfMissing, creates) the status index.
func (s *Store) EnsureIndex(ctx context.Context, createIfMissing bool) error {
	exists, err := s.indexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !createIfMissing {
		return &types.MissingIndexError{Index: s.index}
	}
	req := esapi.IndicesCreateRequest{Index: s.index}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("creating status index: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("creating status index: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (s *Store) indexExists(ctx context.Context) (bool, error) {
	req := esapi.IndicesExistsRequest{Index: []string{s.index}}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("checking status index existence: %w", err)
	}
	return resp.StatusCode == 200, nil
}

// GetSettings fetches the singleton settings document. Returns
// MissingSettingsError if the index exists but the document does not.
func (s *Store) GetSettings(ctx context.Context) (types.Settings, error) {
	exists, err := s.indexExists(ctx)
	if err != nil {
		return types.Settings{}, err
	}
	if !exists {
		return types.Settings{}, &types.MissingIndexError{Index: s.index}
	}

	req := esapi.GetRequest{Index: s.index, DocumentID: types.SettingsID}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return types.Settings{}, fmt.Errorf("fetching settings: %w", err)
	}
	if resp.StatusCode == 404 {
		return types.Settings{}, &types.MissingSettingsError{}
	}
	if resp.StatusCode >= 300 {
		return types.Settings{}, fmt.Errorf("fetching settings: status %d: %s", resp.StatusCode, resp.Body)
	}

	var hit struct {
		Source types.Settings `json:"_source"`
	}
	if err := json.Unmarshal(resp.Body, &hit); err != nil {
		return types.Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	return hit.Source, nil
}

// SaveSettings upserts the singleton settings document.
func (s *Store) SaveSettings(ctx context.Context, settings types.Settings) error {
	settings.Doctype = types.DoctypeSettings
	body, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: types.SettingsID,
		Body:       bytes.NewReader(body),
	}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("saving settings: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

type repoHit struct {
	ID     string            `json:"_id"`
	Source types.Repository  `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []repoHit `json:"hits"`
	} `json:"hits"`
}

// GetRepository fetches a repository by name, returning a bare (unsaved)
// record rather than an error when no document matches — mirroring the
// original get_repository's "not found -> fresh Repository" behavior.
func (s *Store) GetRepository(ctx context.Context, name string) (types.Repository, error) {
	query := map[string]any{
		"query": map[string]any{"match": map[string]any{"name": name}},
		"size":  1,
	}
	body, _ := json.Marshal(query)
	req := esapi.SearchRequest{Index: []string{s.index}, Body: bytes.NewReader(body)}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return types.Repository{}, fmt.Errorf("searching for repository %s: %w", name, err)
	}
	if resp.StatusCode == 404 {
		return types.NewRepository(name, "", ""), nil
	}
	if resp.StatusCode >= 300 {
		return types.Repository{}, fmt.Errorf("searching for repository %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}

	var sr searchResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return types.Repository{}, fmt.Errorf("decoding repository search: %w", err)
	}
	for _, hit := range sr.Hits.Hits {
		if hit.Source.Name == name {
			repo := hit.Source
			repo.DocID = hit.ID
			repo.Normalize()
			return repo, nil
		}
	}
	bare := types.NewRepository(name, "", "")
	bare.ThawState = types.ThawStateFrozen
	return bare, nil
}

// AllRepositories lists repositories matching prefix, optionally filtered
// by mount state. mounted == nil means "don't filter by mount state".
func (s *Store) AllRepositories(ctx context.Context, prefix string, mounted *bool) ([]types.Repository, error) {
	query := map[string]any{
		"query": map[string]any{"term": map[string]any{"doctype": types.DoctypeRepository}},
		"size":  10000,
	}
	body, _ := json.Marshal(query)
	req := esapi.SearchRequest{Index: []string{s.index}, Body: bytes.NewReader(body)}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	if resp.StatusCode == 404 {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing repositories: status %d: %s", resp.StatusCode, resp.Body)
	}

	var sr searchResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return nil, fmt.Errorf("decoding repository list: %w", err)
	}

	var out []types.Repository
	for _, hit := range sr.Hits.Hits {
		repo := hit.Source
		repo.DocID = hit.ID
		repo.Normalize()
		if prefix != "" && !strings.HasPrefix(repo.Name, prefix) {
			continue
		}
		if mounted != nil && repo.IsMounted != *mounted {
			continue
		}
		out = append(out, repo)
	}
	return out, nil
}

// FindRepositoriesOverlapping returns repositories whose [Start,End] range
// overlaps [start,end]: repo.start <= end && repo.end >= start.
func (s *Store) FindRepositoriesOverlapping(ctx context.Context, start, end string) ([]types.Repository, error) {
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{
					{"term": map[string]any{"doctype": types.DoctypeRepository}},
					{"range": map[string]any{"start": map[string]any{"lte": end}}},
					{"range": map[string]any{"end": map[string]any{"gte": start}}},
				},
			},
		},
		"size": 10000,
	}
	body, _ := json.Marshal(query)
	req := esapi.SearchRequest{Index: []string{s.index}, Body: bytes.NewReader(body)}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("finding overlapping repositories: %w", err)
	}
	if resp.StatusCode == 404 {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("finding overlapping repositories: status %d: %s", resp.StatusCode, resp.Body)
	}

	var sr searchResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return nil, fmt.Errorf("decoding overlap search: %w", err)
	}
	var out []types.Repository
	for _, hit := range sr.Hits.Hits {
		repo := hit.Source
		repo.DocID = hit.ID
		repo.Normalize()
		out = append(out, repo)
	}
	return out, nil
}

// PersistRepository upserts a repository record. When DocID is empty
// (a brand-new record), it is created with an auto-generated ID;
// otherwise it is updated in place.
func (s *Store) PersistRepository(ctx context.Context, repo *types.Repository) error {
	repo.Doctype = types.DoctypeRepository
	body, err := json.Marshal(repo)
	if err != nil {
		return fmt.Errorf("encoding repository %s: %w", repo.Name, err)
	}

	if repo.DocID == "" {
		req := esapi.IndexRequest{Index: s.index, Body: bytes.NewReader(body)}
		resp, err := s.client.Do(ctx, req)
		if err != nil {
			return fmt.Errorf("creating repository %s: %w", repo.Name, err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("creating repository %s: status %d: %s", repo.Name, resp.StatusCode, resp.Body)
		}
		var created struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(resp.Body, &created); err == nil {
			repo.DocID = created.ID
		}
		return nil
	}

	req := esapi.UpdateRequest{
		Index:      s.index,
		DocumentID: repo.DocID,
		Body:       bytes.NewReader(wrapDoc(body)),
	}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("updating repository %s: %w", repo.Name, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("updating repository %s: status %d: %s", repo.Name, resp.StatusCode, resp.Body)
	}
	return nil
}

func wrapDoc(body []byte) []byte {
	out, _ := json.Marshal(map[string]json.RawMessage{"doc": body})
	return out
}

// SaveThawRequest creates a new thaw-request document keyed by request ID.
func (s *Store) SaveThawRequest(ctx context.Context, req types.ThawRequest) error {
	req.Doctype = types.DoctypeThawRequest
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding thaw request %s: %w", req.RequestID, err)
	}
	esReq := esapi.IndexRequest{Index: s.index, DocumentID: req.RequestID, Body: bytes.NewReader(body)}
	resp, err := s.client.Do(ctx, esReq)
	if err != nil {
		return fmt.Errorf("saving thaw request %s: %w", req.RequestID, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("saving thaw request %s: status %d: %s", req.RequestID, resp.StatusCode, resp.Body)
	}
	return nil
}

// GetThawRequest fetches a thaw request by ID.
func (s *Store) GetThawRequest(ctx context.Context, requestID string) (types.ThawRequest, error) {
	req := esapi.GetRequest{Index: s.index, DocumentID: requestID}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return types.ThawRequest{}, fmt.Errorf("fetching thaw request %s: %w", requestID, err)
	}
	if resp.StatusCode == 404 {
		return types.ThawRequest{}, &types.ActionError{Msg: fmt.Sprintf("thaw request %s not found", requestID)}
	}
	if resp.StatusCode >= 300 {
		return types.ThawRequest{}, fmt.Errorf("fetching thaw request %s: status %d: %s", requestID, resp.StatusCode, resp.Body)
	}
	var hit struct {
		Source types.ThawRequest `json:"_source"`
	}
	if err := json.Unmarshal(resp.Body, &hit); err != nil {
		return types.ThawRequest{}, fmt.Errorf("decoding thaw request: %w", err)
	}
	return hit.Source, nil
}

// ListThawRequests lists every thaw-request document.
func (s *Store) ListThawRequests(ctx context.Context) ([]types.ThawRequest, error) {
	query := map[string]any{
		"query": map[string]any{"term": map[string]any{"doctype": types.DoctypeThawRequest}},
		"size":  10000,
	}
	body, _ := json.Marshal(query)
	req := esapi.SearchRequest{Index: []string{s.index}, Body: bytes.NewReader(body)}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("listing thaw requests: %w", err)
	}
	if resp.StatusCode == 404 {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing thaw requests: status %d: %s", resp.StatusCode, resp.Body)
	}

	var sr struct {
		Hits struct {
			Hits []struct {
				ID     string            `json:"_id"`
				Source types.ThawRequest `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return nil, fmt.Errorf("decoding thaw request list: %w", err)
	}
	out := make([]types.ThawRequest, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}

// UpdateThawRequest applies a partial update (status and/or repos) to an
// existing thaw-request document.
func (s *Store) UpdateThawRequest(ctx context.Context, requestID string, status types.ThawRequestStatus, repos []string) error {
	doc := map[string]any{}
	if status != "" {
		doc["status"] = status
	}
	if repos != nil {
		doc["repos"] = repos
	}
	body, _ := json.Marshal(doc)
	req := esapi.UpdateRequest{Index: s.index, DocumentID: requestID, Body: bytes.NewReader(wrapDoc(body))}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("updating thaw request %s: %w", requestID, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("updating thaw request %s: status %d: %s", requestID, resp.StatusCode, resp.Body)
	}
	return nil
}

// DeleteThawRequest removes a thaw-request document, used by the
// cleanup/refreeze reaper's retention-based retirement.
func (s *Store) DeleteThawRequest(ctx context.Context, requestID string) error {
	req := esapi.DeleteRequest{Index: s.index, DocumentID: requestID}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("deleting thaw request %s: %w", requestID, err)
	}
	if resp.StatusCode >= 300 && resp.StatusCode != 404 {
		return fmt.Errorf("deleting thaw request %s: status %d: %s", requestID, resp.StatusCode, resp.Body)
	}
	return nil
}
