// Package cluster is the Elasticsearch control-plane adapter: snapshot
// repository registration, ILM policy/template CRUD, and index operations,
// all the lifecycle controllers drive the cluster through. It is the
// concrete implementation of the narrower ClusterAPI interfaces declared by
// pkg/registry and pkg/policy.
package cluster

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"

	"github.com/cuemby/deepfreeze/pkg/escli"
	"github.com/cuemby/deepfreeze/pkg/policy"
)

// Cluster is the concrete control-plane adapter.
type Cluster struct {
	client escli.Doer
}

// New constructs a Cluster adapter.
func New(client escli.Doer) *Cluster {
	return &Cluster{client: client}
}

func (c *Cluster) do(ctx context.Context, req esapi.Request) (*escli.Response, error) {
	return c.client.Do(ctx, req)
}

// RepositorySettings is the S3-repository body passed to create_repo.
type RepositorySettings struct {
	Bucket       string
	BasePath     string
	CannedACL    string
	StorageClass string
}

// CreateRepository registers an S3-backed snapshot repository.
func (c *Cluster) CreateRepository(ctx context.Context, name string, s RepositorySettings) error {
	body, _ := json.Marshal(map[string]any{
		"type": "s3",
		"settings": map[string]any{
			"bucket":        s.Bucket,
			"base_path":     s.BasePath,
			"canned_acl":    s.CannedACL,
			"storage_class": s.StorageClass,
		},
	})
	req := esapi.SnapshotCreateRepositoryRequest{Repository: name, Body: bytes.NewReader(body)}
	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("creating repository %s: %w", name, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("creating repository %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}
	return nil
}

// DeleteRepository unregisters (unmounts) a snapshot repository.
func (c *Cluster) DeleteRepository(ctx context.Context, name string) error {
	req := esapi.SnapshotDeleteRepositoryRequest{Repository: []string{name}}
	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("deleting repository %s: %w", name, err)
	}
	if resp.StatusCode >= 300 && resp.StatusCode != 404 {
		return fmt.Errorf("deleting repository %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}
	return nil
}

// RepositoryExists reports whether a snapshot repository is currently
// registered with the cluster.
func (c *Cluster) RepositoryExists(ctx context.Context, name string) (bool, error) {
	req := esapi.SnapshotGetRepositoryRequest{Repository: []string{name}}
	resp, err := c.do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("checking repository %s: %w", name, err)
	}
	if resp.StatusCode == 404 {
		return false, nil
	}
	return resp.StatusCode == 200, nil
}

// SnapshotRepositoryNames satisfies registry.ClusterAPI: lists every
// registered snapshot repository name.
func (c *Cluster) SnapshotRepositoryNames(ctx context.Context) ([]string, error) {
	req := esapi.SnapshotGetRepositoryRequest{}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot repositories: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing snapshot repositories: status %d: %s", resp.StatusCode, resp.Body)
	}
	var repos map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &repos); err != nil {
		return nil, fmt.Errorf("decoding snapshot repository list: %w", err)
	}
	names := make([]string, 0, len(repos))
	for name := range repos {
		names = append(names, name)
	}
	return names, nil
}

// IndexTimestampRange satisfies registry.ClusterAPI: returns the min/max
// @timestamp across an index pattern via a min/max aggregation.
func (c *Cluster) IndexTimestampRange(ctx context.Context, indexPattern string) (time.Time, time.Time, bool, error) {
	exists, err := c.IndexExists(ctx, indexPattern)
	if err != nil || !exists {
		return time.Time{}, time.Time{}, false, err
	}

	query := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"min_ts": map[string]any{"min": map[string]any{"field": "@timestamp"}},
			"max_ts": map[string]any{"max": map[string]any{"field": "@timestamp"}},
		},
	}
	body, _ := json.Marshal(query)
	req := esapi.SearchRequest{Index: []string{indexPattern}, Body: bytes.NewReader(body)}
	resp, err := c.do(ctx, req)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("aggregating timestamp range for %s: %w", indexPattern, err)
	}
	if resp.StatusCode >= 300 {
		return time.Time{}, time.Time{}, false, nil
	}

	var result struct {
		Aggregations struct {
			MinTS struct {
				ValueAsString string `json:"value_as_string"`
			} `json:"min_ts"`
			MaxTS struct {
				ValueAsString string `json:"value_as_string"`
			} `json:"max_ts"`
		} `json:"aggregations"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("decoding timestamp range: %w", err)
	}
	if result.Aggregations.MinTS.ValueAsString == "" || result.Aggregations.MaxTS.ValueAsString == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	min, err := time.Parse(time.RFC3339, result.Aggregations.MinTS.ValueAsString)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parsing min timestamp: %w", err)
	}
	max, err := time.Parse(time.RFC3339, result.Aggregations.MaxTS.ValueAsString)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parsing max timestamp: %w", err)
	}
	return min, max, true, nil
}

// IndexExists reports whether an index or index pattern matches at least
// one index.
func (c *Cluster) IndexExists(ctx context.Context, index string) (bool, error) {
	req := esapi.IndicesExistsRequest{Index: []string{index}}
	resp, err := c.do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("checking index %s: %w", index, err)
	}
	return resp.StatusCode == 200, nil
}

// DeleteIndex deletes an index.
func (c *Cluster) DeleteIndex(ctx context.Context, index string) error {
	req := esapi.IndicesDeleteRequest{Index: []string{index}}
	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("deleting index %s: %w", index, err)
	}
	if resp.StatusCode >= 300 && resp.StatusCode != 404 {
		return fmt.Errorf("deleting index %s: status %d: %s", index, resp.StatusCode, resp.Body)
	}
	return nil
}

// AllIndicesInRepo returns every index name referenced by any snapshot
// stored in the given repository.
func (c *Cluster) AllIndicesInRepo(ctx context.Context, repo string) ([]string, error) {
	req := esapi.SnapshotGetRequest{Repository: repo, Snapshot: []string{"_all"}}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots in repository %s: %w", repo, err)
	}
	if resp.StatusCode == 404 {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing snapshots in repository %s: status %d: %s", repo, resp.StatusCode, resp.Body)
	}

	var result struct {
		Snapshots []struct {
			Indices []string `json:"indices"`
		} `json:"snapshots"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("decoding snapshot list for repository %s: %w", repo, err)
	}
	seen := map[string]bool{}
	var indices []string
	for _, snap := range result.Snapshots {
		for _, idx := range snap.Indices {
			if !seen[idx] {
				seen[idx] = true
				indices = append(indices, idx)
			}
		}
	}
	return indices, nil
}

// ClusterVersion returns the Elasticsearch version string, used by Setup's
// soft plugin-availability check.
func (c *Cluster) ClusterVersion(ctx context.Context) (string, error) {
	req := esapi.InfoRequest{}
	resp, err := c.do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("fetching cluster info: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching cluster info: status %d: %s", resp.StatusCode, resp.Body)
	}
	var info struct {
		Version struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return "", fmt.Errorf("decoding cluster info: %w", err)
	}
	return info.Version.Number, nil
}

// MajorVersion parses the leading integer component of an ES version string.
func MajorVersion(version string) int {
	parts := strings.SplitN(version, ".", 2)
	n, _ := strconv.Atoi(parts[0])
	return n
}

// HasS3RepositoryPlugin checks whether any node reports the repository-s3
// plugin installed; only meaningful for clusters below ES 8.
func (c *Cluster) HasS3RepositoryPlugin(ctx context.Context) (bool, error) {
	req := esapi.NodesInfoRequest{NodeID: []string{"_all"}, Metric: []string{"plugins"}}
	resp, err := c.do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("fetching node plugin info: %w", err)
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("fetching node plugin info: status %d: %s", resp.StatusCode, resp.Body)
	}
	var result struct {
		Nodes map[string]struct {
			Plugins []struct {
				Name string `json:"name"`
			} `json:"plugins"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return false, fmt.Errorf("decoding node plugin info: %w", err)
	}
	for _, node := range result.Nodes {
		for _, p := range node.Plugins {
			if p.Name == "repository-s3" {
				return true, nil
			}
		}
	}
	return false, nil
}

// --- policy.ClusterAPI implementation ---

// GetILMPolicy fetches one ILM policy's raw body.
func (c *Cluster) GetILMPolicy(ctx context.Context, name string) (map[string]any, bool, error) {
	req := esapi.ILMGetLifecycleRequest{Policy: name}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("fetching ilm policy %s: %w", name, err)
	}
	if resp.StatusCode == 404 {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("fetching ilm policy %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}
	var all map[string]map[string]any
	if err := json.Unmarshal(resp.Body, &all); err != nil {
		return nil, false, fmt.Errorf("decoding ilm policy %s: %w", name, err)
	}
	body, ok := all[name]
	return body, ok, nil
}

// PutILMPolicy creates or replaces an ILM policy.
func (c *Cluster) PutILMPolicy(ctx context.Context, name string, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding ilm policy %s: %w", name, err)
	}
	req := esapi.ILMPutLifecycleRequest{Policy: name, Body: bytes.NewReader(raw)}
	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("creating ilm policy %s: %w", name, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("creating ilm policy %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}
	return nil
}

// DeleteILMPolicy deletes an ILM policy.
func (c *Cluster) DeleteILMPolicy(ctx context.Context, name string) error {
	req := esapi.ILMDeleteLifecycleRequest{Policy: name}
	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("deleting ilm policy %s: %w", name, err)
	}
	if resp.StatusCode >= 300 && resp.StatusCode != 404 {
		return fmt.Errorf("deleting ilm policy %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}
	return nil
}

// ListILMPolicyNames lists the names of every registered ILM policy.
func (c *Cluster) ListILMPolicyNames(ctx context.Context) ([]string, error) {
	req := esapi.ILMGetLifecycleRequest{}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("listing ilm policies: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing ilm policies: status %d: %s", resp.StatusCode, resp.Body)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &all); err != nil {
		return nil, fmt.Errorf("decoding ilm policy list: %w", err)
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	return names, nil
}

// GetComposableTemplate fetches one composable index template's raw body.
func (c *Cluster) GetComposableTemplate(ctx context.Context, name string) (map[string]any, bool, error) {
	templates, err := c.ListComposableTemplates(ctx)
	if err != nil {
		return nil, false, err
	}
	body, ok := templates[name]
	return body, ok, nil
}

// PutComposableTemplate creates or replaces a composable index template.
func (c *Cluster) PutComposableTemplate(ctx context.Context, name string, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding composable template %s: %w", name, err)
	}
	req := esapi.IndicesPutIndexTemplateRequest{Name: name, Body: bytes.NewReader(raw)}
	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("creating composable template %s: %w", name, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("creating composable template %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}
	return nil
}

// ListComposableTemplates lists every composable index template.
func (c *Cluster) ListComposableTemplates(ctx context.Context) (map[string]map[string]any, error) {
	req := esapi.IndicesGetIndexTemplateRequest{}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("listing composable templates: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing composable templates: status %d: %s", resp.StatusCode, resp.Body)
	}
	var result struct {
		IndexTemplates []struct {
			Name          string         `json:"name"`
			IndexTemplate map[string]any `json:"index_template"`
		} `json:"index_templates"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("decoding composable template list: %w", err)
	}
	out := make(map[string]map[string]any, len(result.IndexTemplates))
	for _, t := range result.IndexTemplates {
		out[t.Name] = t.IndexTemplate
	}
	return out, nil
}

// GetLegacyTemplate fetches one legacy index template's raw body.
func (c *Cluster) GetLegacyTemplate(ctx context.Context, name string) (map[string]any, bool, error) {
	templates, err := c.ListLegacyTemplates(ctx)
	if err != nil {
		return nil, false, err
	}
	body, ok := templates[name]
	return body, ok, nil
}

// PutLegacyTemplate creates or replaces a legacy index template.
func (c *Cluster) PutLegacyTemplate(ctx context.Context, name string, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding legacy template %s: %w", name, err)
	}
	req := esapi.IndicesPutTemplateRequest{Name: name, Body: bytes.NewReader(raw)}
	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("creating legacy template %s: %w", name, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("creating legacy template %s: status %d: %s", name, resp.StatusCode, resp.Body)
	}
	return nil
}

// ListLegacyTemplates lists every legacy index template.
func (c *Cluster) ListLegacyTemplates(ctx context.Context) (map[string]map[string]any, error) {
	req := esapi.IndicesGetTemplateRequest{}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("listing legacy templates: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing legacy templates: status %d: %s", resp.StatusCode, resp.Body)
	}
	var all map[string]map[string]any
	if err := json.Unmarshal(resp.Body, &all); err != nil {
		return nil, fmt.Errorf("decoding legacy template list: %w", err)
	}
	return all, nil
}

// PolicyInUse counts live references to an ILM policy across indices, data
// streams, and composable templates, mirroring the original's in_use_by
// check performed before deleting an orphaned policy.
func (c *Cluster) PolicyInUse(ctx context.Context, policyName string) (policy.InUse, error) {
	settingsReq := esapi.IndicesGetSettingsRequest{Index: []string{"*"}, Name: []string{"index.lifecycle.name"}}
	resp, err := c.do(ctx, settingsReq)
	if err != nil {
		return policy.InUse{}, fmt.Errorf("checking policy usage for %s: %w", policyName, err)
	}
	usage := policy.InUse{}
	if resp.StatusCode < 300 {
		var all map[string]struct {
			Settings struct {
				Index struct {
					Lifecycle struct {
						Name string `json:"name"`
					} `json:"lifecycle"`
				} `json:"index"`
			} `json:"settings"`
		}
		if err := json.Unmarshal(resp.Body, &all); err == nil {
			for _, idx := range all {
				if idx.Settings.Index.Lifecycle.Name == policyName {
					usage.Indices++
				}
			}
		}
	}

	dsResp, err := c.do(ctx, esapi.IndicesGetDataStreamRequest{})
	if err == nil && dsResp != nil && dsResp.StatusCode < 300 {
		var ds struct {
			DataStreams []struct {
				ILMPolicy string `json:"ilm_policy"`
			} `json:"data_streams"`
		}
		if err := json.Unmarshal(dsResp.Body, &ds); err == nil {
			for _, stream := range ds.DataStreams {
				if stream.ILMPolicy == policyName {
					usage.DataStreams++
				}
			}
		}
	}

	composable, err := c.ListComposableTemplates(ctx)
	if err == nil {
		for _, body := range composable {
			if lifecyclePolicyOf(body) == policyName {
				usage.ComposableTemplates++
			}
		}
	}

	return usage, nil
}

func lifecyclePolicyOf(body map[string]any) string {
	template, _ := body["template"].(map[string]any)
	settings, _ := template["settings"].(map[string]any)
	index, _ := settings["index"].(map[string]any)
	lifecycle, _ := index["lifecycle"].(map[string]any)
	name, _ := lifecycle["name"].(string)
	return name
}
