// Package policy implements the ILM policy/template mutator (C4): versioned
// policy creation, template retargeting, and safe deletion of policies that
// no index, data stream, or template references any longer.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/registry"
	"github.com/cuemby/deepfreeze/pkg/types"
)

// InUse reports how many live objects currently reference a policy, the
// same three counts update_ilm_policies consults before deleting an
// orphaned policy.
type InUse struct {
	Indices            int
	DataStreams        int
	ComposableTemplates int
}

// Empty reports whether nothing references the policy.
func (u InUse) Empty() bool {
	return u.Indices == 0 && u.DataStreams == 0 && u.ComposableTemplates == 0
}

// ClusterAPI is the subset of Elasticsearch ILM/template/index operations
// the policy mutator needs.
type ClusterAPI interface {
	GetILMPolicy(ctx context.Context, name string) (body map[string]any, found bool, err error)
	PutILMPolicy(ctx context.Context, name string, body map[string]any) error
	DeleteILMPolicy(ctx context.Context, name string) error
	ListILMPolicyNames(ctx context.Context) ([]string, error)

	GetComposableTemplate(ctx context.Context, name string) (body map[string]any, found bool, err error)
	PutComposableTemplate(ctx context.Context, name string, body map[string]any) error
	ListComposableTemplates(ctx context.Context) (map[string]map[string]any, error)

	GetLegacyTemplate(ctx context.Context, name string) (body map[string]any, found bool, err error)
	PutLegacyTemplate(ctx context.Context, name string, body map[string]any) error
	ListLegacyTemplates(ctx context.Context) (map[string]map[string]any, error)

	PolicyInUse(ctx context.Context, policyName string) (InUse, error)
}

// Policy is the ILM policy/template mutator (C4).
type Policy struct {
	cluster ClusterAPI
}

// New constructs a Policy mutator.
func New(cluster ClusterAPI) *Policy {
	return &Policy{cluster: cluster}
}

// PoliciesReferencing returns every ILM policy whose
// searchable_snapshot.snapshot_repository field names repoName.
func (p *Policy) PoliciesReferencing(ctx context.Context, repoName string) ([]string, error) {
	names, err := p.cluster.ListILMPolicyNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ilm policies: %w", err)
	}
	var matched []string
	for _, name := range names {
		body, found, err := p.cluster.GetILMPolicy(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("fetching ilm policy %s: %w", name, err)
		}
		if !found {
			continue
		}
		if snapshotRepoOf(body) == repoName {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// PoliciesWithSuffix returns every ILM policy whose name ends in
// "-<suffix>", i.e. <base>-<suffix>, used when locating the policy created
// for a given rotation and the "-thawed" policies cleanup retires.
func (p *Policy) PoliciesWithSuffix(ctx context.Context, suffix string) ([]string, error) {
	names, err := p.cluster.ListILMPolicyNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ilm policies: %w", err)
	}
	var matched []string
	for _, name := range names {
		if strings.HasSuffix(name, "-"+suffix) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// snapshotRepoOf extracts phases.*.actions.searchable_snapshot.snapshot_repository
// from a raw ILM policy body, returning "" if absent at any level.
func snapshotRepoOf(body map[string]any) string {
	policy, _ := body["policy"].(map[string]any)
	phases, _ := policy["phases"].(map[string]any)
	for _, raw := range phases {
		phase, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		actions, ok := phase["actions"].(map[string]any)
		if !ok {
			continue
		}
		ss, ok := actions["searchable_snapshot"].(map[string]any)
		if !ok {
			continue
		}
		if repo, ok := ss["snapshot_repository"].(string); ok && repo != "" {
			return repo
		}
	}
	return ""
}

// CreateVersionedPolicy deep-copies basePolicy's body, retargets every
// searchable_snapshot.snapshot_repository occurrence to newRepo, and
// registers the result under "<base-name>-<suffix>" — base-name being
// basePolicy's name with any existing rotation suffix stripped, mirroring
// update_ilm_policies' versioning logic. Never mutates an in-use policy in
// place.
func (p *Policy) CreateVersionedPolicy(ctx context.Context, basePolicy string, newRepo, suffix string) (string, error) {
	body, found, err := p.cluster.GetILMPolicy(ctx, basePolicy)
	if err != nil {
		return "", fmt.Errorf("fetching ilm policy %s: %w", basePolicy, err)
	}
	if !found {
		return "", &types.RepositoryError{Repository: newRepo, Msg: fmt.Sprintf("ilm policy %s not found", basePolicy)}
	}

	newBody, err := deepCopyJSON(body)
	if err != nil {
		return "", fmt.Errorf("copying ilm policy %s: %w", basePolicy, err)
	}
	retargetSnapshotRepo(newBody, newRepo)
	warnIfDeletesSearchableSnapshot(basePolicy, newBody)

	base := registry.StripSuffix(basePolicy)
	newName := fmt.Sprintf("%s-%s", base, suffix)

	if err := p.cluster.PutILMPolicy(ctx, newName, newBody); err != nil {
		return "", fmt.Errorf("creating versioned ilm policy %s: %w", newName, err)
	}
	return newName, nil
}

// retargetSnapshotRepo rewrites every searchable_snapshot.snapshot_repository
// field found anywhere under policy.phases.*.actions to newRepo.
func retargetSnapshotRepo(body map[string]any, newRepo string) {
	policy, _ := body["policy"].(map[string]any)
	phases, _ := policy["phases"].(map[string]any)
	for _, raw := range phases {
		phase, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		actions, ok := phase["actions"].(map[string]any)
		if !ok {
			continue
		}
		ss, ok := actions["searchable_snapshot"].(map[string]any)
		if !ok {
			continue
		}
		ss["snapshot_repository"] = newRepo
	}
}

// warnIfDeletesSearchableSnapshot logs a warning if the policy's delete
// phase has delete_searchable_snapshot set true: this setting deletes the
// underlying cold-storage snapshot out from under the repository it was
// versioned for.
func warnIfDeletesSearchableSnapshot(policyName string, body map[string]any) {
	policy, _ := body["policy"].(map[string]any)
	phases, _ := policy["phases"].(map[string]any)
	del, ok := phases["delete"].(map[string]any)
	if !ok {
		return
	}
	actions, ok := del["actions"].(map[string]any)
	if !ok {
		return
	}
	deleteAction, ok := actions["delete"].(map[string]any)
	if !ok {
		return
	}
	if v, _ := deleteAction["delete_searchable_snapshot"].(bool); v {
		log.Logger.Warn().Str("policy", policyName).Msg("versioned policy's delete phase has delete_searchable_snapshot=true; the underlying cold-storage data will be deleted when the delete phase runs")
	}
}

func deepCopyJSON(v map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RetargetTemplates rewrites every composable and legacy index template
// that names oldPolicy in its index.lifecycle.name setting to name
// newPolicy instead.
func (p *Policy) RetargetTemplates(ctx context.Context, oldPolicy, newPolicy string) ([]string, error) {
	var retargeted []string

	composable, err := p.cluster.ListComposableTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing composable templates: %w", err)
	}
	for name, body := range composable {
		if lifecyclePolicyOf(body) != oldPolicy {
			continue
		}
		setLifecyclePolicy(body, newPolicy)
		if err := p.cluster.PutComposableTemplate(ctx, name, body); err != nil {
			return retargeted, fmt.Errorf("retargeting composable template %s: %w", name, err)
		}
		retargeted = append(retargeted, name)
	}

	legacy, err := p.cluster.ListLegacyTemplates(ctx)
	if err != nil {
		return retargeted, fmt.Errorf("listing legacy templates: %w", err)
	}
	for name, body := range legacy {
		if lifecyclePolicyOf(body) != oldPolicy {
			continue
		}
		setLifecyclePolicy(body, newPolicy)
		if err := p.cluster.PutLegacyTemplate(ctx, name, body); err != nil {
			return retargeted, fmt.Errorf("retargeting legacy template %s: %w", name, err)
		}
		retargeted = append(retargeted, name)
	}

	return retargeted, nil
}

func lifecyclePolicyOf(body map[string]any) string {
	template, _ := body["template"].(map[string]any)
	settings, _ := template["settings"].(map[string]any)
	index, _ := settings["index"].(map[string]any)
	lifecycle, _ := index["lifecycle"].(map[string]any)
	name, _ := lifecycle["name"].(string)
	return name
}

func setLifecyclePolicy(body map[string]any, newPolicy string) {
	template, ok := body["template"].(map[string]any)
	if !ok {
		template = map[string]any{}
		body["template"] = template
	}
	settings, ok := template["settings"].(map[string]any)
	if !ok {
		settings = map[string]any{}
		template["settings"] = settings
	}
	index, ok := settings["index"].(map[string]any)
	if !ok {
		index = map[string]any{}
		settings["index"] = index
	}
	lifecycle, ok := index["lifecycle"].(map[string]any)
	if !ok {
		lifecycle = map[string]any{}
		index["lifecycle"] = lifecycle
	}
	lifecycle["name"] = newPolicy
}

// PolicySafeToDelete reports whether a policy is unreferenced by any index,
// data stream, or composable template and can be safely deleted, mirroring
// the in_use_by check performed before deleting an orphaned policy.
func (p *Policy) PolicySafeToDelete(ctx context.Context, policyName string) (bool, error) {
	usage, err := p.cluster.PolicyInUse(ctx, policyName)
	if err != nil {
		return false, fmt.Errorf("checking usage of policy %s: %w", policyName, err)
	}
	return usage.Empty(), nil
}

// DeleteOrphanedPolicy deletes policyName if and only if it is unreferenced.
// Returns false without error if the policy is still in use.
func (p *Policy) DeleteOrphanedPolicy(ctx context.Context, policyName string) (bool, error) {
	safe, err := p.PolicySafeToDelete(ctx, policyName)
	if err != nil {
		return false, err
	}
	if !safe {
		return false, nil
	}
	if err := p.cluster.DeleteILMPolicy(ctx, policyName); err != nil {
		return false, fmt.Errorf("deleting policy %s: %w", policyName, err)
	}
	return true, nil
}
