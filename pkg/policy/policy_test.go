package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster is an in-memory ClusterAPI double for policy/template CRUD.
type fakeCluster struct {
	ilmPolicies   map[string]map[string]any
	composable    map[string]map[string]any
	legacy        map[string]map[string]any
	usage         map[string]InUse
	putILMCalls   map[string]map[string]any
	deletedPolicy []string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		ilmPolicies: map[string]map[string]any{},
		composable:  map[string]map[string]any{},
		legacy:      map[string]map[string]any{},
		usage:       map[string]InUse{},
		putILMCalls: map[string]map[string]any{},
	}
}

func (f *fakeCluster) GetILMPolicy(ctx context.Context, name string) (map[string]any, bool, error) {
	body, ok := f.ilmPolicies[name]
	return body, ok, nil
}

func (f *fakeCluster) PutILMPolicy(ctx context.Context, name string, body map[string]any) error {
	f.ilmPolicies[name] = body
	f.putILMCalls[name] = body
	return nil
}

func (f *fakeCluster) DeleteILMPolicy(ctx context.Context, name string) error {
	delete(f.ilmPolicies, name)
	f.deletedPolicy = append(f.deletedPolicy, name)
	return nil
}

func (f *fakeCluster) ListILMPolicyNames(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.ilmPolicies {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeCluster) GetComposableTemplate(ctx context.Context, name string) (map[string]any, bool, error) {
	body, ok := f.composable[name]
	return body, ok, nil
}

func (f *fakeCluster) PutComposableTemplate(ctx context.Context, name string, body map[string]any) error {
	f.composable[name] = body
	return nil
}

func (f *fakeCluster) ListComposableTemplates(ctx context.Context) (map[string]map[string]any, error) {
	return f.composable, nil
}

func (f *fakeCluster) GetLegacyTemplate(ctx context.Context, name string) (map[string]any, bool, error) {
	body, ok := f.legacy[name]
	return body, ok, nil
}

func (f *fakeCluster) PutLegacyTemplate(ctx context.Context, name string, body map[string]any) error {
	f.legacy[name] = body
	return nil
}

func (f *fakeCluster) ListLegacyTemplates(ctx context.Context) (map[string]map[string]any, error) {
	return f.legacy, nil
}

func (f *fakeCluster) PolicyInUse(ctx context.Context, policyName string) (InUse, error) {
	return f.usage[policyName], nil
}

func ilmPolicyBody(repo string) map[string]any {
	return map[string]any{
		"policy": map[string]any{
			"phases": map[string]any{
				"cold": map[string]any{
					"actions": map[string]any{
						"searchable_snapshot": map[string]any{
							"snapshot_repository": repo,
						},
					},
				},
			},
		},
	}
}

func TestPoliciesReferencing(t *testing.T) {
	cluster := newFakeCluster()
	cluster.ilmPolicies["deepfreeze-000001"] = ilmPolicyBody("deepfreeze-000001")
	cluster.ilmPolicies["other-policy"] = ilmPolicyBody("deepfreeze-000002")
	p := New(cluster)

	matched, err := p.PoliciesReferencing(context.Background(), "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, []string{"deepfreeze-000001"}, matched)
}

func TestPoliciesWithSuffix(t *testing.T) {
	cluster := newFakeCluster()
	cluster.ilmPolicies["deepfreeze-000007"] = ilmPolicyBody("deepfreeze-000007")
	cluster.ilmPolicies["deepfreeze-ilm-000007"] = ilmPolicyBody("deepfreeze-000007")
	cluster.ilmPolicies["unrelated"] = ilmPolicyBody("unrelated")
	p := New(cluster)

	matched, err := p.PoliciesWithSuffix(context.Background(), "000007")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"deepfreeze-000007", "deepfreeze-ilm-000007"}, matched)
}

func TestCreateVersionedPolicyRetargetsAndStripsSuffix(t *testing.T) {
	cluster := newFakeCluster()
	cluster.ilmPolicies["deepfreeze-000001"] = ilmPolicyBody("deepfreeze-000001")
	p := New(cluster)

	newName, err := p.CreateVersionedPolicy(context.Background(), "deepfreeze-000001", "deepfreeze-000002", "000002")
	require.NoError(t, err)
	assert.Equal(t, "deepfreeze-000002", newName)

	newBody := cluster.putILMCalls["deepfreeze-000002"]
	require.NotNil(t, newBody)
	assert.Equal(t, "deepfreeze-000002", snapshotRepoOf(newBody))

	// The source policy body is untouched.
	assert.Equal(t, "deepfreeze-000001", snapshotRepoOf(cluster.ilmPolicies["deepfreeze-000001"]))
}

func TestCreateVersionedPolicyMissingBase(t *testing.T) {
	p := New(newFakeCluster())
	_, err := p.CreateVersionedPolicy(context.Background(), "missing-policy", "deepfreeze-000002", "000002")
	assert.Error(t, err)
}

func TestRetargetTemplatesComposableAndLegacy(t *testing.T) {
	cluster := newFakeCluster()
	cluster.composable["logs-template"] = map[string]any{
		"template": map[string]any{"settings": map[string]any{"index": map[string]any{"lifecycle": map[string]any{"name": "deepfreeze-000001"}}}},
	}
	cluster.composable["unrelated-template"] = map[string]any{
		"template": map[string]any{"settings": map[string]any{"index": map[string]any{"lifecycle": map[string]any{"name": "other-policy"}}}},
	}
	cluster.legacy["legacy-template"] = map[string]any{
		"template": map[string]any{"settings": map[string]any{"index": map[string]any{"lifecycle": map[string]any{"name": "deepfreeze-000001"}}}},
	}
	p := New(cluster)

	retargeted, err := p.RetargetTemplates(context.Background(), "deepfreeze-000001", "deepfreeze-000002")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"logs-template", "legacy-template"}, retargeted)
	assert.Equal(t, "deepfreeze-000002", lifecyclePolicyOf(cluster.composable["logs-template"]))
	assert.Equal(t, "other-policy", lifecyclePolicyOf(cluster.composable["unrelated-template"]))
	assert.Equal(t, "deepfreeze-000002", lifecyclePolicyOf(cluster.legacy["legacy-template"]))
}

func TestPolicySafeToDelete(t *testing.T) {
	cluster := newFakeCluster()
	cluster.usage["orphaned"] = InUse{}
	cluster.usage["in-use"] = InUse{Indices: 1}
	p := New(cluster)

	safe, err := p.PolicySafeToDelete(context.Background(), "orphaned")
	require.NoError(t, err)
	assert.True(t, safe)

	safe, err = p.PolicySafeToDelete(context.Background(), "in-use")
	require.NoError(t, err)
	assert.False(t, safe)
}

func TestDeleteOrphanedPolicySkipsInUse(t *testing.T) {
	cluster := newFakeCluster()
	cluster.ilmPolicies["in-use"] = ilmPolicyBody("deepfreeze-000001")
	cluster.usage["in-use"] = InUse{ComposableTemplates: 1}
	p := New(cluster)

	deleted, err := p.DeleteOrphanedPolicy(context.Background(), "in-use")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Contains(t, cluster.ilmPolicies, "in-use")
}

func TestDeleteOrphanedPolicyDeletesUnused(t *testing.T) {
	cluster := newFakeCluster()
	cluster.ilmPolicies["orphaned"] = ilmPolicyBody("deepfreeze-000001")
	p := New(cluster)

	deleted, err := p.DeleteOrphanedPolicy(context.Background(), "orphaned")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NotContains(t, cluster.ilmPolicies, "orphaned")
	assert.Equal(t, []string{"orphaned"}, cluster.deletedPolicy)
}
