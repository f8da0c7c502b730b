package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/deepfreeze/pkg/types"
)

// fakeStore is an in-memory Store double keyed by bucket/key, used only to
// drive CheckRestoreStatus without a real S3 backend.
type fakeStore struct {
	objects map[string][]Object
	heads   map[string]HeadResult
	headErr map[string]error
}

func (f *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) { return true, nil }
func (f *fakeStore) CreateBucket(ctx context.Context, bucket string) error         { return nil }

func (f *fakeStore) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	return f.objects[bucket+"/"+prefix], nil
}

func (f *fakeStore) CopyObjectInPlace(ctx context.Context, bucket, key, storageClass string) error {
	return nil
}

func (f *fakeStore) RestoreObject(ctx context.Context, bucket, key string, days int32, tier types.RetrievalTier) error {
	return nil
}

func (f *fakeStore) HeadObject(ctx context.Context, bucket, key string) (HeadResult, error) {
	if err, ok := f.headErr[bucket+"/"+key]; ok {
		return HeadResult{}, err
	}
	return f.heads[bucket+"/"+key], nil
}

func TestIsInstantAccess(t *testing.T) {
	assert.True(t, IsInstantAccess("STANDARD"))
	assert.True(t, IsInstantAccess("standard_ia"))
	assert.False(t, IsInstantAccess("GLACIER"))
}

func TestIsGlacierFamily(t *testing.T) {
	assert.True(t, IsGlacierFamily("GLACIER"))
	assert.True(t, IsGlacierFamily("deep_archive"))
	assert.False(t, IsGlacierFamily("STANDARD"))
}

func TestNormalizePrefix(t *testing.T) {
	tests := []struct{ in, want string }{
		{"snapshots-1", "snapshots-1/"},
		{"/snapshots-1/", "snapshots-1/"},
		{"", ""},
		{"///", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePrefix(tt.in))
	}
}

func TestClassifyStorage(t *testing.T) {
	tests := []struct {
		name    string
		objects []Object
		want    types.MetadataClass
	}{
		{"empty", nil, types.MetadataClassEmpty},
		{"all glacier", []Object{{StorageClass: "GLACIER"}, {StorageClass: "DEEP_ARCHIVE"}}, types.MetadataClassGlacier},
		{"all standard", []Object{{StorageClass: "STANDARD"}}, types.MetadataClassStandard},
		{"mixed", []Object{{StorageClass: "GLACIER"}, {StorageClass: "STANDARD"}}, types.MetadataClassMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStorage(tt.objects))
		})
	}
}

func TestCheckRestoreStatusInstantAccessCountsAsRestored(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]Object{
			"bucket/snapshots-1/": {{Key: "a", StorageClass: "STANDARD"}},
		},
	}
	status, err := CheckRestoreStatus(context.Background(), store, "bucket", "snapshots-1")
	require.NoError(t, err)
	assert.Equal(t, types.RestoreStatus{Total: 1, Restored: 1}, status)
	assert.True(t, status.Complete())
}

func TestCheckRestoreStatusGlacierProbesHead(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]Object{
			"bucket/snapshots-1/": {
				{Key: "a", StorageClass: "GLACIER"},
				{Key: "b", StorageClass: "GLACIER"},
				{Key: "c", StorageClass: "GLACIER"},
			},
		},
		heads: map[string]HeadResult{
			"bucket/a": {StorageClass: "GLACIER", Restore: `ongoing-request="false", expiry-date="..."`},
			"bucket/b": {StorageClass: "GLACIER", Restore: `ongoing-request="true"`},
			"bucket/c": {StorageClass: "GLACIER"},
		},
	}
	status, err := CheckRestoreStatus(context.Background(), store, "bucket", "snapshots-1")
	require.NoError(t, err)
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 1, status.Restored)
	assert.Equal(t, 1, status.InProgress)
	assert.Equal(t, 1, status.NotRestored)
	assert.False(t, status.Complete())
}

func TestCheckRestoreStatusHeadErrorCountsNotRestored(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]Object{
			"bucket/snapshots-1/": {{Key: "a", StorageClass: "GLACIER"}},
		},
		headErr: map[string]error{"bucket/a": assert.AnError},
	}
	status, err := CheckRestoreStatus(context.Background(), store, "bucket", "snapshots-1")
	require.NoError(t, err)
	assert.Equal(t, 1, status.NotRestored)
}
