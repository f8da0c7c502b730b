// Package objectstore is the object-store adapter (C1): a small
// provider-pluggable interface over bucket/object operations, with an AWS
// S3/Glacier implementation and typed stubs for gcp/azure.
package objectstore

import (
	"context"
	"strings"

	"github.com/cuemby/deepfreeze/pkg/types"
)

// Object is one listed object and its current storage class.
type Object struct {
	Key          string
	StorageClass string
}

// HeadResult is the subset of a HeadObject response the adapter cares
// about: the object's storage class and, for Glacier-family objects
// currently undergoing or having completed a restore, the raw Restore
// header value.
type HeadResult struct {
	StorageClass string
	Restore      string // e.g. `ongoing-request="true"`, empty if absent
}

// Store is the provider-pluggable object-store adapter consumed by the
// registry, policy, and controller packages. Every method is safe to call
// concurrently.
type Store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error

	// ListObjects enumerates every object under prefix, paging
	// transparently, and returns them all in one slice.
	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	// CopyObjectInPlace re-copies an object onto itself with a new storage
	// class, used to demote objects to Glacier on rotation.
	CopyObjectInPlace(ctx context.Context, bucket, key, storageClass string) error

	// RestoreObject initiates a Glacier restore for the given object.
	RestoreObject(ctx context.Context, bucket, key string, days int32, tier types.RetrievalTier) error

	HeadObject(ctx context.Context, bucket, key string) (HeadResult, error)
}

// instantAccessClasses mirrors utilities.py's check_restore_status: these
// storage classes never need a head-object probe because they are already
// immediately readable.
var instantAccessClasses = map[string]bool{
	"STANDARD":             true,
	"STANDARD_IA":          true,
	"ONEZONE_IA":           true,
	"INTELLIGENT_TIERING":  true,
}

// glacierClasses are the storage classes that require a Restore-header
// check to determine read availability.
var glacierClasses = map[string]bool{
	"GLACIER":       true,
	"GLACIER_IR":    true,
	"DEEP_ARCHIVE":  true,
}

// IsInstantAccess reports whether objects in this storage class are
// already readable without a restore.
func IsInstantAccess(storageClass string) bool {
	return instantAccessClasses[strings.ToUpper(storageClass)]
}

// IsGlacierFamily reports whether this storage class requires restoring
// before the object is readable.
func IsGlacierFamily(storageClass string) bool {
	return glacierClasses[strings.ToUpper(storageClass)]
}

// NormalizePrefix trims leading slashes and ensures a trailing slash on a
// non-empty prefix, matching push_to_glacier/check_restore_status's
// normalization.
func NormalizePrefix(prefix string) string {
	p := strings.TrimLeft(prefix, "/")
	p = strings.TrimRight(p, "/")
	if p != "" {
		p += "/"
	}
	return p
}

// CheckRestoreStatus aggregates the restore state of every object under
// bucket/basePath by probing Glacier-family objects with HeadObject.
// Instant-access objects are counted as restored without a probe.
func CheckRestoreStatus(ctx context.Context, store Store, bucket, basePath string) (types.RestoreStatus, error) {
	normalized := NormalizePrefix(basePath)
	objects, err := store.ListObjects(ctx, bucket, normalized)
	if err != nil {
		return types.RestoreStatus{}, err
	}

	status := types.RestoreStatus{Total: len(objects)}
	for _, obj := range objects {
		if IsInstantAccess(obj.StorageClass) {
			status.Restored++
			continue
		}

		head, err := store.HeadObject(ctx, bucket, obj.Key)
		if err != nil {
			// Can't determine status; count as not-restored, matching the
			// source's "err on the side of caution" handling.
			status.NotRestored++
			continue
		}

		switch {
		case strings.Contains(head.Restore, `ongoing-request="true"`):
			status.InProgress++
		case head.Restore != "":
			status.Restored++
		default:
			status.NotRestored++
		}
	}

	return status, nil
}

// ClassifyStorage implements repair-metadata's classification: EMPTY for
// no objects, GLACIER/STANDARD if uniform, MIXED otherwise.
func ClassifyStorage(objects []Object) types.MetadataClass {
	if len(objects) == 0 {
		return types.MetadataClassEmpty
	}
	var sawGlacier, sawStandard bool
	for _, obj := range objects {
		if IsGlacierFamily(obj.StorageClass) {
			sawGlacier = true
		} else {
			sawStandard = true
		}
	}
	switch {
	case sawGlacier && sawStandard:
		return types.MetadataClassMixed
	case sawGlacier:
		return types.MetadataClassGlacier
	default:
		return types.MetadataClassStandard
	}
}
