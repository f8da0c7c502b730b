package types

import (
	"strings"
	"time"
)

// ThawState is a repository's position in the archival lifecycle.
type ThawState string

const (
	ThawStateActive  ThawState = "active"
	ThawStateFrozen  ThawState = "frozen"
	ThawStateThawing ThawState = "thawing"
	ThawStateThawed  ThawState = "thawed"
	ThawStateExpired ThawState = "expired"
)

// ThawRequestStatus is the lifecycle state of a thaw request document.
type ThawRequestStatus string

const (
	ThawRequestInProgress ThawRequestStatus = "in_progress"
	ThawRequestCompleted  ThawRequestStatus = "completed"
	ThawRequestFailed     ThawRequestStatus = "failed"
	ThawRequestRefrozen   ThawRequestStatus = "refrozen"
)

// RotateBy selects whether rotation suffixes the path within one bucket or
// mints a new bucket per rotation.
type RotateBy string

const (
	RotateByPath   RotateBy = "path"
	RotateByBucket RotateBy = "bucket"
)

// SuffixStyle selects the repository/bucket suffix scheme.
type SuffixStyle string

const (
	SuffixStyleOneup SuffixStyle = "oneup"
	SuffixStyleDate  SuffixStyle = "date"
)

// Provider selects the object-store adapter implementation.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderGCP   Provider = "gcp"
	ProviderAzure Provider = "azure"
)

const (
	StatusIndex = "deepfreeze-status"
	SettingsID  = "1"

	DoctypeSettings    = "settings"
	DoctypeRepository  = "repository"
	DoctypeThawRequest = "thaw_request"
)

// Settings is the singleton configuration document stored at SettingsID.
type Settings struct {
	Doctype      string      `json:"doctype"`
	RepoNamePrefix   string      `json:"repo_name_prefix"`
	BucketNamePrefix string      `json:"bucket_name_prefix"`
	BasePathPrefix   string      `json:"base_path_prefix"`
	CannedACL    string      `json:"canned_acl"`
	StorageClass string      `json:"storage_class"`
	Provider     Provider    `json:"provider"`
	RotateBy     RotateBy    `json:"rotate_by"`
	Style        SuffixStyle `json:"style"`
	LastSuffix   string      `json:"last_suffix"`

	ThawRequestRetentionDaysCompleted int `json:"thaw_request_retention_days_completed"`
	ThawRequestRetentionDaysFailed    int `json:"thaw_request_retention_days_failed"`
	ThawRequestRetentionDaysRefrozen  int `json:"thaw_request_retention_days_refrozen"`
}

// DefaultSettings returns the settings document with every field at its
// documented default, the same defaults the setup controller seeds with
// when the caller leaves a flag unset.
func DefaultSettings() Settings {
	return Settings{
		Doctype:          DoctypeSettings,
		RepoNamePrefix:   "deepfreeze",
		BucketNamePrefix: "deepfreeze",
		BasePathPrefix:   "snapshots",
		CannedACL:        "private",
		StorageClass:     "intelligent_tiering",
		Provider:         ProviderAWS,
		RotateBy:         RotateByPath,
		Style:            SuffixStyleOneup,

		ThawRequestRetentionDaysCompleted: 7,
		ThawRequestRetentionDaysFailed:    30,
		ThawRequestRetentionDaysRefrozen:  7,
	}
}

// Repository is one document per repository ever registered, whether
// currently mounted or demoted to cold storage.
type Repository struct {
	Doctype  string `json:"doctype"`
	DocID    string `json:"-"`
	Name     string `json:"name"`
	Bucket   string `json:"bucket"`
	BasePath string `json:"base_path"`

	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	ThawState ThawState `json:"thaw_state"`
	IsMounted bool      `json:"is_mounted"`
	IsThawed  bool      `json:"is_thawed"`

	ThawedAt  *time.Time `json:"thawed_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewRepository returns a bare repository record for a freshly-created
// repository: active, mounted, no thaw history.
func NewRepository(name, bucket, basePath string) Repository {
	return Repository{
		Doctype:   DoctypeRepository,
		Name:      name,
		Bucket:    bucket,
		BasePath:  basePath,
		ThawState: ThawStateActive,
		IsMounted: true,
	}
}

// Normalize applies the backward-compat rule that promotes legacy
// documents which only ever set IsThawed to the equivalent ThawState.
func (r *Repository) Normalize() {
	if r.IsThawed && r.ThawState == ThawStateFrozen {
		if r.IsMounted {
			r.ThawState = ThawStateThawed
		} else {
			r.ThawState = ThawStateThawing
		}
	}
}

// Unmount marks the repository as not currently registered in the cluster.
func (r *Repository) Unmount() {
	r.IsMounted = false
}

// StartThawing transitions frozen -> thawing when an S3 restore is
// initiated; expiresAt records when that restore will lapse.
func (r *Repository) StartThawing(expiresAt time.Time) {
	r.ThawState = ThawStateThawing
	r.ExpiresAt = &expiresAt
	r.IsThawed = true
}

// MarkThawed transitions thawing -> thawed once the restore has completed
// and the repository has been re-mounted in the cluster.
func (r *Repository) MarkThawed(now time.Time) {
	r.ThawState = ThawStateThawed
	r.ThawedAt = &now
	r.IsThawed = true
	r.IsMounted = true
}

// MarkExpired transitions thawed -> expired. ThawedAt/ExpiresAt are kept
// for historical reporting.
func (r *Repository) MarkExpired() {
	r.ThawState = ThawStateExpired
}

// ResetToFrozen transitions expired -> frozen after cleanup has unmounted
// the repository and demoted its objects back to cold storage.
func (r *Repository) ResetToFrozen() {
	r.ThawState = ThawStateFrozen
	r.IsThawed = false
	r.IsMounted = false
	r.ThawedAt = nil
	r.ExpiresAt = nil
}

// ResetToActive corrects a repair-metadata drift where a repository was
// recorded as frozen but its objects are actually in an instant-access
// storage class; used only by repair-metadata, never by the main lifecycle.
func (r *Repository) ResetToActive() {
	r.ThawState = ThawStateActive
	r.IsThawed = false
	r.IsMounted = true
	r.ThawedAt = nil
	r.ExpiresAt = nil
}

// MarkRefrozen transitions a thawed repository directly back to not-thawed,
// not-mounted without otherwise touching ThawState or thaw history --
// unlike ResetToFrozen, used when an operator forces an early refreeze
// ahead of the repository's normal expiry and the recorded lifecycle state
// itself (as opposed to mount/thaw status) is not meant to change.
func (r *Repository) MarkRefrozen() {
	r.IsThawed = false
	r.IsMounted = false
}

// Suffix returns the trailing `-<suffix>` segment of the repository name,
// e.g. "deepfreeze-000007" -> "000007".
func (r Repository) Suffix() string {
	idx := strings.LastIndex(r.Name, "-")
	if idx < 0 {
		return ""
	}
	return r.Name[idx+1:]
}

// ThawRequest is one document per thaw invocation.
type ThawRequest struct {
	Doctype   string            `json:"doctype"`
	RequestID string            `json:"request_id"`
	Status    ThawRequestStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	StartDate *time.Time        `json:"start_date,omitempty"`
	EndDate   *time.Time        `json:"end_date,omitempty"`
	Repos     []string          `json:"repos"`
}

// RestoreStatus aggregates the per-object restore state of a repository's
// backing objects, as observed via head-object probing.
type RestoreStatus struct {
	Total       int
	Restored    int
	InProgress  int
	NotRestored int
}

// Complete reports whether every object in the repository has completed
// its restore. An entirely empty prefix is never complete.
func (s RestoreStatus) Complete() bool {
	return s.Total > 0 && s.Restored == s.Total
}

// RetrievalTier selects the Glacier restore speed/cost tradeoff.
type RetrievalTier string

const (
	RetrievalTierStandard  RetrievalTier = "Standard"
	RetrievalTierExpedited RetrievalTier = "Expedited"
	RetrievalTierBulk      RetrievalTier = "Bulk"
)

// MetadataClass is repair-metadata's classification of a repository's
// actual object-store storage class mix.
type MetadataClass string

const (
	MetadataClassGlacier  MetadataClass = "GLACIER"
	MetadataClassStandard MetadataClass = "STANDARD"
	MetadataClassMixed    MetadataClass = "MIXED"
	MetadataClassEmpty    MetadataClass = "EMPTY"
)
