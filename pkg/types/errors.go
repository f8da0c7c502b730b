package types

import "fmt"

// Issue is one failed precondition check, paired with remediation text so
// the CLI can render "issue + solution" panels.
type Issue struct {
	Problem    string
	Solution   string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s (%s)", i.Problem, i.Solution)
}

// MissingIndexError is raised when the status index is required but absent.
type MissingIndexError struct {
	Index string
}

func (e *MissingIndexError) Error() string {
	return fmt.Sprintf("status index %q is missing but should exist", e.Index)
}

// MissingSettingsError is raised when the status index exists but the
// settings document does not.
type MissingSettingsError struct{}

func (e *MissingSettingsError) Error() string {
	return "settings document is missing from the status index"
}

// PreconditionError aggregates every failed startup check for an action;
// all issues are reported together rather than failing on the first one.
type PreconditionError struct {
	Action string
	Issues []Issue
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("preconditions failed for %s:", e.Action)
	for _, iss := range e.Issues {
		msg += "\n  - " + iss.String()
	}
	return msg
}

// RepositoryError covers repository registration/deletion/mount failures
// and registry lookups that came up empty when they should not have.
type RepositoryError struct {
	Repository string
	Msg        string
}

func (e *RepositoryError) Error() string {
	if e.Repository == "" {
		return e.Msg
	}
	return fmt.Sprintf("repository %s: %s", e.Repository, e.Msg)
}

// InvalidConfigError covers unknown style/rotate-by/provider values and
// malformed date input.
type InvalidConfigError struct {
	Field string
	Value string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s=%q", e.Field, e.Value)
}

// NotImplementedError is returned by providers that are named but stubbed
// (gcp, azure).
type NotImplementedError struct {
	Provider string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s provider is not implemented", e.Provider)
}

// ObjectStoreError wraps a failure from the underlying bucket/object API.
type ObjectStoreError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *ObjectStoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("object store error on bucket %s: %v", e.Bucket, e.Err)
	}
	return fmt.Sprintf("object store error on s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *ObjectStoreError) Unwrap() error { return e.Err }

// ActionError is the generic wrapper for unexpected failures surfaced from
// external systems that do not fit a more specific category.
type ActionError struct {
	Msg string
	Err error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ActionError) Unwrap() error { return e.Err }
