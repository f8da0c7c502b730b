package controller

import (
	"context"
	"fmt"

	"github.com/cuemby/deepfreeze/pkg/cluster"
	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/registry"
	"github.com/cuemby/deepfreeze/pkg/types"
)

// SetupResult summarizes the resources setup created.
type SetupResult struct {
	Repository string
	Bucket     string
	BasePath   string
	ILMPolicy  string
}

// SetupOptions configures a Setup invocation. When Settings.RepoNamePrefix
// is empty, NewSetup replaces every naming, storage, and retention field of
// Settings with types.DefaultSettings(); otherwise Settings is used as
// given, zero-valued fields included.
type SetupOptions struct {
	Year, Month          int
	Settings             types.Settings
	CreateSampleILMPolicy bool
	SampleILMPolicyName   string
}

// Setup is the bootstrap controller: creates the first bucket, repository,
// and settings document.
type Setup struct {
	Deps
	opts SetupOptions
}

// NewSetup constructs a Setup controller.
func NewSetup(deps Deps, opts SetupOptions) *Setup {
	if opts.Settings.RepoNamePrefix == "" {
		defaults := types.DefaultSettings()
		opts.Settings.RepoNamePrefix = defaults.RepoNamePrefix
		opts.Settings.BucketNamePrefix = defaults.BucketNamePrefix
		opts.Settings.BasePathPrefix = defaults.BasePathPrefix
		opts.Settings.CannedACL = defaults.CannedACL
		opts.Settings.StorageClass = defaults.StorageClass
		opts.Settings.Provider = defaults.Provider
		opts.Settings.RotateBy = defaults.RotateBy
		opts.Settings.Style = defaults.Style
		opts.Settings.ThawRequestRetentionDaysCompleted = defaults.ThawRequestRetentionDaysCompleted
		opts.Settings.ThawRequestRetentionDaysFailed = defaults.ThawRequestRetentionDaysFailed
		opts.Settings.ThawRequestRetentionDaysRefrozen = defaults.ThawRequestRetentionDaysRefrozen
	}
	return &Setup{Deps: deps, opts: opts}
}

// plan is the concrete repository/bucket naming resolved from settings.
type setupPlan struct {
	suffix     string
	repoName   string
	bucketName string
	basePath   string
}

func (s *Setup) plan() (setupPlan, error) {
	suffix := "000001"
	if s.opts.Settings.Style == types.SuffixStyleDate {
		if s.opts.Year == 0 || s.opts.Month == 0 {
			return setupPlan{}, &types.InvalidConfigError{Field: "year/month", Value: "required for date suffix style"}
		}
		var err error
		suffix, err = registry.NextSuffix(types.SuffixStyleDate, "", s.opts.Year, s.opts.Month)
		if err != nil {
			return setupPlan{}, err
		}
	}

	p := setupPlan{
		suffix:   suffix,
		repoName: fmt.Sprintf("%s-%s", s.opts.Settings.RepoNamePrefix, suffix),
	}
	if s.opts.Settings.RotateBy == types.RotateByBucket {
		p.bucketName = fmt.Sprintf("%s-%s", s.opts.Settings.BucketNamePrefix, suffix)
		p.basePath = s.opts.Settings.BasePathPrefix
	} else {
		p.bucketName = s.opts.Settings.BucketNamePrefix
		p.basePath = fmt.Sprintf("%s-%s", s.opts.Settings.BasePathPrefix, suffix)
	}
	return p, nil
}

// checkPreconditions mirrors Setup._check_preconditions: the status index
// must not already exist, no repository may already match the configured
// prefix, and the target bucket must not already exist. Every failing
// check is collected and returned together.
func (s *Setup) checkPreconditions(ctx context.Context, p setupPlan) error {
	var issues []types.Issue

	if err := s.Store.EnsureIndex(ctx, false); err == nil {
		issues = append(issues, types.Issue{
			Problem:  fmt.Sprintf("status index %q already exists", types.StatusIndex),
			Solution: fmt.Sprintf("delete the existing index before running setup: DELETE %s", types.StatusIndex),
		})
	}

	matching, err := s.Registry.MatchingNamesByPattern(ctx, "^"+s.opts.Settings.RepoNamePrefix)
	if err != nil {
		return fmt.Errorf("checking existing repositories: %w", err)
	}
	if len(matching) > 0 {
		issues = append(issues, types.Issue{
			Problem:  fmt.Sprintf("found %d existing repositories matching prefix %q", len(matching), s.opts.Settings.RepoNamePrefix),
			Solution: "delete the existing repositories before running setup (deepfreeze cleanup, or delete each manually)",
		})
	}

	exists, err := s.Objects.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", p.bucketName, err)
	}
	if exists {
		issues = append(issues, types.Issue{
			Problem:  fmt.Sprintf("S3 bucket %q already exists", p.bucketName),
			Solution: "delete the existing bucket or choose a different bucket_name_prefix",
		})
	}

	if version, err := s.Cluster.ClusterVersion(ctx); err == nil && cluster.MajorVersion(version) < 8 {
		if hasPlugin, err := s.Cluster.HasS3RepositoryPlugin(ctx); err == nil && !hasPlugin {
			issues = append(issues, types.Issue{
				Problem:  "elasticsearch S3 repository plugin is not installed",
				Solution: "install the repository-s3 plugin on all nodes and restart them",
			})
		}
	}

	if len(issues) > 0 {
		return &types.PreconditionError{Action: "setup", Issues: issues}
	}
	return nil
}

// Run executes setup: validates preconditions, creates the settings
// document, the S3 bucket, the repository, and optionally a sample ILM
// policy.
func (s *Setup) Run(ctx context.Context) (*SetupResult, error) {
	defer runTimer("setup")()

	p, err := s.plan()
	if err != nil {
		return nil, err
	}
	if err := s.checkPreconditions(ctx, p); err != nil {
		return nil, err
	}

	s.opts.Settings.LastSuffix = p.suffix
	if err := s.Store.EnsureIndex(ctx, true); err != nil {
		return nil, fmt.Errorf("creating status index: %w", err)
	}
	if err := s.Store.SaveSettings(ctx, s.opts.Settings); err != nil {
		return nil, fmt.Errorf("saving settings: %w", err)
	}

	if err := s.Objects.CreateBucket(ctx, p.bucketName); err != nil {
		return nil, fmt.Errorf("creating bucket %s: %w", p.bucketName, err)
	}
	log.Logger.Info().Str("bucket", p.bucketName).Msg("created s3 bucket")

	if err := s.Cluster.CreateRepository(ctx, p.repoName, clusterRepoSettings(p, s.opts.Settings)); err != nil {
		return nil, fmt.Errorf("creating repository %s: %w", p.repoName, err)
	}
	log.WithRepository(p.repoName).Info().Msg("created snapshot repository")

	repo := types.NewRepository(p.repoName, p.bucketName, p.basePath)
	if err := s.Store.PersistRepository(ctx, &repo); err != nil {
		return nil, fmt.Errorf("persisting repository record: %w", err)
	}

	result := &SetupResult{Repository: p.repoName, Bucket: p.bucketName, BasePath: p.basePath}

	if s.opts.CreateSampleILMPolicy {
		name := s.opts.SampleILMPolicyName
		if name == "" {
			name = s.opts.Settings.RepoNamePrefix + "-sample-policy"
		}
		body := samplePolicyBody(p.repoName)
		if err := s.Cluster.PutILMPolicy(ctx, name, body); err != nil {
			log.Logger.Warn().Err(err).Str("policy", name).Msg("failed to create sample ilm policy; setup will continue")
		} else {
			result.ILMPolicy = name
		}
	}

	return result, nil
}

func clusterRepoSettings(p setupPlan, settings types.Settings) cluster.RepositorySettings {
	return cluster.RepositorySettings{
		Bucket:       p.bucketName,
		BasePath:     p.basePath,
		CannedACL:    settings.CannedACL,
		StorageClass: settings.StorageClass,
	}
}

func samplePolicyBody(repoName string) map[string]any {
	return map[string]any{
		"policy": map[string]any{
			"phases": map[string]any{
				"hot": map[string]any{
					"min_age": "0ms",
					"actions": map[string]any{
						"rollover": map[string]any{"max_size": "45gb", "max_age": "7d"},
					},
				},
				"frozen": map[string]any{
					"min_age": "14d",
					"actions": map[string]any{
						"searchable_snapshot": map[string]any{"snapshot_repository": repoName},
					},
				},
				"delete": map[string]any{
					"min_age": "365d",
					"actions": map[string]any{
						"delete": map[string]any{"delete_searchable_snapshot": false},
					},
				},
			},
		},
	}
}
