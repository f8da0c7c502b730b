package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/deepfreeze/pkg/controller"
	"github.com/cuemby/deepfreeze/pkg/types"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Bootstrap the first bucket, repository, and settings document",
	RunE: func(cmd *cobra.Command, args []string) error {
		year, _ := cmd.Flags().GetInt("year")
		month, _ := cmd.Flags().GetInt("month")
		repoPrefix, _ := cmd.Flags().GetString("repo-name-prefix")
		bucketPrefix, _ := cmd.Flags().GetString("bucket-name-prefix")
		basePathPrefix, _ := cmd.Flags().GetString("base-path-prefix")
		rotateBy, _ := cmd.Flags().GetString("rotate-by")
		style, _ := cmd.Flags().GetString("style")
		createSample, _ := cmd.Flags().GetBool("create-sample-ilm-policy")

		d, err := buildDeps(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer d.shutdownMetrics()

		settings := types.DefaultSettings()
		configPath, _ := cmd.Flags().GetString("config")
		fileCfg, err := loadFileConfig(configPath)
		if err != nil {
			return err
		}
		if fileCfg.RepoNamePrefix != "" {
			settings.RepoNamePrefix = fileCfg.RepoNamePrefix
		}
		if fileCfg.BucketNamePrefix != "" {
			settings.BucketNamePrefix = fileCfg.BucketNamePrefix
		}
		if fileCfg.BasePathPrefix != "" {
			settings.BasePathPrefix = fileCfg.BasePathPrefix
		}
		if repoPrefix != "" {
			settings.RepoNamePrefix = repoPrefix
		}
		if bucketPrefix != "" {
			settings.BucketNamePrefix = bucketPrefix
		}
		if basePathPrefix != "" {
			settings.BasePathPrefix = basePathPrefix
		}
		if rotateBy != "" {
			settings.RotateBy = types.RotateBy(rotateBy)
		}
		if style != "" {
			settings.Style = types.SuffixStyle(style)
		}

		s := controller.NewSetup(d.Deps, controller.SetupOptions{
			Year:                  year,
			Month:                 month,
			Settings:              settings,
			CreateSampleILMPolicy: createSample,
		})
		result, err := s.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("created repository %s (bucket %s, base path %s)\n", result.Repository, result.Bucket, result.BasePath)
		if result.ILMPolicy != "" {
			fmt.Printf("created sample ilm policy %s\n", result.ILMPolicy)
		}
		return nil
	},
}

func init() {
	setupCmd.Flags().Int("year", 0, "Year for date-style suffixes")
	setupCmd.Flags().Int("month", 0, "Month for date-style suffixes")
	setupCmd.Flags().String("repo-name-prefix", "", "Repository name prefix")
	setupCmd.Flags().String("bucket-name-prefix", "", "Bucket name prefix")
	setupCmd.Flags().String("base-path-prefix", "", "Base path prefix")
	setupCmd.Flags().String("rotate-by", "", "Rotation unit: path or bucket")
	setupCmd.Flags().String("style", "", "Suffix style: oneup or date")
	setupCmd.Flags().Bool("create-sample-ilm-policy", false, "Create a sample ILM policy targeting the new repository")
}
