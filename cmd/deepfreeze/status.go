package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cuemby/deepfreeze/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report on repositories, thawed state, buckets, and ILM policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		showRepos, _ := cmd.Flags().GetBool("repos")
		showThawed, _ := cmd.Flags().GetBool("thawed")
		showBuckets, _ := cmd.Flags().GetBool("buckets")
		showILM, _ := cmd.Flags().GetBool("ilm")
		showConfig, _ := cmd.Flags().GetBool("config")
		porcelain, _ := cmd.Flags().GetBool("porcelain")

		d, err := buildDeps(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer d.shutdownMetrics()

		// With no section flag, every section is shown.
		all := !showRepos && !showThawed && !showBuckets && !showILM && !showConfig

		settings, err := d.Store.GetSettings(cmd.Context())
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		repos, err := d.Store.AllRepositories(cmd.Context(), settings.RepoNamePrefix, nil)
		if err != nil {
			return fmt.Errorf("listing repositories: %w", err)
		}
		sort.Slice(repos, func(i, j int) bool { return repos[i].Name > repos[j].Name })
		if limit > 0 && len(repos) > limit {
			repos = repos[:limit]
		}

		if all || showRepos {
			printRepoSection(repos, porcelain)
		}
		if all || showThawed {
			printThawedSection(repos, porcelain)
		}
		if all || showBuckets {
			printBucketSection(repos, porcelain)
		}
		if all || showILM {
			if err := printILMSection(cmd, d, porcelain); err != nil {
				return err
			}
		}
		if all || showConfig {
			printConfigSection(settings, porcelain)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 0, "Limit the number of repositories shown (0 = no limit)")
	statusCmd.Flags().Bool("repos", false, "Show repository lifecycle state")
	statusCmd.Flags().Bool("thawed", false, "Show only thawing/thawed repositories")
	statusCmd.Flags().Bool("buckets", false, "Show distinct buckets in use")
	statusCmd.Flags().Bool("ilm", false, "Show ILM policies in the cluster")
	statusCmd.Flags().Bool("config", false, "Show resolved lifecycle settings")
	statusCmd.Flags().Bool("porcelain", false, "Emit tab-separated machine-parseable output")
}

func printRepoSection(repos []types.Repository, porcelain bool) {
	if !porcelain {
		fmt.Println("\nRepositories:")
	}
	for _, r := range repos {
		if porcelain {
			fmt.Printf("REPO\t%s\t%s\t%v\t%v\n", r.Name, r.ThawState, r.IsMounted, r.IsThawed)
			continue
		}
		fmt.Printf("  %-28s state=%-10s mounted=%-5v thawed=%v\n", r.Name, r.ThawState, r.IsMounted, r.IsThawed)
	}
}

func printThawedSection(repos []types.Repository, porcelain bool) {
	if !porcelain {
		fmt.Println("\nThawed/thawing repositories:")
	}
	for _, r := range repos {
		if r.ThawState != types.ThawStateThawing && r.ThawState != types.ThawStateThawed {
			continue
		}
		if porcelain {
			fmt.Printf("THAWED\t%s\t%s\t%s\n", r.Name, r.ThawState, r.ExpiresAt)
			continue
		}
		fmt.Printf("  %-28s state=%-10s expires=%v\n", r.Name, r.ThawState, r.ExpiresAt)
	}
}

func printBucketSection(repos []types.Repository, porcelain bool) {
	seen := map[string]bool{}
	var buckets []string
	for _, r := range repos {
		if r.Bucket == "" || seen[r.Bucket] {
			continue
		}
		seen[r.Bucket] = true
		buckets = append(buckets, r.Bucket)
	}
	sort.Strings(buckets)

	if !porcelain {
		fmt.Println("\nBuckets:")
	}
	for _, b := range buckets {
		if porcelain {
			fmt.Printf("BUCKET\t%s\n", b)
			continue
		}
		fmt.Printf("  %s\n", b)
	}
}

func printILMSection(cmd *cobra.Command, d *deps, porcelain bool) error {
	names, err := d.Cluster.ListILMPolicyNames(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing ilm policies: %w", err)
	}
	sort.Strings(names)

	if !porcelain {
		fmt.Println("\nILM policies:")
	}
	for _, name := range names {
		if porcelain {
			fmt.Printf("ILM\t%s\n", name)
			continue
		}
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func printConfigSection(settings types.Settings, porcelain bool) {
	if porcelain {
		fmt.Printf("CONFIG\trepo_name_prefix\t%s\n", settings.RepoNamePrefix)
		fmt.Printf("CONFIG\tbucket_name_prefix\t%s\n", settings.BucketNamePrefix)
		fmt.Printf("CONFIG\tbase_path_prefix\t%s\n", settings.BasePathPrefix)
		fmt.Printf("CONFIG\trotate_by\t%s\n", settings.RotateBy)
		fmt.Printf("CONFIG\tstyle\t%s\n", settings.Style)
		fmt.Printf("CONFIG\tstorage_class\t%s\n", settings.StorageClass)
		return
	}
	fmt.Println("\nLifecycle settings:")
	fmt.Printf("  repo_name_prefix:   %s\n", settings.RepoNamePrefix)
	fmt.Printf("  bucket_name_prefix: %s\n", settings.BucketNamePrefix)
	fmt.Printf("  base_path_prefix:   %s\n", settings.BasePathPrefix)
	fmt.Printf("  rotate_by:          %s\n", settings.RotateBy)
	fmt.Printf("  style:              %s\n", settings.Style)
	fmt.Printf("  storage_class:      %s\n", settings.StorageClass)
}
