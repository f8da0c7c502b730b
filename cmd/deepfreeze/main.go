package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/deepfreeze/pkg/cluster"
	"github.com/cuemby/deepfreeze/pkg/controller"
	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/metrics"
	"github.com/cuemby/deepfreeze/pkg/objectstore"
	"github.com/cuemby/deepfreeze/pkg/policy"
	"github.com/cuemby/deepfreeze/pkg/registry"
	"github.com/cuemby/deepfreeze/pkg/statestore"
	"github.com/cuemby/deepfreeze/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		renderError(err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "deepfreeze",
	Short: "Cold-tier archival lifecycle controller for Elasticsearch",
	Long: `deepfreeze rotates Elasticsearch searchable-snapshot repositories
through an S3/Glacier-backed cold tier: minting new repositories,
versioning the lifecycle policies that reference them, thawing and
refreezing historical data on demand, and reconciling drift between
what the cluster's metadata says and what the object store actually
holds.`,
	Version:       Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"deepfreeze version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve /metrics on for the duration of this command (e.g. :9090)")
	rootCmd.PersistentFlags().String("config", "", "YAML config file (connection details + flag defaults)")

	rootCmd.PersistentFlags().StringSlice("es-addresses", nil, "Elasticsearch node addresses")
	rootCmd.PersistentFlags().String("es-username", "", "Elasticsearch username")
	rootCmd.PersistentFlags().String("es-password", "", "Elasticsearch password")
	rootCmd.PersistentFlags().String("es-ca-cert", "", "Path to Elasticsearch CA certificate")

	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-endpoint", "", "Custom S3-compatible endpoint (MinIO/LocalStack)")
	rootCmd.PersistentFlags().String("s3-access-key-id", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-access-key", "", "S3 secret access key")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(thawCmd)
	rootCmd.AddCommand(refreezeCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(repairMetadataCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// exitCode maps an error to its process exit status: 1 for
// configuration/precondition errors, 2 for anything else.
func exitCode(err error) int {
	var precondition *types.PreconditionError
	var invalidConfig *types.InvalidConfigError
	var missingIndex *types.MissingIndexError
	var missingSettings *types.MissingSettingsError
	if errors.As(err, &precondition) || errors.As(err, &invalidConfig) ||
		errors.As(err, &missingIndex) || errors.As(err, &missingSettings) {
		return 1
	}
	return 2
}

// deps bundles everything buildDeps wires up, plus a teardown func.
type deps struct {
	controller.Deps
	shutdownMetrics func()
}

// buildDeps reads the persistent flags (and --config file, which supplies
// defaults the flags can override), and constructs every adapter a
// controller needs. Called once per subcommand invocation.
func buildDeps(ctx context.Context, cmd *cobra.Command) (*deps, error) {
	configPath, _ := cmd.Flags().GetString("config")
	fileCfg, err := loadFileConfig(configPath)
	if err != nil {
		return nil, &types.InvalidConfigError{Field: "config", Value: err.Error()}
	}

	esCfg := fileCfg.clusterConfig()
	if addrs, _ := cmd.Flags().GetStringSlice("es-addresses"); len(addrs) > 0 {
		esCfg.Addresses = addrs
	}
	if v, _ := cmd.Flags().GetString("es-username"); v != "" {
		esCfg.Username = v
	}
	if v, _ := cmd.Flags().GetString("es-password"); v != "" {
		esCfg.Password = v
	}
	if v, _ := cmd.Flags().GetString("es-ca-cert"); v != "" {
		if data, err := os.ReadFile(v); err == nil {
			esCfg.CACert = data
		}
	}
	if len(esCfg.Addresses) == 0 {
		esCfg.Addresses = []string{"http://localhost:9200"}
	}

	s3Cfg := fileCfg.objectStoreConfig()
	if v, _ := cmd.Flags().GetString("s3-region"); v != "" {
		s3Cfg.Region = v
	}
	if v, _ := cmd.Flags().GetString("s3-endpoint"); v != "" {
		s3Cfg.Endpoint = v
	}
	if v, _ := cmd.Flags().GetString("s3-access-key-id"); v != "" {
		s3Cfg.AccessKeyID = v
	}
	if v, _ := cmd.Flags().GetString("s3-secret-access-key"); v != "" {
		s3Cfg.SecretAccessKey = v
	}
	if s3Cfg.Region == "" {
		s3Cfg.Region = "us-east-1"
	}

	transport, err := cluster.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("building elasticsearch client: %w", err)
	}
	objects, err := objectstore.NewAWSStore(ctx, s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("building object store: %w", err)
	}

	store := statestore.New(transport, types.StatusIndex)
	cl := cluster.New(transport)
	reg := registry.New(store, cl)
	pol := policy.New(cl)

	metrics.SetVersion(Version)
	if _, err := cl.ClusterVersion(ctx); err != nil {
		metrics.RegisterComponent("elasticsearch", false, err.Error())
	} else {
		metrics.RegisterComponent("elasticsearch", true, "")
	}
	// objects is already a live client at this point -- NewAWSStore above
	// would have failed construction rather than return a broken one.
	metrics.RegisterComponent("object_store", true, "")

	shutdown := func() {}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/healthz", metrics.LivenessHandler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger.Error().Err(err).Msg("metrics server")
			}
		}()
		shutdown = func() { srv.Shutdown(context.Background()) }
	}

	return &deps{
		Deps: controller.Deps{
			Store:    store,
			Registry: reg,
			Policy:   pol,
			Objects:  objects,
			Cluster:  cl,
		},
		shutdownMetrics: shutdown,
	}, nil
}
