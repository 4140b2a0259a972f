// Command quickstats fetches USDA NASS QuickStats data: single queries to stdout or a file,
// and resumable catalog ingests into a configurable sink.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/logger"
	"github.com/nassdata/quickstats/pkg/observability"

	// Register every sink
	_ "github.com/nassdata/quickstats/pkg/sink/bigquery"
	_ "github.com/nassdata/quickstats/pkg/sink/file"
	_ "github.com/nassdata/quickstats/pkg/sink/gcs"
	_ "github.com/nassdata/quickstats/pkg/sink/kafka"
	_ "github.com/nassdata/quickstats/pkg/sink/mongo"
	_ "github.com/nassdata/quickstats/pkg/sink/postgres"
	_ "github.com/nassdata/quickstats/pkg/sink/s3"
	_ "github.com/nassdata/quickstats/pkg/sink/snowflake"
)

var version = "0.1.0"

// envPrefix prefixes environment overrides of flags: NASS_CONFIG, NASS_LOG_LEVEL, ...
const envPrefix = "NASS"

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	logger   *zap.Logger
	shutdown func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "quickstats",
		Short: "USDA NASS QuickStats connector",
		Long: `quickstats pulls agricultural statistics from the USDA NASS QuickStats API.

The API key is read from NASS_API_KEY (a .env file in the working directory is loaded
first). Every flag can also be set as NASS_<FLAG>, e.g. NASS_LOG_LEVEL=debug.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML configuration file")
	flags.String("env-file", ".env", "dotenv file loaded before the configuration")
	flags.String("log-level", "", "log level (debug, info, warn, error); overrides the configuration")
	flags.String("log-encoding", "", "log encoding (json, console); overrides the configuration")

	root.AddCommand(
		newIngestCmd(a),
		newFetchCmd(a),
		newCountCmd(a),
		newValuesCmd(a),
		newDatasetsCmd(a),
		newSinksCmd(),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup() error {
	if err := config.LoadDotEnv(a.v.GetString("env-file")); err != nil {
		return err
	}
	cfg, err := config.Load(a.v.GetString("config"))
	if err != nil {
		return err
	}
	if level := a.v.GetString("log-level"); level != "" {
		cfg.Observability.LogLevel = level
	}
	if encoding := a.v.GetString("log-encoding"); encoding != "" {
		cfg.Observability.LogEncoding = encoding
	}
	a.cfg = cfg

	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogEncoding,
		Development: cfg.Observability.Development,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return err
	}
	a.logger = logger.With(zap.String("service", cfg.Name))

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig()
		tc.ServiceVersion = version
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		shutdown, err := observability.InitTracing(tc)
		if err != nil {
			return err
		}
		a.shutdown = shutdown
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	_ = logger.Sync()
	if a.shutdown != nil {
		return a.shutdown(context.WithoutCancel(ctx))
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// Skip configuration loading
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "quickstats v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
