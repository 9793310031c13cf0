package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	bookstore "github.com/asaidimu/bookstore-queries"
	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/asaidimu/bookstore-queries/core/memstore"
	"github.com/asaidimu/bookstore-queries/core/mongostore"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	ExitCodeExecuteFailed      = 1
	ExitCodeInvalidConfig      = 2
	ExitCodeDecodeConfigFailed = 3
)

const (
	FlagConfig          = "config"
	FlagURI             = "uri"
	FlagDatabase        = "database"
	FlagCollection      = "collection"
	FlagBackend         = "backend"
	FlagLogLevel        = "log-level"
	FlagContinueOnError = "continue-on-error"
	FlagPrintMetrics    = "print-metrics"
	FlagStrictExit      = "strict-exit"
)

const appName = "bookstore-queries"

type options struct {
	configPath      string
	uri             string
	database        string
	collection      string
	backend         string
	logLevel        string
	continueOnError bool
	printMetrics    bool
	strictExit      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if code := execute(ctx, newRootCmd(), os.Stderr); code != 0 {
		stop()
		os.Exit(code)
	}
}

// execute runs the command tree and returns the process exit code. Errors are
// always reported on stderr but only change the exit status with --strict-exit.
func execute(ctx context.Context, cmd *cobra.Command, stderr io.Writer) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if strict, _ := cmd.PersistentFlags().GetBool(FlagStrictExit); !strict {
		return 0
	}
	return exitCodeFromError(err, ExitCodeExecuteFailed)
}

func newRootCmd() *cobra.Command {
	o := &options{}
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Run the bookstore query batch against a document store",
		Long: "Runs a fixed sequence of filters, projections, sorts, pagination, aggregations, " +
			"index builds and an explain plan against the books collection and prints each result.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQueries(cmd, o)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&o.configPath, FlagConfig, "c", "", "configuration file path")
	flags.StringVar(&o.uri, FlagURI, bookstore.DefaultURI, "document store connection URI")
	flags.StringVar(&o.database, FlagDatabase, bookstore.DefaultDatabase, "database name")
	flags.StringVar(&o.collection, FlagCollection, bookstore.DefaultCollection, "collection name")
	flags.StringVar(&o.backend, FlagBackend, bookstore.BackendMongo, "store backend: mongo or memory")
	flags.StringVar(&o.logLevel, FlagLogLevel, "info", "log level")
	flags.BoolVar(&o.strictExit, FlagStrictExit, false,
		"exit 1 on a failed operation, 2 on invalid config and 3 on an unreadable config file")
	rootCmd.Flags().BoolVar(&o.continueOnError, FlagContinueOnError, false, "keep running after a failed operation")
	rootCmd.Flags().BoolVar(&o.printMetrics, FlagPrintMetrics, false, "print operation metrics after the run")

	rootCmd.AddCommand(newSeedCmd(o))
	return rootCmd
}

func newSeedCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the sample bookstore data set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, o)
			if err != nil {
				return err
			}
			if cfg.Backend == bookstore.BackendMemory {
				log.Warn("seeding the memory backend only lasts for this process")
			}
			connect, err := newConnector(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			n, err := bookstore.Seed(cmd.Context(), cfg, connect, bookstore.SampleBooks())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d books into %s.%s\n", n, cfg.Database, cfg.Collection)
			return nil
		},
	}
}

func runQueries(cmd *cobra.Command, o *options) error {
	cfg, err := resolveConfig(cmd, o)
	if err != nil {
		return err
	}

	connect, err := newConnector(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	bookstore.InitMetrics(registry)

	runner := bookstore.NewRunner(cfg, connect,
		bookstore.WithReporter(bookstore.NewTextReporter(cmd.OutOrStdout())))
	summary, runErr := runner.Run(cmd.Context())

	succeeded, failed, skipped := summary.Counts()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d succeeded, %d failed, %d skipped\n", succeeded, failed, skipped)
	if o.printMetrics {
		if err := printMetrics(cmd.OutOrStdout(), registry); err != nil {
			log.Warn("print metrics failed", zap.Error(err))
		}
	}
	return runErr
}

// resolveConfig layers the config file over the defaults, then any flag the
// user set explicitly over that.
func resolveConfig(cmd *cobra.Command, o *options) (*bookstore.Config, error) {
	cfg := bookstore.DefaultConfig()
	if o.configPath != "" {
		loaded, err := bookstore.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed(FlagURI) {
		cfg.URI = o.uri
	}
	if flags.Changed(FlagDatabase) {
		cfg.Database = o.database
	}
	if flags.Changed(FlagCollection) {
		cfg.Collection = o.collection
	}
	if flags.Changed(FlagBackend) {
		cfg.Backend = o.backend
	}
	if flags.Changed(FlagLogLevel) {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed(FlagContinueOnError) {
		cfg.ContinueOnError = o.continueOnError
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bookstore.InitLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, &ExitError{Code: ExitCodeInvalidConfig, Err: err}
	}
	return cfg, nil
}

// newConnector picks the backend. The memory backend is optionally preloaded
// with the sample books so the batch has something to query.
func newConnector(ctx context.Context, cfg *bookstore.Config, preload bool) (docstore.Connector, error) {
	switch cfg.Backend {
	case bookstore.BackendMemory:
		store := memstore.NewStore(cfg.Database)
		if preload {
			if _, err := bookstore.Seed(ctx, cfg, store.Connector(), bookstore.SampleBooks()); err != nil {
				return nil, err
			}
		}
		return store.Connector(), nil
	default:
		return mongostore.Connector(mongostore.Options{
			URI:            cfg.URI,
			Database:       cfg.Database,
			AppName:        appName,
			ConnectTimeout: cfg.ConnectTimeout,
		}), nil
	}
}
