package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"statepop/internal/blob"
	"statepop/internal/config"
	"statepop/internal/database"
	"statepop/internal/fetch"
	"statepop/internal/logging"
	"statepop/internal/metrics"
	"statepop/internal/persist"
	"statepop/internal/pipeline"
)

const (
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorReset = "\033[0m"
)

// app carries flag values and the state built in PersistentPreRunE.
type app struct {
	configPath  string
	verbose     bool
	filterField string
	filterValue string
	groupField  string
	outputDir   string

	cfg    *config.Config
	logger *zap.Logger
	runID  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("Command failed", zap.Error(err))
			_ = a.logger.Sync()
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// rootCmd builds the command tree. Running with no subcommand runs the
// pipeline.
func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "statepop",
		Short: "Fetch DataUSA state populations and write filtered and grouped JSON artifacts",
		Long: `statepop fetches the DataUSA state population dataset and writes:
  raw.json                the payload as received
  filtered-<value>.json   records whose filter field equals the filter value
  nested-state-data.json  every record grouped by the group field

then prints one "<key> - <year> - <population>" line per record.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: a.runPipeline,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "statepop.yaml", "YAML config file (optional)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&a.filterField, "filter-field", "", "record field to filter on (default State)")
	flags.StringVar(&a.filterValue, "filter-value", "", "value the filter field must equal (default Virginia)")
	flags.StringVar(&a.groupField, "group-field", "", "record field to group by (default State)")
	flags.StringVar(&a.outputDir, "output-dir", "", "artifact directory for the fs driver (default outputs)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Fetch, persist, filter, group and report",
			Args:  cobra.NoArgs,
			RunE:  a.runPipeline,
		},
		a.browseCmd(),
		a.lsCmd(),
		a.queryCmd(),
	)
	return root
}

// setup loads configuration, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFile(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.filterField != "" {
		cfg.Filter.Field = a.filterField
	}
	if a.filterValue != "" {
		cfg.Filter.Value = a.filterValue
	}
	if a.groupField != "" {
		cfg.Group.Field = a.groupField
	}
	if a.outputDir != "" {
		cfg.Output.Dir = a.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development, a.verbose)
	if err != nil {
		return err
	}
	a.runID = uuid.NewString()
	a.logger = logger.With(zap.String("run_id", a.runID), zap.String("command", cmd.Name()))
	a.cfg = cfg
	return nil
}

func (a *app) openStore(ctx context.Context) (blob.Store, error) {
	store, err := blob.Open(ctx, a.cfg.BlobConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	return store, nil
}

func (a *app) runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	client := fetch.New(a.cfg.API.BaseURL,
		fetch.WithLogger(a.logger),
		fetch.WithHTTPClient(&http.Client{Timeout: a.cfg.GetAPITimeout()}))

	opts := []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithOutput(cmd.OutOrStdout()),
	}

	var rec *metrics.Recorder
	if a.cfg.Metrics.Textfile != "" {
		rec = metrics.New()
		opts = append(opts, pipeline.WithMetrics(rec))
	}

	if a.cfg.DatabaseEnabled() {
		db, err := database.Open(ctx, a.cfg.DatabaseConfig(), a.logger)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, pipeline.WithMirror(db))
	}

	p := pipeline.New(client, persist.New(store, a.runID), pipeline.Options{
		Path:          a.cfg.API.Path,
		Params:        a.cfg.Params(),
		FilterField:   a.cfg.FilterField(),
		FilterValue:   a.cfg.Filter.Value,
		GroupField:    a.cfg.GroupField(),
		ShapefilePath: a.cfg.Shapefile.Path,
	}, opts...)

	a.logger.Info("Starting run",
		zap.String("store", string(store.Driver())),
		zap.String("filter", a.cfg.Filter.Field+"="+a.cfg.Filter.Value),
		zap.String("group", a.cfg.Group.Field))
	_, runErr := p.Run(ctx)

	if rec != nil {
		if err := rec.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			a.logger.Warn("Failed to write metrics", zap.Error(err))
		}
	}
	return runErr
}
