package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"portfolio-ingestion-service/cmd/ingestor/config"
	"portfolio-ingestion-service/internal/reconciler"
	"portfolio-ingestion-service/internal/reporter"
	"portfolio-ingestion-service/internal/storage"
	apperrors "portfolio-ingestion-service/pkg/errors"
	"portfolio-ingestion-service/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// flagKeys maps flags onto configuration keys when the two differ.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"database":    "database.path",
	"addr":        "server.addr",
	"schema-file": "schema_file",
}

// cli carries the state shared by every command of one invocation.
type cli struct {
	fs      afero.Fs
	v       *viper.Viper
	cfgFile string
	envFile string
	verbose bool

	config *config.AppConfig
	logger logger.Logger
}

// NewRootCommand builds the command tree. Input, output and config files are
// accessed through fs.
func NewRootCommand(fs afero.Fs) *cobra.Command {
	c := &cli{fs: fs, v: viper.New()}

	root := &cobra.Command{
		Use:   "ingestor",
		Short: "Portfolio file ingestion tool",
		Long: `Ingestor loads broker and custodian exports (CSV, TSV or XLSX) into a
canonical per-table layout, reports the rows that could not be normalized,
and folds transaction and holding files into a per-account metric series.

Examples:
  ingestor ingest --table master_sheet --file master.csv --account acc1
  ingestor ingest --table tradebook --file trades.xlsx --account acc1 --store
  ingestor consolidate --transaction-file tx.csv --holding-file holdings.xlsx -o sheet.csv
  ingestor serve --addr :8080`,
		Version:           getVersionString(),
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return c.initialize(cmd) },
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (optional)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("database", "", "SQLite database path")
	root.PersistentFlags().String("schema-file", "", "table schema file (default: built-in catalogue)")

	root.AddCommand(
		newIngestCommand(c),
		newConsolidateCommand(c),
		newDeleteCommand(c),
		newSchemaCommand(c),
		newServeCommand(c),
		newGenerateCommand(c),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI against the real filesystem and returns the process
// exit code.
func Execute() int {
	root := NewRootCommand(afero.NewOsFs())
	err := root.Execute()

	verbose, _ := root.PersistentFlags().GetBool("verbose")
	return NewCLIErrorHandler(os.Stderr, verbose).HandleError(err)
}

// initialize loads configuration for the command about to run.
func (c *cli) initialize(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !os.IsNotExist(err) {
			return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "env-file", c.envFile, err)
		}
	}

	config.ConfigureViper(c.v, c.fs)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		c.bindFlag(f)
	})

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "config", c.cfgFile, err).
				WithSuggestion("check the config file path and YAML syntax")
		}
	}

	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	if c.verbose {
		cfg.Log.Level = logger.DebugLevel
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "log", cfg.Log, err)
	}
	logger.SetGlobalLogger(log)

	c.config = cfg
	c.logger = log.WithComponent("cli")
	if c.cfgFile != "" {
		c.logger.WithField("config", c.v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

func (c *cli) bindFlag(f *pflag.Flag) {
	key := f.Name
	if mapped, ok := flagKeys[f.Name]; ok {
		key = mapped
	}
	_ = c.v.BindPFlag(key, f)
}

// newService builds a reconciler.Service. The returned close function must
// be called when withStore is set.
func (c *cli) newService(ctx context.Context, withStore bool) (*reconciler.Service, func(), error) {
	registry, err := c.config.LoadRegistry(c.fs)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {}
	var store reconciler.Store
	if withStore {
		s, err := storage.Open(ctx, c.config.Database, c.logger)
		if err != nil {
			return nil, nil, err
		}
		store = s
		closeFn = func() {
			if err := s.Close(); err != nil {
				c.logger.WithError(err).Warn("Failed to close database")
			}
		}
	}

	svc, err := reconciler.NewService(registry, c.config.Ingestion, store, c.logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}

// writeReport renders result to outputFile, or to the command's output when
// outputFile is empty.
func (c *cli) writeReport(cmd *cobra.Command, format, outputFile string, result interface{}) error {
	generator, err := reporter.NewSafeReportGenerator(c.config.CreateReportConfig(format), c.logger)
	if err != nil {
		return err
	}

	if outputFile == "" {
		return generator.GenerateReportSafely(result, cmd.OutOrStdout())
	}

	written, err := generator.WriteFile(c.fs, outputFile, result)
	if err != nil {
		return err
	}
	if written != outputFile {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: could not write to %s, report saved to %s\n", outputFile, written)
	}
	return nil
}

func requireFlags(v *viper.Viper, names ...string) error {
	for _, name := range names {
		if v.GetString(name) == "" {
			return apperrors.ValidationError(apperrors.CodeMissingField, name, nil, nil).
				WithSuggestion(fmt.Sprintf("pass --%s", name))
		}
	}
	return nil
}

func validateOutputFormat(format string) error {
	if !reporter.OutputFormat(format).IsValid() {
		return apperrors.ValidationError("", "output-format", format, nil).
			WithSuggestion("use one of: console, json, csv")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// The root pre-run loads configuration, which version does not need.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ingestor %s\n", getVersionString())
		},
	}
}
