package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"portfolio-ingestion-service/internal/server"
	"portfolio-ingestion-service/pkg/logger"
)

func newServeCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload API",
		Long: `Serve exposes ingestion over HTTP:

  POST   /api/upload/{table}               multipart file, qcode, startDate, endDate, replace
  POST   /api/upload/consolidated-sheet    multipart transaction_file, holding_file
  DELETE /api/{table}/records              qcode, startDate, endDate
  GET    /api/schema/{table}
  GET    /healthz

When started with --config, changes to log.level in the config file are
applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, closeFn, err := c.newService(ctx, c.v.GetBool("store"))
			if err != nil {
				return err
			}
			defer closeFn()

			srv, err := server.New(svc, c.config.Server, c.logger)
			if err != nil {
				return err
			}

			if c.cfgFile != "" {
				c.v.OnConfigChange(c.reloadLogLevel)
				c.v.WatchConfig()
			}
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :8080)")
	cmd.Flags().Bool("store", true, "persist uploads to the database")
	return cmd
}

// reloadLogLevel applies the log level from a changed config file.
func (c *cli) reloadLogLevel(e fsnotify.Event) {
	level := logger.Level(c.v.GetString("log.level"))
	if c.verbose {
		level = logger.DebugLevel
	}
	if err := logger.SetLevel(c.logger, level); err != nil {
		c.logger.WithError(err).WithField("file", e.Name).Warn("Ignoring invalid log level in config change")
		return
	}
	c.logger.WithFields(logger.Fields{
		"file":  e.Name,
		"level": level,
	}).Info("Log level reloaded")
}
