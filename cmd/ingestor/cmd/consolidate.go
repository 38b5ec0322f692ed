package cmd

import (
	"github.com/spf13/cobra"

	"portfolio-ingestion-service/cmd/ingestor/config"
	"portfolio-ingestion-service/internal/reconciler"
)

func newConsolidateCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Build a per-account metric series from transaction and holding files",
		Long: `Consolidate ingests a transaction file and a holding file and derives, for
every account and date, the portfolio value, NAV, daily P&L and drawdown from
the running peak.

Examples:
  ingestor consolidate --transaction-file tx.csv --holding-file holdings.xlsx
  ingestor consolidate --transaction-file tx.csv --holding-file holdings.csv \
    --output-format json --output-file metrics.json --store`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlags(c.v, "transaction-file", "holding-file"); err != nil {
				return err
			}
			return validateOutputFormat(c.v.GetString("output-format"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runConsolidate(cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("transaction-file", "", "transaction file path (required)")
	flags.String("holding-file", "", "holding file path (required)")
	flags.Bool("store", false, "save the metric series to the database")
	flags.StringP("output-format", "f", "csv", "output format: csv, json, console")
	flags.StringP("output-file", "o", "", "output file path (default: stdout)")

	return cmd
}

func (c *cli) runConsolidate(cmd *cobra.Command) error {
	txPath := c.v.GetString("transaction-file")
	txContent, err := config.ReadInput(c.fs, txPath)
	if err != nil {
		return err
	}
	holdPath := c.v.GetString("holding-file")
	holdContent, err := config.ReadInput(c.fs, holdPath)
	if err != nil {
		return err
	}

	persist := c.v.GetBool("store")
	svc, closeFn, err := c.newService(cmd.Context(), persist)
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := svc.Consolidate(cmd.Context(), &reconciler.ConsolidateRequest{
		TransactionFilename: txPath,
		TransactionContent:  txContent,
		HoldingFilename:     holdPath,
		HoldingContent:      holdContent,
		Persist:             persist,
	})
	if err != nil {
		return err
	}

	return c.writeReport(cmd, c.v.GetString("output-format"), c.v.GetString("output-file"), resp)
}
