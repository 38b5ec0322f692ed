package cmd

import (
	"github.com/spf13/cobra"

	"portfolio-ingestion-service/cmd/ingestor/config"
	"portfolio-ingestion-service/internal/reconciler"
)

func newIngestCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest one file into a table",
		Long: `Ingest reads a CSV, TSV or XLSX file, reconciles its headers against the
table schema and normalizes every row. Rows that cannot be normalized are
reported with their 1-based row index (the header is row 1).

Without --store the rows are only parsed and reported. With --store they are
written to the database; rows already stored for the account are skipped.

Examples:
  # Parse and print a summary
  ingestor ingest --table master_sheet --file master.csv --account acc1

  # Store rows, keeping only January
  ingestor ingest --table tradebook --file trades.xlsx --account acc1 --store \
    --start-date 2024-01-01 --end-date 2024-01-31

  # Replace the account's stored rows and print the normalized rows as CSV
  ingestor ingest --table capital_in_out --file capital.csv --account acc1 \
    --store --replace --output-format csv`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlags(c.v, "table", "file", "account"); err != nil {
				return err
			}
			if err := validateOutputFormat(c.v.GetString("output-format")); err != nil {
				return err
			}
			return reconciler.ValidateAccount(c.v.GetString("account"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runIngest(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringP("table", "t", "", "target table, e.g. master_sheet (required)")
	flags.StringP("file", "i", "", "input file path (required)")
	flags.StringP("account", "a", "", "account code the rows belong to (required)")
	flags.String("start-date", "", "keep rows on or after this date (YYYY-MM-DD)")
	flags.String("end-date", "", "keep rows on or before this date (YYYY-MM-DD)")
	flags.Bool("store", false, "write rows to the database")
	flags.Bool("replace", false, "delete the account's stored rows for the table first (requires --store)")
	flags.StringP("output-format", "f", "console", "output format: console, json, csv")
	flags.StringP("output-file", "o", "", "output file path (default: stdout)")

	return cmd
}

func (c *cli) runIngest(cmd *cobra.Command) error {
	path := c.v.GetString("file")
	content, err := config.ReadInput(c.fs, path)
	if err != nil {
		return err
	}

	svc, closeFn, err := c.newService(cmd.Context(), c.v.GetBool("store"))
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := svc.Ingest(cmd.Context(), &reconciler.IngestRequest{
		Table:     c.v.GetString("table"),
		Account:   c.v.GetString("account"),
		Filename:  path,
		Content:   content,
		StartDate: c.v.GetString("start-date"),
		EndDate:   c.v.GetString("end-date"),
		Replace:   c.v.GetBool("replace"),
	})
	if err != nil {
		return err
	}

	return c.writeReport(cmd, c.v.GetString("output-format"), c.v.GetString("output-file"), resp)
}
