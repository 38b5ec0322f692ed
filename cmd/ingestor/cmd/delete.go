package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"portfolio-ingestion-service/internal/reconciler"
)

func newDeleteCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an account's stored rows within a date range",
		Long: `Delete removes the rows stored for one account and table whose date falls
within an inclusive range.

Example:
  ingestor delete --table tradebook --account acc1 --start-date 2024-01-01 --end-date 2024-01-31`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return requireFlags(c.v, "table", "account", "start-date", "end-date")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := c.newService(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeFn()

			table := reconciler.TableID(c.v.GetString("table"))
			account := c.v.GetString("account")
			deleted, err := svc.Delete(cmd.Context(), &reconciler.DeleteRequest{
				Table:     table,
				Account:   account,
				StartDate: c.v.GetString("start-date"),
				EndDate:   c.v.GetString("end-date"),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d records from %s for account %s\n", deleted, table, account)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("table", "t", "", "table to delete from (required)")
	flags.StringP("account", "a", "", "account code (required)")
	flags.String("start-date", "", "first date to delete (YYYY-MM-DD, required)")
	flags.String("end-date", "", "last date to delete (YYYY-MM-DD, required)")

	return cmd
}
