package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"portfolio-ingestion-service/internal/schema"
	apperrors "portfolio-ingestion-service/pkg/errors"
)

func newSchemaCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and validate table schemas",
	}

	list := &cobra.Command{
		Use:   "list [table...]",
		Short: "List the configured tables and their columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := c.config.LoadRegistry(c.fs)
			if err != nil {
				return err
			}
			return printTables(cmd, registry, args)
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a schema file",
		Long: `Validate loads a schema file and checks every table definition: unique
display and field names, a date field that exists, aliases that resolve to
one column, and policy lists that name existing columns.

Without --schema-file the built-in catalogue is validated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := c.config.LoadRegistry(c.fs)
			if err != nil {
				return err
			}
			source := c.config.SchemaFile
			if source == "" {
				source = "built-in catalogue"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d tables (version %s)\n",
				source, len(registry.Tables()), registry.Version())
			return nil
		},
	}

	cmd.AddCommand(list, validate)
	return cmd
}

func printTables(cmd *cobra.Command, registry *schema.Registry, names []string) error {
	if len(names) == 0 {
		names = registry.Tables()
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tDATE COLUMN\tCOLUMNS")
	for _, name := range names {
		ts, ok := registry.Get(name)
		if !ok {
			return apperrors.ValidationError(apperrors.CodeUnknownTable, "table", name, nil)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, ts.DateColumn(), strings.Join(ts.DisplayNames(), ", "))
	}
	return w.Flush()
}
