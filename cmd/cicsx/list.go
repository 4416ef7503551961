package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rflorenc/cics-explorer/internal/models"
	"github.com/rflorenc/cics-explorer/internal/resources"
)

func newListCmd(a *app) *cobra.Command {
	var (
		scope    scopeFlags
		criteria []string
		all      bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list <profile> <kind>",
		Short: "List resources of a kind",
		Long: `List resources of a kind, one page at a time.

Examples:
  cicsx list dev program
  cicsx list dev program --criteria PAY01,PAY02 --region IYK2ZXXX
  cicsx list dev librarydataset --parent MYLIB --all`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := a.openContainer(args[0], args[1], scope)
			if err != nil {
				return err
			}
			if len(criteria) > 0 {
				ct.SetCriteria(criteria)
			}

			var listed []models.Resource
			more := true
			for more {
				var page []models.Resource
				page, more, err = ct.FetchNextPage(cmd.Context())
				if err != nil {
					return err
				}
				listed = append(listed, page...)
				if !all {
					break
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				records := make([]models.Attributes, 0, len(listed))
				for _, r := range listed {
					records = append(records, r.Attributes)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			printResources(cmd, ct.Kind(), listed)
			fmt.Fprintf(out, "\n%d of %d %s", ct.FetchedCount(), ct.RecordCount(), ct.Kind().Label)
			if ct.IsFilterApplied() {
				fmt.Fprintf(out, " matching %s", ct.Criteria())
			}
			if more {
				fmt.Fprint(out, " (use --all for the rest)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	scope.bind(cmd.Flags())
	cmd.Flags().StringSliceVar(&criteria, "criteria", nil, "Names to match on the primary key (comma separated, * wildcards)")
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw attributes as JSON")
	return cmd
}

func printResources(cmd *cobra.Command, kind resources.Kind, list []models.Resource) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tREGION\tSTATUS")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", kind.DisplayLabel(r), r.Region(), r.Status())
	}
	tw.Flush()
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the supported resource kinds and their actions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tRESOURCE\tACTIONS")
			for _, k := range resources.All() {
				fmt.Fprintf(tw, "%s\t%s\t%v\n", k.Name, k.ResourceName, k.Actions)
			}
			tw.Flush()
		},
	}
}
