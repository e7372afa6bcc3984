package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/aluiziolira/go-scrape-storefronts/adapters"
	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/spf13/cobra"
)

// NewCatalogCmd creates the catalog command group.
func NewCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the storefront catalog",
	}
	cmd.AddCommand(newCatalogValidateCmd())
	return cmd
}

func newCatalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [catalog.csv]",
		Short: "Load the catalog and report every row that would be skipped",
		Long: `Validate parses the catalog exactly like run does and prints one line per
entry with the platform and the strategies that will be tried. Rejected rows
are listed with their reason and make the command exit non-zero.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfig().CatalogPath
			if v, ok := config.EnvString("SITES_CSV_PATH"); ok {
				path = v
			}
			if v, ok := config.EnvString("SCRAPER_CATALOG"); ok {
				path = v
			}
			if len(args) == 1 {
				path = args[0]
			}

			catalog, err := config.LoadCatalog(path)
			if err != nil {
				return err
			}

			registry := adapters.NewRegistry()
			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "ROW\tSITE\tENABLED\tPLATFORM\tMAX PAGES\tSTRATEGIES")
			for _, entry := range catalog.Entries {
				strategies := registry.ForEntry(entry)
				fmt.Fprintf(out, "%d\t%s\t%t\t%s\t%s\t%d\n",
					entry.Row, entry.SiteID, entry.Enabled, entry.Platform, maxPagesText(entry.MaxPages), len(strategies))
			}
			if err := out.Flush(); err != nil {
				return err
			}

			for _, invalid := range catalog.Invalid {
				fmt.Fprintln(cmd.ErrOrStderr(), invalid.Error())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries, %d enabled, %d rejected\n",
				len(catalog.Entries), len(catalog.Enabled()), len(catalog.Invalid))
			if len(catalog.Invalid) > 0 {
				return fmt.Errorf("%d catalog rows rejected", len(catalog.Invalid))
			}
			return nil
		},
	}
}

func maxPagesText(n int) string {
	if n <= 0 {
		return "-"
	}
	return strconv.Itoa(n)
}
