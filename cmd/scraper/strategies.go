package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/aluiziolira/go-scrape-storefronts/adapters"
	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/spf13/cobra"
)

// NewStrategiesCmd creates the strategies command.
func NewStrategiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategies [platform...]",
		Short: "List the selector strategies tried for each platform",
		Long: `Strategies prints, in the order they are tried, the selector strategies of
the given platforms (all platforms when none is given), including those
added by the settings file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settingsPath, err := cmd.Flags().GetString("settings")
			if err != nil {
				return err
			}
			registry := adapters.NewRegistry()
			if path := config.FindSettingsFile(settingsPath); path != "" {
				settings, err := config.LoadSettings(path)
				if err != nil {
					return err
				}
				if err := registerStrategies(registry, settings); err != nil {
					return err
				}
			}

			platforms := registry.Platforms()
			if len(args) > 0 {
				var selected []models.Platform
				for _, arg := range args {
					p := models.ParsePlatform(arg)
					if !slices.Contains(selected, p) {
						selected = append(selected, p)
					}
				}
				platforms = selected
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "PLATFORM\t#\tSTRATEGY\tCONTAINER")
			for _, platform := range platforms {
				for i, s := range registry.StrategiesFor(platform) {
					fmt.Fprintf(out, "%s\t%d\t%s\t%s\n", platform, i+1, s.Name, s.Container)
				}
			}
			return out.Flush()
		},
	}
	cmd.Flags().String("settings", "", "Settings YAML path")
	return cmd
}
