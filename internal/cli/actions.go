package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chant/internal/display"
	"chant/internal/registry"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the actions of the catalog for the current route",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		catalog, err := registry.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		reg := registry.New()
		if err := catalog.Register(reg); err != nil {
			return err
		}
		reg.SetCurrentRoute(cfg.Route)
		fmt.Fprintln(cmd.OutOrStdout(), display.FormatActions(reg.AvailableActionsForCurrentRoute(), reg.CurrentRoute()))
		return nil
	},
}
