package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rabdya767/Stock-ATH-Alert/internal/app"
)

var (
	showAlerts bool
	showLimit  int
	pruneDry   bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored ATH watermarks or recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showAlerts && showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Alerts: showAlerts,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop stored state for instruments no longer in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Prune(cmd.Context(), app.PruneOptions{DryRun: pruneDry})
		return err
	},
}

func init() {
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "List audited alerts (postgres backend only)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of alerts to display")
	pruneCmd.Flags().BoolVar(&pruneDry, "dry-run", false, "List stale entries without saving")
}
