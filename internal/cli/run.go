package cli

import (
	"github.com/spf13/cobra"

	"github.com/rabdya767/Stock-ATH-Alert/internal/app"
)

var (
	runDryRun  bool
	runStyle   string
	runChannel string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check every instrument once and send alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunOnce(cmd.Context(), app.RunOptions{
			DryRun:  runDryRun,
			Style:   runStyle,
			Channel: runChannel,
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run checks on the configured schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Print to the console only; do not save state or notify")
	runCmd.Flags().StringVar(&runStyle, "style", "", "Report style for the remote channel (plain-table, plain-list, html-table)")
	runCmd.Flags().StringVar(&runChannel, "channel", "", "Remote channel override (stdout, email, telegram)")
}
