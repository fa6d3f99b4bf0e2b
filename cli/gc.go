package cli

import (
	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete orphaned image blobs once",
	Long:  "Runs a single sweep: deletes blobs no product references and purges expired sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.sweeper().Sweep(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("deleted=%d kept=%d failed=%d sessions_purged=%d\n",
			report.Deleted, report.Kept, report.Failed, report.SessionsPurged)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
}
