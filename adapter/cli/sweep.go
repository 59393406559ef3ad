package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one lifecycle sweep cycle",
	Long: `Run a single lifecycle sweep cycle and exit: renewals due, payment
retries, trial notices and closures, expiry notices, expirations, archival,
and retention deletion.

Examples:
  subflow sweep`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		c.LifecycleWorker.RunCycle(cmd.Context())

		fmt.Println("Sweep cycle completed.")
		return nil
	},
}
