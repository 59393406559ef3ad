package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the lifecycle worker in the foreground",
	Long: `Run the periodic lifecycle sweeps until interrupted. This is the
same loop the dedicated worker binary runs, without the health endpoint.

Examples:
  subflow worker`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		err = c.LifecycleWorker.Run(cmd.Context())
		if err == context.Canceled {
			return nil
		}
		return err
	},
}
