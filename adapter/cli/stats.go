package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statsWindow time.Duration

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show subscription statistics",
	Long: `Display a snapshot of subscription counts, tier distribution,
estimated monthly revenue, and retention over the given window.

Examples:
  subflow stats
  subflow stats --window 720h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		stats, err := c.StatsService.Snapshot(cmd.Context(), statsWindow)
		if err != nil {
			return fmt.Errorf("failed to collect stats: %w", err)
		}

		fmt.Printf("\n  SUBSCRIPTIONS (as of %s)\n", stats.TakenAt.Format(time.RFC3339))
		fmt.Println(strings.Repeat("-", 50))
		fmt.Printf("  Active:          %d\n", stats.ActiveCount)
		fmt.Printf("  In trial:        %d\n", stats.TrialCount)
		fmt.Printf("  Payment failed:  %d\n", stats.PaymentFailedCount)
		fmt.Printf("  Cancelled:       %d\n", stats.CancelledCount)
		fmt.Printf("  New in window:   %d (window %s)\n", stats.NewInWindow, stats.Window)

		if len(stats.ByTier) > 0 {
			fmt.Println("\n  BY TIER")
			fmt.Println(strings.Repeat("-", 50))
			for tier, count := range stats.ByTier {
				fmt.Printf("  %-10s %d\n", tier, count)
			}
		}

		fmt.Println("\n  REVENUE")
		fmt.Println(strings.Repeat("-", 50))
		fmt.Printf("  Estimated monthly: %.2f\n", stats.EstimatedMonthlyRevenue)
		fmt.Printf("  Retention rate:    %.1f%%\n", stats.RetentionRate*100)
		fmt.Println()
		return nil
	},
}

func init() {
	statsCmd.Flags().DurationVar(&statsWindow, "window", 30*24*time.Hour, "reporting window")
}
