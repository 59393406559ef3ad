package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List subscription plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		levels, err := c.LevelRepo.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list plans: %w", err)
		}

		if len(levels) == 0 {
			fmt.Println("No plans configured.")
			return nil
		}

		fmt.Printf("\n  %-10s %-10s %-10s %s\n", "TIER", "PRICE", "CURRENCY", "FREQUENCY")
		fmt.Println(strings.Repeat("-", 50))
		for _, level := range levels {
			fmt.Printf("  %-10s %-10.2f %-10s %s\n",
				level.Tier, level.EffectivePrice(), level.Currency, level.Frequency)
		}
		fmt.Println()
		return nil
	},
}
