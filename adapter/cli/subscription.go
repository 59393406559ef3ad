package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/subflow/internal/subscription/application"
	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

var subscriptionCmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Manage subscriptions",
}

var (
	subscribeUser     string
	subscribeTier     string
	subscribeCustomer string
	subscribeTrial    bool
)

var subscribeCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a subscription",
	Long: `Create a subscription for a user and attempt its first charge, or
start a trial with --trial.

Examples:
  subflow subscription create --user 7f9... --tier PREMIUM
  subflow subscription create --user 7f9... --tier BASIC --trial`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		userID, err := uuid.Parse(subscribeUser)
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		tier, err := domain.TierFromString(subscribeTier)
		if err != nil {
			return err
		}

		var sub *domain.Subscription
		if subscribeTrial {
			sub, err = c.Service.StartTrial(cmd.Context(), application.StartTrialCommand{
				UserID:     userID,
				Tier:       tier,
				CustomerID: subscribeCustomer,
			})
		} else {
			sub, err = c.Service.CreateSubscription(cmd.Context(), application.CreateSubscriptionCommand{
				UserID:     userID,
				Tier:       tier,
				CustomerID: subscribeCustomer,
			})
		}
		if err != nil {
			return err
		}

		printSubscription(sub)
		return nil
	},
}

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel <subscription-id>",
	Short: "Cancel a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid subscription id: %w", err)
		}

		sub, err := c.Service.CancelSubscription(cmd.Context(), id, cancelReason)
		if err != nil {
			return err
		}

		printSubscription(sub)
		return nil
	},
}

var reactivateCmd = &cobra.Command{
	Use:   "reactivate <subscription-id>",
	Short: "Reactivate a cancelled subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid subscription id: %w", err)
		}

		sub, err := c.Service.ReactivateSubscription(cmd.Context(), id)
		if err != nil {
			return err
		}

		printSubscription(sub)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <subscription-id>",
	Short: "Show a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid subscription id: %w", err)
		}

		sub, err := c.Service.GetSubscription(cmd.Context(), id)
		if err != nil {
			return err
		}

		printSubscription(sub)
		return nil
	},
}

var changeTierCmd = &cobra.Command{
	Use:   "change-tier <subscription-id> <tier>",
	Short: "Move a subscription to another plan tier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid subscription id: %w", err)
		}
		tier, err := domain.TierFromString(args[1])
		if err != nil {
			return err
		}

		sub, err := c.Service.ChangeLevel(cmd.Context(), id, tier)
		if err != nil {
			return err
		}

		printSubscription(sub)
		return nil
	},
}

var promoCmd = &cobra.Command{
	Use:   "promo <subscription-id> <code>",
	Short: "Apply a promotion code",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid subscription id: %w", err)
		}

		sub, err := c.Service.ApplyPromotion(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}

		printSubscription(sub)
		return nil
	},
}

var autoRenewCmd = &cobra.Command{
	Use:   "autorenew <subscription-id> <on|off>",
	Short: "Enable or disable auto-renewal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid subscription id: %w", err)
		}

		var enabled bool
		switch args[1] {
		case "on":
			enabled = true
		case "off":
			enabled = false
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}

		sub, err := c.Service.SetAutoRenew(cmd.Context(), id, enabled)
		if err != nil {
			return err
		}

		printSubscription(sub)
		return nil
	},
}

var listUser string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		userID, err := uuid.Parse(listUser)
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}

		subs, err := c.Service.ListByUser(cmd.Context(), userID)
		if err != nil {
			return err
		}

		if len(subs) == 0 {
			fmt.Println("No subscriptions found.")
			return nil
		}

		fmt.Printf("\n  %-38s %-10s %-16s %s\n", "ID", "TIER", "STATUS", "NEXT BILLING")
		fmt.Println(strings.Repeat("-", 90))
		for _, sub := range subs {
			next := "-"
			if d := sub.EffectiveNextBillingDate(); d != nil {
				next = d.Format("2006-01-02")
			}
			tier := "-"
			if sub.Level() != nil {
				tier = string(sub.Level().Tier)
			}
			fmt.Printf("  %-38s %-10s %-16s %s\n", sub.ID(), tier, sub.Status(), next)
		}
		fmt.Println()
		return nil
	},
}

func printSubscription(sub *domain.Subscription) {
	fmt.Printf("\n  Subscription %s\n", sub.ID())
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("  User:       %s\n", sub.UserID())
	if sub.Level() != nil {
		fmt.Printf("  Tier:       %s (%.2f %s / %s)\n",
			sub.Level().Tier, sub.Level().EffectivePrice(), sub.Level().Currency, sub.Level().Frequency)
	}
	fmt.Printf("  Status:     %s\n", sub.Status())
	fmt.Printf("  Started:    %s\n", sub.StartDate().Format(time.RFC3339))
	if d := sub.EffectiveNextBillingDate(); d != nil {
		fmt.Printf("  Next bill:  %s\n", d.Format("2006-01-02"))
	}
	if sub.CancelledAt() != nil {
		fmt.Printf("  Cancelled:  %s\n", sub.CancelledAt().Format(time.RFC3339))
	}
	if sub.LastPaymentError() != "" {
		fmt.Printf("  Last error: %s\n", sub.LastPaymentError())
	}
	fmt.Println()
}

func init() {
	subscribeCmd.Flags().StringVar(&subscribeUser, "user", "", "user id (required)")
	subscribeCmd.Flags().StringVar(&subscribeTier, "tier", "BASIC", "plan tier")
	subscribeCmd.Flags().StringVar(&subscribeCustomer, "customer", "", "provider customer id")
	subscribeCmd.Flags().BoolVar(&subscribeTrial, "trial", false, "start a trial instead of charging")
	_ = subscribeCmd.MarkFlagRequired("user")

	cancelCmd.Flags().StringVar(&cancelReason, "reason", "user_requested", "cancellation reason")

	listCmd.Flags().StringVar(&listUser, "user", "", "user id (required)")
	_ = listCmd.MarkFlagRequired("user")

	subscriptionCmd.AddCommand(subscribeCmd)
	subscriptionCmd.AddCommand(cancelCmd)
	subscriptionCmd.AddCommand(reactivateCmd)
	subscriptionCmd.AddCommand(showCmd)
	subscriptionCmd.AddCommand(listCmd)
	subscriptionCmd.AddCommand(changeTierCmd)
	subscriptionCmd.AddCommand(promoCmd)
	subscriptionCmd.AddCommand(autoRenewCmd)
}
