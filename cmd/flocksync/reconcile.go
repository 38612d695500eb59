package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flocksync/flocksync/pkg/client"
	"github.com/flocksync/flocksync/pkg/types"
)

var apiAddr string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile GROUP",
	Short: "Trigger reconciliation for one scaling group",
	Long: `Enqueue a reconciliation task for the named scaling group on a
running controller. The task is processed asynchronously; watch the
controller logs for the outcome.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group := args[0]
		c := client.New(apiAddr)
		if err := c.TriggerReconcile(cmd.Context(), group); err != nil {
			return fmt.Errorf("failed to trigger reconciliation: %w", err)
		}
		fmt.Printf("✓ Reconciliation enqueued for group '%s'\n", group)
		return nil
	},
}

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Deliver a lifecycle event to a running controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		transition, _ := cmd.Flags().GetString("transition")
		group, _ := cmd.Flags().GetString("group")
		instanceID, _ := cmd.Flags().GetString("instance")
		token, _ := cmd.Flags().GetString("token")
		hook, _ := cmd.Flags().GetString("hook")

		event := &types.LifecycleEvent{
			Transition:   types.LifecycleTransition(transition),
			ScalingGroup: group,
			InstanceID:   instanceID,
			Token:        token,
			HookName:     hook,
			Time:         time.Now().UTC(),
		}

		c := client.New(apiAddr)
		if err := c.SendLifecycle(cmd.Context(), event); err != nil {
			return fmt.Errorf("failed to deliver event: %w", err)
		}
		fmt.Printf("✓ %s event for instance '%s' handled\n", transition, instanceID)
		return nil
	},
}

var deadlettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List reconciliation tasks that exhausted their delivery attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(apiAddr)
		tasks, err := c.DeadLetters(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No dead-lettered tasks.")
			return nil
		}
		fmt.Printf("%-38s %-24s %-10s %s\n", "TASK", "GROUP", "REASON", "ATTEMPTS")
		for _, t := range tasks {
			fmt.Printf("%-38s %-24s %-10s %d\n", t.ID, t.Group, t.Reason, t.Attempt)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://127.0.0.1:8480", "Base URL of a running controller")

	eventCmd.Flags().String("transition", "LAUNCHING", "Transition (LAUNCHING or DRAINING)")
	eventCmd.Flags().String("group", "", "Scaling group name")
	eventCmd.Flags().String("instance", "", "Instance ID")
	eventCmd.Flags().String("token", "", "Lifecycle action token")
	eventCmd.Flags().String("hook", "", "Lifecycle hook name")
	eventCmd.MarkFlagRequired("group")
	eventCmd.MarkFlagRequired("instance")

	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(deadlettersCmd)
}
