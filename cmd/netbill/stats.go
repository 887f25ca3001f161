package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/artpar/netbill/domain/billing"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dashboard totals",
	RunE:  runStats,
}

var (
	subscribersStatus string
)

var subscribersCmd = &cobra.Command{
	Use:   "subscribers",
	Short: "List subscribers with their current bill",
	Long: `List active subscribers resolved at the current instant.

Examples:
  netbill subscribers
  netbill subscribers --status Overdue`,
	RunE: runSubscribers,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(subscribersCmd)

	subscribersCmd.Flags().StringVar(&subscribersStatus, "status", "", "only show this status (Paid, Partial, Due Today, Overdue, Upcoming)")
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	stats, err := a.Billing.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, stats)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Subscribers\t%d\n", stats.SubscriberCount)
	fmt.Fprintf(w, "Paid\t%d\n", stats.Paid)
	fmt.Fprintf(w, "Partial\t%d\n", stats.Partial)
	fmt.Fprintf(w, "Due today\t%d\n", stats.DueToday)
	fmt.Fprintf(w, "Overdue\t%d\n", stats.Overdue)
	fmt.Fprintf(w, "Upcoming\t%d\n", stats.Upcoming)
	fmt.Fprintf(w, "Collections\t%.2f\n", stats.TotalCollections)
	fmt.Fprintf(w, "Monthly revenue\t%.2f\n", stats.TotalMonthlyRevenue)
	fmt.Fprintf(w, "Expected profit\t%.2f\n", stats.ExpectedProfit)
	return w.Flush()
}

func runSubscribers(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	views, err := a.Billing.List(cmd.Context(), billing.Status(subscribersStatus))
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, views)
	}
	if len(views) == 0 {
		fmt.Fprintln(out, "No subscribers found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tNAME\tPPPOE\tDUE\tAMOUNT\tREMAINING\tSTATUS")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			v.AccountNumber, v.Name, v.PPPoEUsername, v.Billing.DueDate,
			v.Billing.AmountDue, v.Billing.RemainingBalance, v.Billing.Status)
	}
	return w.Flush()
}
