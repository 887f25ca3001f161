package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Disable overdue subscribers now",
	Long: `Run the overdue sweep once and print its report.

Every subscriber with a PPPoE username and a router is evaluated; those
resolved as Overdue have their secret disabled. Nobody is re-enabled.

Examples:
  netbill sweep
  netbill sweep --json`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	report, err := a.Sweep.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, report)
	}

	fmt.Fprintf(out, "%s Sweep finished in %s\n", mark(report.Failed == 0), report.Duration())
	fmt.Fprintf(out, "  Checked:  %d\n", report.Checked)
	fmt.Fprintf(out, "  Overdue:  %d\n", report.Overdue)
	fmt.Fprintf(out, "  Disabled: %d\n", report.Disabled)
	fmt.Fprintf(out, "  Skipped:  %d\n", report.Skipped)
	fmt.Fprintf(out, "  Failed:   %d\n", report.Failed)

	if len(report.Failures) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SUBSCRIBER\tUSERNAME\tKIND\tATTEMPTS\tMESSAGE")
		for _, f := range report.Failures {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", f.SubscriberID, f.Username, f.Kind, f.Attempts, f.Message)
		}
		w.Flush()
	}
	return nil
}
