package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/artpar/netbill/bootstrap"
	"github.com/artpar/netbill/domain/router"
	"github.com/spf13/cobra"
)

var routerID string

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Inspect and provision routers",
	Long: `Inspect and provision the MikroTik routers netbill enforces on.

Commands take --router to pick a stored router; without it the default
router is used.

Examples:
  netbill router list
  netbill router test
  netbill router push-config 192.168.88.10:3000 --router r1`,
}

var routerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored routers",
	RunE:  runRouterList,
}

var routerTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check connectivity and record the router status",
	RunE:  runRouterTest,
}

var routerPushConfigCmd = &cobra.Command{
	Use:   "push-config <server-address>",
	Short: "Provision the overdue redirect on the router",
	Long: `Provision the router so disabled subscribers are redirected to the
payment reminder page served at <server-address>.

Steps are best-effort: failures are reported as warnings and the
remaining steps still run.`,
	Args: cobra.ExactArgs(1),
	RunE: runRouterPushConfig,
}

var statusCmd = &cobra.Command{
	Use:   "status <pppoe-username>",
	Short: "Show a subscriber's PPPoE secret and session",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(routerCmd)
	rootCmd.AddCommand(statusCmd)
	routerCmd.AddCommand(routerListCmd)
	routerCmd.AddCommand(routerTestCmd)
	routerCmd.AddCommand(routerPushConfigCmd)

	routerCmd.PersistentFlags().StringVar(&routerID, "router", "", "router id (default router when empty)")
	statusCmd.Flags().StringVar(&routerID, "router", "", "router id (default router when empty)")
}

var errNoRouter = errors.New("no router configured")

func resolveRouter(cmd *cobra.Command, a *bootstrap.App) (router.Router, error) {
	r, err := a.Routers.ResolveRouter(cmd.Context(), routerID)
	if err != nil {
		return router.Router{}, err
	}
	if r.ID == "" {
		return router.Router{}, errNoRouter
	}
	return r, nil
}

func runRouterList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	routers, err := a.Routers.ListRouters(cmd.Context())
	if err != nil {
		return fmt.Errorf("list routers: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, routers)
	}
	if len(routers) == 0 {
		fmt.Fprintln(out, "No routers found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tADDRESS\tSTATUS\tDEFAULT")
	for _, r := range routers {
		def := ""
		if r.IsDefault {
			def = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%s\n", r.ID, r.Name, r.Host, r.APIPort(), r.Status, def)
	}
	return w.Flush()
}

func runRouterTest(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	r, err := resolveRouter(cmd, a)
	if err != nil {
		return err
	}
	res, err := a.Routers.TestConnection(cmd.Context(), r.ID)
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "%s %s (%s:%d)\n", mark(res.Connected), res.Message, r.Host, r.APIPort())
	if !res.Connected {
		return fmt.Errorf("router %s unreachable: %s", r.ID, res.Kind)
	}
	return nil
}

func runRouterPushConfig(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	r, err := resolveRouter(cmd, a)
	if err != nil {
		return err
	}
	res := a.Routers.PushConfig(cmd.Context(), r, args[0])

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "%s %s\n", mark(res.Success), res.Message)
	for _, warn := range res.Warnings {
		fmt.Fprintf(out, "  ! %s\n", warn)
	}
	if !res.Success {
		return errors.New("push-config failed")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	r, err := resolveRouter(cmd, a)
	if err != nil {
		return err
	}
	res := a.Routers.GetPppoeStatus(cmd.Context(), r, args[0])

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, res)
	}
	if !res.Success {
		fmt.Fprintf(out, "%s %s\n", crossMark, res.Message)
		return fmt.Errorf("status %s: %s", args[0], res.Kind)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Username\t%s\n", args[0])
	fmt.Fprintf(w, "State\t%s\n", res.State)
	fmt.Fprintf(w, "Profile\t%s\n", res.Profile)
	fmt.Fprintf(w, "Online\t%t\n", res.Online)
	if res.Online {
		fmt.Fprintf(w, "Address\t%s\n", res.Address)
		fmt.Fprintf(w, "Uptime\t%s\n", res.Uptime)
	}
	return w.Flush()
}
