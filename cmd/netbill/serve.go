package main

import (
	"context"

	"github.com/artpar/netbill/bootstrap"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and overdue sweep",
	Long: `Start the netbill server.

The server will:
  - Load configuration from netbill.yaml (or --config)
  - Or load configuration from NETBILL_* environment variables
  - Open the database and apply migrations
  - Schedule the overdue sweep (sweep.schedule)
  - Serve the operator API, balance lookup, /health and /metrics

The config file is watched; logging.level and the sweep schedule apply
without a restart. Send SIGHUP to force a reload.

Examples:
  netbill serve
  netbill serve --config /etc/netbill/netbill.yaml
  NETBILL_ROUTER_DRIVER=simulated NETBILL_DATABASE_DRIVER=memory netbill serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		LogOutput:  cmd.OutOrStdout(),
		Version:    version,
	})
	if err != nil {
		return err
	}

	// Run blocks until SIGINT/SIGTERM.
	return a.Run(context.Background())
}
