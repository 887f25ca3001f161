package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/artpar/netbill/bootstrap"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	asJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "netbill",
	Short: "Subscriber billing and PPPoE enforcement for small ISPs",
	Long: `netbill tracks monthly subscriber bills and enforces them on
MikroTik routers by toggling PPPoE secrets.

Quick start:
  netbill serve             # Start the API server and overdue sweep
  netbill stats             # Print dashboard totals
  netbill sweep             # Disable overdue subscribers now

Configuration is read from netbill.yaml (or --config), falling back to
NETBILL_* environment variables when the file does not exist.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "netbill.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")
}

// openApp builds the application for one-shot commands. Logs go to stderr
// so stdout stays parseable.
func openApp(cmd *cobra.Command) (*bootstrap.App, error) {
	a, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		LogOutput:  cmd.ErrOrStderr(),
		Version:    version,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing: %w", err)
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

func mark(ok bool) string {
	if ok {
		return checkMark
	}
	return crossMark
}
