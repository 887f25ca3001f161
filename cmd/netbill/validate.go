package main

import (
	"fmt"
	"os"

	"github.com/artpar/netbill/adapters/sqlite"
	"github.com/artpar/netbill/config"
	"github.com/spf13/cobra"
)

var validateCheckDatabase bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the netbill configuration file.

Checks:
  - YAML syntax is valid
  - Values are within range (ports, cron schedule, time zone, drivers)
  - Database opens and migrates (optional)

Examples:
  netbill validate
  netbill validate --config /etc/netbill/netbill.yaml --check-database`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check the database opens and migrates")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	fmt.Fprintf(out, "  %s Listen: %s\n", checkMark, cfg.Addr())
	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Fprintf(out, "  %s Billing policy: %s\n", checkMark, cfg.Billing.Policy)
	fmt.Fprintf(out, "  %s Router driver: %s\n", checkMark, cfg.Router.Driver)
	if cfg.Sweep.Enabled {
		fmt.Fprintf(out, "  %s Sweep schedule: %s\n", checkMark, cfg.Sweep.Schedule)
	} else {
		fmt.Fprintf(out, "  %s Sweep disabled\n", checkMark)
	}
	if cfg.Security.EncryptionKey == "" {
		fmt.Fprintf(out, "  %s Encryption key not set, credentials stored in plaintext\n", crossMark)
	}

	if validateCheckDatabase && cfg.Database.Driver == "sqlite" {
		if err := checkDatabase(cfg.Database.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database usable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database usable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabase(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate()
}
