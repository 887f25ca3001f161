package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/netbill/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090
  operator_token: "s3cret"

database:
  driver: "sqlite"
  dsn: "/var/lib/netbill/netbill.db"

billing:
  policy: "cycle"
  timezone: "Asia/Manila"

sweep:
  schedule: "30 1 * * *"
  retry_attempts: 5
  retry_initial_interval: 500ms

router:
  driver: "simulated"
  connect_timeout: 3s
  auto_enable_on_payment: false

security:
  encryption_key: "passphrase"
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("Server = %s:%d, want 127.0.0.1:9090", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Errorf("Addr = %s", cfg.Addr())
	}
	if cfg.Server.OperatorToken != "s3cret" {
		t.Errorf("OperatorToken = %q", cfg.Server.OperatorToken)
	}
	if cfg.Billing.Policy != "cycle" {
		t.Errorf("Billing.Policy = %s, want cycle", cfg.Billing.Policy)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Manila" {
		t.Errorf("Location = %v, %v", loc, err)
	}
	if cfg.Sweep.Schedule != "30 1 * * *" || cfg.Sweep.RetryAttempts != 5 {
		t.Errorf("Sweep = %+v", cfg.Sweep)
	}
	if cfg.Sweep.RetryInitialInterval != 500*time.Millisecond {
		t.Errorf("RetryInitialInterval = %v, want 500ms", cfg.Sweep.RetryInitialInterval)
	}
	if cfg.Router.Driver != "simulated" || cfg.Router.ConnectTimeout != 3*time.Second {
		t.Errorf("Router = %+v", cfg.Router)
	}
	if cfg.Router.AutoEnable() {
		t.Error("AutoEnable should be false when set so")
	}
	if cfg.Security.EncryptionKey != "passphrase" {
		t.Errorf("EncryptionKey = %q", cfg.Security.EncryptionKey)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "{}\n")

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"server.host", cfg.Server.Host, "0.0.0.0"},
		{"server.port", cfg.Server.Port, 8080},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout, 15 * time.Second},
		{"database.driver", cfg.Database.Driver, "sqlite"},
		{"database.dsn", cfg.Database.DSN, "netbill.db"},
		{"logging.level", cfg.Logging.Level, "info"},
		{"logging.format", cfg.Logging.Format, "json"},
		{"metrics.enabled", cfg.Metrics.Enabled, true},
		{"metrics.path", cfg.Metrics.Path, "/metrics"},
		{"billing.policy", cfg.Billing.Policy, "ledger"},
		{"billing.account_prefix", cfg.Billing.AccountPrefix, "NB-"},
		{"sweep.enabled", cfg.Sweep.Enabled, true},
		{"sweep.schedule", cfg.Sweep.Schedule, "0 2 * * *"},
		{"sweep.retry_attempts", cfg.Sweep.RetryAttempts, 3},
		{"sweep.retry_initial_interval", cfg.Sweep.RetryInitialInterval, 2 * time.Second},
		{"router.driver", cfg.Router.Driver, "routeros"},
		{"router.connect_timeout", cfg.Router.ConnectTimeout, 5 * time.Second},
		{"router.reminder_path", cfg.Router.ReminderPath, "/payment-reminder"},
		{"router.auto_enable_on_payment", cfg.Router.AutoEnable(), true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("default %s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_MetricsSectionKeepsEnabledDefault(t *testing.T) {
	cfg := writeAndLoad(t, "metrics:\n  path: /prom\n")

	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/prom" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_NETBILL_DSN", "/tmp/expanded.db")

	cfg := writeAndLoad(t, "database:\n  dsn: \"${TEST_NETBILL_DSN}\"\n")

	if cfg.Database.DSN != "/tmp/expanded.db" {
		t.Errorf("Database.DSN = %s, want /tmp/expanded.db", cfg.Database.DSN)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NETBILL_SERVER_PORT", "9999")
	t.Setenv("NETBILL_DATABASE_DRIVER", "memory")
	t.Setenv("NETBILL_LOG_LEVEL", "debug")
	t.Setenv("NETBILL_BILLING_POLICY", "cycle")
	t.Setenv("NETBILL_SWEEP_ENABLED", "no")
	t.Setenv("NETBILL_SWEEP_SCHEDULE", "0 4 * * *")
	t.Setenv("NETBILL_ROUTER_DRIVER", "simulated")
	t.Setenv("NETBILL_ROUTER_CONNECT_TIMEOUT", "2s")
	t.Setenv("NETBILL_ROUTER_AUTO_ENABLE", "false")
	t.Setenv("NETBILL_ENCRYPTION_KEY", "from-env")

	cfg := writeAndLoad(t, "server:\n  port: 8000\nlogging:\n  level: warn\n")

	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Database.Driver != "memory" || cfg.Logging.Level != "debug" || cfg.Billing.Policy != "cycle" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Sweep.Enabled || cfg.Sweep.Schedule != "0 4 * * *" {
		t.Errorf("Sweep = %+v", cfg.Sweep)
	}
	if cfg.Router.Driver != "simulated" || cfg.Router.ConnectTimeout != 2*time.Second || cfg.Router.AutoEnable() {
		t.Errorf("Router = %+v", cfg.Router)
	}
	if cfg.Security.EncryptionKey != "from-env" {
		t.Errorf("EncryptionKey = %q", cfg.Security.EncryptionKey)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"bad driver", "database:\n  driver: postgres\n", "database.driver"},
		{"bad level", "logging:\n  level: trace\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"bad policy", "billing:\n  policy: prorated\n", "billing.policy"},
		{"bad timezone", "billing:\n  timezone: Mars/Olympus\n", "billing.timezone"},
		{"bad schedule", "sweep:\n  schedule: \"every day\"\n", "sweep.schedule"},
		{"bad retries", "sweep:\n  retry_attempts: -1\n", "sweep.retry_attempts"},
		{"bad router driver", "router:\n  driver: snmp\n", "router.driver"},
		{"bad reminder path", "router:\n  reminder_path: notice\n", "router.reminder_path"},
		{"bad yaml", "server: [\n", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "netbill.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := config.Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadWithFallback(t *testing.T) {
	t.Setenv("NETBILL_DATABASE_DRIVER", "memory")

	cfg, err := config.LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Driver = %s, want memory from env", cfg.Database.Driver)
	}

	path := filepath.Join(t.TempDir(), "netbill.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadWithFallback(path)
	if err != nil || cfg.Server.Port != 7000 {
		t.Errorf("LoadWithFallback(file) = %+v, %v", cfg, err)
	}
}

func TestLocation_Local(t *testing.T) {
	cfg := writeAndLoad(t, "{}\n")

	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Errorf("Location = %v, %v, want Local", loc, err)
	}
}

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netbill.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}
