package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/artpar/netbill/config"
	"github.com/rs/zerolog"
)

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Sweep.Schedule != "0 2 * * *" {
		t.Errorf("Sweep.Schedule = %s, want 0 2 * * *", got.Sweep.Schedule)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var outcomes []error
	h.ObserveReloads(func(err error) { outcomes = append(outcomes, err) })

	newContent := `
logging:
  level: debug
sweep:
  schedule: "30 3 * * *"
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	cfg := h.Get()
	if cfg.Sweep.Schedule != "30 3 * * *" {
		t.Errorf("reloaded schedule = %s, want 30 3 * * *", cfg.Sweep.Schedule)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("reloaded level = %s, want debug", cfg.Logging.Level)
	}
	if len(outcomes) != 1 || outcomes[0] != nil {
		t.Errorf("reload outcomes = %v, want one success", outcomes)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var receivedCfg *config.Config

	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		receivedCfg = cfg
		mu.Unlock()
	})

	if err := os.WriteFile(path, []byte("sweep:\n  enabled: false\n"), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if receivedCfg == nil {
		t.Fatal("OnChange callback was not called")
	}
	if receivedCfg.Sweep.Enabled {
		t.Error("callback should see sweep disabled")
	}
}

func TestHolder_OnChangeRunsEveryListener(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var calls []string
	h.OnChange(func(*config.Config) { calls = append(calls, "first") })
	h.OnChange(func(*config.Config) {
		calls = append(calls, "second")
		// Registering from a listener must not deadlock or join this reload.
		h.OnChange(func(*config.Config) { calls = append(calls, "late") })
	})

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("calls = %v, want [first second]", calls)
	}

	calls = nil
	if err := h.Reload(); err != nil {
		t.Fatalf("second Reload error: %v", err)
	}
	if len(calls) != 3 || calls[2] != "late" {
		t.Errorf("calls = %v, want [first second late]", calls)
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var failed error
	h.ObserveReloads(func(err error) { failed = err })

	invalidContent := `
sweep:
  schedule: "every night"
`
	if err := os.WriteFile(path, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}
	if failed == nil {
		t.Error("observer should receive the reload error")
	}

	if cfg := h.Get(); cfg.Sweep.Schedule != "0 2 * * *" {
		t.Errorf("should keep old config, got schedule %s", cfg.Sweep.Schedule)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := make(chan string, 4)
	h.OnChange(func(cfg *config.Config) {
		changed <- cfg.Sweep.Schedule
	})

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	if err := os.WriteFile(path, []byte("sweep:\n  schedule: \"15 1 * * *\"\n"), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	select {
	case got := <-changed:
		if got != "15 1 * * *" {
			t.Errorf("schedule after watch = %s, want 15 1 * * *", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("file watcher did not trigger reload")
	}
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}
	wg.Wait()
}

func TestReloadableFields(t *testing.T) {
	reloadable := make(map[string]bool)
	for _, f := range config.ReloadableFields() {
		reloadable[f] = true
	}
	for _, e := range []string{"sweep.schedule", "logging.level"} {
		if !reloadable[e] {
			t.Errorf("%s not in ReloadableFields", e)
		}
	}

	for _, f := range config.NonReloadableFields() {
		if reloadable[f] {
			t.Errorf("%s is listed as both reloadable and not", f)
		}
	}
}

// Helpers

func validConfig() string {
	return `
server:
  port: 8080
database:
  driver: memory
router:
  driver: simulated
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "netbill.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
