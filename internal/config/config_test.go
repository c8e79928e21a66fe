package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir switches the working directory for the test and restores it on
// cleanup; stand-in for t.Chdir, which needs Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func writeConfig(t *testing.T, env, content string) {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	name := filepath.Join(dir, "config", "config."+env+".yaml")
	if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_ENV", env)
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no config file anywhere
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.PerMinuteRate != 50 {
		t.Errorf("PerMinuteRate = %d, want 50", cfg.PerMinuteRate)
	}
	if cfg.BillingInterval != time.Minute {
		t.Errorf("BillingInterval = %v, want 1m", cfg.BillingInterval)
	}
	if cfg.InviteTimeout != 30*time.Second {
		t.Errorf("InviteTimeout = %v, want 30s", cfg.InviteTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	writeConfig(t, "test", "port: 9999\nper_minute_rate: 25\nbilling_interval: 30s\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.PerMinuteRate != 25 {
		t.Errorf("PerMinuteRate = %d, want 25", cfg.PerMinuteRate)
	}
	if cfg.BillingInterval != 30*time.Second {
		t.Errorf("BillingInterval = %v, want 30s", cfg.BillingInterval)
	}
}

func TestLoadMalformedValue(t *testing.T) {
	writeConfig(t, "test", "billing_interval: not-a-duration\n")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error for a malformed duration, want error")
	}
}
