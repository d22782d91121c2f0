package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func fixedDir(dir string) func() (string, error) {
	return func() (string, error) { return dir, nil }
}

func TestConfigLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := New(fixedDir(dir))
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("unexpected default max retries: %d", cfg.MaxRetries)
	}
	if cfg.CSRFPath != "/auth/csrf-token" {
		t.Fatalf("unexpected csrf path: %s", cfg.CSRFPath)
	}
	if cfg.SettleDelay != 2*time.Second {
		t.Fatalf("unexpected settle delay: %s", cfg.SettleDelay)
	}
	if cfg.DBPath != filepath.Join(dir, "offline-sync.db") {
		t.Fatalf("db path not derived from data dir: %s", cfg.DBPath)
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	t.Setenv("CAPTAINSLOG_SYNC_MAX_RETRIES", "3")
	t.Setenv("CAPTAINSLOG_SYNC_API_URL", "https://trips.example.com/api")
	t.Setenv("CAPTAINSLOG_SYNC_DB_PATH", "/tmp/x.db")

	cfg, err := New(nil)
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("max retries override failed, got %d", cfg.MaxRetries)
	}
	if cfg.APIURL != "https://trips.example.com/api" {
		t.Fatalf("api url override failed, got %s", cfg.APIURL)
	}
	if cfg.DBPath != "/tmp/x.db" {
		t.Fatalf("db path override failed, got %s", cfg.DBPath)
	}
}

func TestResolveDefaults_Validation(t *testing.T) {
	base := func() *Config {
		c := NewForTesting()
		c.DBPath = ""
		c.DataDir = "/tmp/data"
		return c
	}

	c := base()
	c.APIURL = "not a url"
	if err := c.ResolveDefaults(nil); err == nil {
		t.Fatal("expected invalid API_URL error")
	}

	c = base()
	c.MaxRetries = 0
	if err := c.ResolveDefaults(nil); err == nil {
		t.Fatal("expected MAX_RETRIES error")
	}

	c = base()
	c.BackoffJitter = 1.5
	if err := c.ResolveDefaults(nil); err == nil {
		t.Fatal("expected BACKOFF_JITTER error")
	}

	c = base()
	c.Environment = "staging"
	if err := c.ResolveDefaults(nil); err == nil {
		t.Fatal("expected ENVIRONMENT error")
	}

	c = base()
	c.DataDir = ""
	if err := c.ResolveDefaults(func() (string, error) { return "", errors.New("no home") }); err == nil {
		t.Fatal("expected data dir resolution error")
	}

	c = base()
	if err := c.ResolveDefaults(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DBPath != filepath.Join("/tmp/data", "offline-sync.db") {
		t.Fatalf("unexpected db path %s", c.DBPath)
	}
}

func TestNewForTesting(t *testing.T) {
	c := NewForTesting()
	if !c.IsTesting() || c.IsProduction() {
		t.Fatalf("unexpected environment %s", c.Environment)
	}
}
