package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("db driver = %q", cfg.DBDriver)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.SessionTTL != 3*time.Hour {
		t.Fatalf("session ttl = %v", cfg.SessionTTL)
	}
	if len(cfg.Dispatch.Departments) != 2 {
		t.Fatalf("departments = %v", cfg.Dispatch.Departments)
	}
	if !cfg.Escalation.Enabled || cfg.Escalation.PendingAge != 15*time.Minute {
		t.Fatalf("escalation = %+v", cfg.Escalation)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "db_driver: sqlite\ndb_url: /tmp/rahat.db\nsession_ttl: 1h\ndispatch:\n  departments:\n    - Edhi Foundation\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDriver != "sqlite" || cfg.DBURL != "/tmp/rahat.db" {
		t.Fatalf("db = %q %q", cfg.DBDriver, cfg.DBURL)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("session ttl = %v", cfg.SessionTTL)
	}
	if len(cfg.Dispatch.Departments) != 1 || cfg.Dispatch.Departments[0] != "Edhi Foundation" {
		t.Fatalf("departments = %v", cfg.Dispatch.Departments)
	}
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("RAHAT_DB_DRIVER", "sqlite")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("db driver = %q", cfg.DBDriver)
	}
}

func TestEffectiveSessionTTL(t *testing.T) {
	cases := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{0, 12 * time.Hour},
		{time.Hour, time.Hour},
		{24 * time.Hour, 12 * time.Hour},
	}
	for _, c := range cases {
		cfg := &AppConfig{SessionTTL: c.ttl}
		if got := cfg.EffectiveSessionTTL(); got != c.want {
			t.Errorf("EffectiveSessionTTL(%v) = %v, want %v", c.ttl, got, c.want)
		}
	}
	var nilCfg *AppConfig
	if got := nilCfg.EffectiveSessionTTL(); got != 12*time.Hour {
		t.Errorf("nil config ttl = %v", got)
	}
}
