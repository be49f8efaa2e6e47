package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHOPSYNC_DATA_DIR", dir)
	t.Setenv("SHOPSYNC_REMOTE_KIND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.Storage != StorageSQLite {
		t.Errorf("Storage = %q, want sqlite", cfg.Storage)
	}
	if cfg.Sync.Cooldown != 3*time.Second {
		t.Errorf("Cooldown = %v, want 3s", cfg.Sync.Cooldown)
	}
	if len(cfg.Collections) != 5 {
		t.Errorf("Collections = %v, want the 5 defaults", cfg.Collections)
	}

	defs, err := cfg.CollectionDefs()
	if err != nil {
		t.Fatalf("CollectionDefs() failed: %v", err)
	}
	if !defs[4].Settings || defs[4].Name != "settings" {
		t.Errorf("settings collection = %+v", defs[4])
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := `
data_dir: ` + dir + `
storage: badger
collections: [products, orders, store_settings]
settings_collections: [store_settings]
remote:
  kind: rest
  url: https://example.supabase.co
  api_key: anon
  timeout: 5s
sync:
  cooldown: 1s
  interval: 2m
log:
  file: ` + filepath.Join(dir, "shopsync.log") + `
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Storage != StorageBadger {
		t.Errorf("Storage = %q", cfg.Storage)
	}
	if cfg.Remote.URL != "https://example.supabase.co" || cfg.Remote.Timeout != 5*time.Second {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("Interval = %v, want 2m", cfg.Sync.Interval)
	}
	if len(cfg.Collections) != 3 || cfg.SettingsCollections[0] != "store_settings" {
		t.Errorf("collections = %v / %v", cfg.Collections, cfg.SettingsCollections)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shopsync.yaml")
	if err := os.WriteFile(path, []byte("remote:\n  kind: memory\nstorage: badger\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SHOPSYNC_DATA_DIR", dir)
	t.Setenv("SHOPSYNC_STORAGE", "memory")
	t.Setenv("SHOPSYNC_COLLECTIONS", "products,orders,settings")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Storage != StorageMemory {
		t.Errorf("Storage = %q, want env override memory", cfg.Storage)
	}
	if strings.Join(cfg.Collections, ",") != "products,orders,settings" {
		t.Errorf("Collections = %v", cfg.Collections)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataDir:     "/tmp/x",
			Storage:     StorageMemory,
			Collections: []string{"products"},
			Remote:      RemoteConfig{Kind: RemoteMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"bad storage", func(c *Config) { c.Storage = "floppy" }, "invalid storage"},
		{"bad remote", func(c *Config) { c.Remote.Kind = "ftp" }, "invalid remote.kind"},
		{"rest without url", func(c *Config) { c.Remote.Kind = RemoteREST }, "remote.url is required"},
		{"bad collection", func(c *Config) { c.Collections = []string{"Bad-Name"} }, "invalid collection name"},
		{"no collections", func(c *Config) { c.Collections = nil }, "at least one collection"},
		{"orphan settings", func(c *Config) { c.SettingsCollections = []string{"settings"} }, "not in collections"},
		{"negative cooldown", func(c *Config) { c.Sync.Cooldown = -time.Second }, "must not be negative"},
		{"bad port", func(c *Config) { c.Dashboard.Port = 70000 }, "dashboard.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.SessionPath(); got != filepath.Join("/data", "session.json") {
		t.Errorf("SessionPath() = %q", got)
	}
	if got := cfg.RemoteSQLitePath(); got != filepath.Join("/data", "remote.db") {
		t.Errorf("RemoteSQLitePath() = %q", got)
	}
	cfg.Remote.URL = "/mnt/shared/remote.db"
	if got := cfg.RemoteSQLitePath(); got != "/mnt/shared/remote.db" {
		t.Errorf("RemoteSQLitePath() = %q", got)
	}
}
