package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
capture:
  interface: "eth1"
  fallback_rate: 25
collector:
  packet_log_size: 500
  flush_interval: "10s"
  org_id: 7
storage:
  driver: "postgres"
  url: "postgres://ns:ns@localhost:5432/netsentry"
alerter:
  enabled: true
  z_threshold: 2.5
api:
  listen_addr: ":9090"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	// 1. Explicit values override the defaults.
	if cfg.Capture.Interface != "eth1" {
		t.Errorf("interface = %q, want eth1", cfg.Capture.Interface)
	}
	if cfg.Collector.PacketLogSize != 500 {
		t.Errorf("packet_log_size = %d, want 500", cfg.Collector.PacketLogSize)
	}
	if cfg.Collector.OrgID != 7 {
		t.Errorf("org_id = %d, want 7", cfg.Collector.OrgID)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Storage.Driver)
	}
	if !cfg.Alerter.Enabled || cfg.Alerter.ZThreshold != 2.5 {
		t.Errorf("alerter = %+v, want enabled at 2.5", cfg.Alerter)
	}
	if cfg.API.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.API.ListenAddr)
	}

	// 2. Fields absent from the file keep their defaults.
	if cfg.Collector.BandwidthHistory != 60 {
		t.Errorf("bandwidth_history = %d, want default 60", cfg.Collector.BandwidthHistory)
	}
	if cfg.Capture.SnapshotLen != 1600 {
		t.Errorf("snapshot_len = %d, want default 1600", cfg.Capture.SnapshotLen)
	}
	if cfg.Scheduler.DailyRollup == "" {
		t.Error("daily rollup cron default missing")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("does/not/exist.yaml"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestDuration(t *testing.T) {
	if d := Duration("45s", time.Minute); d != 45*time.Second {
		t.Errorf("Duration = %v, want 45s", d)
	}
	if d := Duration("", time.Minute); d != time.Minute {
		t.Errorf("empty string = %v, want the default", d)
	}
	if d := Duration("bogus", time.Minute); d != time.Minute {
		t.Errorf("malformed string = %v, want the default", d)
	}
}
