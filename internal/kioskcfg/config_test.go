package kioskcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rangebridge/kiosk/internal/event"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Endpoint.DeployedHost != "pitts" || cfg.Endpoint.Port != 8001 {
		t.Fatalf("unexpected endpoint defaults: %+v", cfg.Endpoint)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("default channels = %v", cfg.Channels)
	}
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiosk.yaml")
	data := []byte(`
endpoint:
  deployed_host: range-pi
rules:
  ready_tags: [range_hot]
  stop_tags: [range_cold]
channels: [live]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KIOSK_CONFIG", path)
	t.Setenv("KIOSK_BRIDGE_PORT", "9001")
	t.Setenv("KIOSK_CHANNELS", "live, sensor")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Endpoint.DeployedHost != "range-pi" {
		t.Fatalf("DeployedHost = %q, want range-pi (from file)", cfg.Endpoint.DeployedHost)
	}
	if cfg.Endpoint.Port != 9001 {
		t.Fatalf("Port = %d, want 9001 (env beats file)", cfg.Endpoint.Port)
	}
	if len(cfg.Rules.ReadyTags) != 1 || cfg.Rules.ReadyTags[0] != event.EventType("range_hot") {
		t.Fatalf("ReadyTags = %v, want [range_hot]", cfg.Rules.ReadyTags)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[1] != "sensor" {
		t.Fatalf("Channels = %v, want [live sensor]", cfg.Channels)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Setenv("KIOSK_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted a missing config file")
	}
}
