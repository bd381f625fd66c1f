package kernel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, cfg *KernelConfig) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "kernel.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadKernelConfigRoundTrip(t *testing.T) {
	want := DefaultKernelConfig()
	want.RegionSize = 2048
	path := writeConfigFile(t, want)

	got, err := LoadKernelConfig(path)
	if err != nil {
		t.Fatalf("LoadKernelConfig: %v", err)
	}
	if got.RegionSize != want.RegionSize {
		t.Fatalf("RegionSize = %d, want %d", got.RegionSize, want.RegionSize)
	}
}

func TestLoadKernelConfigRejectsOldVersion(t *testing.T) {
	cfg := DefaultKernelConfig()
	cfg.ConfigVersion = "0.9.0"
	path := writeConfigFile(t, cfg)

	if _, err := LoadKernelConfig(path); err == nil {
		t.Fatal("expected error loading config below MinSupportedConfigVersion")
	}
}

func TestWatchKernelConfigFiresOnChange(t *testing.T) {
	cfg := DefaultKernelConfig()
	cfg.DebugEnabled = false
	path := writeConfigFile(t, cfg)

	changed := make(chan *KernelConfig, 1)
	watcher, err := WatchKernelConfig(path, func(c *KernelConfig) {
		select {
		case changed <- c:
		default:
		}
	})
	if err != nil {
		t.Fatalf("WatchKernelConfig: %v", err)
	}
	defer watcher.Close()

	cfg.DebugEnabled = true
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case got := <-changed:
		if !got.DebugEnabled {
			t.Fatal("reloaded config did not reflect the write")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
