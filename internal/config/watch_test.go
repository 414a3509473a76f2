package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.yaml.in/yaml/v3"
)

func yamlMarshalForTest(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func TestWatcherReloadsHotReloadableFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.BandwidthReportInterval = 5 * time.Second
	raw, err := yamlMarshalForTest(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	cfg.BandwidthReportInterval = 1 * time.Second
	raw, err = yamlMarshalForTest(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().BandwidthReportInterval == time.Second {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("BandwidthReportInterval = %v after reload, want %v", w.Current().BandwidthReportInterval, time.Second)
}

func TestWatcherIgnoresNonHotReloadableChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Port = 1111
	raw, _ := yamlMarshalForTest(cfg)
	os.WriteFile(path, raw, 0o600)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	cfg.Port = 2222
	raw, _ = yamlMarshalForTest(cfg)
	os.WriteFile(path, raw, 0o600)

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Port; got != 1111 {
		t.Fatalf("Port = %d after reload, want unchanged 1111 (port is not hot-reloadable)", got)
	}
}
