package config

import (
	"path/filepath"
	"testing"
)

func newConfigPathForTest(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)
	userHomeDirFn = func() (string, error) { return home, nil }
	t.Cleanup(func() { userHomeDirFn = defaultUserHomeDirFnForTest })
	return DefaultPath()
}

var defaultUserHomeDirFnForTest = userHomeDirFn

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := newConfigPathForTest(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("Port = %d, want default %d", cfg.Port, defaultPort)
	}
	if cfg.FrameRate != defaultFrameRate {
		t.Fatalf("FrameRate = %d, want default %d", cfg.FrameRate, defaultFrameRate)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := newConfigPathForTest(t)
	want := DefaultConfig()
	want.Port = 9000
	want.FrameRate = 60
	want.Shell = "bash"

	saved, err := Save(path, want)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Port != 9000 {
		t.Fatalf("saved.Port = %d, want 9000", saved.Port)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Port != 9000 || got.FrameRate != 60 || got.Shell != "bash" {
		t.Fatalf("Load() = %+v, want Port=9000 FrameRate=60 Shell=bash", got)
	}
}

func TestSaveRejectsDisallowedShell(t *testing.T) {
	path := newConfigPathForTest(t)
	cfg := DefaultConfig()
	cfg.Shell = "/bin/evil-shell"
	if _, err := Save(path, cfg); err == nil {
		t.Fatal("Save should reject a shell outside the allowlist")
	}
}

func TestSaveRejectsPathOutsideConfigDir(t *testing.T) {
	newConfigPathForTest(t)
	outside := filepath.Join(t.TempDir(), "elsewhere.yaml")
	if _, err := Save(outside, DefaultConfig()); err == nil {
		t.Fatal("Save should reject a path outside the config directory")
	}
}

func TestDerivedPortsDefaultToPortPlusOffset(t *testing.T) {
	cfg := Config{Port: 100}
	data, control := cfg.DerivedPorts()
	if data != 101 || control != 102 {
		t.Fatalf("DerivedPorts() = (%d, %d), want (101, 102)", data, control)
	}
}

func TestDerivedPortsRespectExplicitOverride(t *testing.T) {
	cfg := Config{Port: 100, DataPort: 5000, ControlPort: 5001}
	data, control := cfg.DerivedPorts()
	if data != 5000 || control != 5001 {
		t.Fatalf("DerivedPorts() = (%d, %d), want (5000, 5001)", data, control)
	}
}

func TestInvalidPortFallsBackToDerivedDefault(t *testing.T) {
	path := newConfigPathForTest(t)
	cfg := DefaultConfig()
	cfg.DataPort = 99999
	saved, err := Save(path, cfg)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.DataPort != 0 {
		t.Fatalf("DataPort = %d, want 0 (falls back to derived default)", saved.DataPort)
	}
}

func TestEnsureFileCreatesDefaultConfig(t *testing.T) {
	path := newConfigPathForTest(t)
	cfg, err := EnsureFile(path)
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("Port = %d, want default %d", cfg.Port, defaultPort)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load after EnsureFile: %v", err)
	}
}
