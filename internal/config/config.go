// Package config loads, validates, and atomically persists mux's server
// configuration, and watches the config file for safe-to-hot-reload
// changes via fsnotify.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	renameRetryBaseDelay     = 10 * time.Millisecond
	maxValidPort             = 65535

	defaultPort           = 7890
	defaultFrameRate      = 30
	defaultBitrate        = 2_000_000
	defaultMaxPanels      = 64
	defaultScrollbackSize = 512 * 1024
	defaultIdleTimeout    = 30 * time.Minute
)

var userHomeDirFn = os.UserHomeDir

// Config is mux's server configuration.
type Config struct {
	// Shell is the command used to spawn a panel's PTY process. Empty
	// means "use $SHELL, falling back to /bin/sh".
	Shell string `yaml:"shell" json:"shell"`

	// Port is the HTTP listener port. DataPort and ControlPort default
	// to Port+1 and Port+2 when zero, per spec §4.7's CLI surface.
	Port        int `yaml:"port" json:"port"`
	DataPort    int `yaml:"data_port,omitempty" json:"data_port,omitempty"`
	ControlPort int `yaml:"control_port,omitempty" json:"control_port,omitempty"`

	// FrameRate is the encoder_driver tick rate in frames per second.
	FrameRate int `yaml:"frame_rate" json:"frame_rate"`
	// Bitrate is the target encoder bitrate in bits per second.
	Bitrate int `yaml:"bitrate" json:"bitrate"`
	// MaxPanels bounds the number of concurrently open panels across all
	// sessions; a create_panel request beyond this limit is a
	// resource_exhausted reply per spec §7.
	MaxPanels int `yaml:"max_panels" json:"max_panels"`
	// ScrollbackBytes is the per-panel bounded replay ring size.
	ScrollbackBytes int `yaml:"scrollback_bytes" json:"scrollback_bytes"`
	// IdleTimeout flags a session idle after no connection activity for
	// this long; the flag is advisory and the session is not closed. 0
	// disables the flag.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// BandwidthReportInterval is kept current by the config watcher
	// (hot-reloadable), but no server component reads it: internal/panel's
	// counters are snapshotted on request, and mux-report's watch command
	// polls at its own --interval.
	BandwidthReportInterval time.Duration `yaml:"bandwidth_report_interval" json:"bandwidth_report_interval"`

	// SchedulerWorkers is the number of internal/runtime workers; 0
	// means "use runtime.NumCPU, capped at 8".
	SchedulerWorkers int `yaml:"scheduler_workers" json:"scheduler_workers"`
}

// allowedShells is the set of permitted shell executables (matched by base
// name). Additions require security review to prevent arbitrary command
// execution via a crafted config file.
var allowedShells = map[string]struct{}{
	"bash": {},
	"zsh":  {},
	"sh":   {},
	"fish": {},
	"dash": {},
}

// DefaultConfig returns mux's default server configuration.
func DefaultConfig() Config {
	return Config{
		Shell:                   defaultShell(),
		Port:                    defaultPort,
		FrameRate:               defaultFrameRate,
		Bitrate:                 defaultBitrate,
		MaxPanels:               defaultMaxPanels,
		ScrollbackBytes:         defaultScrollbackSize,
		IdleTimeout:             defaultIdleTimeout,
		BandwidthReportInterval: 5 * time.Second,
	}
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// DerivedPorts returns the data and control ports for cfg, applying the
// port+1/port+2 default rule from spec §4.7 when not explicitly set.
func (c Config) DerivedPorts() (data, control int) {
	data, control = c.DataPort, c.ControlPort
	if data == 0 {
		data = c.Port + 1
	}
	if control == 0 {
		control = c.Port + 2
	}
	return data, control
}

// DefaultPath resolves the config file path: $XDG_CONFIG_HOME/mux/config.yaml,
// falling back to ~/.config, and finally to os.TempDir() if the home
// directory cannot be resolved.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[config] using temp dir as config path fallback", "error", err)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "mux", "config.yaml")
}

// Load reads the config file at path. If the file does not exist, defaults
// are returned. The configured shell is validated against an allowlist.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config: path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[config] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EnsureFile writes the default config if missing and returns the loaded
// (or freshly written) config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// AllowedShellList returns the permitted shell executable names, sorted.
func AllowedShellList() []string {
	shells := make([]string, 0, len(allowedShells))
	for s := range allowedShells {
		shells = append(shells, s)
	}
	sort.Strings(shells)
	return shells
}

// Save validates cfg, fills defaults, and atomically writes it to path.
// Returns the normalized config actually written to disk.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("config: save: %w", err)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: save: marshal: %w", err)
	}
	if err := atomicWrite(normalizedPath, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[config] saved", "path", path)
	return cfg, nil
}

// atomicWrite writes config data using temp-file + rename, so a crash
// mid-write never leaves a truncated config file on disk.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: save: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("config: save: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[config] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[config] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("config: save: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("config: save: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("config: save: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("config: save: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("config: save: rename: %w", err)
	}
	return nil
}

// validateConfigPath normalizes path and enforces that config writes stay
// inside the default config directory.
func validateConfigPath(path string) (string, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return "", errors.New("config: path required")
	}
	absolutePath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return "", fmt.Errorf("config: save: resolve path: %w", err)
	}

	expectedDir := filepath.Dir(DefaultPath())
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("config: save: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("config: save: path outside config directory: %q", absolutePath)
	}
	return absolutePath, nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

// applyDefaultsAndValidate fills missing defaults and validates cfg in place.
func applyDefaultsAndValidate(cfg *Config) error {
	defaults := DefaultConfig()
	if cfg.Shell == "" {
		cfg.Shell = defaults.Shell
	}
	if err := validateShell(cfg.Shell); err != nil {
		return err
	}
	if cfg.Port <= 0 {
		cfg.Port = defaults.Port
	}
	validatePort(&cfg.DataPort)
	validatePort(&cfg.ControlPort)
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = defaults.FrameRate
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = defaults.Bitrate
	}
	if cfg.MaxPanels <= 0 {
		cfg.MaxPanels = defaults.MaxPanels
	}
	if cfg.ScrollbackBytes <= 0 {
		cfg.ScrollbackBytes = defaults.ScrollbackBytes
	}
	if cfg.BandwidthReportInterval <= 0 {
		cfg.BandwidthReportInterval = defaults.BandwidthReportInterval
	}
	if cfg.SchedulerWorkers < 0 {
		cfg.SchedulerWorkers = 0
	}
	return nil
}

func validatePort(port *int) {
	if *port < 0 || *port > maxValidPort {
		slog.Warn("[config] port out of valid range, falling back to derived default", "configured", *port)
		*port = 0
	}
}

// validateShell ensures the configured shell is safe for process creation:
// no null bytes, must match the allowlist by base name, and if given as an
// absolute path must exist and not be a directory.
func validateShell(shell string) error {
	shell = strings.TrimSpace(shell)
	if shell == "" {
		return errors.New("config: shell is required")
	}
	if strings.ContainsRune(shell, '\x00') {
		return errors.New("config: shell contains invalid null byte")
	}

	baseName := filepath.Base(shell)
	if _, ok := allowedShells[baseName]; !ok {
		return fmt.Errorf("config: shell %q is not in the allowlist", shell)
	}

	if filepath.IsAbs(shell) {
		info, err := os.Stat(shell)
		if err != nil {
			return fmt.Errorf("config: shell path does not exist: %w", err)
		}
		if info.IsDir() {
			return errors.New("config: shell path cannot be a directory")
		}
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config: file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := 0; attempt < maxRenameRetry; attempt++ {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
