package config

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the hot-reloadable subset of Config whenever the backing
// file changes on disk: BandwidthReportInterval and IdleTimeout. Every
// other field (shell, ports, scheduler worker count) requires a server
// restart, since panels and transport listeners are already constructed
// around them by the time a change would be noticed.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu  sync.RWMutex
	cur Config

	done chan struct{}
}

// NewWatcher loads path once and starts watching it for changes. Callers
// must call Close to release the underlying fsnotify watcher.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, fsw: fsw, cur: cfg, done: make(chan struct{})}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("[config] watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		slog.Warn("[config] reload failed, keeping previous configuration", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	prev := w.cur
	// Only the hot-reloadable fields take effect; everything else keeps
	// its original value until the next restart.
	next.Shell = prev.Shell
	next.Port = prev.Port
	next.DataPort = prev.DataPort
	next.ControlPort = prev.ControlPort
	next.FrameRate = prev.FrameRate
	next.Bitrate = prev.Bitrate
	next.MaxPanels = prev.MaxPanels
	next.ScrollbackBytes = prev.ScrollbackBytes
	next.SchedulerWorkers = prev.SchedulerWorkers
	w.cur = next
	w.mu.Unlock()

	slog.Info("[config] reloaded hot-reloadable settings",
		"bandwidth_report_interval", next.BandwidthReportInterval,
		"idle_timeout", next.IdleTimeout,
	)
}

// Close stops the watcher and releases its file descriptor.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
