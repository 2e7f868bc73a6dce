package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Logger is the minimal logging surface Settings needs.
type Logger interface {
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// settingsFile is the on-disk shape of settings.json (§6.5): only the
// loadBalancing table is defined today, keyed "loadBalancing.<module>" in
// the spec's dotted notation but stored as a nested object on disk.
type settingsFile struct {
	LoadBalancing map[string]int `json:"loadBalancing"`
}

// Settings holds the live, reloadable subset of operator configuration —
// currently just per-module desired instance counts. Unlike Config, this
// is not boot-time-only: fsnotify watches the file and updates are visible
// to readers without a process restart, per the teacher's declared (but
// in the retrieved slice unwired) fsnotify dependency.
type Settings struct {
	path string
	log  Logger

	mu            sync.RWMutex
	loadBalancing map[string]int
}

// LoadSettings reads path once and returns a Settings snapshot. A missing
// file yields an empty table, not an error — every module then gets a
// configured count of 0, which Supervisor.DesiredCount raises to one
// instance.
func LoadSettings(path string, log Logger) (*Settings, error) {
	s := &Settings{path: path, log: log, loadBalancing: map[string]int{}}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) reload() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", s.path, err)
	}

	var parsed settingsFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.loadBalancing = parsed.LoadBalancing
	s.mu.Unlock()
	return nil
}

// InstanceCount returns the configured desired instance count for
// moduleName, and whether one is configured at all.
func (s *Settings) InstanceCount(moduleName string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.loadBalancing[moduleName]
	return n, ok
}

// Watch starts an fsnotify watcher on the settings file's directory and
// reloads on every write, logging (not failing) a malformed edit so a
// typo in settings.json never takes down the running core. It runs until
// stop is closed.
func (s *Settings) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}

	dir := s.path
	if idx := strings.LastIndex(s.path, "/"); idx >= 0 {
		dir = s.path[:idx]
	} else {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.log.Warn("config: failed to reload settings.json, keeping previous values", "error", err)
					continue
				}
				s.log.Info("config: reloaded settings.json")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("config: settings watcher error", "error", err)
			}
		}
	}()

	return nil
}
