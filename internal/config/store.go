package config

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Store holds the live configuration and hot-reloads the rule set and
// dry_run flag when the config file changes on disk. Other fields (log
// level, symbols, dashboard) require a restart.
type Store struct {
	path string
	log  *logrus.Logger

	mu  sync.RWMutex
	cfg *Config
}

// NewStore wraps an already-loaded configuration.
func NewStore(path string, cfg *Config, log *logrus.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path, cfg: cfg, log: log}
}

// Snapshot returns the current configuration. The returned value must be
// treated as read-only.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// DryRun reports the current dry_run flag.
func (s *Store) DryRun() bool {
	return s.Snapshot().DryRun
}

// SetDryRun flips the in-memory dry_run flag (used by the dry-run command).
func (s *Store) SetDryRun(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.cfg
	cp.DryRun = v
	s.cfg = &cp
}

// Watch reloads the rule set and dry_run flag whenever the config file is
// rewritten. It blocks until ctx is cancelled. Reload failures are logged and
// the previous configuration stays in effect.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			s.reload()
			// Editors often replace the file; re-arm the watch.
			if ev.Has(fsnotify.Create) {
				_ = watcher.Add(s.path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.WithError(err).Warn("config watcher error")
		}
	}
}

func (s *Store) reload() {
	fresh, err := Load(s.path)
	if err != nil {
		s.log.WithError(err).Warn("config reload failed, keeping previous configuration")
		return
	}

	s.mu.Lock()
	cp := *s.cfg
	cp.DryRun = fresh.DryRun
	cp.Rules = fresh.Rules
	s.cfg = &cp
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"dry_run": fresh.DryRun,
		"rules":   fresh.Rules.Names(),
	}).Info("configuration reloaded")
}
