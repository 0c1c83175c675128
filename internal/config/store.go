package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// Store holds the live configuration, persists provider updates and
// announces changes to subscribers.
type Store struct {
	mu        sync.RWMutex
	path      string
	cfg       *Config
	logger    *Logger
	listeners map[int]func()
	nextID    int
}

// NewStore wraps an already loaded configuration. path may be empty, in
// which case UpsertProvider only updates memory.
func NewStore(cfg *Config, path string, logger *Logger) *Store {
	if cfg == nil {
		cfg = Defaults()
	}
	if logger == nil {
		logger = NullLogger()
	}
	return &Store{
		path:      path,
		cfg:       cfg,
		logger:    logger,
		listeners: make(map[int]func()),
	}
}

// OpenStore loads, applies environment overrides to and validates the
// configuration at path.
func OpenStore(path string, logger *Logger) (*Store, error) {
	cfg, err := loadValidated(path)
	if err != nil {
		return nil, err
	}
	return NewStore(cfg, path, logger), nil
}

func loadValidated(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	ApplyEnvironment(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the backing config file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := *s.cfg
	out.Providers = s.endpointsLocked()
	return out
}

// Endpoints returns the configured providers.
func (s *Store) Endpoints() []ProviderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpointsLocked()
}

func (s *Store) endpointsLocked() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(s.cfg.Providers))
	for _, p := range s.cfg.Providers {
		out = append(out, p.Clone())
	}
	return out
}

// GetProvider returns the provider with the given name.
func (s *Store) GetProvider(name string) (ProviderConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.cfg.Provider(name)
	if !ok {
		return ProviderConfig{}, false
	}
	return p.Clone(), true
}

// ProviderNames returns the sorted names of all configured providers.
func (s *Store) ProviderNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.cfg.Providers))
	for _, p := range s.cfg.Providers {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// RefreshInterval returns the periodic refresh interval.
func (s *Store) RefreshInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Refresh.Interval
}

// ThrottleWindow returns the minimum spacing between non-forced refreshes.
func (s *Store) ThrottleWindow() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Refresh.ThrottleWindow
}

// Warnings returns the low-balance thresholds.
func (s *Store) Warnings() WarningsConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Warnings
}

// OnDidChange registers fn to run after every configuration change.
// The returned function unregisters it.
func (s *Store) OnDidChange(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// UpsertProvider replaces the provider with the same name, or appends it,
// then saves the file (when backed by one) and notifies subscribers.
func (s *Store) UpsertProvider(p ProviderConfig) error {
	if p.Name == "" {
		return bwerr.WithDetails(bwerr.ErrInvalidInput, map[string]string{"provider": "name is required"})
	}

	s.mu.Lock()
	next := *s.cfg
	next.Providers = s.endpointsLocked()
	replaced := false
	for i := range next.Providers {
		if next.Providers[i].Name == p.Name {
			next.Providers[i] = p.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		next.Providers = append(next.Providers, p.Clone())
	}

	if s.path != "" {
		if err := Save(&next, s.path); err != nil {
			s.mu.Unlock()
			return bwerr.Wrap(err, "saving provider %q", p.Name)
		}
	}
	s.cfg = &next
	s.mu.Unlock()

	s.notify()
	return nil
}

// Replace swaps in a new configuration and notifies subscribers.
func (s *Store) Replace(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.notify()
}

// Reload re-reads the backing file. Subscribers are only notified when the
// effective configuration changed.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}

	cfg, err := loadValidated(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	changed := !reflect.DeepEqual(cfg, s.cfg)
	if changed {
		s.cfg = cfg
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info("configuration reloaded from %s", s.path)
		s.notify()
	}
	return nil
}

// Watch reloads the configuration whenever the backing file changes, until
// ctx is canceled. The parent directory is watched so editors that replace
// the file by rename are handled.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return bwerr.Wrap(err, "creating config watcher")
	}

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return bwerr.Wrap(err, "watching %s", filepath.Dir(target))
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Error("config reload failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("config watcher: %v", err)
			}
		}
	}()

	return nil
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
