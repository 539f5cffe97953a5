package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"sortline/internal/logging"
)

// Store holds the active validated configuration and manages hot reloads.
// Readers get a complete document or the previous one; a candidate that
// fails validation is never installed, not even partially.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	cfg     *Config
	doc     map[string]any
	modTime time.Time
}

// NewStore loads the file at path and returns a store wrapping it.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	store := &Store{
		path:    path,
		logger:  logging.NewComponentLogger(logger, "config-store"),
		cfg:     cfg,
		doc:     documentOf(cfg),
		modTime: info.ModTime(),
	}
	return store, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Current returns the active configuration without a reload check. The
// returned pointer must be treated as read-only.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Config runs a best-effort reload check and returns the active document.
func (s *Store) Config() *Config {
	if _, err := s.ReloadIfChanged(); err != nil {
		s.logger.Error("config reload check failed; keeping previous configuration",
			logging.Error(err),
			logging.String(logging.FieldEventType, "config_reload_failed"),
			logging.String(logging.FieldErrorHint, "fix the configuration file; the running document is unchanged"),
		)
	}
	return s.Current()
}

// Get returns a raw value by section and key, running a reload check first.
// Returns def when the section or key is absent.
func (s *Store) Get(section, key string, def any) any {
	s.Config()

	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.doc[section].(map[string]any)
	if !ok {
		return def
	}
	if key == "" {
		return sec
	}
	value, ok := sec[key]
	if !ok {
		return def
	}
	return value
}

// ReloadIfChanged re-reads the backing file when its timestamp advanced.
// The candidate is fully validated before the swap; it reports whether a
// swap occurred.
func (s *Store) ReloadIfChanged() (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return false, fmt.Errorf("stat config: %w", err)
	}

	s.mu.RLock()
	unchanged := !info.ModTime().After(s.modTime)
	s.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	candidate, err := Load(s.path)
	if err != nil {
		// Remember the rejected timestamp so a broken file is not
		// re-parsed on every check.
		s.mu.Lock()
		s.modTime = info.ModTime()
		s.mu.Unlock()
		return false, err
	}

	s.mu.Lock()
	s.cfg = candidate
	s.doc = documentOf(candidate)
	s.modTime = info.ModTime()
	s.mu.Unlock()

	s.logger.Info("configuration reloaded",
		logging.String(logging.FieldEventType, "config_reloaded"),
		logging.String("path", s.path),
	)
	return true, nil
}

// Set updates one field on a copy of the document, re-validates the whole
// document, and swaps it in. On validation failure the active configuration
// is untouched and Set returns false. With persist the new document is also
// written to the backing store via backup-then-write-then-verify.
func (s *Store) Set(section, key string, value any, persist bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidateDoc := cloneDocument(s.doc)
	sec, ok := candidateDoc[section].(map[string]any)
	if !ok {
		sec = map[string]any{}
		candidateDoc[section] = sec
	}
	previous, hadPrevious := sec[key]
	sec[key] = value

	candidate, err := decodeDocument(candidateDoc)
	if err != nil {
		s.logger.Error("config set rejected",
			logging.Error(err),
			logging.String(logging.FieldEventType, "config_set_rejected"),
			logging.String("section", section),
			logging.String("key", key),
		)
		return false
	}

	if persist {
		if err := s.persistLocked(candidate); err != nil {
			s.logger.Error("config persist failed; in-memory document unchanged",
				logging.Error(err),
				logging.String(logging.FieldEventType, "config_persist_failed"),
				logging.String(logging.FieldErrorHint, "check filesystem permissions and free space"),
			)
			return false
		}
	}

	s.cfg = candidate
	s.doc = candidateDoc

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "config_updated"),
		logging.String("section", section),
		logging.String("key", key),
		logging.Any("value", value),
	}
	if hadPrevious {
		attrs = append(attrs, logging.Any("previous", previous))
	}
	s.logger.Info("configuration updated", logging.Args(attrs...)...)
	return true
}

// persistLocked writes cfg to the backing file: rename the current file to a
// backup, write the new document, re-read and validate it, and restore the
// backup on any failure.
func (s *Store) persistLocked(cfg *Config) error {
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	backup := s.path + ".backup"
	hadOriginal := false
	if _, err := os.Stat(s.path); err == nil {
		hadOriginal = true
		if err := os.Rename(s.path, backup); err != nil {
			return fmt.Errorf("backup config: %w", err)
		}
	}

	restore := func() {
		if hadOriginal {
			_ = os.Rename(backup, s.path)
		}
	}

	if err := os.WriteFile(s.path, encoded, 0o644); err != nil {
		restore()
		return fmt.Errorf("write config: %w", err)
	}

	// Verify the round trip before trusting the write.
	if _, err := Load(s.path); err != nil {
		restore()
		return fmt.Errorf("verify written config: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	if hadOriginal {
		_ = os.Remove(backup)
	}
	return nil
}

func documentOf(cfg *Config) map[string]any {
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		return map[string]any{}
	}
	doc := map[string]any{}
	if err := toml.Unmarshal(encoded, &doc); err != nil {
		return map[string]any{}
	}
	return doc
}

func decodeDocument(doc map[string]any) (*Config, error) {
	encoded, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode candidate: %w", err)
	}
	return Parse(encoded)
}

func cloneDocument(doc map[string]any) map[string]any {
	encoded, err := toml.Marshal(doc)
	if err != nil {
		return map[string]any{}
	}
	clone := map[string]any{}
	decoder := toml.NewDecoder(bytes.NewReader(encoded))
	if err := decoder.Decode(&clone); err != nil {
		return map[string]any{}
	}
	return clone
}
