// Package store persists gateway settings, accounts, models, proxy and the
// image base URL, to a single JSON file kept next to the binary.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// Settings is the on-disk document.
type Settings struct {
	Accounts     []domain.Account `json:"accounts"`
	Models       []domain.Model   `json:"models,omitempty"`
	Proxy        string           `json:"proxy,omitempty"`
	ImageBaseURL string           `json:"image_base_url,omitempty"`
}

// Store guards the settings document and rewrites the file on every
// mutation. Credential and session caches are deliberately NOT persisted;
// they are process-local.
type Store struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// Open reads the settings file. A missing file yields an empty store with a
// warning rather than an error so a fresh install boots with an empty pool.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("settings file not found, starting with empty pool", slog.String("path", path))
			return s, nil
		}
		return nil, fmt.Errorf("op=store.Open: %w", err)
	}
	if err := json.Unmarshal(data, &s.settings); err != nil {
		return nil, fmt.Errorf("op=store.Open: decode %s: %w", path, err)
	}
	return s, nil
}

// save writes the current snapshot. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.settings, "", "    ")
	if err != nil {
		return fmt.Errorf("op=store.save: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("op=store.save: %w", err)
	}
	return nil
}

// Accounts returns a copy of the stored accounts.
func (s *Store) Accounts() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, len(s.settings.Accounts))
	copy(out, s.settings.Accounts)
	return out
}

// PersistAccounts replaces the stored account list and rewrites the file.
// The pool calls this on every account mutation, demotion included.
func (s *Store) PersistAccounts(accounts []domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Accounts = make([]domain.Account, len(accounts))
	copy(s.settings.Accounts, accounts)
	return s.save()
}

// Models returns a copy of the configured model list.
func (s *Store) Models() []domain.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Model, len(s.settings.Models))
	copy(out, s.settings.Models)
	return out
}

// SetModels replaces the model list and persists.
func (s *Store) SetModels(models []domain.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Models = models
	return s.save()
}

// Proxy returns the configured outbound proxy URL, empty when unset.
func (s *Store) Proxy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Proxy
}

// SetProxy updates the outbound proxy URL and persists.
func (s *Store) SetProxy(proxy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Proxy = proxy
	return s.save()
}

// ImageBaseURL returns the configured artifact link base, empty when unset.
func (s *Store) ImageBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.ImageBaseURL
}

// SetImageBaseURL updates the artifact link base and persists.
func (s *Store) SetImageBaseURL(base string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.ImageBaseURL = base
	return s.save()
}

// Snapshot returns a copy of the whole document, for config export.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Settings{
		Proxy:        s.settings.Proxy,
		ImageBaseURL: s.settings.ImageBaseURL,
	}
	out.Accounts = make([]domain.Account, len(s.settings.Accounts))
	copy(out.Accounts, s.settings.Accounts)
	out.Models = make([]domain.Model, len(s.settings.Models))
	copy(out.Models, s.settings.Models)
	return out
}

// Replace swaps the whole document, for config import.
func (s *Store) Replace(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}
