package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/netbill/domain/settings"
	"github.com/artpar/netbill/ports"
)

// SettingsStore is an in-memory implementation of ports.SettingsStore.
type SettingsStore struct {
	mu     sync.RWMutex
	values map[string]settings.Setting
}

// NewSettingsStore creates a new in-memory settings store.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{values: make(map[string]settings.Setting)}
}

// Get retrieves a single setting by key.
func (s *SettingsStore) Get(ctx context.Context, key string) (settings.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return settings.Setting{}, ports.ErrNotFound
	}
	return v, nil
}

// GetAll retrieves all settings as a map.
func (s *SettingsStore) GetAll(ctx context.Context) (settings.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(settings.Settings, len(s.values))
	for k, v := range s.values {
		result[k] = v.Value
	}
	return result, nil
}

// Set stores or updates a setting.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = settings.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// SetBatch stores or updates multiple settings.
func (s *SettingsStore) SetBatch(ctx context.Context, batch settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for k, v := range batch {
		s.values[k] = settings.Setting{Key: k, Value: v, UpdatedAt: now}
	}
	return nil
}

// Delete removes a setting.
func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

var _ ports.SettingsStore = (*SettingsStore)(nil)
