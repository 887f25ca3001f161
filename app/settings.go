// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"strconv"
	"sync"

	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/domain/settings"
	"github.com/artpar/netbill/ports"
	"github.com/rs/zerolog"
)

// SettingsService caches operator-editable settings over a store.
type SettingsService struct {
	store  ports.SettingsStore
	logger zerolog.Logger
	mu     sync.RWMutex
	cache  settings.Settings
}

// NewSettingsService creates a new settings service.
func NewSettingsService(store ports.SettingsStore, logger zerolog.Logger) *SettingsService {
	return &SettingsService{
		store:  store,
		logger: logger.With().Str("service", "settings").Logger(),
		cache:  settings.Defaults(),
	}
}

// Load loads all settings from the store and merges with defaults.
func (s *SettingsService) Load(ctx context.Context) error {
	loaded, err := s.store.GetAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = settings.Merge(loaded)
	s.mu.Unlock()

	s.logger.Info().Int("count", len(loaded)).Msg("settings loaded")
	return nil
}

// Get returns a copy of the current settings.
func (s *SettingsService) Get() settings.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(settings.Settings, len(s.cache))
	for k, v := range s.cache {
		result[k] = v
	}
	return result
}

// GetValue returns a single setting value.
func (s *SettingsService) GetValue(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Get(key)
}

// Billing returns the billing parameters currently in effect.
func (s *SettingsService) Billing() billing.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Billing()
}

// Set updates a setting in both cache and store.
func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	if err := s.store.Set(ctx, key, value); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()

	s.logger.Debug().Str("key", key).Msg("setting updated")
	return nil
}

// SetBatch updates multiple settings.
func (s *SettingsService) SetBatch(ctx context.Context, batch settings.Settings) error {
	if err := s.store.SetBatch(ctx, batch); err != nil {
		return err
	}

	s.mu.Lock()
	for k, v := range batch {
		s.cache[k] = v
	}
	s.mu.Unlock()

	s.logger.Debug().Int("count", len(batch)).Msg("settings batch updated")
	return nil
}

// BillingInput updates the billing singleton. Nil fields are left unchanged.
type BillingInput struct {
	DefaultRate  *float64 `json:"defaultRate" validate:"omitempty,gte=0"`
	RebateValue  *float64 `json:"rebateValue" validate:"omitempty,gt=0"`
	ProviderCost *float64 `json:"providerCost" validate:"omitempty,gte=0"`
}

// UpdateBilling validates and stores billing parameters.
func (s *SettingsService) UpdateBilling(ctx context.Context, in BillingInput) (billing.Settings, error) {
	if err := validateStruct(in); err != nil {
		return billing.Settings{}, err
	}

	batch := make(settings.Settings)
	put := func(key string, v *float64) {
		if v != nil {
			batch[key] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}
	put(settings.KeyBillingDefaultRate, in.DefaultRate)
	put(settings.KeyBillingRebateValue, in.RebateValue)
	put(settings.KeyBillingProviderCost, in.ProviderCost)

	if len(batch) > 0 {
		if err := s.SetBatch(ctx, batch); err != nil {
			return billing.Settings{}, err
		}
	}
	return s.Billing(), nil
}
