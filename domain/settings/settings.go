// Package settings provides value types for operator-editable settings.
// Settings are stored in the database and loaded at runtime.
package settings

import (
	"strconv"
	"time"

	"github.com/artpar/netbill/domain/billing"
)

// Setting represents a single stored setting (immutable value type).
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Settings is a collection of settings with helper methods.
type Settings map[string]string

// Get returns a setting value or empty string if not found.
func (s Settings) Get(key string) string {
	return s[key]
}

// GetOrDefault returns a setting value or the default if not found.
func (s Settings) GetOrDefault(key, defaultValue string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

// GetBool returns a setting as bool (true if "true", "1", "yes", "on").
func (s Settings) GetBool(key string) bool {
	v := s[key]
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// GetInt returns a setting as int or default if not found/invalid.
func (s Settings) GetInt(key string, defaultValue int) int {
	i, err := strconv.Atoi(s[key])
	if err != nil {
		return defaultValue
	}
	return i
}

// GetFloat returns a setting as float64 or default if not found/invalid.
func (s Settings) GetFloat(key string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(s[key], 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// Billing returns the billing parameters held in s.
func (s Settings) Billing() billing.Settings {
	d := billing.DefaultSettings()
	return billing.Settings{
		DefaultRate:  s.GetFloat(KeyBillingDefaultRate, d.DefaultRate),
		RebateValue:  s.GetFloat(KeyBillingRebateValue, d.RebateValue),
		ProviderCost: s.GetFloat(KeyBillingProviderCost, d.ProviderCost),
	}
}

// Known setting keys (namespaced by category).
const (
	KeyBillingDefaultRate  = "billing.default_rate"
	KeyBillingRebateValue  = "billing.rebate_value"
	KeyBillingProviderCost = "billing.provider_cost"

	// Address the device redirects overdue subscribers to.
	KeyReminderServerAddress = "reminder.server_address"

	KeyBusinessName = "business.name"
)

// Defaults returns default values for settings.
func Defaults() Settings {
	d := billing.DefaultSettings()
	return Settings{
		KeyBillingDefaultRate:  strconv.FormatFloat(d.DefaultRate, 'f', -1, 64),
		KeyBillingRebateValue:  strconv.FormatFloat(d.RebateValue, 'f', -1, 64),
		KeyBillingProviderCost: strconv.FormatFloat(d.ProviderCost, 'f', -1, 64),
		KeyBusinessName:        "NetBill",
	}
}

// Merge merges defaults with loaded settings, preferring loaded values.
func Merge(loaded Settings) Settings {
	result := Defaults()
	for k, v := range loaded {
		result[k] = v
	}
	return result
}
