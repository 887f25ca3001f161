// Package clock provides Clock implementations.
package clock

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/artpar/netbill/ports"
)

// EnvNow names the environment variable that pins the clock.
const EnvNow = "NETBILL_NOW"

// Real returns the actual current time, optionally in a fixed location.
type Real struct {
	Location *time.Location
}

// Now returns the current time.
func (r Real) Now() time.Time {
	now := time.Now()
	if r.Location != nil {
		return now.In(r.Location)
	}
	return now
}

// Fixed always returns the same instant.
type Fixed time.Time

// Now returns the pinned time.
func (f Fixed) Now() time.Time {
	return time.Time(f)
}

// Fake provides a controllable clock for testing.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set sets the fake current time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake time forward by duration d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse reads an override value. Values without an offset are read in loc.
func Parse(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	value = strings.TrimSpace(value)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("clock: cannot parse %q as a time", value)
}

// New returns a Fixed clock when override is set and a Real clock otherwise.
func New(override string, loc *time.Location) (ports.Clock, error) {
	if strings.TrimSpace(override) == "" {
		return Real{Location: loc}, nil
	}
	t, err := Parse(override, loc)
	if err != nil {
		return nil, err
	}
	return Fixed(t), nil
}

// FromEnv is New with the override read from NETBILL_NOW, falling back to
// the configured value when the variable is unset.
func FromEnv(configured string, loc *time.Location) (ports.Clock, error) {
	if v, ok := os.LookupEnv(EnvNow); ok && v != "" {
		return New(v, loc)
	}
	return New(configured, loc)
}

// Ensure interface compliance.
var (
	_ ports.Clock = Real{}
	_ ports.Clock = Fixed{}
	_ ports.Clock = (*Fake)(nil)
)
