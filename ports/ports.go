// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/domain/router"
	"github.com/artpar/netbill/domain/settings"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by stores when a unique key is already taken.
var ErrDuplicate = errors.New("already exists")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Cipher provides reversible encryption for stored secrets.
// Empty input maps to empty output in both directions, and Decrypt returns
// values not in the encrypted format unchanged.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(value string) (string, error)
	IsEncrypted(value string) bool
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// SubscriberStore persists subscriber records.
type SubscriberStore interface {
	// Get retrieves a subscriber by ID.
	Get(ctx context.Context, id string) (billing.Subscriber, error)

	// GetByAccount retrieves a subscriber by account number.
	GetByAccount(ctx context.Context, accountNumber string) (billing.Subscriber, error)

	// List returns every subscriber, archived ones included.
	List(ctx context.Context) ([]billing.Subscriber, error)

	// ListActive returns subscribers that are not archived.
	ListActive(ctx context.Context) ([]billing.Subscriber, error)

	// ListEnforceable returns non-archived subscribers with a network credential.
	ListEnforceable(ctx context.Context) ([]billing.Subscriber, error)

	// Create stores a new subscriber.
	Create(ctx context.Context, s billing.Subscriber) error

	// Update replaces an existing subscriber.
	Update(ctx context.Context, s billing.Subscriber) error
}

// SettingsStore persists operator-editable settings.
type SettingsStore interface {
	// Get retrieves a single setting by key.
	Get(ctx context.Context, key string) (settings.Setting, error)

	// GetAll retrieves all settings as a map.
	GetAll(ctx context.Context) (settings.Settings, error)

	// Set stores or updates a setting.
	Set(ctx context.Context, key, value string) error

	// SetBatch stores or updates multiple settings.
	SetBatch(ctx context.Context, s settings.Settings) error

	// Delete removes a setting.
	Delete(ctx context.Context, key string) error
}

// RouterStore persists network device records.
// Passwords are stored as given; callers encrypt before saving.
type RouterStore interface {
	Get(ctx context.Context, id string) (router.Router, error)

	// GetDefault returns the router flagged as default, or the oldest one.
	GetDefault(ctx context.Context) (router.Router, error)

	List(ctx context.Context) ([]router.Router, error)
	Create(ctx context.Context, r router.Router) error
	Update(ctx context.Context, r router.Router) error
}

// ReportStore persists monthly snapshots.
type ReportStore interface {
	Create(ctx context.Context, r billing.MonthlyReport) error

	// List returns reports newest first.
	List(ctx context.Context, limit int) ([]billing.MonthlyReport, error)
}

// -----------------------------------------------------------------------------
// Device Ports
// -----------------------------------------------------------------------------

// DeviceDialer opens management sessions to a network device.
type DeviceDialer interface {
	// Dial connects and authenticates. Implementations must honor ctx
	// cancellation for the connection attempt.
	Dial(ctx context.Context, addr, username, password string) (DeviceSession, error)
}

// DeviceSession is an authenticated management session.
// Rows are attribute maps; ".id" identifies an entry within its menu.
type DeviceSession interface {
	// Print returns the entries of menu matching every key in where.
	Print(menu string, where map[string]string) ([]map[string]string, error)

	// Add creates an entry and returns its id.
	Add(menu string, attrs map[string]string) (string, error)

	// Set updates the entry with id. An empty id sets a singleton menu.
	Set(menu, id string, attrs map[string]string) error

	// Remove deletes the entry with id.
	Remove(menu, id string) error

	// Close ends the session.
	Close() error
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Metrics receives operational measurements from the app layer.
type Metrics interface {
	// ObserveRouterOp records one device operation; kind is "" on success.
	ObserveRouterOp(op string, kind string, d time.Duration)

	// ObserveSweep records one completed sweep run.
	ObserveSweep(checked, overdue, disabled, failed int, d time.Duration)

	// ObservePayment records a recorded payment amount.
	ObservePayment(amount float64)
}
