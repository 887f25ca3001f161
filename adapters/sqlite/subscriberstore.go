package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/ports"
)

// SubscriberStore implements ports.SubscriberStore using SQLite.
// The payment ledger and legacy paid flags are stored as JSON columns.
type SubscriberStore struct {
	db *DB
}

// NewSubscriberStore creates a new SQLite subscriber store.
func NewSubscriberStore(db *DB) *SubscriberStore {
	return &SubscriberStore{db: db}
}

const subscriberColumns = `id, account_number, name, rate, cycle, days_down, remaining_balance,
	payments, start_date, credit_type, credit_applied_month, is_archived,
	pppoe_username, pppoe_password, pppoe_profile, router_id, legacy_paid,
	created_at, updated_at`

// Get retrieves a subscriber by ID.
func (s *SubscriberStore) Get(ctx context.Context, id string) (billing.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = ?`, id)
	return scanSubscriber(row)
}

// GetByAccount retrieves a subscriber by account number.
func (s *SubscriberStore) GetByAccount(ctx context.Context, accountNumber string) (billing.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE account_number = ?`, accountNumber)
	return scanSubscriber(row)
}

// List returns every subscriber ordered by name.
func (s *SubscriberStore) List(ctx context.Context) ([]billing.Subscriber, error) {
	return s.query(ctx, `SELECT `+subscriberColumns+` FROM subscribers ORDER BY name, id`)
}

// ListActive returns subscribers that are not archived.
func (s *SubscriberStore) ListActive(ctx context.Context) ([]billing.Subscriber, error) {
	return s.query(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE is_archived = 0 ORDER BY name, id`)
}

// ListEnforceable returns non-archived subscribers with a network credential.
func (s *SubscriberStore) ListEnforceable(ctx context.Context) ([]billing.Subscriber, error) {
	return s.query(ctx, `SELECT `+subscriberColumns+` FROM subscribers
		WHERE is_archived = 0 AND pppoe_username <> '' ORDER BY name, id`)
}

func (s *SubscriberStore) query(ctx context.Context, q string, args ...any) ([]billing.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []billing.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Create stores a new subscriber.
func (s *SubscriberStore) Create(ctx context.Context, sub billing.Subscriber) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}

	payments, legacy, err := encodeDocs(sub)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscribers (`+subscriberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.ID, nullString(sub.AccountNumber), sub.Name, sub.Rate, sub.Cycle, sub.DaysDown,
		nullFloat(sub.RemainingBalance), payments, nullTime(sub.StartDate),
		creditType(sub.CreditType), sub.CreditAppliedMonth, sub.IsArchived,
		sub.PPPoEUsername, sub.PPPoEPassword, sub.PPPoEProfile, sub.RouterID, legacy,
		sub.CreatedAt, sub.UpdatedAt)

	if isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// Update replaces an existing subscriber.
func (s *SubscriberStore) Update(ctx context.Context, sub billing.Subscriber) error {
	sub.UpdatedAt = time.Now().UTC()

	payments, legacy, err := encodeDocs(sub)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE subscribers SET
			account_number = ?, name = ?, rate = ?, cycle = ?, days_down = ?,
			remaining_balance = ?, payments = ?, start_date = ?, credit_type = ?,
			credit_applied_month = ?, is_archived = ?, pppoe_username = ?,
			pppoe_password = ?, pppoe_profile = ?, router_id = ?, legacy_paid = ?,
			updated_at = ?
		WHERE id = ?
	`, nullString(sub.AccountNumber), sub.Name, sub.Rate, sub.Cycle, sub.DaysDown,
		nullFloat(sub.RemainingBalance), payments, nullTime(sub.StartDate),
		creditType(sub.CreditType), sub.CreditAppliedMonth, sub.IsArchived,
		sub.PPPoEUsername, sub.PPPoEPassword, sub.PPPoEProfile, sub.RouterID, legacy,
		sub.UpdatedAt, sub.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return err
	}
	return checkAffected(result)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row scanner) (billing.Subscriber, error) {
	var (
		sub       billing.Subscriber
		account   sql.NullString
		remaining sql.NullFloat64
		start     sql.NullTime
		credit    string
		payments  string
		legacy    string
	)
	err := row.Scan(
		&sub.ID, &account, &sub.Name, &sub.Rate, &sub.Cycle, &sub.DaysDown, &remaining,
		&payments, &start, &credit, &sub.CreditAppliedMonth, &sub.IsArchived,
		&sub.PPPoEUsername, &sub.PPPoEPassword, &sub.PPPoEProfile, &sub.RouterID, &legacy,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Subscriber{}, ErrNotFound
	}
	if err != nil {
		return billing.Subscriber{}, err
	}

	sub.AccountNumber = account.String
	sub.CreditType = billing.CreditType(credit)
	if remaining.Valid {
		v := remaining.Float64
		sub.RemainingBalance = &v
	}
	if start.Valid {
		v := start.Time
		sub.StartDate = &v
	}
	if err := json.Unmarshal([]byte(payments), &sub.Payments); err != nil {
		return billing.Subscriber{}, fmt.Errorf("decode payments for %s: %w", sub.ID, err)
	}
	if legacy != "" && legacy != "{}" {
		if err := json.Unmarshal([]byte(legacy), &sub.LegacyPaid); err != nil {
			return billing.Subscriber{}, fmt.Errorf("decode legacy flags for %s: %w", sub.ID, err)
		}
	}
	return sub, nil
}

func encodeDocs(sub billing.Subscriber) (payments, legacy string, err error) {
	p := sub.Payments
	if p == nil {
		p = []billing.Payment{}
	}
	pb, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("encode payments: %w", err)
	}
	l := sub.LegacyPaid
	if l == nil {
		l = map[string]bool{}
	}
	lb, err := json.Marshal(l)
	if err != nil {
		return "", "", fmt.Errorf("encode legacy flags: %w", err)
	}
	return string(pb), string(lb), nil
}

func creditType(c billing.CreditType) string {
	if c == "" {
		return string(billing.CreditNone)
	}
	return string(c)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ ports.SubscriberStore = (*SubscriberStore)(nil)
