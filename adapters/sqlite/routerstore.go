package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/netbill/domain/router"
	"github.com/artpar/netbill/ports"
)

// RouterStore implements ports.RouterStore using SQLite.
type RouterStore struct {
	db *DB
}

// NewRouterStore creates a new SQLite router store.
func NewRouterStore(db *DB) *RouterStore {
	return &RouterStore{db: db}
}

const routerColumns = `id, name, host, port, username, password, status, last_checked, is_default, created_at, updated_at`

// Get retrieves a router by ID.
func (s *RouterStore) Get(ctx context.Context, id string) (router.Router, error) {
	return scanRouter(s.db.QueryRowContext(ctx, `SELECT `+routerColumns+` FROM routers WHERE id = ?`, id))
}

// GetDefault returns the router flagged as default, or the oldest one.
func (s *RouterStore) GetDefault(ctx context.Context) (router.Router, error) {
	return scanRouter(s.db.QueryRowContext(ctx, `SELECT `+routerColumns+` FROM routers
		ORDER BY is_default DESC, created_at ASC, id ASC LIMIT 1`))
}

// List returns routers ordered by creation time.
func (s *RouterStore) List(ctx context.Context) ([]router.Router, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+routerColumns+` FROM routers ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routers []router.Router
	for rows.Next() {
		r, err := scanRouter(rows)
		if err != nil {
			return nil, err
		}
		routers = append(routers, r)
	}
	return routers, rows.Err()
}

// Create stores a new router. A router flagged default clears the flag on the others.
func (s *RouterStore) Create(ctx context.Context, r router.Router) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	if r.Status == "" {
		r.Status = router.StatusUnknown
	}

	return s.withTx(ctx, r.IsDefault, r.ID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO routers (`+routerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.Host, r.APIPort(), r.Username, r.Password, r.Status,
			nullTime(r.LastChecked), r.IsDefault, r.CreatedAt, r.UpdatedAt)
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return err
	})
}

// Update replaces an existing router.
func (s *RouterStore) Update(ctx context.Context, r router.Router) error {
	r.UpdatedAt = time.Now().UTC()

	return s.withTx(ctx, r.IsDefault, r.ID, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE routers SET
			name = ?, host = ?, port = ?, username = ?, password = ?, status = ?,
			last_checked = ?, is_default = ?, updated_at = ?
			WHERE id = ?`,
			r.Name, r.Host, r.APIPort(), r.Username, r.Password, r.Status,
			nullTime(r.LastChecked), r.IsDefault, r.UpdatedAt, r.ID)
		if err != nil {
			return err
		}
		return checkAffected(result)
	})
}

func (s *RouterStore) withTx(ctx context.Context, clearDefault bool, id string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if clearDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE routers SET is_default = 0 WHERE id <> ?`, id); err != nil {
			return err
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func scanRouter(row scanner) (router.Router, error) {
	var r router.Router
	var lastChecked sql.NullTime
	err := row.Scan(&r.ID, &r.Name, &r.Host, &r.Port, &r.Username, &r.Password, &r.Status,
		&lastChecked, &r.IsDefault, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return router.Router{}, ErrNotFound
	}
	if err != nil {
		return router.Router{}, err
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		r.LastChecked = &t
	}
	return r, nil
}

var _ ports.RouterStore = (*RouterStore)(nil)
