package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"security-gateway/backend/internal/policy/domain"
	"security-gateway/backend/internal/querysafety"
)

// SQLRepository stores policies in the access_policies table. Every statement goes through SafeDB.
type SQLRepository struct {
	db *querysafety.SafeDB
}

// NewSQLRepository returns a policy repository over db.
func NewSQLRepository(db *querysafety.SafeDB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) ph(n int) string { return r.db.Dialect().Placeholder(n) }

// GetByID returns the policy for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	q := fmt.Sprintf(`SELECT id, name, rules, enabled, created_at FROM access_policies WHERE id = %s`, r.ph(1))
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanPolicy(rows)
	if err != nil {
		return nil, err
	}
	return p, rows.Err()
}

// ListEnabled returns enabled policies ordered by creation time.
func (r *SQLRepository) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	q := fmt.Sprintf(`SELECT id, name, rules, enabled, created_at FROM access_policies WHERE enabled = %s ORDER BY created_at`, r.ph(1))
	rows, err := r.db.QueryContext(ctx, q, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create persists the policy. The policy must have ID set.
func (r *SQLRepository) Create(ctx context.Context, p *domain.Policy) error {
	if p == nil || p.ID == "" {
		return errors.New("policy: id required")
	}
	q := fmt.Sprintf(`INSERT INTO access_policies (id, name, rules, enabled, created_at) VALUES (%s, %s, %s, %s, %s)`,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5))
	_, err := r.db.ExecContext(ctx, q, p.ID, p.Name, p.Rules, p.Enabled, p.CreatedAt.UTC())
	return err
}

// Update replaces rules and enabled flag of an existing policy.
func (r *SQLRepository) Update(ctx context.Context, p *domain.Policy) error {
	q := fmt.Sprintf(`UPDATE access_policies SET name = %s, rules = %s, enabled = %s WHERE id = %s`,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4))
	res, err := r.db.ExecContext(ctx, q, p.Name, p.Rules, p.Enabled, p.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanPolicy(rows *sql.Rows) (*domain.Policy, error) {
	var p domain.Policy
	if err := rows.Scan(&p.ID, &p.Name, &p.Rules, &p.Enabled, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
