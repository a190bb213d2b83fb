package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a shared pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const leadColumns = `id, tenant_id, email, company, industry, location, status, qualified, score, qualified_at, created_at`

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	var score pgtype.Int4
	var qualifiedAt pgtype.Timestamptz
	err := row.Scan(&l.ID, &l.TenantID, &l.Email, &l.Company, &l.Industry, &l.Location,
		&l.Status, &l.Qualified, &score, &qualifiedAt, &l.CreatedAt)
	if err != nil {
		return Lead{}, err
	}
	if score.Valid {
		v := int(score.Int32)
		l.Score = &v
	}
	if qualifiedAt.Valid {
		l.QualifiedAt = &qualifiedAt.Time
	}
	return l, nil
}

func (s *Postgres) Get(ctx context.Context, tenantID, id string) (Lead, error) {
	lead, err := scanLead(s.pool.QueryRow(ctx,
		"SELECT "+leadColumns+" FROM leads WHERE tenant_id = $1 AND id = $2", tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

func (s *Postgres) List(ctx context.Context, tenantID string, f Filter) ([]Lead, error) {
	query := "SELECT " + leadColumns + " FROM leads WHERE tenant_id = $1"
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s = $%d", cond, len(args))
	}
	if f.Industry != "" {
		add("industry", f.Industry)
	}
	if f.Location != "" {
		add("location", f.Location)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.Qualified != nil {
		add("qualified", *f.Qualified)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()
	out := make([]Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Postgres) SetQualification(ctx context.Context, tenantID, id string, score int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE leads
		SET qualified = TRUE, score = $3, qualified_at = NOW(), status = 'qualified'
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, score)
	if err != nil {
		return fmt.Errorf("set qualification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
