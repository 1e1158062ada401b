package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type AudienceFilterRepositoryInterface interface {
	Create(ctx context.Context, f *model.AudienceFilter) error
	GetByID(ctx context.Context, id string) (*model.AudienceFilter, error)
	List(ctx context.Context) ([]model.AudienceFilter, error)
}

type AudienceFilterRepository struct {
	DB *sql.DB
}

func (r *AudienceFilterRepository) Create(ctx context.Context, f *model.AudienceFilter) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = time.Now().UTC()
	expr, err := json.Marshal(f.Expression)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO audience_filters (id, name, expression, created_at) VALUES ($1, $2, $3, $4)`,
		f.ID, f.Name, expr, f.CreatedAt)
	return err
}

func (r *AudienceFilterRepository) GetByID(ctx context.Context, id string) (*model.AudienceFilter, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, name, expression, created_at FROM audience_filters WHERE id=$1`, id)
	f, err := scanAudienceFilter(row)
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound("audience filter", id)
	}
	return f, err
}

func (r *AudienceFilterRepository) List(ctx context.Context) ([]model.AudienceFilter, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, expression, created_at FROM audience_filters ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	filters := []model.AudienceFilter{}
	for rows.Next() {
		f, err := scanAudienceFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, *f)
	}
	return filters, rows.Err()
}

func scanAudienceFilter(row rowScanner) (*model.AudienceFilter, error) {
	var (
		f   model.AudienceFilter
		raw []byte
	)
	if err := row.Scan(&f.ID, &f.Name, &raw, &f.CreatedAt); err != nil {
		return nil, err
	}
	expr, err := filter.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("audience filter %s: %w", f.ID, err)
	}
	f.Expression = expr
	return &f, nil
}

var _ AudienceFilterRepositoryInterface = (*AudienceFilterRepository)(nil)
