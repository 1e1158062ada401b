package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type CriteriaBlockRepositoryInterface interface {
	Create(ctx context.Context, b *model.CriteriaBlock) error
	// List returns every block, or only those in category when it is set.
	List(ctx context.Context, category string) ([]model.CriteriaBlock, error)
	ExistsLabel(ctx context.Context, category, label string) (bool, error)
	Delete(ctx context.Context, id string) error
}

type CriteriaBlockRepository struct {
	DB *sql.DB
}

func (r *CriteriaBlockRepository) Create(ctx context.Context, b *model.CriteriaBlock) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO criteria_blocks (id, key, label, type, category, operators, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.DB.ExecContext(ctx, query, b.ID, b.Key, b.Label, b.Type, b.Category, pq.Array(b.Operators), b.CreatedAt)
	if isUniqueViolation(err) {
		return appErrors.NewConflict("criteria block %q already exists in %s", b.Label, b.Category)
	}
	return err
}

func (r *CriteriaBlockRepository) List(ctx context.Context, category string) ([]model.CriteriaBlock, error) {
	query := `SELECT id, key, label, type, category, operators, created_at FROM criteria_blocks`
	args := []any{}
	if category != "" {
		query += ` WHERE category=$1`
		args = append(args, category)
	}
	query += ` ORDER BY label`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blocks := []model.CriteriaBlock{}
	for rows.Next() {
		var b model.CriteriaBlock
		if err := rows.Scan(&b.ID, &b.Key, &b.Label, &b.Type, &b.Category, pq.Array(&b.Operators), &b.CreatedAt); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// ExistsLabel compares labels case-insensitively within a category.
func (r *CriteriaBlockRepository) ExistsLabel(ctx context.Context, category, label string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM criteria_blocks WHERE category=$1 AND lower(label)=lower($2))`,
		category, label).Scan(&exists)
	return exists, err
}

func (r *CriteriaBlockRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM criteria_blocks WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewNotFound("criteria block", id)
	}
	return nil
}

var _ CriteriaBlockRepositoryInterface = (*CriteriaBlockRepository)(nil)
