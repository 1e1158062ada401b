package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type TemplateRepositoryInterface interface {
	Save(ctx context.Context, t *model.Template) error
	GetByID(ctx context.Context, id string) (*model.Template, error)
	List(ctx context.Context) ([]model.Template, error)
}

type TemplateRepository struct {
	DB *sql.DB
}

// Save inserts t, or updates it in place when t.ID already exists.
func (r *TemplateRepository) Save(ctx context.Context, t *model.Template) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
		t.CreatedAt = now
	}
	t.UpdatedAt = &now
	query := `
		INSERT INTO templates (id, name, subject, content, test_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, subject=EXCLUDED.subject, content=EXCLUDED.content,
			test_email=EXCLUDED.test_email, updated_at=EXCLUDED.updated_at
		RETURNING created_at
	`
	return r.DB.QueryRowContext(ctx, query, t.ID, t.Name, t.Subject, t.Content, t.TestEmail, t.CreatedAt, now).
		Scan(&t.CreatedAt)
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*model.Template, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, name, subject, content, test_email, created_at, updated_at FROM templates WHERE id=$1`, id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound("template", id)
	}
	return t, err
}

func (r *TemplateRepository) List(ctx context.Context) ([]model.Template, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, name, subject, content, test_email, created_at, updated_at FROM templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []model.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

func scanTemplate(row rowScanner) (*model.Template, error) {
	var (
		t         model.Template
		testEmail sql.NullString
		updated   sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Subject, &t.Content, &testEmail, &t.CreatedAt, &updated); err != nil {
		return nil, err
	}
	t.TestEmail = testEmail.String
	t.UpdatedAt = nullableTime(updated)
	return &t, nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
