package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type AudienceRepositoryInterface interface {
	Create(ctx context.Context, m *model.AudienceMember) error
	GetByID(ctx context.Context, id string) (*model.AudienceMember, error)
	List(ctx context.Context, offset, limit int) ([]model.AudienceMember, int, error)

	// Filtered access. A nil query matches every member.
	Find(ctx context.Context, q filter.Query) ([]model.AudienceMember, error)
	Emails(ctx context.Context, q filter.Query) ([]string, error)
	Count(ctx context.Context, q filter.Query) (int, error)
}

type AudienceRepository struct {
	DB *sql.DB
}

const audienceColumns = `id, email, name, age, location, tags, attributes, created_at`

func (r *AudienceRepository) Create(ctx context.Context, m *model.AudienceMember) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	location, err := json.Marshal(m.Location)
	if err != nil {
		return err
	}
	attrs, err := json.Marshal(m.Attributes)
	if err != nil {
		return err
	}
	if m.Attributes == nil {
		attrs = []byte("{}")
	}

	query := `
		INSERT INTO audience_members (id, email, name, age, location, tags, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.DB.ExecContext(ctx, query, m.ID, m.Email, m.Name, m.Age, location, pq.Array(m.Tags), attrs, m.CreatedAt)
	if isUniqueViolation(err) {
		return appErrors.NewConflict("audience member with email %s already exists", m.Email)
	}
	return err
}

func (r *AudienceRepository) GetByID(ctx context.Context, id string) (*model.AudienceMember, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+audienceColumns+` FROM audience_members WHERE id=$1`, id)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound("audience member", id)
	}
	return m, err
}

func (r *AudienceRepository) List(ctx context.Context, offset, limit int) ([]model.AudienceMember, int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+audienceColumns+` FROM audience_members ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	members, err := scanMembers(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audience_members`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return members, total, nil
}

func (r *AudienceRepository) Find(ctx context.Context, q filter.Query) ([]model.AudienceMember, error) {
	qb := NewQueryBuilder()
	where, err := qb.Where(q)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+audienceColumns+` FROM audience_members WHERE (`+where+`) ORDER BY created_at`,
		qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("find audience: %w", err)
	}
	return scanMembers(rows)
}

// Emails projects matching members onto their address only.
func (r *AudienceRepository) Emails(ctx context.Context, q filter.Query) ([]string, error) {
	qb := NewQueryBuilder()
	where, err := qb.Where(q)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT email FROM audience_members WHERE (`+where+`) ORDER BY email`, qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("resolve audience emails: %w", err)
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func (r *AudienceRepository) Count(ctx context.Context, q filter.Query) (int, error) {
	qb := NewQueryBuilder()
	where, err := qb.Where(q)
	if err != nil {
		return 0, err
	}
	var total int
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audience_members WHERE (`+where+`)`, qb.Args()...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count audience: %w", err)
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*model.AudienceMember, error) {
	var (
		m        model.AudienceMember
		name     sql.NullString
		age      sql.NullInt64
		location []byte
		attrs    []byte
	)
	if err := row.Scan(&m.ID, &m.Email, &name, &age, &location, pq.Array(&m.Tags), &attrs, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Name = name.String
	if age.Valid {
		a := int(age.Int64)
		m.Age = &a
	}
	if len(location) > 0 {
		if err := json.Unmarshal(location, &m.Location); err != nil {
			return nil, fmt.Errorf("decode location of %s: %w", m.ID, err)
		}
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &m.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func scanMembers(rows *sql.Rows) ([]model.AudienceMember, error) {
	defer rows.Close()
	members := []model.AudienceMember{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

var _ AudienceRepositoryInterface = (*AudienceRepository)(nil)
